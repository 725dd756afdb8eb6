package relay

import "context"

// Sink delivers a turn's output to its caller. Implementations must
// tolerate being called from exactly one goroutine per turn; the
// orchestrator never interleaves calls for a single turn.
//
// Contract, per turn:
//   - StreamChunk may be called any number of times, in order. Chunk
//     delivery is best-effort; a failed chunk does not abort the turn.
//   - Exactly one of CompleteResponse or SendError is called, last.
//     CompleteResponse carries the full composed response (the chunks
//     are a progressive preview of it, not a substitute).
type Sink interface {
	StreamChunk(ctx context.Context, msg *Message, text string) error
	CompleteResponse(ctx context.Context, msg *Message, text string) error
	SendError(ctx context.Context, msg *Message, text string) error
}
