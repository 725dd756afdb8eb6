package relay

import (
	"context"
	"fmt"
	"io"
)

// WriterSink streams turn output to an io.Writer. Used by the ask CLI,
// where chunks render progressively on the terminal. The terminal
// event writes only a trailing newline (complete) or the error text,
// since the chunks have already been shown.
type WriterSink struct {
	W io.Writer
}

func (s *WriterSink) StreamChunk(_ context.Context, _ *Message, text string) error {
	_, err := io.WriteString(s.W, text)
	return err
}

func (s *WriterSink) CompleteResponse(_ context.Context, _ *Message, _ string) error {
	_, err := io.WriteString(s.W, "\n")
	return err
}

func (s *WriterSink) SendError(_ context.Context, _ *Message, text string) error {
	_, err := fmt.Fprintf(s.W, "\nerror: %s\n", text)
	return err
}
