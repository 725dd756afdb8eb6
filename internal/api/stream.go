package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/despensa-ai/despensa/internal/relay"
)

// handleSendMessageStream processes a turn inline, delivering its
// output as server-sent events: any number of "chunk" events followed
// by exactly one "complete" or "error".
func (s *Server) handleSendMessageStream(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}
	if msg.ResponseID == "" {
		msg.ResponseID = uuid.New().String()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sink := &sseSink{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		logger:  s.logger,
	}
	if err := s.handler.Process(r.Context(), msg, sink); err != nil {
		// The error event is already on the stream; nothing more to send.
		s.logger.Debug("streamed turn ended with error",
			"response_uuid", msg.ResponseID, "error", err)
	}
}

// sseSink delivers turn output as server-sent events. Each event body
// is the same JSON payload the callback sink posts, so platform
// clients can share a decoder between delivery modes.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
}

func (s *sseSink) StreamChunk(_ context.Context, msg *relay.Message, text string) error {
	return s.write(msg, "chunk", text)
}

func (s *sseSink) CompleteResponse(_ context.Context, msg *relay.Message, text string) error {
	return s.write(msg, "complete", text)
}

func (s *sseSink) SendError(_ context.Context, msg *relay.Message, text string) error {
	return s.write(msg, "error", text)
}

func (s *sseSink) write(msg *relay.Message, event, content string) error {
	payload, err := json.Marshal(map[string]string{
		"response_uuid": msg.ResponseID,
		"event":         event,
		"content":       content,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()

	// Reset the write deadline after every event so long turns with
	// many search calls do not trip the server write timeout.
	if err := s.rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
		s.logger.Debug("failed to reset write deadline", "error", err)
	}
	return nil
}
