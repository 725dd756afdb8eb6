package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/despensa-ai/despensa/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Event kinds on the platform callback wire.
const (
	eventChunk    = "chunk"
	eventComplete = "complete"
	eventError    = "error"
)

// streamEvent is the JSON body posted to a message's stream URL. The
// event field discriminates chunks from terminal deliveries so the
// platform needs only one callback endpoint per turn.
type streamEvent struct {
	ResponseID string `json:"response_uuid"`
	Event      string `json:"event"`
	Content    string `json:"content"`
}

// CallbackSink delivers turn output by POSTing stream events to the
// stream_url carried on each message, authorized by its stream_token.
// Each delivery is a single attempt.
type CallbackSink struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCallbackSink creates a sink for platform callback delivery.
func NewCallbackSink(logger *slog.Logger) *CallbackSink {
	return &CallbackSink{
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		logger:     logger.With("component", "relay"),
	}
}

// StreamChunk posts a chunk event.
func (s *CallbackSink) StreamChunk(ctx context.Context, msg *Message, text string) error {
	return s.post(ctx, msg, eventChunk, text)
}

// CompleteResponse posts the terminal complete event.
func (s *CallbackSink) CompleteResponse(ctx context.Context, msg *Message, text string) error {
	return s.post(ctx, msg, eventComplete, text)
}

// SendError posts the terminal error event.
func (s *CallbackSink) SendError(ctx context.Context, msg *Message, text string) error {
	return s.post(ctx, msg, eventError, text)
}

func (s *CallbackSink) post(ctx context.Context, msg *Message, event, content string) error {
	if msg.StreamURL == "" {
		return fmt.Errorf("message %s has no stream URL", msg.ResponseID)
	}

	body, err := json.Marshal(streamEvent{
		ResponseID: msg.ResponseID,
		Event:      event,
		Content:    content,
	})
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.StreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.StreamToken != "" {
		req.Header.Set("Authorization", "Bearer "+msg.StreamToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s event: %w", event, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("deliver %s event: status %d: %s", event, resp.StatusCode, detail)
	}

	s.logger.Log(ctx, LevelTrace, "stream event delivered",
		"event", event,
		"response_id", msg.ResponseID,
		"bytes", len(content),
	)
	return nil
}
