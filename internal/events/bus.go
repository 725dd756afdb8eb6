// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (agent pipeline, tool
// dispatcher, HTTP API) to subscribers (WebSocket feed, future metrics
// collector). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the turn pipeline.
	SourceAgent = "agent"
	// SourceTools identifies events from the tool dispatcher.
	SourceTools = "tools"
	// SourceAPI identifies events from the HTTP API.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnReceived signals a platform message entering the pipeline.
	// Data: response_uuid, message_len.
	KindTurnReceived = "turn.received"
	// KindTurnCompleted signals a turn finished with a final response.
	// Data: response_uuid, outcome, elapsed_ms.
	KindTurnCompleted = "turn.completed"
	// KindTurnErrored signals a turn ended with an error sent upstream.
	// Data: response_uuid, error.
	KindTurnErrored = "turn.errored"

	// KindLLMRequest signals the start of a chat completion call.
	// Data: response_uuid, model.
	KindLLMRequest = "llm.request"
	// KindLLMResponse signals completion of a chat completion call.
	// Data: response_uuid, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm.response"

	// KindToolCall signals the start of a tool execution.
	// Data: response_uuid, tool.
	KindToolCall = "tool.call"
	// KindToolDone signals completion of a tool execution.
	// Data: response_uuid, tool, ok, duration_ms.
	KindToolDone = "tool.done"
)

// Event represents a single operational event published by a component.
type Event struct {
	// ID uniquely identifies the event. Publish assigns one when empty.
	ID string `json:"id"`
	// Time is when the event occurred. Publish stamps it when zero.
	Time time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// ThreadID is the conversation the event belongs to, when it has one.
	ThreadID string `json:"thread_id,omitempty"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event

	dropped atomic.Uint64
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, assigning an ID and
// timestamp if the caller left them empty. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber and counted. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of events dropped on full
// subscriber channels since the bus was created.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
