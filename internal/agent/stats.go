package agent

import (
	"sync"
	"time"
)

// Stats tracks handler counters for the ops surfaces. The zero value
// is ready to use.
type Stats struct {
	mu           sync.Mutex
	turns        uint64
	errors       uint64
	inputTokens  uint64
	outputTokens uint64
	lastTurn     time.Time
}

// Snapshot is a point-in-time copy of the handler's counters.
type Snapshot struct {
	Turns        uint64    `json:"turns"`
	Errors       uint64    `json:"errors"`
	InputTokens  uint64    `json:"input_tokens"`
	OutputTokens uint64    `json:"output_tokens"`
	LastTurn     time.Time `json:"last_turn"`
}

func (s *Stats) recordTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	s.lastTurn = time.Now()
}

func (s *Stats) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	s.lastTurn = time.Now()
}

func (s *Stats) recordTokens(in, out int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in > 0 {
		s.inputTokens += uint64(in)
	}
	if out > 0 {
		s.outputTokens += uint64(out)
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Turns:        s.turns,
		Errors:       s.errors,
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
		LastTurn:     s.lastTurn,
	}
}
