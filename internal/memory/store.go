// Package memory provides the bounded in-memory conversation store.
// Nothing here survives process restart; that is the contract, not a
// limitation.
package memory

import (
	"sync"
	"time"
)

// Message roles recorded in a thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTurns bounds each thread when no explicit limit is given.
const DefaultMaxTurns = 10

// Turn is one recorded message in a thread.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type thread struct {
	turns     []Turn
	createdAt time.Time
	updatedAt time.Time
}

// Store holds per-thread conversation history, bounded to maxTurns
// entries per thread. One lock guards the whole map, which serializes
// all mutations; per-thread ordering follows from that.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]*thread
	maxTurns int
}

// NewStore creates a store keeping at most maxTurns entries per thread.
// Non-positive maxTurns selects DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		threads:  make(map[string]*thread),
		maxTurns: maxTurns,
	}
}

// AddMessage appends a turn to the thread, creating the thread on
// first use. After the append, the oldest turns are evicted until the
// thread is within bounds. Eviction is strictly oldest-first; no role
// is exempt.
func (s *Store) AddMessage(threadID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	th, ok := s.threads[threadID]
	if !ok {
		th = &thread{createdAt: now}
		s.threads[threadID] = th
	}

	th.turns = append(th.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	th.updatedAt = now

	if over := len(th.turns) - s.maxTurns; over > 0 {
		th.turns = append(th.turns[:0:0], th.turns[over:]...)
	}
}

// History returns a copy of the thread's turns, oldest first. Unknown
// threads yield an empty slice.
func (s *Store) History(threadID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return []Turn{}
	}

	turns := make([]Turn, len(th.turns))
	copy(turns, th.turns)
	return turns
}

// Len returns the number of turns currently held for a thread.
func (s *Store) Len(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return 0
	}
	return len(th.turns)
}

// ThreadCount returns the number of threads with recorded history.
func (s *Store) ThreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Clear removes a thread and its history.
func (s *Store) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// Stats returns store statistics for the ops surfaces.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalTurns := 0
	for _, th := range s.threads {
		totalTurns += len(th.turns)
	}

	return map[string]any{
		"threads":        len(s.threads),
		"turns":          totalTurns,
		"max_per_thread": s.maxTurns,
	}
}
