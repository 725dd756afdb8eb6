package mqtt

import (
	"sync"
	"time"
)

// DailyCounters tracks turn and token counts that reset at local
// midnight. It is safe for concurrent use from multiple goroutines and
// satisfies the turn handler's TurnObserver interface, so main can wire
// it straight into the agent.
type DailyCounters struct {
	mu       sync.Mutex
	turns    int64
	input    int64
	output   int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
}

// NewDailyCounters creates an accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	return &DailyCounters{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// OnTurn records one completed chat completion. If the local date has
// changed since the last recording, counters are reset before the new
// values are added.
func (d *DailyCounters) OnTurn(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.turns++
	d.input += int64(inputTokens)
	d.output += int64(outputTokens)
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyCounters) Snapshot() (turns, input, output int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.turns, d.input, d.output
}

// maybeReset zeroes the accumulators if the local day-of-year has
// changed. Must be called with d.mu held.
func (d *DailyCounters) maybeReset() {
	today := time.Now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.turns = 0
		d.input = 0
		d.output = 0
		d.resetDay = today
	}
}
