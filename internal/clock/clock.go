package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Ticks is the kernel's virtual time: the number of timer interrupts since
// boot. Scheduler deadlines (sleep wakeups, aging, load sampling) are
// expressed in Ticks, never in wall time.
type Ticks uint64

// Source is a monotonically increasing tick counter driven by the timer
// interrupt. The zero value is ready to use.
type Source struct {
	ticks Ticks
}

// Advance moves virtual time forward by one tick and returns the new value.
func (s *Source) Advance() Ticks {
	s.ticks++
	return s.ticks
}

// Ticks returns the current virtual time.
func (s *Source) Ticks() Ticks { return s.ticks }
