package task

import "github.com/nucleos/nucleos/internal/clock"

// Priority is a static scheduling level. Lower values are more urgent;
// selection across levels is strict priority, FIFO within a level.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle

	NumPriorities = 5
)

// defaultSlices holds the per-level time slice assigned at dispatch, in
// ticks. Critical threads get the shortest slice, idle the longest.
var defaultSlices = [NumPriorities]clock.Ticks{2, 4, 8, 16, 32}

// Valid reports whether p names one of the five static levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityIdle
}

// Slice returns the default time-slice budget for the level.
func (p Priority) Slice() clock.Ticks {
	return defaultSlices[p]
}

// Promoted returns the next more urgent level, used by the aging pass.
// Critical cannot be promoted further.
func (p Priority) Promoted() Priority {
	if p <= PriorityCritical {
		return PriorityCritical
	}
	return p - 1
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	}
	return "invalid"
}
