package task

import (
	"sync"
	"time"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/clock"
)

// TID identifies a thread. TIDs are registry slot indices (see the registry
// service); NoTID marks an absent thread reference.
type TID int32

// NoTID is the nil thread handle.
const NoTID TID = -1

// StackRef describes a thread's exclusively-owned kernel stack: the physical
// address of its lowest page and the page count. The stack pages are
// returned to the page allocator when the thread is destroyed.
type StackRef struct {
	Base  uint64
	Pages int
}

// Top returns the initial stack-pointer value for the given page size.
func (s StackRef) Top(pageSize int) uint64 {
	return s.Base + uint64(s.Pages*pageSize)
}

// Thread is the unit of scheduling. It belongs to exactly one process,
// referenced by PID only - the process owns its thread list, the thread's
// Process field is a lookup key (never a strong reference).
type Thread struct {
	ID      TID     `json:"id"`
	Process PID     `json:"process"`
	Name    string  `json:"name"`
	Stack   StackRef `json:"stack"`

	State    State    `json:"state"`
	Priority Priority `json:"priority"`
	// Base is the statically assigned level; Priority may sit above it
	// temporarily while an aging boost is in effect.
	Base Priority `json:"base"`

	// Slice is the remaining time-slice budget in ticks, assigned from the
	// priority's default at dispatch.
	Slice clock.Ticks `json:"slice"`

	Context arch.Context `json:"-"`

	// ReadySince is the tick at which the thread last entered a ready queue;
	// the aging pass promotes threads whose wait exceeds the threshold.
	ReadySince clock.Ticks `json:"readySince"`
	// SleepUntil is the wakeup deadline while sleeping.
	SleepUntil clock.Ticks `json:"sleepUntil"`
	// WaitingOn names the wait queue holding the thread while blocked.
	WaitingOn string `json:"waitingOn,omitempty"`

	// Counters.
	Switches uint64      `json:"switches"`
	Runtime  clock.Ticks `json:"runtime"`
	Faults   uint64      `json:"faults"`

	CreatedAt time.Time `json:"createdAt"`

	mu sync.Mutex
}

// GetState returns the thread state.
func (t *Thread) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// SetState updates the thread state.
func (t *Thread) SetState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = state
}
