package task

// Signal numbers follow the conventional POSIX assignment; only the subset
// the lifecycle manager dispatches is named here.
type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGILL  Signal = 4
	SIGABRT Signal = 6
	SIGKILL Signal = 9
	SIGUSR1 Signal = 10
	SIGSEGV Signal = 11
	SIGUSR2 Signal = 12
	SIGTERM Signal = 15
	SIGCHLD Signal = 17
	SIGCONT Signal = 18

	// NumSignals bounds the pending/blocked bitmasks.
	NumSignals = 32
)

// Valid reports whether the signal number is inside the dispatchable range.
func (s Signal) Valid() bool { return s >= 1 && s < NumSignals }

// SigSet is a signal bitmask.
type SigSet uint32

func (s SigSet) Has(sig Signal) bool { return s&(1<<uint(sig)) != 0 }

func (s *SigSet) Add(sig Signal) { *s |= 1 << uint(sig) }

func (s *SigSet) Del(sig Signal) { *s &^= 1 << uint(sig) }

// Disposition describes what happens when a pending signal is drained.
type Disposition int

const (
	// DispositionDefault applies the signal's default action.
	DispositionDefault Disposition = iota
	// DispositionIgnore drops the signal.
	DispositionIgnore
	// DispositionHandler transfers control to a registered handler entry
	// point in the owning process's image.
	DispositionHandler
)

// SigAction binds a disposition to an optional handler entry point.
type SigAction struct {
	Disposition Disposition `json:"disposition"`
	Handler     uint64      `json:"handler,omitempty"`
}

// SignalState is the per-process signal bookkeeping: pending and blocked
// masks plus the handler table. Exec resets Actions to the default table;
// fork duplicates the whole state.
type SignalState struct {
	Pending SigSet                `json:"pending"`
	Blocked SigSet                `json:"blocked"`
	Actions [NumSignals]SigAction `json:"actions"`
}

// Clone returns a copy of the signal state (arrays and masks are values, so
// a shallow copy is a deep copy).
func (s SignalState) Clone() SignalState { return s }

// Reset restores every action to the default disposition, keeping pending
// and blocked masks intact.
func (s *SignalState) Reset() {
	for i := range s.Actions {
		s.Actions[i] = SigAction{}
	}
}

// DefaultTerminates reports whether the signal's default action terminates
// the receiving process. SIGCHLD and SIGCONT default to ignore.
func DefaultTerminates(sig Signal) bool {
	switch sig {
	case SIGCHLD, SIGCONT:
		return false
	}
	return true
}
