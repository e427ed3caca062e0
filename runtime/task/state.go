package task

// State represents the current scheduling state of a thread.
type State string

const (
	StateNew      State = "new"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateBlocked  State = "blocked"
	StateSleeping State = "sleeping"
	StateZombie   State = "zombie"
)

// Runnable reports whether a thread in this state may be dispatched.
func (s State) Runnable() bool {
	return s == StateReady || s == StateRunning
}

// ProcessState represents the lifecycle state of a process. A reaped process
// has no state: its registry slot is empty.
type ProcessState string

const (
	ProcStateNew    ProcessState = "new"
	ProcStateActive ProcessState = "active"
	ProcStateZombie ProcessState = "zombie"
)
