package registry

import "errors"

var (
	// ErrNotFound is returned when no live process/thread occupies the slot.
	ErrNotFound = errors.New("registry: not found")

	// ErrNoSlots indicates PID/TID namespace exhaustion.
	ErrNoSlots = errors.New("registry: no free slots")

	// ErrThreadLimit is returned when the owning process is at its
	// thread-count limit.
	ErrThreadLimit = errors.New("registry: thread limit reached")

	// ErrHasThreads refuses to destroy a process that still owns threads.
	ErrHasThreads = errors.New("registry: process still has threads")

	// ErrThreadActive refuses to destroy a thread the scheduler still holds.
	ErrThreadActive = errors.New("registry: thread still scheduled")

	// ErrBadPriority indicates a priority outside the five static levels.
	ErrBadPriority = errors.New("registry: bad priority")

	// ErrBadEntry indicates a zero entry point.
	ErrBadEntry = errors.New("registry: bad entry point")
)
