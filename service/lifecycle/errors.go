package lifecycle

import "errors"

var (
	// ErrNoChild is returned by wait when the caller has no child (or the
	// named PID is not its child).
	ErrNoChild = errors.New("lifecycle: no such child")

	// ErrNotZombie refuses to reap a process that has not exited.
	ErrNotZombie = errors.New("lifecycle: process not a zombie")

	// ErrBadSignal indicates a signal number outside the dispatchable
	// range.
	ErrBadSignal = errors.New("lifecycle: bad signal number")

	// ErrPermission rejects a signal across a privilege boundary.
	ErrPermission = errors.New("lifecycle: permission denied")

	// ErrExited is returned for operations on a zombie process.
	ErrExited = errors.New("lifecycle: process has exited")
)
