package scheduler

import "errors"

var (
	// ErrNotFound is returned when the TID names no live thread.
	ErrNotFound = errors.New("scheduler: thread not found")

	// ErrNoCurrent is returned by operations that act on the running
	// thread when nothing is dispatched.
	ErrNoCurrent = errors.New("scheduler: no running thread")

	// ErrBadState is returned when a thread is not in a state the
	// operation accepts.
	ErrBadState = errors.New("scheduler: bad thread state")

	// ErrQueueBusy refuses to drop a wait queue that still holds
	// blocked threads.
	ErrQueueBusy = errors.New("scheduler: wait queue not empty")
)
