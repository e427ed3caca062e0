package ksync

import "errors"

var (
	// ErrNotFound is returned for an ID naming no live primitive.
	ErrNotFound = errors.New("ksync: unknown primitive id")

	// ErrNotOwner rejects an unlock by a thread that does not hold the
	// mutex. Ownership is unchanged.
	ErrNotOwner = errors.New("ksync: caller does not own mutex")

	// ErrDeadlock rejects a lock attempt by the thread already holding
	// the mutex.
	ErrDeadlock = errors.New("ksync: mutex already held by caller")

	// ErrBusy refuses to destroy a primitive that is held or has
	// waiters.
	ErrBusy = errors.New("ksync: primitive in use")

	// ErrNoCurrent is returned when a blocking operation is invoked
	// with no running thread.
	ErrNoCurrent = errors.New("ksync: no running thread")
)
