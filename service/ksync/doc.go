// Package ksync implements the kernel synchronization primitives: mutexes
// with owner tracking and direct handoff, counting semaphores, and
// condition variables bound to a mutex.
//
// Primitives are table entries addressed by ID, not Go objects held by the
// caller, so a trap handler can resolve them from a raw argument. Blocking
// follows the dispatcher model: an operation that cannot complete enqueues
// the running thread on the primitive's wait queue and reports that it
// blocked; ownership or the semaphore count is handed to the waiter by the
// releasing side, so a woken thread resumes already holding what it waited
// for.
package ksync
