// Package lifecycle implements the process lifecycle manager: fork, exec,
// exit, wait and signalling. It composes the registry (process and thread
// tables), the page allocator (address spaces and stacks) and the scheduler
// (admission, blocking waits, teardown).
//
// fork copies the address space eagerly; there is no copy-on-write. exit
// moves the process to zombie, force-terminates its threads and notifies
// the parent; the zombie's table slot survives until a wait reaps it.
// Signals are pending bits drained at defined check points, never an
// asynchronous interrupt of the target.
package lifecycle
