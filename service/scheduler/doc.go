// Package scheduler owns the per-priority ready queues and is the only
// service allowed to transition threads between scheduling states. It
// selects, time-slices, ages and context-switches threads, and exposes the
// block/wake primitives the synchronization layer is built on.
//
// The design is a run-to-completion state machine on a single logical CPU:
// cooperative within a time slice, preemptive across timer ticks and
// priority changes. Selection is strict priority - the highest non-empty
// queue's head runs next, FIFO within a level - with a periodic aging pass
// promoting long-waiting ready threads so lower levels cannot starve.
package scheduler
