// Package nucleos is the resource-management core of a small monolithic
// kernel: physical page allocation, the kernel heap, process and thread
// tables, a multi-level preemptive scheduler, synchronization primitives
// and the process lifecycle manager, composed behind one Service.
//
// The package simulates the machine: memory is a byte-addressed arena, the
// CPU a run-to-completion dispatcher behind a narrow context-switch
// interface, and the timer interrupt a ticker-driven goroutine. Everything
// above that line - the allocators, tables, queues and lifecycle rules -
// follows the real kernel semantics, so the core can be exercised and
// tested as an ordinary Go module.
package nucleos
