// Package heap implements the kernel heap: a fixed arena mapped from the
// physical page allocator at boot and managed as a linked sequence of
// variable-size blocks.
//
// Every block carries an in-band 16-byte header (guard tag, total size,
// physical-predecessor offset, flags) written into the arena bytes. Free
// blocks additionally thread an intrusive singly-linked free list through
// their payloads. Allocation is first-fit over that list; a block is split
// when the surplus exceeds one header plus a slack threshold, and frees
// coalesce immediately with free physical neighbors so two adjacent blocks
// are never simultaneously free.
//
// Verify walks the whole arena confirming guard tags, neighbor links,
// non-overlap and that the walk agrees with the cached counters; a mismatch
// is reported with diagnostic detail and never silently repaired.
package heap
