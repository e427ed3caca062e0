package pagealloc

import "errors"

// Common allocator errors. Sentinel variables let callers detect conditions
// via errors.Is instead of brittle string comparisons.

var (
	// ErrOutOfMemory is returned when no free page (or no sufficiently long
	// free run) exists.
	ErrOutOfMemory = errors.New("pagealloc: out of physical memory")

	// ErrBadAddress indicates a misaligned or out-of-range physical address.
	ErrBadAddress = errors.New("pagealloc: bad physical address")

	// ErrDoubleFree indicates a free of an already-free page. The free is
	// logged and refused; allocator state is unchanged.
	ErrDoubleFree = errors.New("pagealloc: double free")

	// ErrBadCount indicates a non-positive page count.
	ErrBadCount = errors.New("pagealloc: bad page count")
)
