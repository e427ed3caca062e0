package heap

import "errors"

var (
	// ErrOutOfMemory is returned when no free block satisfies the request.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrBadPointer indicates a pointer that does not address a live block.
	ErrBadPointer = errors.New("heap: bad pointer")

	// ErrBadSize indicates a zero or over-arena request size.
	ErrBadSize = errors.New("heap: bad size")

	// ErrBadAlign indicates a non-power-of-two alignment.
	ErrBadAlign = errors.New("heap: bad alignment")

	// ErrDoubleFree indicates a free of an already-free block. Logged and
	// refused; arena state is unchanged.
	ErrDoubleFree = errors.New("heap: double free")

	// ErrCorrupted is returned by Verify when the arena walk disagrees with
	// the headers or the cached counters.
	ErrCorrupted = errors.New("heap: arena corrupted")
)
