package heap

import "fmt"

// Report is the outcome of a full arena walk. Issues are diagnostic only;
// the allocator never repairs a damaged arena.
type Report struct {
	Blocks     int      `json:"blocks"`
	FreeBlocks int      `json:"freeBlocks"`
	FreeBytes  uint32   `json:"freeBytes"`
	Issues     []string `json:"issues,omitempty"`
}

func (r *Report) flag(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// Verify walks the whole arena confirming header tags, neighbor links,
// non-overlap, that block sizes sum to the arena size, that adjacent free
// blocks never occur, and that the walk matches the cached counters and the
// free list. On mismatch it returns the report wrapped in ErrCorrupted.
func (s *Service) Verify() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{}
	arenaLen := uint32(len(s.arena))

	var (
		off      uint32
		prev     = uint32(nilOff)
		prevFree bool
	)
	for off < arenaLen {
		h := s.readHeader(off)
		if h.tag != guardTag {
			r.flag("block %#x: bad guard tag %#x", off, h.tag)
			break
		}
		if h.size < minBlock || h.size%blockAlign != 0 {
			r.flag("block %#x: illegal size %d", off, h.size)
			break
		}
		if off+h.size > arenaLen {
			r.flag("block %#x: extends past arena end (%d bytes)", off, h.size)
			break
		}
		if h.prev != prev {
			r.flag("block %#x: predecessor link %#x, walk says %#x", off, h.prev, prev)
		}
		if !h.used() {
			if prevFree {
				r.flag("block %#x: adjacent free blocks", off)
			}
			r.FreeBlocks++
			r.FreeBytes += h.size
		}
		prevFree = !h.used()
		r.Blocks++
		prev = off
		off += h.size
	}
	if off != arenaLen && len(r.Issues) == 0 {
		r.flag("walk ended at %#x, arena is %#x bytes", off, arenaLen)
	}

	// The free list must thread exactly the free blocks.
	listed := 0
	for cur := s.freeHead; cur != nilOff; cur = s.nextFree(cur) {
		if cur >= arenaLen {
			r.flag("free list entry %#x outside arena", cur)
			break
		}
		if h := s.readHeader(cur); h.used() || h.tag != guardTag {
			r.flag("free list entry %#x is not a free block", cur)
			break
		}
		listed++
		if listed > r.FreeBlocks {
			r.flag("free list longer than free block count %d", r.FreeBlocks)
			break
		}
	}
	if listed != r.FreeBlocks {
		r.flag("free list holds %d entries, walk found %d free blocks", listed, r.FreeBlocks)
	}

	// Walk totals against cached counters.
	if r.Blocks != s.blocks {
		r.flag("walk found %d blocks, cached counter says %d", r.Blocks, s.blocks)
	}
	if r.FreeBlocks != s.freeBlocks {
		r.flag("walk found %d free blocks, cached counter says %d", r.FreeBlocks, s.freeBlocks)
	}
	if r.FreeBytes != s.freeBytes {
		r.flag("walk found %d free bytes, cached counter says %d", r.FreeBytes, s.freeBytes)
	}

	if len(r.Issues) > 0 {
		return r, fmt.Errorf("%w: %d issue(s), first: %s", ErrCorrupted, len(r.Issues), r.Issues[0])
	}
	return r, nil
}
