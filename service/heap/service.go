package heap

import (
	"fmt"
	"log"
	"sync"

	"github.com/nucleos/nucleos/service/pagealloc"
)

// Ptr addresses a live block's payload as an offset into the arena. The
// first payload sits one header into the arena, so 0 doubles as the nil
// pointer.
type Ptr uint32

// NilPtr is the null heap pointer.
const NilPtr Ptr = 0

// Config sizes the kernel arena.
type Config struct {
	// ArenaPages is the number of contiguous physical pages mapped for the
	// arena at boot.
	ArenaPages int `json:"arenaPages" yaml:"arenaPages"`
}

// DefaultConfig maps a 4MiB arena of 4KiB pages.
func DefaultConfig() Config {
	return Config{ArenaPages: 1024}
}

// Stats mirrors the allocator's cached counters plus operation counts.
type Stats struct {
	ArenaBytes uint32 `json:"arenaBytes"`
	Blocks     int    `json:"blocks"`
	FreeBlocks int    `json:"freeBlocks"`
	FreeBytes  uint32 `json:"freeBytes"`
	Allocs     uint64 `json:"allocs"`
	Frees      uint64 `json:"frees"`
	Reallocs   uint64 `json:"reallocs"`
	Splits     uint64 `json:"splits"`
	Coalesces  uint64 `json:"coalesces"`
}

// Service is the kernel heap allocator over a fixed pre-mapped arena.
type Service struct {
	pages     *pagealloc.Service
	arenaAddr uint64
	arena     []byte

	freeHead uint32

	// Cached counters; Verify cross-checks them against a full walk.
	blocks     int
	freeBlocks int
	freeBytes  uint32

	allocs    uint64
	frees     uint64
	reallocs  uint64
	splits    uint64
	coalesces uint64

	mu sync.Mutex
}

// New maps the arena from the physical allocator and initializes it as a
// single spanning free block.
func New(pages *pagealloc.Service, config Config) (*Service, error) {
	if config.ArenaPages <= 0 {
		config = DefaultConfig()
	}
	addr, err := pages.AllocContiguous(config.ArenaPages)
	if err != nil {
		return nil, fmt.Errorf("heap: failed to map arena: %w", err)
	}
	arena, err := pages.View(addr, config.ArenaPages)
	if err != nil {
		return nil, fmt.Errorf("heap: failed to view arena: %w", err)
	}

	s := &Service{
		pages:      pages,
		arenaAddr:  addr,
		arena:      arena,
		freeHead:   0,
		blocks:     1,
		freeBlocks: 1,
		freeBytes:  uint32(len(arena)),
	}
	s.writeHeader(0, header{tag: guardTag, size: uint32(len(arena)), prev: nilOff})
	s.setNextFree(0, nilOff)
	return s, nil
}

// Close releases the arena pages back to the physical allocator.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.arena) / s.pages.PageSize()
	s.arena = nil
	return s.pages.FreeRange(s.arenaAddr, n)
}

// ArenaSize returns the arena length in bytes.
func (s *Service) ArenaSize() uint32 { return uint32(len(s.arena)) }

// Alloc grants size usable bytes, first-fit over the free list.
func (s *Service) Alloc(size uint32) (Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc(size)
}

func (s *Service) alloc(size uint32) (Ptr, error) {
	need, err := s.blockSizeFor(size)
	if err != nil {
		return NilPtr, err
	}

	prev := uint32(nilOff)
	cur := s.freeHead
	for cur != nilOff {
		h := s.readHeader(cur)
		if h.size >= need {
			s.unlinkFree(prev, cur)
			s.carve(cur, h, need)
			s.allocs++
			return Ptr(cur + headerSize), nil
		}
		prev = cur
		cur = s.nextFree(cur)
	}
	return NilPtr, ErrOutOfMemory
}

// AllocAligned grants size usable bytes whose payload address is a multiple
// of align (a power of two).
func (s *Service) AllocAligned(size, align uint32) (Ptr, error) {
	if align == 0 || align&(align-1) != 0 {
		return NilPtr, ErrBadAlign
	}
	if align <= blockAlign {
		return s.Alloc(size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	need, err := s.blockSizeFor(size)
	if err != nil {
		return NilPtr, err
	}

	prev := uint32(nilOff)
	cur := s.freeHead
	for cur != nilOff {
		h := s.readHeader(cur)
		if front, ok := s.alignedFit(cur, h, need, align); ok {
			s.unlinkFree(prev, cur)
			if front > 0 {
				// Carve a free front remainder so the aligned block's header
				// lands immediately before the aligned payload.
				s.writeHeader(cur, header{tag: guardTag, size: front, prev: h.prev})
				body := cur + front
				s.writeHeader(body, header{tag: guardTag, size: h.size - front, prev: cur})
				s.fixPrev(body+(h.size-front), body)
				s.blocks++
				s.splits++
				s.pushFree(cur)
				// The split leaves the byte total untouched (front + body
				// still span the old block) but adds one free block; carve
				// consumes the body's share below.
				s.freeBlocks++
				cur, h = body, s.readHeader(body)
			}
			s.carve(cur, h, need)
			s.allocs++
			return Ptr(cur + headerSize), nil
		}
		prev = cur
		cur = s.nextFree(cur)
	}
	return NilPtr, ErrOutOfMemory
}

// Free releases the block and coalesces it with free physical neighbors.
func (s *Service) Free(ptr Ptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.blockOf(ptr)
	if err != nil {
		return err
	}
	h := s.readHeader(off)
	if !h.used() {
		log.Printf("heap: double free of block at %#x", uint32(ptr))
		return ErrDoubleFree
	}
	s.release(off, h)
	s.frees++
	return nil
}

// Realloc resizes a block. Growing always allocates fresh, copies
// min(old,new) bytes and frees the original; shrinking happens in place
// when the surplus is worth a split.
func (s *Service) Realloc(ptr Ptr, newSize uint32) (Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ptr == NilPtr {
		p, err := s.alloc(newSize)
		if err == nil {
			s.reallocs++
		}
		return p, err
	}
	off, err := s.blockOf(ptr)
	if err != nil {
		return NilPtr, err
	}
	h := s.readHeader(off)
	if !h.used() {
		return NilPtr, ErrBadPointer
	}
	need, err := s.blockSizeFor(newSize)
	if err != nil {
		return NilPtr, err
	}
	s.reallocs++

	if need <= h.size {
		// Shrink in place, splitting off the tail when it is big enough to
		// stand as a block of its own.
		if surplus := h.size - need; surplus > headerSize+splitSlack {
			tail := off + need
			h.size = need
			s.writeHeader(off, h)
			s.writeHeader(tail, header{tag: guardTag, size: surplus, prev: off})
			s.fixPrev(tail+surplus, tail)
			s.blocks++
			s.splits++
			s.releaseFresh(tail)
		}
		return ptr, nil
	}

	// Grow: fresh allocation, copy, free. No in-place forward extension even
	// when the successor is free.
	np, err := s.alloc(newSize)
	if err != nil {
		return NilPtr, err
	}
	oldPayload := h.size - headerSize
	n := oldPayload
	if newSize < n {
		n = newSize
	}
	copy(s.arena[uint32(np):uint32(np)+n], s.arena[uint32(ptr):uint32(ptr)+n])
	s.release(off, s.readHeader(off))
	s.frees++
	return np, nil
}

// BlockSize reports the usable payload size of a live block.
func (s *Service) BlockSize(ptr Ptr) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.blockOf(ptr)
	if err != nil {
		return 0, err
	}
	h := s.readHeader(off)
	if !h.used() {
		return 0, ErrBadPointer
	}
	return h.size - headerSize, nil
}

// Bytes returns the live payload view of a block, for collaborators that
// store into kernel memory.
func (s *Service) Bytes(ptr Ptr) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.blockOf(ptr)
	if err != nil {
		return nil, err
	}
	h := s.readHeader(off)
	if !h.used() {
		return nil, ErrBadPointer
	}
	return s.arena[off+headerSize : off+h.size], nil
}

// Stats returns the cached counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ArenaBytes: uint32(len(s.arena)),
		Blocks:     s.blocks,
		FreeBlocks: s.freeBlocks,
		FreeBytes:  s.freeBytes,
		Allocs:     s.allocs,
		Frees:      s.frees,
		Reallocs:   s.reallocs,
		Splits:     s.splits,
		Coalesces:  s.coalesces,
	}
}

// --------------------------------------------------------------------------
// internals (s.mu held)
// --------------------------------------------------------------------------

func (s *Service) blockSizeFor(size uint32) (uint32, error) {
	if size == 0 || size >= uint32(len(s.arena)) {
		return 0, ErrBadSize
	}
	need := align8(size) + headerSize
	if need < minBlock {
		need = minBlock
	}
	return need, nil
}

// blockOf validates a payload pointer and returns its header offset.
func (s *Service) blockOf(ptr Ptr) (uint32, error) {
	p := uint32(ptr)
	if p < headerSize || p >= uint32(len(s.arena)) || p%blockAlign != 0 {
		return 0, ErrBadPointer
	}
	off := p - headerSize
	if h := s.readHeader(off); h.tag != guardTag {
		return 0, ErrBadPointer
	}
	return off, nil
}

// carve turns the free block at off (already unlinked) into a used block of
// need bytes, re-inserting any split remainder.
func (s *Service) carve(off uint32, h header, need uint32) {
	s.freeBlocks--
	s.freeBytes -= h.size

	if h.size-need > headerSize+splitSlack {
		rem := off + need
		remSize := h.size - need
		s.writeHeader(rem, header{tag: guardTag, size: remSize, prev: off})
		s.fixPrev(rem+remSize, rem)
		s.pushFree(rem)
		s.blocks++
		s.splits++
		s.freeBlocks++
		s.freeBytes += remSize
		h.size = need
	}
	h.flags |= flagUsed
	s.writeHeader(off, h)
}

// release frees the used block at off, coalescing with free physical
// neighbors before re-inserting.
func (s *Service) release(off uint32, h header) {
	h.flags &^= flagUsed

	// Forward: absorb a free successor.
	if next := off + h.size; next < uint32(len(s.arena)) {
		nh := s.readHeader(next)
		if !nh.used() {
			s.removeFree(next)
			h.size += nh.size
			s.fixPrev(off+h.size, off)
			s.blocks--
			s.freeBlocks--
			s.freeBytes -= nh.size
			s.coalesces++
		}
	}
	// Backward: fold into a free predecessor.
	if h.prev != nilOff {
		ph := s.readHeader(h.prev)
		if !ph.used() {
			s.removeFree(h.prev)
			ph.size += h.size
			s.fixPrev(h.prev+ph.size, h.prev)
			s.blocks--
			s.freeBlocks--
			s.freeBytes -= ph.size - h.size
			s.coalesces++
			off, h = h.prev, ph
		}
	}

	s.writeHeader(off, h)
	s.pushFree(off)
	s.freeBlocks++
	s.freeBytes += h.size
}

// releaseFresh inserts a brand-new free block (from a shrink split) and
// coalesces forward only; its predecessor is by construction in use.
func (s *Service) releaseFresh(off uint32) {
	h := s.readHeader(off)
	if next := off + h.size; next < uint32(len(s.arena)) {
		nh := s.readHeader(next)
		if !nh.used() {
			s.removeFree(next)
			h.size += nh.size
			s.fixPrev(off+h.size, off)
			s.blocks--
			s.freeBlocks--
			s.freeBytes -= nh.size
			s.coalesces++
			s.writeHeader(off, h)
		}
	}
	s.pushFree(off)
	s.freeBlocks++
	s.freeBytes += h.size
}

// fixPrev updates the predecessor link of the block at off, when off is
// still inside the arena.
func (s *Service) fixPrev(off, prev uint32) {
	if off >= uint32(len(s.arena)) {
		return
	}
	h := s.readHeader(off)
	h.prev = prev
	s.writeHeader(off, h)
}

func (s *Service) pushFree(off uint32) {
	s.setNextFree(off, s.freeHead)
	s.freeHead = off
}

// unlinkFree removes cur from the free list given its list predecessor.
func (s *Service) unlinkFree(prev, cur uint32) {
	if prev == nilOff {
		s.freeHead = s.nextFree(cur)
		return
	}
	s.setNextFree(prev, s.nextFree(cur))
}

// removeFree unlinks an arbitrary free block, walking the list to find its
// predecessor.
func (s *Service) removeFree(off uint32) {
	prev := uint32(nilOff)
	cur := s.freeHead
	for cur != nilOff {
		if cur == off {
			s.unlinkFree(prev, cur)
			return
		}
		prev = cur
		cur = s.nextFree(cur)
	}
}

// alignedFit checks whether the free block at off can host an aligned
// payload of need total bytes, returning the front remainder size.
func (s *Service) alignedFit(off uint32, h header, need, align uint32) (uint32, bool) {
	payload := off + headerSize
	aligned := (payload + align - 1) &^ (align - 1)
	for {
		front := (aligned - headerSize) - off
		if aligned != payload && front < minBlock {
			// The gap cannot stand as a block; push to the next slot.
			aligned += align
			continue
		}
		if front+need > h.size {
			return 0, false
		}
		return front, true
	}
}
