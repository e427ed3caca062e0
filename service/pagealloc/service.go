package pagealloc

import (
	"log"
	"sync"
)

// Config represents the physical memory geometry.
type Config struct {
	// TotalPages is the number of page frames under allocator control.
	TotalPages int `json:"totalPages" yaml:"totalPages"`

	// PageSize is the frame size in bytes; must be a power of two.
	PageSize int `json:"pageSize" yaml:"pageSize"`

	// Base is the physical address of frame zero.
	Base uint64 `json:"base" yaml:"base"`
}

// DefaultConfig returns a 64MiB physical map of 4KiB frames starting at 1MiB.
func DefaultConfig() Config {
	return Config{
		TotalPages: 16384,
		PageSize:   4096,
		Base:       0x100000,
	}
}

// Service tracks every physical page frame as free or used in a bitmap and
// grants/reclaims single pages or contiguous runs. The frames are backed by
// a real byte arena so the zero-fill and wipe guarantees are observable:
// returned pages are zeroed, freed pages are wiped before re-entering the
// pool.
type Service struct {
	config Config

	bitmap []uint64 // 1 bit per frame, set = used
	mem    []byte

	total int
	free  int

	// cursor rotates so successive allocations spread across the map instead
	// of hammering the low frames; this bounds long-run fragmentation.
	cursor int

	mu sync.Mutex
}

// New creates a page allocator with every frame free.
func New(config Config) *Service {
	if config.TotalPages <= 0 {
		config = DefaultConfig()
	}
	words := (config.TotalPages + 63) / 64
	return &Service{
		config: config,
		bitmap: make([]uint64, words),
		mem:    make([]byte, config.TotalPages*config.PageSize),
		total:  config.TotalPages,
		free:   config.TotalPages,
	}
}

// PageSize returns the frame size in bytes.
func (s *Service) PageSize() int { return s.config.PageSize }

// Alloc grants one zero-filled page and returns its physical address.
func (s *Service) Alloc() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.scan(1)
	if !ok {
		return 0, ErrOutOfMemory
	}
	s.take(idx, 1)
	return s.addr(idx), nil
}

// AllocContiguous grants a run of n zero-filled pages and returns the
// address of the first.
func (s *Service) AllocContiguous(n int) (uint64, error) {
	if n <= 0 {
		return 0, ErrBadCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.scan(n)
	if !ok {
		return 0, ErrOutOfMemory
	}
	s.take(idx, n)
	return s.addr(idx), nil
}

// Free reclaims a single page. A misaligned or out-of-range address is
// rejected with no side effects; a double free is logged and refused.
func (s *Service) Free(addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeOne(addr)
}

// FreeRange reclaims n pages starting at addr. The whole range is validated
// before any page is released.
func (s *Service) FreeRange(addr uint64, n int) error {
	if n <= 0 {
		return ErrBadCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.frameIndex(addr)
	if err != nil {
		return err
	}
	if idx+n > s.total {
		return ErrBadAddress
	}
	for i := idx; i < idx+n; i++ {
		if !s.used(i) {
			log.Printf("pagealloc: double free of frame %d (addr %#x)", i, s.addr(i))
			return ErrDoubleFree
		}
	}
	for i := idx; i < idx+n; i++ {
		s.release(i)
	}
	return nil
}

// View returns the live backing bytes of a page run, for collaborators that
// install images or copy address spaces. The caller must own the pages.
func (s *Service) View(addr uint64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.frameIndex(addr)
	if err != nil {
		return nil, err
	}
	if n <= 0 || idx+n > s.total {
		return nil, ErrBadCount
	}
	off := idx * s.config.PageSize
	return s.mem[off : off+n*s.config.PageSize], nil
}

// Stats reports occupancy and an informational fragmentation score: the
// number of maximal free runs and the longest one.
type Stats struct {
	TotalPages int `json:"totalPages"`
	FreePages  int `json:"freePages"`
	UsedPages  int `json:"usedPages"`
	FreeRuns   int `json:"freeRuns"`
	LargestRun int `json:"largestRun"`
}

// Stats walks the bitmap and returns current occupancy and fragmentation.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TotalPages: s.total, FreePages: s.free, UsedPages: s.total - s.free}
	run := 0
	for i := 0; i < s.total; i++ {
		if s.used(i) {
			if run > 0 {
				st.FreeRuns++
				if run > st.LargestRun {
					st.LargestRun = run
				}
				run = 0
			}
			continue
		}
		run++
	}
	if run > 0 {
		st.FreeRuns++
		if run > st.LargestRun {
			st.LargestRun = run
		}
	}
	return st
}

// --------------------------------------------------------------------------
// internals (s.mu held)
// --------------------------------------------------------------------------

func (s *Service) freeOne(addr uint64) error {
	idx, err := s.frameIndex(addr)
	if err != nil {
		return err
	}
	if !s.used(idx) {
		log.Printf("pagealloc: double free of frame %d (addr %#x)", idx, addr)
		return ErrDoubleFree
	}
	s.release(idx)
	return nil
}

func (s *Service) frameIndex(addr uint64) (int, error) {
	if addr < s.config.Base {
		return 0, ErrBadAddress
	}
	off := addr - s.config.Base
	if off%uint64(s.config.PageSize) != 0 {
		return 0, ErrBadAddress
	}
	idx := int(off / uint64(s.config.PageSize))
	if idx >= s.total {
		return 0, ErrBadAddress
	}
	return idx, nil
}

func (s *Service) addr(idx int) uint64 {
	return s.config.Base + uint64(idx)*uint64(s.config.PageSize)
}

func (s *Service) used(idx int) bool {
	return s.bitmap[idx/64]&(1<<uint(idx%64)) != 0
}

func (s *Service) mark(idx int) {
	s.bitmap[idx/64] |= 1 << uint(idx%64)
}

func (s *Service) clear(idx int) {
	s.bitmap[idx/64] &^= 1 << uint(idx%64)
}

// scan looks for a free run of n frames starting at the rotating cursor,
// wrapping once. Amortised O(1) for single frames, worst case O(total).
func (s *Service) scan(n int) (int, bool) {
	if s.free < n {
		return 0, false
	}
	start := s.cursor
	if n > 1 {
		// Contiguous runs must not wrap the end of the map, so scan from the
		// cursor to the end, then from zero.
		if idx, ok := s.scanRange(start, s.total, n); ok {
			return idx, true
		}
		return s.scanRange(0, start+n-1, n)
	}
	for i := 0; i < s.total; i++ {
		idx := (start + i) % s.total
		if !s.used(idx) {
			return idx, true
		}
	}
	return 0, false
}

func (s *Service) scanRange(lo, hi, n int) (int, bool) {
	if hi > s.total {
		hi = s.total
	}
	run := 0
	for i := lo; i < hi; i++ {
		if s.used(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, true
		}
	}
	return 0, false
}

func (s *Service) take(idx, n int) {
	for i := idx; i < idx+n; i++ {
		s.mark(i)
		s.zero(i)
	}
	s.free -= n
	s.cursor = (idx + n) % s.total
}

func (s *Service) release(idx int) {
	// Wipe before the frame re-enters the pool so no stale data crosses an
	// allocation boundary.
	s.zero(idx)
	s.clear(idx)
	s.free++
}

func (s *Service) zero(idx int) {
	off := idx * s.config.PageSize
	page := s.mem[off : off+s.config.PageSize]
	for i := range page {
		page[i] = 0
	}
}
