package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleos/nucleos/service/pagealloc"
)

func verifyOK(t *testing.T, s *Service) {
	t.Helper()
	_, err := s.Verify()
	assert.NoError(t, err)
}

func newTestHeap(t *testing.T, arenaPages int) *Service {
	t.Helper()
	pages := pagealloc.New(pagealloc.Config{TotalPages: arenaPages + 8, PageSize: 4096, Base: 0x100000})
	s, err := New(pages, Config{ArenaPages: arenaPages})
	require.NoError(t, err)
	return s
}

func TestAllocFree(t *testing.T) {
	s := newTestHeap(t, 4)

	p, err := s.Alloc(100)
	require.NoError(t, err)
	assert.NotEqual(t, NilPtr, p)

	size, err := s.BlockSize(p)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, uint32(100))

	require.NoError(t, s.Free(p))
	verifyOK(t, s)
}

func TestAllocDistinct(t *testing.T) {
	s := newTestHeap(t, 4)
	seen := map[Ptr]bool{}
	for i := 0; i < 50; i++ {
		p, err := s.Alloc(64)
		require.NoError(t, err)
		assert.False(t, seen[p])
		seen[p] = true
	}
	verifyOK(t, s)
}

func TestConservationWalk(t *testing.T) {
	s := newTestHeap(t, 4)

	var live []Ptr
	for i := uint32(1); i <= 20; i++ {
		p, err := s.Alloc(i * 13)
		require.NoError(t, err)
		live = append(live, p)
	}
	// Free every other block, then reallocate some.
	for i := 0; i < len(live); i += 2 {
		require.NoError(t, s.Free(live[i]))
	}
	for i := 1; i < len(live); i += 2 {
		np, err := s.Realloc(live[i], 200)
		require.NoError(t, err)
		live[i] = np
	}

	report, err := s.Verify()
	require.NoError(t, err)
	assert.Empty(t, report.Issues)

	stats := s.Stats()
	assert.Equal(t, stats.Blocks, report.Blocks)
	assert.Equal(t, stats.FreeBlocks, report.FreeBlocks)
	assert.Equal(t, stats.FreeBytes, report.FreeBytes)
}

func TestCoalescing(t *testing.T) {
	s := newTestHeap(t, 1)

	// Grab almost everything so a specific pair of neighbors can be carved.
	a, err := s.Alloc(512)
	require.NoError(t, err)
	b, err := s.Alloc(512)
	require.NoError(t, err)
	guard, err := s.Alloc(512)
	require.NoError(t, err)

	require.NoError(t, s.Free(a))
	require.NoError(t, s.Free(b))

	// The two adjacent blocks must have merged: a single allocation of
	// their combined payload has to fit in the merged block.
	merged, err := s.Alloc(1024 + headerSize)
	require.NoError(t, err)

	require.NoError(t, s.Free(merged))
	require.NoError(t, s.Free(guard))
	verifyOK(t, s)

	// Everything freed: back to one spanning free block.
	report, err := s.Verify()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocks)
	assert.Equal(t, 1, report.FreeBlocks)
	assert.Equal(t, s.ArenaSize(), report.FreeBytes)
}

func TestReallocGrowCopies(t *testing.T) {
	s := newTestHeap(t, 2)

	p, err := s.Alloc(32)
	require.NoError(t, err)
	buf, err := s.Bytes(p)
	require.NoError(t, err)
	copy(buf, "resource-management-core")

	np, err := s.Realloc(p, 4096)
	require.NoError(t, err)
	assert.NotEqual(t, p, np, "growing must relocate, never extend in place")

	nbuf, err := s.Bytes(np)
	require.NoError(t, err)
	assert.Equal(t, "resource-management-core", string(nbuf[:24]))

	// The old block is gone.
	assert.ErrorIs(t, s.Free(p), ErrDoubleFree)
	verifyOK(t, s)
}

func TestReallocShrinkInPlace(t *testing.T) {
	s := newTestHeap(t, 2)

	p, err := s.Alloc(2048)
	require.NoError(t, err)
	np, err := s.Realloc(p, 64)
	require.NoError(t, err)
	assert.Equal(t, p, np)

	size, err := s.BlockSize(np)
	require.NoError(t, err)
	assert.Less(t, size, uint32(2048))
	verifyOK(t, s)
}

func TestAllocAligned(t *testing.T) {
	s := newTestHeap(t, 4)

	for _, align := range []uint32{16, 64, 256, 4096} {
		p, err := s.AllocAligned(100, align)
		require.NoError(t, err)
		assert.Zero(t, uint32(p)%align, "payload %#x not %d-aligned", uint32(p), align)
	}
	_, err := s.AllocAligned(100, 3)
	assert.ErrorIs(t, err, ErrBadAlign)
	verifyOK(t, s)
}

func TestAllocAlignedCounters(t *testing.T) {
	s := newTestHeap(t, 4)

	// Skew the arena so the next aligned allocation must carve a front
	// remainder, then cross-check the cached counters against a full walk.
	_, err := s.Alloc(100)
	require.NoError(t, err)
	p, err := s.AllocAligned(100, 64)
	require.NoError(t, err)
	assert.Zero(t, uint32(p)%64)

	report, err := s.Verify()
	require.NoError(t, err)
	stats := s.Stats()
	assert.Equal(t, stats.FreeBlocks, report.FreeBlocks, "front split must count its free block")
	assert.Equal(t, stats.FreeBytes, report.FreeBytes, "front split must not inflate free bytes")

	// The same holds after the front remainder is recycled.
	q, err := s.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, s.Free(q))
	require.NoError(t, s.Free(p))
	verifyOK(t, s)
}

func TestFreeValidation(t *testing.T) {
	s := newTestHeap(t, 1)
	p, err := s.Alloc(64)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Free(p+4), ErrBadPointer)
	assert.ErrorIs(t, s.Free(Ptr(s.ArenaSize()+128)), ErrBadPointer)

	require.NoError(t, s.Free(p))
	assert.ErrorIs(t, s.Free(p), ErrDoubleFree)
}

func TestAllocExhaustion(t *testing.T) {
	s := newTestHeap(t, 1)

	_, err := s.Alloc(0)
	assert.ErrorIs(t, err, ErrBadSize)
	_, err = s.Alloc(s.ArenaSize() + 1)
	assert.ErrorIs(t, err, ErrBadSize)

	// Arena minus one header fits; anything above cannot.
	p, err := s.Alloc(s.ArenaSize() - headerSize)
	require.NoError(t, err)
	_, err = s.Alloc(8)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, s.Free(p))
}
