package pagealloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{TotalPages: 64, PageSize: 4096, Base: 0x100000}
}

func TestAllocFreeConservation(t *testing.T) {
	s := New(testConfig())

	var pages []uint64
	for i := 0; i < 10; i++ {
		addr, err := s.Alloc()
		require.NoError(t, err)
		pages = append(pages, addr)

		stats := s.Stats()
		assert.Equal(t, stats.TotalPages, stats.FreePages+stats.UsedPages)
	}
	assert.Equal(t, 54, s.Stats().FreePages)

	for _, addr := range pages {
		assert.NoError(t, s.Free(addr))
		stats := s.Stats()
		assert.Equal(t, stats.TotalPages, stats.FreePages+stats.UsedPages)
	}
	assert.Equal(t, 64, s.Stats().FreePages)
}

func TestNoDoubleAllocation(t *testing.T) {
	s := New(testConfig())
	seen := map[uint64]bool{}
	for i := 0; i < 64; i++ {
		addr, err := s.Alloc()
		require.NoError(t, err)
		assert.False(t, seen[addr], "address %#x granted twice", addr)
		seen[addr] = true
	}
	_, err := s.Alloc()
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestAllocContiguous(t *testing.T) {
	s := New(testConfig())
	base, err := s.AllocContiguous(8)
	require.NoError(t, err)

	// The run must be page-consecutive.
	view, err := s.View(base, 8)
	require.NoError(t, err)
	assert.Len(t, view, 8*4096)

	assert.NoError(t, s.FreeRange(base, 8))
	assert.Equal(t, 64, s.Stats().FreePages)
}

func TestAllocContiguousExhaustion(t *testing.T) {
	s := New(testConfig())
	_, err := s.AllocContiguous(65)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = s.AllocContiguous(0)
	assert.ErrorIs(t, err, ErrBadCount)
}

func TestFreeValidation(t *testing.T) {
	s := New(testConfig())
	addr, err := s.Alloc()
	require.NoError(t, err)

	tests := []struct {
		name string
		addr uint64
		want error
	}{
		{name: "misaligned", addr: addr + 1, want: ErrBadAddress},
		{name: "below base", addr: 0x1000, want: ErrBadAddress},
		{name: "beyond end", addr: 0x100000 + 64*4096, want: ErrBadAddress},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Stats()
			assert.ErrorIs(t, s.Free(tc.addr), tc.want)
			assert.Equal(t, before, s.Stats(), "failed free must have no side effects")
		})
	}
}

func TestDoubleFree(t *testing.T) {
	s := New(testConfig())
	addr, err := s.Alloc()
	require.NoError(t, err)

	require.NoError(t, s.Free(addr))
	assert.ErrorIs(t, s.Free(addr), ErrDoubleFree)
	assert.Equal(t, 64, s.Stats().FreePages)
}

func TestPagesComeBackZeroed(t *testing.T) {
	s := New(testConfig())
	addr, err := s.Alloc()
	require.NoError(t, err)

	view, err := s.View(addr, 1)
	require.NoError(t, err)
	for i := range view {
		view[i] = 0xAB
	}
	require.NoError(t, s.Free(addr))

	// Reclaim every frame; whichever frame backs it must read zero.
	for i := 0; i < 64; i++ {
		a, aerr := s.Alloc()
		require.NoError(t, aerr)
		v, verr := s.View(a, 1)
		require.NoError(t, verr)
		for _, b := range v {
			require.Zero(t, b, "page %#x not zero-filled", a)
		}
	}
}

func TestFreeRangeValidatesWholeRange(t *testing.T) {
	s := New(testConfig())
	base, err := s.AllocContiguous(4)
	require.NoError(t, err)

	// Free one page in the middle, then FreeRange over it must refuse
	// entirely without freeing the rest.
	require.NoError(t, s.Free(base + 2*4096))
	before := s.Stats()
	assert.ErrorIs(t, s.FreeRange(base, 4), ErrDoubleFree)
	assert.Equal(t, before, s.Stats())
}

func TestStatsFragmentation(t *testing.T) {
	s := New(testConfig())
	stats := s.Stats()
	assert.Equal(t, 1, stats.FreeRuns)
	assert.Equal(t, 64, stats.LargestRun)

	base, err := s.AllocContiguous(4)
	require.NoError(t, err)
	// Punch a hole: free page 1 and 3 of the run.
	require.NoError(t, s.Free(base + 1*4096))
	require.NoError(t, s.Free(base + 3*4096))

	stats = s.Stats()
	assert.Equal(t, 62, stats.FreePages)
	assert.GreaterOrEqual(t, stats.FreeRuns, 2)
}
