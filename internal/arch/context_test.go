package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext(0x400000, 0x7fffff, 42, PrivKernel)

	assert.Equal(t, uint64(0x400000), ctx.RIP)
	assert.Equal(t, uint64(42), ctx.RDI)
	assert.Zero(t, ctx.RSP%StackAlignment, "stack top is aligned down")
	assert.True(t, ctx.RSP <= 0x7fffff)
	assert.NotZero(t, ctx.RFLAGS&FlagInterrupt, "fresh contexts run with interrupts enabled")
}

func TestNewContextSelectors(t *testing.T) {
	kernel := NewContext(0x1000, 0x2000, 0, PrivKernel)
	user := NewContext(0x1000, 0x2000, 0, PrivUser)

	assert.Equal(t, uint16(selKernelCode), kernel.CS)
	assert.Equal(t, uint16(selKernelData), kernel.SS)
	assert.Equal(t, uint16(selUserCode), user.CS)
	assert.Equal(t, uint16(selUserData), user.SS)

	// User selectors carry the ring in the low bits.
	assert.Equal(t, uint16(3), user.CS&3)
	assert.Zero(t, kernel.CS&3)
}

func TestSimSwitcherRecords(t *testing.T) {
	s := &SimSwitcher{}
	var a, b Context

	s.Swap(&a, &b)
	s.Swap(&b, &a)
	s.SwitchAddressSpace("space-1")
	s.Halt()

	assert.Equal(t, 2, s.Swaps)
	assert.Equal(t, 1, s.SpaceSwaps)
	assert.Equal(t, "space-1", s.AddressSpace)
	assert.Equal(t, 1, s.Halts)
}
