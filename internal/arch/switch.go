package arch

// Switcher is the narrow context-switch interface. There is exactly one
// implementation per target; everything above it is architecture neutral.
type Switcher interface {
	// Swap saves the outgoing context into old and installs next on the CPU.
	Swap(old, next *Context)

	// SwitchAddressSpace installs the address space identified by id. Called
	// only when a switch crosses a process boundary.
	SwitchAddressSpace(id string)

	// Halt idles the CPU until the next interrupt.
	Halt()
}

// SimSwitcher is the hosted implementation: it performs the bookkeeping of a
// real switch and records what happened so tests can assert on it.
type SimSwitcher struct {
	Swaps        int
	Halts        int
	AddressSpace string
	SpaceSwaps   int
}

func (s *SimSwitcher) Swap(old, next *Context) {
	// On hardware this is the register save/restore sequence; hosted, the
	// contexts already hold the saved state so the swap is a no-op beyond
	// accounting.
	_ = old
	_ = next
	s.Swaps++
}

func (s *SimSwitcher) SwitchAddressSpace(id string) {
	s.AddressSpace = id
	s.SpaceSwaps++
}

func (s *SimSwitcher) Halt() {
	s.Halts++
}

var _ Switcher = (*SimSwitcher)(nil)
