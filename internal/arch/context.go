package arch

// Privilege selects the ring a context executes in. Segment selectors are
// derived from it so that callers never deal with GDT layout directly.
type Privilege int

const (
	PrivKernel Privilege = 0
	PrivUser   Privilege = 3
)

// Flat GDT selectors; user selectors carry RPL 3.
const (
	selKernelCode = 0x08
	selKernelData = 0x10
	selUserCode   = 0x1B
	selUserData   = 0x23
)

// FlagInterrupt is the IF bit in RFLAGS; new contexts start with it set.
const FlagInterrupt = 0x200

// StackAlignment is the required stack-pointer alignment at entry.
const StackAlignment = 16

// Context is the full saved CPU state of a thread: instruction/stack
// pointers, the argument and return registers, flags, segment selectors and
// the callee-saved block. The scheduler treats it as opaque; only this
// package knows the register layout.
type Context struct {
	RIP    uint64
	RSP    uint64
	RBP    uint64
	RAX    uint64
	RDI    uint64
	RFLAGS uint64
	CS     uint16
	SS     uint16

	// Callee-saved block, in push order.
	RBX uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
}

// NewContext builds the initial context for a fresh thread: entry point as
// instruction pointer, a 16-byte-aligned stack top, the argument in the
// first-argument register, interrupts enabled and segment selectors matching
// the privilege level.
func NewContext(entry, stackTop, arg uint64, priv Privilege) Context {
	ctx := Context{
		RIP:    entry,
		RSP:    stackTop &^ uint64(StackAlignment-1),
		RDI:    arg,
		RFLAGS: FlagInterrupt,
	}
	switch priv {
	case PrivUser:
		ctx.CS = selUserCode
		ctx.SS = selUserData
	default:
		ctx.CS = selKernelCode
		ctx.SS = selKernelData
	}
	return ctx
}
