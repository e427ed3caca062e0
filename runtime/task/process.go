package task

import (
	"sync"
	"time"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/idgen"
)

// PID identifies a process. PIDs are registry slot indices; NoPID marks an
// absent parent reference.
type PID int32

// NoPID is the nil process handle.
const NoPID PID = -1

// Limits bounds the resources a single process may hold.
type Limits struct {
	MaxThreads     int `json:"maxThreads" yaml:"maxThreads"`
	MaxDescriptors int `json:"maxDescriptors" yaml:"maxDescriptors"`
	MaxPages       int `json:"maxPages" yaml:"maxPages"`
}

// DefaultLimits returns the per-process limits applied when the creator does
// not override them.
func DefaultLimits() Limits {
	return Limits{MaxThreads: 16, MaxDescriptors: 32, MaxPages: 1024}
}

// AddressSpace is the exclusively-owned memory image of a process: the
// physical pages backing it plus the installed entry point. The ID is an
// opaque handle handed to the context-switch layer when a dispatch crosses a
// process boundary.
type AddressSpace struct {
	ID    string   `json:"id"`
	Entry uint64   `json:"entry"`
	Pages []uint64 `json:"pages"`
}

// NewAddressSpace allocates an empty address space with a fresh handle.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{ID: idgen.New()}
}

// Process is the schedulable resource owner. It exclusively owns its address
// space, descriptor table and thread list (strong TID handles); threads hold
// only the PID back-reference.
type Process struct {
	ID     PID          `json:"id"`
	Parent PID          `json:"parent"`
	Name   string       `json:"name"`
	State  ProcessState `json:"state"`

	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`

	// Priv is the privilege level new thread contexts inherit.
	Priv arch.Privilege `json:"priv"`

	Space       *AddressSpace `json:"space"`
	Descriptors []any         `json:"-"`
	Limits      Limits        `json:"limits"`

	Threads  []TID `json:"threads"`
	Children []PID `json:"children"`

	Signals  SignalState `json:"signals"`
	ExitCode int         `json:"exitCode"`

	// CPUTime accumulates ticks consumed by all of the process's threads.
	CPUTime uint64 `json:"cpuTime"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	mu sync.RWMutex
}

// GetState returns the process state.
func (p *Process) GetState() ProcessState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.State
}

// SetState updates the process state, stamping FinishedAt on the transition
// to zombie.
func (p *Process) SetState(state ProcessState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.State = state
	if state == ProcStateZombie {
		now := time.Now()
		p.FinishedAt = &now
	}
	p.UpdatedAt = time.Now()
}

// AddThread appends a strong thread handle.
func (p *Process) AddThread(tid TID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Threads = append(p.Threads, tid)
}

// RemoveThread drops a thread handle, reporting whether it was the last one.
func (p *Process) RemoveThread(tid TID) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.Threads[:0]
	for _, id := range p.Threads {
		if id != tid {
			kept = append(kept, id)
		}
	}
	p.Threads = kept
	return len(p.Threads) == 0
}

// AddChild records a child PID on the parent.
func (p *Process) AddChild(pid PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Children = append(p.Children, pid)
}

// RemoveChild forgets a reaped child.
func (p *Process) RemoveChild(pid PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.Children[:0]
	for _, id := range p.Children {
		if id != pid {
			kept = append(kept, id)
		}
	}
	p.Children = kept
}

// HasChild reports whether pid is a live child of p.
func (p *Process) HasChild(pid PID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, id := range p.Children {
		if id == pid {
			return true
		}
	}
	return false
}

// ThreadIDs returns a snapshot of the owned thread handles.
func (p *Process) ThreadIDs() []TID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TID, len(p.Threads))
	copy(out, p.Threads)
	return out
}

// ChildIDs returns a snapshot of the live children.
func (p *Process) ChildIDs() []PID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PID, len(p.Children))
	copy(out, p.Children)
	return out
}

// NewProcess creates a process record in the new state with an empty
// descriptor table sized from its limits.
func NewProcess(id PID, name string, parent PID, limits Limits) *Process {
	now := time.Now()
	if limits.MaxThreads <= 0 {
		limits = DefaultLimits()
	}
	return &Process{
		ID:          id,
		Parent:      parent,
		Name:        name,
		State:       ProcStateNew,
		Space:       NewAddressSpace(),
		Descriptors: make([]any, limits.MaxDescriptors),
		Limits:      limits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
