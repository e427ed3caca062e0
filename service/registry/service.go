package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/pagealloc"
)

// Config bounds the PID/TID namespaces and sizes kernel stacks.
type Config struct {
	// MaxProcesses is the process table size; PIDs are its slot indices.
	MaxProcesses int `json:"maxProcesses" yaml:"maxProcesses"`

	// MaxThreads is the thread table size; TIDs are its slot indices.
	MaxThreads int `json:"maxThreads" yaml:"maxThreads"`

	// StackPages is the kernel stack size per thread, in pages.
	StackPages int `json:"stackPages" yaml:"stackPages"`
}

// DefaultConfig returns the default table geometry.
func DefaultConfig() Config {
	return Config{MaxProcesses: 256, MaxThreads: 1024, StackPages: 4}
}

// Service owns the process and thread tables. A slot is in use exactly when
// its entry is non-nil; PIDs/TIDs come from monotonically increasing
// counters with reuse of the lowest free slot once the counter saturates.
type Service struct {
	config Config
	pages  *pagealloc.Service

	procs   []*task.Process
	threads []*task.Thread

	nextPID task.PID
	nextTID task.TID

	mu sync.RWMutex
}

// New creates empty tables.
func New(pages *pagealloc.Service, config Config) *Service {
	if config.MaxProcesses <= 0 {
		config = DefaultConfig()
	}
	return &Service{
		config:  config,
		pages:   pages,
		procs:   make([]*task.Process, config.MaxProcesses),
		threads: make([]*task.Thread, config.MaxThreads),
	}
}

// CreateProcess allocates a PID slot and records the process. The parent,
// when present, gains a child link.
func (s *Service) CreateProcess(name string, parent task.PID, uid, gid uint32, limits task.Limits) (*task.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentProc *task.Process
	if parent != task.NoPID {
		parentProc = s.process(parent)
		if parentProc == nil {
			return nil, fmt.Errorf("parent %d: %w", parent, ErrNotFound)
		}
	}

	pid, ok := allocSlotPID(s.procs, &s.nextPID)
	if !ok {
		return nil, fmt.Errorf("process table: %w", ErrNoSlots)
	}

	proc := task.NewProcess(pid, name, parent, limits)
	proc.UID = uid
	proc.GID = gid
	if pid != 0 {
		proc.Priv = arch.PrivUser
	}
	s.procs[pid] = proc
	if parentProc != nil {
		parentProc.AddChild(pid)
	}
	return proc, nil
}

// DestroyProcess frees the PID slot. A process that still owns threads is
// refused; callers tear threads down first.
func (s *Service) DestroyProcess(pid task.PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proc := s.process(pid)
	if proc == nil {
		return fmt.Errorf("process %d: %w", pid, ErrNotFound)
	}
	if len(proc.ThreadIDs()) > 0 {
		return fmt.Errorf("process %d: %w", pid, ErrHasThreads)
	}
	s.procs[pid] = nil
	return nil
}

// CreateThread allocates a TID slot, a kernel stack and the initial context
// (entry point as instruction pointer, aligned stack top, argument in the
// first-argument register, interrupts enabled, selectors matching the
// process's privilege level).
func (s *Service) CreateThread(pid task.PID, name string, entry, arg uint64, prio task.Priority) (*task.Thread, error) {
	if !prio.Valid() {
		return nil, ErrBadPriority
	}
	if entry == 0 {
		return nil, ErrBadEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proc := s.process(pid)
	if proc == nil {
		return nil, fmt.Errorf("process %d: %w", pid, ErrNotFound)
	}
	if len(proc.ThreadIDs()) >= proc.Limits.MaxThreads {
		return nil, fmt.Errorf("process %d: %w", pid, ErrThreadLimit)
	}

	tid, ok := allocSlotTID(s.threads, &s.nextTID)
	if !ok {
		return nil, fmt.Errorf("thread table: %w", ErrNoSlots)
	}

	stackBase, err := s.pages.AllocContiguous(s.config.StackPages)
	if err != nil {
		return nil, fmt.Errorf("thread %d stack: %w", tid, err)
	}
	stack := task.StackRef{Base: stackBase, Pages: s.config.StackPages}

	thread := &task.Thread{
		ID:        tid,
		Process:   pid,
		Name:      name,
		Stack:     stack,
		State:     task.StateNew,
		Priority:  prio,
		Base:      prio,
		Context:   arch.NewContext(entry, stack.Top(s.pages.PageSize()), arg, proc.Priv),
		CreatedAt: time.Now(),
	}
	s.threads[tid] = thread
	proc.AddThread(tid)
	return thread, nil
}

// DestroyThread frees the TID slot and the kernel stack. Removing the last
// thread moves the owning process to zombie. A thread the scheduler still
// holds (ready, running, blocked or sleeping) is refused; callers retire it
// first so no queue keeps a stale TID.
func (s *Service) DestroyThread(tid task.TID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.thread(tid)
	if thread == nil {
		return fmt.Errorf("thread %d: %w", tid, ErrNotFound)
	}
	switch thread.GetState() {
	case task.StateNew, task.StateZombie:
	default:
		return fmt.Errorf("thread %d: %w", tid, ErrThreadActive)
	}
	if err := s.pages.FreeRange(thread.Stack.Base, thread.Stack.Pages); err != nil {
		return fmt.Errorf("thread %d stack: %w", tid, err)
	}
	s.threads[tid] = nil

	if proc := s.process(thread.Process); proc != nil {
		if last := proc.RemoveThread(tid); last && proc.GetState() == task.ProcStateActive {
			proc.SetState(task.ProcStateZombie)
		}
	}
	return nil
}

// Process looks a process up by PID.
func (s *Service) Process(pid task.PID) (*task.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if proc := s.process(pid); proc != nil {
		return proc, nil
	}
	return nil, fmt.Errorf("process %d: %w", pid, ErrNotFound)
}

// Thread looks a thread up by TID.
func (s *Service) Thread(tid task.TID) (*task.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if thread := s.thread(tid); thread != nil {
		return thread, nil
	}
	return nil, fmt.Errorf("thread %d: %w", tid, ErrNotFound)
}

// Processes returns the live processes in slot order.
func (s *Service) Processes() []*task.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Process, 0, len(s.procs))
	for _, p := range s.procs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Threads returns the live threads in slot order.
func (s *Service) Threads() []*task.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) process(pid task.PID) *task.Process {
	if pid < 0 || int(pid) >= len(s.procs) {
		return nil
	}
	return s.procs[pid]
}

func (s *Service) thread(tid task.TID) *task.Thread {
	if tid < 0 || int(tid) >= len(s.threads) {
		return nil
	}
	return s.threads[tid]
}

// allocSlotPID hands out the monotonic counter value until it saturates the
// table, then falls back to the lowest free slot.
func allocSlotPID(table []*task.Process, next *task.PID) (task.PID, bool) {
	if int(*next) < len(table) {
		pid := *next
		*next++
		return pid, true
	}
	for i := range table {
		if table[i] == nil {
			return task.PID(i), true
		}
	}
	return 0, false
}

func allocSlotTID(table []*task.Thread, next *task.TID) (task.TID, bool) {
	if int(*next) < len(table) {
		tid := *next
		*next++
		return tid, true
	}
	for i := range table {
		if table[i] == nil {
			return task.TID(i), true
		}
	}
	return 0, false
}
