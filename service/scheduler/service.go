package scheduler

import (
	"fmt"
	"sync"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/clock"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/registry"
)

// loadDecay is the per-sample weight kept from the previous load average.
const loadDecay = 0.8

// Config holds the tick-driven policy knobs.
type Config struct {
	// AgingInterval is how many ticks apart the aging passes run.
	AgingInterval clock.Ticks `json:"agingInterval" yaml:"agingInterval"`

	// AgingThreshold is the ready-wait age, in ticks, past which a
	// thread is promoted one priority level.
	AgingThreshold clock.Ticks `json:"agingThreshold" yaml:"agingThreshold"`

	// LoadInterval is how many ticks apart the load average is resampled.
	LoadInterval clock.Ticks `json:"loadInterval" yaml:"loadInterval"`
}

// DefaultConfig returns the default scheduling policy.
func DefaultConfig() Config {
	return Config{AgingInterval: 50, AgingThreshold: 100, LoadInterval: 16}
}

// Validate checks the policy knobs.
func (c *Config) Validate() error {
	if c.AgingInterval == 0 || c.LoadInterval == 0 {
		return fmt.Errorf("scheduler: intervals must be positive")
	}
	return nil
}

// Service is the dispatcher. All queue membership and thread state
// transitions happen under its lock; thread records themselves live in the
// registry and are referenced by TID only.
type Service struct {
	config   Config
	registry *registry.Service
	switcher arch.Switcher
	clk      *clock.Source

	queues  [task.NumPriorities]runQueue
	waiting map[string]*WaitQueue

	current task.TID
	idle    task.TID

	// bootContext receives the outgoing state of the very first switch,
	// before any thread has run.
	bootContext arch.Context

	loadAvg  float64
	preempts uint64

	mu sync.Mutex
}

// New creates a scheduler over the given thread registry and context
// switcher. The clock source is shared with whoever drives Tick.
func New(reg *registry.Service, switcher arch.Switcher, clk *clock.Source, config Config) (*Service, error) {
	if config == (Config{}) {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		config:   config,
		registry: reg,
		switcher: switcher,
		clk:      clk,
		waiting:  map[string]*WaitQueue{},
		current:  task.NoTID,
		idle:     task.NoTID,
	}, nil
}

// SetIdle registers the always-selectable idle thread. The idle thread is
// never enqueued on a ready queue and never blocks.
func (s *Service) SetIdle(tid task.TID) error {
	thread, err := s.registry.Thread(tid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	thread.SetState(task.StateReady)
	s.idle = tid
	return nil
}

// Admit moves a new thread onto the ready queue of its priority level.
func (s *Service) Admit(tid task.TID) error {
	thread, err := s.registry.Thread(tid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := thread.GetState(); st != task.StateNew {
		return fmt.Errorf("admit %d from %v: %w", tid, st, ErrBadState)
	}
	s.makeReadyLocked(thread, s.clk.Ticks())
	return nil
}

// Dispatch selects the highest-priority ready thread and switches to it. A
// still-running current thread keeps the CPU unless a strictly higher level
// has work. Returns the TID now running (NoTID only when no thread and no
// idle thread exist).
func (s *Service) Dispatch() task.TID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.threadLocked(s.current); cur != nil && cur.GetState() == task.StateRunning {
		s.maybePreemptLocked()
	} else {
		s.repickLocked()
	}
	return s.current
}

/// Tick is the timer-interrupt entry point: advances the tick counter,
// accounts runtime, wakes expired sleepers, runs the periodic aging and
// load-average passes, and re-evaluates the slice and priority of the
// running thread.
func (s *Service) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Advance()

	cur := s.threadLocked(s.current)
	running := cur != nil && s.current != s.idle && cur.GetState() == task.StateRunning
	if running {
		cur.Runtime++
		if proc, err := s.registry.Process(cur.Process); err == nil {
			proc.CPUTime++
		}
		if cur.Slice > 0 {
			cur.Slice--
		}
	}

	s.wakeSleepersLocked(now)

	if now%s.config.AgingInterval == 0 {
		s.ageLocked(now)
	}
	if now%s.config.LoadInterval == 0 {
		s.sampleLoadLocked(running)
	}

	if running && cur.Slice == 0 {
		// Slice exhausted: back to the tail of its own level.
		s.parkCurrentLocked(now)
		s.repickLocked()
		return
	}
	s.maybePreemptLocked()
}

// Yield moves the running thread to the tail of its level and reselects.
func (s *Service) Yield() (task.TID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.threadLocked(s.current)
	if cur == nil || cur.GetState() != task.StateRunning {
		return task.NoTID, ErrNoCurrent
	}
	s.parkCurrentLocked(s.clk.Ticks())
	s.repickLocked()
	return s.current, nil
}

// Block parks the running thread on the wait queue and reselects. Returns
// the TID that was blocked.
func (s *Service) Block(wq *WaitQueue) (task.TID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.threadLocked(s.current)
	if cur == nil || cur.GetState() != task.StateRunning {
		return task.NoTID, ErrNoCurrent
	}
	if s.current == s.idle {
		return task.NoTID, fmt.Errorf("idle thread: %w", ErrBadState)
	}
	blocked := s.current
	cur.SetState(task.StateBlocked)
	cur.WaitingOn = wq.name
	wq.push(blocked)
	s.repickLocked()
	return blocked, nil
}

// Wake moves the queue's front waiter back to ready. Reports whether a
// thread was woken. Preemption, if due, happens at the next tick.
func (s *Service) Wake(wq *WaitQueue) (task.TID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeOneLocked(wq)
}

// WakeAll drains the queue, waking every waiter in FIFO order.
func (s *Service) WakeAll(wq *WaitQueue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for {
		if _, ok := s.wakeOneLocked(wq); !ok {
			return n
		}
		n++
	}
}

// Sleep suspends the running thread until the deadline ticks from now. The
// tick handler wakes it once the counter passes the deadline.
func (s *Service) Sleep(d clock.Ticks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.threadLocked(s.current)
	if cur == nil || cur.GetState() != task.StateRunning {
		return ErrNoCurrent
	}
	if s.current == s.idle {
		return fmt.Errorf("idle thread: %w", ErrBadState)
	}
	cur.SetState(task.StateSleeping)
	cur.SleepUntil = s.clk.Ticks() + d
	s.repickLocked()
	return nil
}

// Exit retires the running thread to zombie and reselects. The registry
// slot stays occupied until the owner reaps it.
func (s *Service) Exit() (task.TID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.threadLocked(s.current)
	if cur == nil || cur.GetState() != task.StateRunning {
		return task.NoTID, ErrNoCurrent
	}
	exited := s.current
	cur.SetState(task.StateZombie)
	s.repickLocked()
	return exited, nil
}

// Retire force-terminates a thread that is not running: it is pulled out of
// whatever ready or wait queue holds it and marked zombie. Process teardown
// uses this to unblock and stop sibling threads.
func (s *Service) Retire(tid task.TID) error {
	thread, err := s.registry.Thread(tid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tid == s.current {
		return fmt.Errorf("thread %d is running: %w", tid, ErrBadState)
	}
	s.detachLocked(thread)
	thread.SetState(task.StateZombie)
	return nil
}

// Interrupt wakes a specific blocked or sleeping thread ahead of its queue
// or deadline, used for signal delivery.
func (s *Service) Interrupt(tid task.TID) error {
	thread, err := s.registry.Thread(tid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch thread.GetState() {
	case task.StateBlocked, task.StateSleeping:
		s.detachLocked(thread)
		s.makeReadyLocked(thread, s.clk.Ticks())
		return nil
	default:
		return fmt.Errorf("interrupt %d: %w", tid, ErrBadState)
	}
}

// NewWaitQueue creates and registers a wait queue under a unique name.
func (s *Service) NewWaitQueue(name string) *WaitQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	base, i := name, 1
	for s.waiting[name] != nil {
		name = fmt.Sprintf("%s#%d", base, i)
		i++
	}
	wq := &WaitQueue{name: name}
	s.waiting[name] = wq
	return wq
}

// DropWaitQueue unregisters an empty wait queue. A queue with waiters is
// refused.
func (s *Service) DropWaitQueue(wq *WaitQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(wq.tids) > 0 {
		return fmt.Errorf("queue %s: %w", wq.name, ErrQueueBusy)
	}
	delete(s.waiting, wq.name)
	return nil
}

// QueuePeek returns the queue's front waiter without waking it.
func (s *Service) QueuePeek(wq *WaitQueue) (task.TID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(wq.tids) == 0 {
		return task.NoTID, false
	}
	return wq.tids[0], true
}

// Transfer moves the front waiter of one queue onto the tail of another
// without readying it. The thread stays blocked; only what it waits on
// changes. Condition variables use this to requeue a signalled waiter onto
// a held mutex.
func (s *Service) Transfer(from, to *WaitQueue) (task.TID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tid, ok := from.popFront()
	if !ok {
		return task.NoTID, false
	}
	to.push(tid)
	if t := s.threadLocked(tid); t != nil {
		t.WaitingOn = to.name
	}
	return tid, true
}

// QueueLen returns the number of threads blocked on the queue.
func (s *Service) QueueLen(wq *WaitQueue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(wq.tids)
}

// Current returns the running thread's TID, or NoTID.
func (s *Service) Current() task.TID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// LoadAverage returns the exponentially-weighted runnable-thread count.
func (s *Service) LoadAverage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg
}

// Preemptions returns how many times a running thread lost the CPU to a
// higher level.
func (s *Service) Preemptions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preempts
}

// ReadyQueue returns the TIDs queued at a priority level, in dispatch order.
func (s *Service) ReadyQueue(p task.Priority) []task.TID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.Valid() {
		return nil
	}
	return s.queues[p].snapshot()
}

func (s *Service) wakeOneLocked(wq *WaitQueue) (task.TID, bool) {
	tid, ok := wq.popFront()
	if !ok {
		return task.NoTID, false
	}
	thread := s.threadLocked(tid)
	if thread == nil {
		return tid, true
	}
	s.makeReadyLocked(thread, s.clk.Ticks())
	return tid, true
}

func (s *Service) wakeSleepersLocked(now clock.Ticks) {
	for _, t := range s.registry.Threads() {
		if t.GetState() == task.StateSleeping && t.SleepUntil <= now {
			s.makeReadyLocked(t, now)
		}
	}
}

// ageLocked promotes ready threads whose wait age passed the threshold one
// level toward critical. The promotion is transient; the base priority is
// restored when the thread is dispatched.
func (s *Service) ageLocked(now clock.Ticks) {
	for p := task.Priority(1); p < task.NumPriorities; p++ {
		for _, tid := range s.queues[p].snapshot() {
			t := s.threadLocked(tid)
			if t == nil || now-t.ReadySince < s.config.AgingThreshold {
				continue
			}
			s.queues[p].remove(tid)
			t.Priority = t.Priority.Promoted()
			t.ReadySince = now
			s.queues[t.Priority].push(tid)
		}
	}
}

func (s *Service) sampleLoadLocked(running bool) {
	runnable := 0
	for p := range s.queues {
		runnable += s.queues[p].len()
	}
	if running {
		runnable++
	}
	s.loadAvg = s.loadAvg*loadDecay + float64(runnable)*(1-loadDecay)
}

// maybePreemptLocked parks the running thread when a strictly higher level
// has work; otherwise it keeps the CPU.
func (s *Service) maybePreemptLocked() {
	cur := s.threadLocked(s.current)
	if cur == nil || cur.GetState() != task.StateRunning {
		s.repickLocked()
		return
	}
	limit := cur.Priority
	if s.current == s.idle {
		limit = task.NumPriorities
	}
	for p := task.Priority(0); p < limit; p++ {
		if s.queues[p].len() > 0 {
			s.preempts++
			s.parkCurrentLocked(s.clk.Ticks())
			s.repickLocked()
			return
		}
	}
}

// parkCurrentLocked returns the running thread to ready at the tail of its
// level. The idle thread is never enqueued.
func (s *Service) parkCurrentLocked(now clock.Ticks) {
	cur := s.threadLocked(s.current)
	if cur == nil {
		return
	}
	cur.SetState(task.StateReady)
	if s.current != s.idle {
		cur.ReadySince = now
		s.queues[cur.Priority].push(s.current)
	}
}

// repickLocked switches to the head of the highest non-empty queue, or to
// the idle thread when every queue is empty. The outgoing thread must
// already be parked, blocked, sleeping or zombie.
func (s *Service) repickLocked() {
	next := task.NoTID
	for p := range s.queues {
		for {
			tid, ok := s.queues[p].pop()
			if !ok {
				break
			}
			// A queued TID whose registry entry is gone is dropped, the
			// same way wakeOneLocked tolerates it.
			if s.threadLocked(tid) != nil {
				next = tid
				break
			}
		}
		if next != task.NoTID {
			break
		}
	}
	if next == task.NoTID {
		next = s.idle
		if next == task.NoTID {
			s.current = task.NoTID
			s.switcher.Halt()
			return
		}
		// The idle body halts the CPU until the next interrupt.
		s.switcher.Halt()
	}
	s.switchToLocked(next)
}

func (s *Service) switchToLocked(next task.TID) {
	if next == s.current {
		return
	}
	out := s.threadLocked(s.current)
	in := s.threadLocked(next)

	in.SetState(task.StateRunning)
	in.Switches++
	in.Slice = in.Priority.Slice()
	// An aging boost lasts until the thread actually runs.
	in.Priority = in.Base

	outCtx := &s.bootContext
	outPID := task.NoPID
	if out != nil {
		outCtx = &out.Context
		outPID = out.Process
	}
	if in.Process != outPID {
		if proc, err := s.registry.Process(in.Process); err == nil {
			s.switcher.SwitchAddressSpace(proc.Space.ID)
		}
	}
	s.switcher.Swap(outCtx, &in.Context)
	s.current = next
}

func (s *Service) makeReadyLocked(t *task.Thread, now clock.Ticks) {
	t.SetState(task.StateReady)
	t.WaitingOn = ""
	t.ReadySince = now
	s.queues[t.Priority].push(t.ID)
}

// detachLocked removes a thread from whichever ready or wait queue holds
// it. Sleeping threads are in no queue.
func (s *Service) detachLocked(t *task.Thread) {
	switch t.GetState() {
	case task.StateReady:
		s.queues[t.Priority].remove(t.ID)
	case task.StateBlocked:
		if wq := s.waiting[t.WaitingOn]; wq != nil {
			wq.remove(t.ID)
		}
		t.WaitingOn = ""
	}
}

func (s *Service) threadLocked(tid task.TID) *task.Thread {
	if tid == task.NoTID {
		return nil
	}
	t, err := s.registry.Thread(tid)
	if err != nil {
		return nil
	}
	return t
}
