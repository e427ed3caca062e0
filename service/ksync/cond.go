package ksync

import (
	"fmt"

	"github.com/nucleos/nucleos/runtime/task"
)

// CreateCond allocates a condition variable.
func (s *Service) CreateCond(name string) CondID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextCond
	s.nextCond++
	if name == "" {
		name = fmt.Sprintf("cond-%d", id)
	}
	s.conds[id] = &cond{
		name:    name,
		wq:      s.sched.NewWaitQueue(name),
		mutexOf: map[task.TID]MutexID{},
	}
	return id
}

// DestroyCond drops a condition variable with no waiters.
func (s *Service) DestroyCond(id CondID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conds[id]
	if c == nil {
		return fmt.Errorf("cond %d: %w", id, ErrNotFound)
	}
	if err := s.sched.DropWaitQueue(c.wq); err != nil {
		return fmt.Errorf("cond %d: %w", id, ErrBusy)
	}
	delete(s.conds, id)
	return nil
}

// CondWait releases the mutex and blocks the running thread on the condition.
// The release and the block are two separate steps, not one atomic
// operation; a signal arriving between them is lost (known limitation).
// When the waiter resumes it holds the mutex again, re-acquired on its
// behalf by the signalling side.
func (s *Service) CondWait(id CondID, mid MutexID) error {
	caller, err := s.currentThread()
	if err != nil {
		return err
	}

	s.mu.Lock()
	c := s.conds[id]
	if c == nil {
		s.mu.Unlock()
		return fmt.Errorf("cond %d: %w", id, ErrNotFound)
	}
	if s.mutexes[mid] == nil {
		s.mu.Unlock()
		return fmt.Errorf("mutex %d: %w", mid, ErrNotFound)
	}
	c.mutexOf[caller] = mid
	wq := c.wq
	s.mu.Unlock()

	// Step one: give the mutex up.
	if err := s.Unlock(mid); err != nil {
		s.mu.Lock()
		delete(c.mutexOf, caller)
		s.mu.Unlock()
		return err
	}
	// Step two: block on the condition.
	if _, err := s.sched.Block(wq); err != nil {
		return err
	}
	return nil
}

// CondSignal wakes the front waiter. The waiter's mutex is re-acquired on
// its behalf: a free mutex is taken immediately and the waiter readied, a
// held one has the waiter requeued onto the mutex's wait queue so it
// resumes only once ownership reaches it.
func (s *Service) CondSignal(id CondID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conds[id]
	if c == nil {
		return fmt.Errorf("cond %d: %w", id, ErrNotFound)
	}
	s.signalLocked(c)
	return nil
}

// CondBroadcast wakes every waiter, each re-acquiring its mutex in turn.
func (s *Service) CondBroadcast(id CondID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conds[id]
	if c == nil {
		return 0, fmt.Errorf("cond %d: %w", id, ErrNotFound)
	}
	n := 0
	for s.signalLocked(c) {
		n++
	}
	return n, nil
}

func (s *Service) signalLocked(c *cond) bool {
	tid, ok := s.sched.QueuePeek(c.wq)
	if !ok {
		return false
	}
	mid := c.mutexOf[tid]
	delete(c.mutexOf, tid)
	m := s.mutexes[mid]
	if m == nil || m.owner == task.NoTID {
		if woken, ok := s.sched.Wake(c.wq); ok && m != nil {
			m.owner = woken
		}
		return true
	}
	s.sched.Transfer(c.wq, m.wq)
	return true
}
