package ksync

import (
	"fmt"
	"log"

	"github.com/nucleos/nucleos/runtime/task"
)

// CreateMutex allocates an unlocked mutex and returns its ID.
func (s *Service) CreateMutex(name string) MutexID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextMutex
	s.nextMutex++
	if name == "" {
		name = fmt.Sprintf("mutex-%d", id)
	}
	s.mutexes[id] = &mutex{
		name:  name,
		owner: task.NoTID,
		wq:    s.sched.NewWaitQueue(name),
	}
	return id
}

// DestroyMutex drops an unheld mutex with no waiters.
func (s *Service) DestroyMutex(id MutexID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mutexes[id]
	if m == nil {
		return fmt.Errorf("mutex %d: %w", id, ErrNotFound)
	}
	if m.owner != task.NoTID {
		log.Printf("[ksync] destroy refused: mutex %q held by thread %d", m.name, m.owner)
		return fmt.Errorf("mutex %d: %w", id, ErrBusy)
	}
	if err := s.sched.DropWaitQueue(m.wq); err != nil {
		return fmt.Errorf("mutex %d: %w", id, ErrBusy)
	}
	delete(s.mutexes, id)
	return nil
}

// Lock acquires the mutex for the running thread. It reports true when the
// mutex was taken immediately and false when the caller was enqueued and
// blocked; a blocked caller owns the mutex by the time it runs again, since
// unlock hands ownership directly to the front waiter.
func (s *Service) Lock(id MutexID) (bool, error) {
	caller, err := s.currentThread()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	m := s.mutexes[id]
	if m == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("mutex %d: %w", id, ErrNotFound)
	}
	if m.owner == caller {
		s.mu.Unlock()
		log.Printf("[ksync] relock refused: mutex %q already held by thread %d", m.name, caller)
		return false, fmt.Errorf("mutex %d: %w", id, ErrDeadlock)
	}
	if m.owner == task.NoTID {
		m.owner = caller
		s.mu.Unlock()
		return true, nil
	}
	wq := m.wq
	s.mu.Unlock()

	if _, err := s.sched.Block(wq); err != nil {
		return false, err
	}
	return false, nil
}

// Unlock releases the mutex. Only the owner may unlock; with waiters
// present, ownership passes to the front waiter and it is made ready.
func (s *Service) Unlock(id MutexID) error {
	caller, err := s.currentThread()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mutexes[id]
	if m == nil {
		return fmt.Errorf("mutex %d: %w", id, ErrNotFound)
	}
	if m.owner != caller {
		log.Printf("[ksync] unlock refused: mutex %q owned by thread %d, caller %d", m.name, m.owner, caller)
		return fmt.Errorf("mutex %d: %w", id, ErrNotOwner)
	}
	if tid, ok := s.sched.Wake(m.wq); ok {
		m.owner = tid
		return nil
	}
	m.owner = task.NoTID
	return nil
}

// MutexOwner returns the holding thread, or NoTID when unlocked.
func (s *Service) MutexOwner(id MutexID) (task.TID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mutexes[id]
	if m == nil {
		return task.NoTID, fmt.Errorf("mutex %d: %w", id, ErrNotFound)
	}
	return m.owner, nil
}
