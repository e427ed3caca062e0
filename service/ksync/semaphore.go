package ksync

import (
	"fmt"
)

// CreateSemaphore allocates a counting semaphore with the initial count.
func (s *Service) CreateSemaphore(name string, count int) (SemID, error) {
	if count < 0 {
		return 0, fmt.Errorf("ksync: negative initial count %d", count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSem
	s.nextSem++
	if name == "" {
		name = fmt.Sprintf("sem-%d", id)
	}
	s.sems[id] = &semaphore{
		name:  name,
		count: count,
		wq:    s.sched.NewWaitQueue(name),
	}
	return id, nil
}

// DestroySemaphore drops a semaphore with no waiters.
func (s *Service) DestroySemaphore(id SemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem := s.sems[id]
	if sem == nil {
		return fmt.Errorf("semaphore %d: %w", id, ErrNotFound)
	}
	if err := s.sched.DropWaitQueue(sem.wq); err != nil {
		return fmt.Errorf("semaphore %d: %w", id, ErrBusy)
	}
	delete(s.sems, id)
	return nil
}

// Wait decrements the count, blocking the running thread while it is zero.
// Reports true when the decrement happened immediately and false when the
// caller blocked; signal decrements on the waiter's behalf, so a woken
// thread does not retry.
func (s *Service) Wait(id SemID) (bool, error) {
	if _, err := s.currentThread(); err != nil {
		return false, err
	}

	s.mu.Lock()
	sem := s.sems[id]
	if sem == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("semaphore %d: %w", id, ErrNotFound)
	}
	if sem.count > 0 {
		sem.count--
		s.mu.Unlock()
		return true, nil
	}
	wq := sem.wq
	s.mu.Unlock()

	if _, err := s.sched.Block(wq); err != nil {
		return false, err
	}
	return false, nil
}

// Signal increments the count or, with waiters present, hands the unit
// straight to the front waiter and wakes it.
func (s *Service) Signal(id SemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem := s.sems[id]
	if sem == nil {
		return fmt.Errorf("semaphore %d: %w", id, ErrNotFound)
	}
	if _, ok := s.sched.Wake(sem.wq); ok {
		return nil
	}
	sem.count++
	return nil
}

// SemCount returns the current count.
func (s *Service) SemCount(id SemID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem := s.sems[id]
	if sem == nil {
		return 0, fmt.Errorf("semaphore %d: %w", id, ErrNotFound)
	}
	return sem.count, nil
}
