package ksync

import (
	"sync"

	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/scheduler"
)

// MutexID names a mutex table entry.
type MutexID int32

// SemID names a semaphore table entry.
type SemID int32

// CondID names a condition-variable table entry.
type CondID int32

type mutex struct {
	name  string
	owner task.TID
	wq    *scheduler.WaitQueue
}

type semaphore struct {
	name  string
	count int
	wq    *scheduler.WaitQueue
}

type cond struct {
	name string
	wq   *scheduler.WaitQueue

	// mutexOf records, per blocked waiter, the mutex Wait released and
	// must re-acquire before the waiter resumes.
	mutexOf map[task.TID]MutexID
}

// Service owns the primitive tables. All operations that suspend or resume
// threads go through the scheduler; the tables themselves are guarded by a
// host-level lock since primitive bookkeeping never blocks.
type Service struct {
	sched *scheduler.Service

	mutexes map[MutexID]*mutex
	sems    map[SemID]*semaphore
	conds   map[CondID]*cond

	nextMutex MutexID
	nextSem   SemID
	nextCond  CondID

	mu sync.Mutex
}

// New creates empty primitive tables over the scheduler.
func New(sched *scheduler.Service) *Service {
	return &Service{
		sched:   sched,
		mutexes: map[MutexID]*mutex{},
		sems:    map[SemID]*semaphore{},
		conds:   map[CondID]*cond{},
	}
}

func (s *Service) currentThread() (task.TID, error) {
	tid := s.sched.Current()
	if tid == task.NoTID {
		return task.NoTID, ErrNoCurrent
	}
	return tid, nil
}
