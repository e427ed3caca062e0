package lifecycle

import (
	"context"
	"fmt"

	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/tracing"
)

// Exit terminates the process: every thread is stopped (blocked and
// sleeping threads are force-unblocked as part of teardown), stacks and the
// address space are released, children are reparented to the kernel
// process, SIGCHLD is posted to the parent and any thread waiting on this
// process's exit is woken. The table slot stays occupied, holding the exit
// code, until the parent reaps it.
func (s *Service) Exit(ctx context.Context, pid task.PID, code int) error {
	_, span := tracing.StartSpan(ctx, "lifecycle.exit", "INTERNAL")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	proc, err := s.registry.Process(pid)
	if err != nil {
		return err
	}
	if proc.GetState() == task.ProcStateZombie {
		err = fmt.Errorf("process %d: %w", pid, ErrExited)
		return err
	}

	proc.ExitCode = code
	proc.SetState(task.ProcStateZombie)

	selfExit := false
	current := s.sched.Current()
	for _, tid := range proc.ThreadIDs() {
		if tid == current {
			// The calling thread goes last so teardown completes on
			// its own stack.
			selfExit = true
			continue
		}
		_ = s.sched.Retire(tid)
		_ = s.registry.DestroyThread(tid)
	}

	s.freeSpace(proc.Space)
	s.reparentChildren(proc)

	if parent, perr := s.registry.Process(proc.Parent); perr == nil {
		s.postSignal(parent, task.SIGCHLD)
		s.sched.WakeAll(s.waitQueue(parent.ID))
	}

	if selfExit {
		if _, eerr := s.sched.Exit(); eerr == nil {
			_ = s.registry.DestroyThread(current)
		}
	}
	return nil
}

// Wait collects one exited child. When pid is NoPID any child qualifies,
// otherwise only the named one. A zombie child is reaped on the spot: its
// exit code is returned, its threads are already gone and its table slot is
// freed. With live children but no zombie, the calling thread blocks on the
// parent's wait queue and reaped reports false; the caller re-invokes Wait
// after it is woken by a child's exit.
func (s *Service) Wait(ctx context.Context, parent, pid task.PID) (reapedPID task.PID, exitCode int, reaped bool, err error) {
	_, span := tracing.StartSpan(ctx, "lifecycle.wait", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	parentProc, err := s.registry.Process(parent)
	if err != nil {
		return task.NoPID, 0, false, err
	}

	children := parentProc.ChildIDs()
	if pid != task.NoPID && !parentProc.HasChild(pid) {
		err = fmt.Errorf("process %d child %d: %w", parent, pid, ErrNoChild)
		return task.NoPID, 0, false, err
	}
	if len(children) == 0 {
		err = fmt.Errorf("process %d: %w", parent, ErrNoChild)
		return task.NoPID, 0, false, err
	}

	for _, cid := range children {
		if pid != task.NoPID && cid != pid {
			continue
		}
		child, cerr := s.registry.Process(cid)
		if cerr != nil {
			continue
		}
		if child.GetState() != task.ProcStateZombie {
			continue
		}
		code := child.ExitCode
		if err = s.reap(parentProc, child); err != nil {
			return task.NoPID, 0, false, err
		}
		return cid, code, true, nil
	}

	// No zombie yet: suspend until a child exits.
	if _, err = s.sched.Block(s.waitQueue(parent)); err != nil {
		return task.NoPID, 0, false, err
	}
	return task.NoPID, 0, false, nil
}

// reap frees a zombie child's table slot and the parent's link to it.
func (s *Service) reap(parent, child *task.Process) error {
	for _, tid := range child.ThreadIDs() {
		_ = s.sched.Retire(tid)
		_ = s.registry.DestroyThread(tid)
	}
	if err := s.registry.DestroyProcess(child.ID); err != nil {
		return err
	}
	parent.RemoveChild(child.ID)

	s.mu.Lock()
	wq := s.waiters[child.ID]
	delete(s.waiters, child.ID)
	s.mu.Unlock()
	if wq != nil {
		_ = s.sched.DropWaitQueue(wq)
	}
	return nil
}

// reparentChildren hands the exiting process's children to the kernel
// process (PID 0) so they remain reapable.
func (s *Service) reparentChildren(proc *task.Process) {
	children := proc.ChildIDs()
	if len(children) == 0 || proc.ID == 0 {
		return
	}
	kernel, err := s.registry.Process(0)
	if err != nil {
		return
	}
	for _, cid := range children {
		child, cerr := s.registry.Process(cid)
		if cerr != nil {
			continue
		}
		child.Parent = kernel.ID
		kernel.AddChild(cid)
		proc.RemoveChild(cid)
	}
}
