package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/idgen"
	"github.com/nucleos/nucleos/model/image"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
	"github.com/nucleos/nucleos/tracing"
)

// Service is the process lifecycle manager.
type Service struct {
	registry *registry.Service
	sched    *scheduler.Service
	pages    *pagealloc.Service
	perm     PermissionChecker

	// waiters holds, per parent process, the queue its threads block on
	// while waiting for a child to exit.
	waiters map[task.PID]*scheduler.WaitQueue

	mu sync.Mutex
}

// New creates the lifecycle manager. A nil permission checker falls back to
// the conventional UID rules.
func New(reg *registry.Service, sched *scheduler.Service, pages *pagealloc.Service, perm PermissionChecker) *Service {
	if perm == nil {
		perm = UnixPermissions{}
	}
	return &Service{
		registry: reg,
		sched:    sched,
		pages:    pages,
		perm:     perm,
		waiters:  map[task.PID]*scheduler.WaitQueue{},
	}
}

// Fork duplicates the parent process: attributes, address space (eager
// copy), descriptor table and signal state. The child's main thread is a
// copy of the calling thread with a zeroed return register and a rebased
// stack, enqueued ready. Returns the child PID.
func (s *Service) Fork(ctx context.Context, parent task.PID) (task.PID, error) {
	_, span := tracing.StartSpan(ctx, "lifecycle.fork", "INTERNAL")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	parentProc, err := s.registry.Process(parent)
	if err != nil {
		return task.NoPID, err
	}
	if parentProc.GetState() == task.ProcStateZombie {
		err = fmt.Errorf("process %d: %w", parent, ErrExited)
		return task.NoPID, err
	}

	child, err := s.registry.CreateProcess(parentProc.Name, parent, parentProc.UID, parentProc.GID, parentProc.Limits)
	if err != nil {
		return task.NoPID, err
	}
	child.Priv = parentProc.Priv

	s.mu.Lock()
	child.Signals = parentProc.Signals.Clone()
	s.mu.Unlock()
	parentProc.CloneDescriptors(child)

	if child.Space, err = s.copySpace(parentProc.Space); err != nil {
		_ = s.registry.DestroyProcess(child.ID)
		return task.NoPID, fmt.Errorf("fork %d: %w", parent, err)
	}

	if err = s.forkMainThread(parentProc, child); err != nil {
		s.freeSpace(child.Space)
		_ = s.registry.DestroyProcess(child.ID)
		return task.NoPID, fmt.Errorf("fork %d: %w", parent, err)
	}

	child.SetState(task.ProcStateActive)
	return child.ID, nil
}

// Exec replaces the process image with an already-validated one: new
// segments are installed, the old space is released, signal handlers reset
// to default and every thread but the caller is terminated. The surviving
// thread restarts at the image entry point. No new process is created.
func (s *Service) Exec(ctx context.Context, pid task.PID, img *image.Image) error {
	_, span := tracing.StartSpan(ctx, "lifecycle.exec", "INTERNAL")
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
	if err = img.Validate(s.pages.PageSize()); err != nil {
		return err
	}
	if img.PageCount() > proc.Limits.MaxPages {
		err = fmt.Errorf("exec %s: image exceeds page limit %d", img.Name, proc.Limits.MaxPages)
		return err
	}

	space, err := s.installImage(img)
	if err != nil {
		return fmt.Errorf("exec %s: %w", img.Name, err)
	}

	caller := s.callerThread(proc)
	for _, tid := range proc.ThreadIDs() {
		if tid == caller {
			continue
		}
		if rerr := s.sched.Retire(tid); rerr != nil {
			continue
		}
		_ = s.registry.DestroyThread(tid)
	}

	old := proc.Space
	proc.Space = space
	proc.Name = img.Name
	if img.Privileged {
		proc.Priv = arch.PrivKernel
	} else {
		proc.Priv = arch.PrivUser
	}
	s.mu.Lock()
	proc.Signals.Reset()
	s.mu.Unlock()
	s.freeSpace(old)

	if caller != task.NoTID {
		if thread, terr := s.registry.Thread(caller); terr == nil {
			thread.Name = img.Name
			thread.Context = arch.NewContext(space.Entry, thread.Stack.Top(s.pages.PageSize()), 0, proc.Priv)
		}
	}
	return nil
}

// callerThread returns the running thread's TID when it belongs to proc.
func (s *Service) callerThread(proc *task.Process) task.TID {
	current := s.sched.Current()
	if current == task.NoTID {
		return task.NoTID
	}
	for _, tid := range proc.ThreadIDs() {
		if tid == current {
			return current
		}
	}
	return task.NoTID
}

// forkMainThread clones the calling thread into the child, or synthesizes a
// fresh main thread at the space entry point when fork is driven from
// outside any thread.
func (s *Service) forkMainThread(parent, child *task.Process) error {
	caller := s.callerThread(parent)

	entry := child.Space.Entry
	prio := task.PriorityNormal
	var src *task.Thread
	if caller != task.NoTID {
		t, err := s.registry.Thread(caller)
		if err == nil {
			src = t
			entry = t.Context.RIP
			prio = t.Base
		}
	}
	if entry == 0 {
		entry = child.Space.Entry
	}
	if entry == 0 {
		return fmt.Errorf("no entry point for child main thread")
	}

	thread, err := s.registry.CreateThread(child.ID, child.Name, entry, 0, prio)
	if err != nil {
		return err
	}

	if src != nil {
		s.cloneThreadState(src, thread)
	}
	return s.sched.Admit(thread.ID)
}

// cloneThreadState copies the caller's context and stack into the child's
// main thread. The return register is zeroed so the child observes fork
// returning zero; the stack pointer is rebased into the child's own stack.
func (s *Service) cloneThreadState(src, dst *task.Thread) {
	pageSize := s.pages.PageSize()
	srcTop := src.Stack.Top(pageSize)
	dstTop := dst.Stack.Top(pageSize)

	ctx := src.Context
	ctx.RAX = 0
	if ctx.RSP > src.Stack.Base && ctx.RSP <= srcTop {
		ctx.RSP = dstTop - (srcTop - ctx.RSP)
	} else {
		ctx.RSP = dst.Context.RSP
	}
	if ctx.RBP > src.Stack.Base && ctx.RBP <= srcTop {
		ctx.RBP = dstTop - (srcTop - ctx.RBP)
	}
	dst.Context = ctx

	srcBytes, err := s.pages.View(src.Stack.Base, src.Stack.Pages)
	if err != nil {
		return
	}
	dstBytes, err := s.pages.View(dst.Stack.Base, dst.Stack.Pages)
	if err != nil {
		return
	}
	copy(dstBytes, srcBytes)
}

// copySpace duplicates an address space page by page.
func (s *Service) copySpace(src *task.AddressSpace) (*task.AddressSpace, error) {
	dst := &task.AddressSpace{ID: idgen.New(), Entry: src.Entry}
	for _, page := range src.Pages {
		addr, err := s.pages.Alloc()
		if err != nil {
			s.freeSpace(dst)
			return nil, err
		}
		dst.Pages = append(dst.Pages, addr)

		from, verr := s.pages.View(page, 1)
		if verr != nil {
			continue
		}
		to, verr := s.pages.View(addr, 1)
		if verr != nil {
			continue
		}
		copy(to, from)
	}
	return dst, nil
}

// installImage allocates and populates the segments of a fresh space. The
// entry offset is resolved against the first segment's base.
func (s *Service) installImage(img *image.Image) (*task.AddressSpace, error) {
	space := &task.AddressSpace{ID: idgen.New()}
	for n, seg := range img.Segments {
		base, err := s.pages.AllocContiguous(seg.Pages)
		if err != nil {
			s.freeSpace(space)
			return nil, err
		}
		for p := 0; p < seg.Pages; p++ {
			space.Pages = append(space.Pages, base+uint64(p*s.pages.PageSize()))
		}
		if n == 0 {
			space.Entry = base + img.Entry
		}
		if len(seg.Data) > 0 {
			view, verr := s.pages.View(base, seg.Pages)
			if verr != nil {
				s.freeSpace(space)
				return nil, verr
			}
			copy(view, seg.Data)
		}
	}
	return space, nil
}

// freeSpace returns every page of a space to the allocator.
func (s *Service) freeSpace(space *task.AddressSpace) {
	if space == nil {
		return
	}
	for _, page := range space.Pages {
		_ = s.pages.Free(page)
	}
	space.Pages = nil
}

// waitQueue returns (creating on demand) the parent's child-exit queue.
func (s *Service) waitQueue(pid task.PID) *scheduler.WaitQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	wq := s.waiters[pid]
	if wq == nil {
		wq = s.sched.NewWaitQueue(fmt.Sprintf("wait-pid-%d", pid))
		s.waiters[pid] = wq
	}
	return wq
}
