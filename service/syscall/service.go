package syscall

import (
	"context"
	"fmt"

	"github.com/nucleos/nucleos/internal/clock"
	"github.com/nucleos/nucleos/model/image"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/service/ksync"
	"github.com/nucleos/nucleos/service/lifecycle"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
	"github.com/nucleos/nucleos/tracing"
)

// Authorizer is the delegated per-trap permission check. Op names match the
// dispatch entry points ("fork", "kill", ...).
type Authorizer interface {
	Allow(caller *task.Process, op string) bool
}

// AllowAll grants every operation; signal-specific checks still run inside
// the lifecycle manager.
type AllowAll struct{}

// Allow implements Authorizer.
func (AllowAll) Allow(*task.Process, string) bool { return true }

// Result carries a trap's return value and errno.
type Result struct {
	Value uint64
	Errno Errno
}

func errResult(err error) Result { return Result{Errno: toErrno(err)} }

// Service is the dispatch table over the core services.
type Service struct {
	registry *registry.Service
	sched    *scheduler.Service
	sync     *ksync.Service
	life     *lifecycle.Service
	auth     Authorizer
}

// New wires the dispatch layer. A nil authorizer allows everything.
func New(reg *registry.Service, sched *scheduler.Service, sync *ksync.Service, life *lifecycle.Service, auth Authorizer) *Service {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Service{registry: reg, sched: sched, sync: sync, life: life, auth: auth}
}

// caller resolves the running thread to its process and runs the delegated
// permission check for op.
func (s *Service) caller(op string) (*task.Process, Errno) {
	tid := s.sched.Current()
	if tid == task.NoTID {
		return nil, ESRCH
	}
	thread, err := s.registry.Thread(tid)
	if err != nil {
		return nil, ESRCH
	}
	proc, err := s.registry.Process(thread.Process)
	if err != nil {
		return nil, ESRCH
	}
	if !s.auth.Allow(proc, op) {
		return nil, EPERM
	}
	return proc, OK
}

// Fork duplicates the calling process; the child PID is the return value.
func (s *Service) Fork(ctx context.Context) Result {
	ctx, span := tracing.StartSpan(ctx, "syscall.fork", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("fork")
	if errno != OK {
		return Result{Errno: errno}
	}
	child, err := s.life.Fork(ctx, proc.ID)
	if err != nil {
		return errResult(err)
	}
	return Result{Value: uint64(child)}
}

// Exec replaces the calling process's image.
func (s *Service) Exec(ctx context.Context, img *image.Image) Result {
	ctx, span := tracing.StartSpan(ctx, "syscall.exec", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("exec")
	if errno != OK {
		return Result{Errno: errno}
	}
	if img == nil {
		return Result{Errno: EFAULT}
	}
	if err := s.life.Exec(ctx, proc.ID, img); err != nil {
		return errResult(err)
	}
	return Result{}
}

// Exit terminates the calling process with the given code. On success the
// calling thread does not run again.
func (s *Service) Exit(ctx context.Context, code int) Result {
	ctx, span := tracing.StartSpan(ctx, "syscall.exit", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("exit")
	if errno != OK {
		return Result{Errno: errno}
	}
	if err := s.life.Exit(ctx, proc.ID, code); err != nil {
		return errResult(err)
	}
	return Result{}
}

// Wait reaps an exited child. The return value packs the child PID in the
// high half and the exit code in the low half; a blocked caller re-enters
// the trap after wakeup and Errno is EAGAIN for that round.
func (s *Service) Wait(ctx context.Context, pid task.PID) Result {
	ctx, span := tracing.StartSpan(ctx, "syscall.wait", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("wait")
	if errno != OK {
		return Result{Errno: errno}
	}
	child, code, reaped, err := s.life.Wait(ctx, proc.ID, pid)
	if err != nil {
		return errResult(err)
	}
	if !reaped {
		return Result{Errno: EAGAIN}
	}
	return Result{Value: uint64(child)<<32 | uint64(uint32(code))}
}

// Kill posts a signal to the target process.
func (s *Service) Kill(ctx context.Context, pid task.PID, sig task.Signal) Result {
	ctx, span := tracing.StartSpan(ctx, "syscall.kill", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("kill")
	if errno != OK {
		return Result{Errno: errno}
	}
	if err := s.life.SendSignal(ctx, proc.ID, pid, sig); err != nil {
		return errResult(err)
	}
	return Result{}
}

// SpawnThread creates and admits a new thread in the calling process.
func (s *Service) SpawnThread(ctx context.Context, name string, entry, arg uint64, prio task.Priority) Result {
	_, span := tracing.StartSpan(ctx, "syscall.spawn", "SERVER")
	defer tracing.EndSpan(span, nil)

	proc, errno := s.caller("spawn")
	if errno != OK {
		return Result{Errno: errno}
	}
	thread, err := s.registry.CreateThread(proc.ID, name, entry, arg, prio)
	if err != nil {
		return errResult(err)
	}
	if err := s.sched.Admit(thread.ID); err != nil {
		return errResult(err)
	}
	return Result{Value: uint64(thread.ID)}
}

// Yield gives the CPU up voluntarily.
func (s *Service) Yield(ctx context.Context) Result {
	if _, errno := s.caller("yield"); errno != OK {
		return Result{Errno: errno}
	}
	if _, err := s.sched.Yield(); err != nil {
		return errResult(err)
	}
	return Result{}
}

// Sleep suspends the calling thread for the given tick count.
func (s *Service) Sleep(ctx context.Context, d clock.Ticks) Result {
	if _, errno := s.caller("sleep"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sched.Sleep(d); err != nil {
		return errResult(err)
	}
	return Result{}
}

// MutexCreate allocates a mutex for the calling process.
func (s *Service) MutexCreate(ctx context.Context, name string) Result {
	proc, errno := s.caller("mutex_create")
	if errno != OK {
		return Result{Errno: errno}
	}
	id := s.sync.CreateMutex(fmt.Sprintf("%s/%s", proc.Name, name))
	return Result{Value: uint64(id)}
}

// MutexLock acquires the mutex, blocking the caller while it is held.
func (s *Service) MutexLock(ctx context.Context, id ksync.MutexID) Result {
	if _, errno := s.caller("mutex_lock"); errno != OK {
		return Result{Errno: errno}
	}
	acquired, err := s.sync.Lock(id)
	if err != nil {
		return errResult(err)
	}
	if acquired {
		return Result{Value: 1}
	}
	return Result{}
}

// MutexUnlock releases the mutex; only the owner may.
func (s *Service) MutexUnlock(ctx context.Context, id ksync.MutexID) Result {
	if _, errno := s.caller("mutex_unlock"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sync.Unlock(id); err != nil {
		return errResult(err)
	}
	return Result{}
}

// MutexDestroy drops an unheld mutex.
func (s *Service) MutexDestroy(ctx context.Context, id ksync.MutexID) Result {
	if _, errno := s.caller("mutex_destroy"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sync.DestroyMutex(id); err != nil {
		return errResult(err)
	}
	return Result{}
}

// SemCreate allocates a counting semaphore.
func (s *Service) SemCreate(ctx context.Context, name string, count int) Result {
	proc, errno := s.caller("sem_create")
	if errno != OK {
		return Result{Errno: errno}
	}
	id, err := s.sync.CreateSemaphore(fmt.Sprintf("%s/%s", proc.Name, name), count)
	if err != nil {
		return errResult(err)
	}
	return Result{Value: uint64(id)}
}

// SemWait decrements the semaphore, blocking at zero.
func (s *Service) SemWait(ctx context.Context, id ksync.SemID) Result {
	if _, errno := s.caller("sem_wait"); errno != OK {
		return Result{Errno: errno}
	}
	acquired, err := s.sync.Wait(id)
	if err != nil {
		return errResult(err)
	}
	if acquired {
		return Result{Value: 1}
	}
	return Result{}
}

// SemSignal increments the semaphore or wakes one waiter.
func (s *Service) SemSignal(ctx context.Context, id ksync.SemID) Result {
	if _, errno := s.caller("sem_signal"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sync.Signal(id); err != nil {
		return errResult(err)
	}
	return Result{}
}

// CondCreate allocates a condition variable.
func (s *Service) CondCreate(ctx context.Context, name string) Result {
	proc, errno := s.caller("cond_create")
	if errno != OK {
		return Result{Errno: errno}
	}
	id := s.sync.CreateCond(fmt.Sprintf("%s/%s", proc.Name, name))
	return Result{Value: uint64(id)}
}

// CondWait releases the mutex and blocks on the condition.
func (s *Service) CondWait(ctx context.Context, id ksync.CondID, mid ksync.MutexID) Result {
	if _, errno := s.caller("cond_wait"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sync.CondWait(id, mid); err != nil {
		return errResult(err)
	}
	return Result{}
}

// CondSignal wakes one condition waiter.
func (s *Service) CondSignal(ctx context.Context, id ksync.CondID) Result {
	if _, errno := s.caller("cond_signal"); errno != OK {
		return Result{Errno: errno}
	}
	if err := s.sync.CondSignal(id); err != nil {
		return errResult(err)
	}
	return Result{}
}

// CondBroadcast wakes every condition waiter.
func (s *Service) CondBroadcast(ctx context.Context, id ksync.CondID) Result {
	if _, errno := s.caller("cond_broadcast"); errno != OK {
		return Result{Errno: errno}
	}
	if _, err := s.sync.CondBroadcast(id); err != nil {
		return errResult(err)
	}
	return Result{}
}
