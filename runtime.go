package nucleos

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nucleos/nucleos/model/image"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/tracing"
)

// idleEntry is the instruction pointer of the idle loop in the kernel
// image. It only needs to be a stable non-zero address.
const idleEntry uint64 = 0xfffffff0

// Runtime boots the kernel core and drives the simulated timer interrupt.
type Runtime struct {
	service *Service

	kernel task.PID
	idle   task.TID

	shutdown chan struct{}
	done     chan struct{}
	booted   bool
	started  bool
	mu       sync.Mutex
}

// Boot builds the minimal process set every later operation assumes: the
// kernel process (PID 0, kernel privilege) and its idle thread, registered
// with the scheduler as the always-selectable fallback. Boot is mandatory
// and runs once.
func (r *Runtime) Boot(ctx context.Context) error {
	_, span := tracing.StartSpan(ctx, "nucleos.boot", "INTERNAL")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.booted {
		return nil
	}

	kernel, err := r.service.tables.CreateProcess("kernel", task.NoPID, 0, 0, task.Limits{})
	if err != nil {
		return fmt.Errorf("boot: kernel process: %w", err)
	}
	kernel.Space.Entry = idleEntry
	kernel.SetState(task.ProcStateActive)
	r.kernel = kernel.ID

	idle, err := r.service.tables.CreateThread(kernel.ID, "idle", idleEntry, 0, task.PriorityIdle)
	if err != nil {
		return fmt.Errorf("boot: idle thread: %w", err)
	}
	if err = r.service.sched.SetIdle(idle.ID); err != nil {
		return fmt.Errorf("boot: idle thread: %w", err)
	}
	r.idle = idle.ID

	r.booted = true
	log.Printf("[nucleos] booted: %d pages, heap %d pages, tick %v",
		r.service.config.Memory.TotalPages, r.service.config.HeapPages, r.service.config.TickInterval)
	return nil
}

// StartProgram creates a process under the kernel, installs the image and
// admits its main thread at the image entry point. Boot programs and tests
// enter the system through here.
func (r *Runtime) StartProgram(ctx context.Context, img *image.Image, prio task.Priority) (task.PID, error) {
	r.mu.Lock()
	booted := r.booted
	r.mu.Unlock()
	if !booted {
		return task.NoPID, fmt.Errorf("start %s: runtime not booted", img.Name)
	}

	proc, err := r.service.tables.CreateProcess(img.Name, r.kernel, 0, 0, task.Limits{})
	if err != nil {
		return task.NoPID, err
	}
	if err = r.service.life.Exec(ctx, proc.ID, img); err != nil {
		_ = r.service.tables.DestroyProcess(proc.ID)
		return task.NoPID, err
	}

	thread, err := r.service.tables.CreateThread(proc.ID, img.Name, proc.Space.Entry, 0, prio)
	if err != nil {
		_ = r.service.tables.DestroyProcess(proc.ID)
		return task.NoPID, err
	}
	if err = r.service.sched.Admit(thread.ID); err != nil {
		_ = r.service.tables.DestroyThread(thread.ID)
		_ = r.service.tables.DestroyProcess(proc.ID)
		return task.NoPID, err
	}
	proc.SetState(task.ProcStateActive)
	return proc.ID, nil
}

// StartBoot loads a boot specification and starts every program it names.
func (r *Runtime) StartBoot(ctx context.Context, URL string) ([]task.PID, error) {
	boot, err := r.service.loader.Load(ctx, URL)
	if err != nil {
		return nil, err
	}
	var pids []task.PID
	for i := range boot.Programs {
		pid, perr := r.StartProgram(ctx, &boot.Programs[i], task.PriorityNormal)
		if perr != nil {
			return pids, perr
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Start launches the timer-interrupt loop: a ticker invoking one scheduler
// tick per period until the context is cancelled or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if !r.booted {
		r.mu.Unlock()
		return fmt.Errorf("runtime not booted")
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.interruptLoop(ctx, r.service.config.TickInterval)
	return nil
}

func (r *Runtime) interruptLoop(ctx context.Context, period time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.service.sched.Tick()
		}
	}
}

// Shutdown stops the timer-interrupt loop and waits for it to drain.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	close(r.shutdown)
	<-r.done
	r.started = false
	r.shutdown = make(chan struct{})
}

// Kernel returns the kernel process PID.
func (r *Runtime) Kernel() task.PID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kernel
}

// Idle returns the idle thread TID.
func (r *Runtime) Idle() task.TID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

// Service returns the composed kernel core.
func (r *Runtime) Service() *Service { return r.service }
