package lifecycle

import (
	"context"
	"fmt"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/runtime/task"
	"github.com/nucleos/nucleos/tracing"
)

// PermissionChecker decides whether one process may signal another. The
// policy lives outside the core; the lifecycle manager only delegates.
type PermissionChecker interface {
	CanSignal(from, to *task.Process, sig task.Signal) bool
}

// UnixPermissions is the conventional rule set: root and kernel-privilege
// processes signal anyone, everyone else only their own UID.
type UnixPermissions struct{}

// CanSignal implements PermissionChecker.
func (UnixPermissions) CanSignal(from, to *task.Process, _ task.Signal) bool {
	if from.UID == 0 || from.Priv == arch.PrivKernel {
		return true
	}
	return from.UID == to.UID
}

// Delivery is one drained signal and what was decided for it.
type Delivery struct {
	Sig         task.Signal
	Disposition task.Disposition
	Handler     uint64
	Terminated  bool
}

// SendSignal posts sig to the target as a pending bit. A signal whose
// disposition is ignore, or that sits in the target's blocked mask, is
// dropped outright rather than latched. The permission check is delegated;
// a refusal has no side effects.
func (s *Service) SendSignal(ctx context.Context, from, to task.PID, sig task.Signal) error {
	_, span := tracing.StartSpan(ctx, "lifecycle.signal", "INTERNAL")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if !sig.Valid() {
		err = fmt.Errorf("signal %d: %w", sig, ErrBadSignal)
		return err
	}
	fromProc, err := s.registry.Process(from)
	if err != nil {
		return err
	}
	toProc, err := s.registry.Process(to)
	if err != nil {
		return err
	}
	if toProc.GetState() == task.ProcStateZombie {
		err = fmt.Errorf("process %d: %w", to, ErrExited)
		return err
	}
	if !s.perm.CanSignal(fromProc, toProc, sig) {
		err = fmt.Errorf("signal %d from %d to %d: %w", sig, from, to, ErrPermission)
		return err
	}
	s.postSignal(toProc, sig)
	return nil
}

func (s *Service) postSignal(proc *task.Process, sig task.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if proc.Signals.Blocked.Has(sig) {
		return
	}
	if proc.Signals.Actions[sig].Disposition == task.DispositionIgnore {
		return
	}
	proc.Signals.Pending.Add(sig)
}

// DrainSignals is the check-point delivery pass: every pending, unblocked
// signal is consumed in ascending order. A handler disposition yields a
// Delivery carrying the handler entry point for the trap layer to invoke; a
// default disposition either terminates the process (exit code 128+sig) or
// is dropped for the default-ignore signals. Draining stops once a signal
// terminates the process.
func (s *Service) DrainSignals(ctx context.Context, pid task.PID) ([]Delivery, error) {
	proc, err := s.registry.Process(pid)
	if err != nil {
		return nil, err
	}

	var deliveries []Delivery
	for sig := task.Signal(1); sig < task.NumSignals; sig++ {
		s.mu.Lock()
		if !proc.Signals.Pending.Has(sig) || proc.Signals.Blocked.Has(sig) {
			s.mu.Unlock()
			continue
		}
		proc.Signals.Pending.Del(sig)
		action := proc.Signals.Actions[sig]
		s.mu.Unlock()

		switch action.Disposition {
		case task.DispositionIgnore:
			continue
		case task.DispositionHandler:
			deliveries = append(deliveries, Delivery{
				Sig:         sig,
				Disposition: task.DispositionHandler,
				Handler:     action.Handler,
			})
		default:
			if !task.DefaultTerminates(sig) {
				continue
			}
			deliveries = append(deliveries, Delivery{
				Sig:         sig,
				Disposition: task.DispositionDefault,
				Terminated:  true,
			})
			return deliveries, s.Exit(ctx, pid, 128+int(sig))
		}
	}
	return deliveries, nil
}

// SetSignalAction installs a handler or disposition for sig. SIGKILL keeps
// its default action.
func (s *Service) SetSignalAction(pid task.PID, sig task.Signal, action task.SigAction) error {
	if !sig.Valid() {
		return fmt.Errorf("signal %d: %w", sig, ErrBadSignal)
	}
	if sig == task.SIGKILL {
		return fmt.Errorf("signal %d: %w", sig, ErrBadSignal)
	}
	proc, err := s.registry.Process(pid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	proc.Signals.Actions[sig] = action
	return nil
}

// SetSignalMask replaces the blocked mask. SIGKILL cannot be blocked.
func (s *Service) SetSignalMask(pid task.PID, mask task.SigSet) error {
	proc, err := s.registry.Process(pid)
	if err != nil {
		return err
	}
	mask.Del(task.SIGKILL)
	s.mu.Lock()
	defer s.mu.Unlock()
	proc.Signals.Blocked = mask
	return nil
}
