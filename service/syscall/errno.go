package syscall

import (
	"errors"

	"github.com/nucleos/nucleos/service/heap"
	"github.com/nucleos/nucleos/service/ksync"
	"github.com/nucleos/nucleos/service/lifecycle"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
)

// Errno is the platform error code a trap returns to user mode.
type Errno int

const (
	OK     Errno = 0
	EPERM  Errno = 1
	ESRCH  Errno = 3
	ECHILD Errno = 10
	EAGAIN Errno = 11
	ENOMEM Errno = 12
	EFAULT Errno = 14
	EBUSY  Errno = 16
	EINVAL Errno = 22
)

// String returns the conventional errno mnemonic.
func (e Errno) String() string {
	switch e {
	case OK:
		return "OK"
	case EPERM:
		return "EPERM"
	case ESRCH:
		return "ESRCH"
	case ECHILD:
		return "ECHILD"
	case EAGAIN:
		return "EAGAIN"
	case ENOMEM:
		return "ENOMEM"
	case EFAULT:
		return "EFAULT"
	case EBUSY:
		return "EBUSY"
	case EINVAL:
		return "EINVAL"
	}
	return "E?"
}

// toErrno folds a typed core error into its platform code.
func toErrno(err error) Errno {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, pagealloc.ErrOutOfMemory),
		errors.Is(err, heap.ErrOutOfMemory),
		errors.Is(err, registry.ErrNoSlots):
		return ENOMEM
	case errors.Is(err, registry.ErrThreadLimit):
		return EAGAIN
	case errors.Is(err, pagealloc.ErrBadAddress),
		errors.Is(err, heap.ErrBadPointer),
		errors.Is(err, heap.ErrCorrupted):
		return EFAULT
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, scheduler.ErrNotFound),
		errors.Is(err, ksync.ErrNotFound),
		errors.Is(err, lifecycle.ErrExited):
		return ESRCH
	case errors.Is(err, lifecycle.ErrPermission),
		errors.Is(err, ksync.ErrNotOwner):
		return EPERM
	case errors.Is(err, ksync.ErrBusy),
		errors.Is(err, scheduler.ErrQueueBusy),
		errors.Is(err, registry.ErrHasThreads),
		errors.Is(err, registry.ErrThreadActive),
		errors.Is(err, pagealloc.ErrDoubleFree),
		errors.Is(err, heap.ErrDoubleFree):
		return EBUSY
	case errors.Is(err, lifecycle.ErrNoChild):
		return ECHILD
	}
	return EINVAL
}
