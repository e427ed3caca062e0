package nucleos

import (
	"fmt"

	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/internal/clock"
	"github.com/nucleos/nucleos/service/bootimage"
	"github.com/nucleos/nucleos/service/heap"
	"github.com/nucleos/nucleos/service/ksync"
	"github.com/nucleos/nucleos/service/lifecycle"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
	"github.com/nucleos/nucleos/service/syscall"
)

// Service composes the kernel core: page allocator, heap, process/thread
// registry, scheduler, synchronization primitives, lifecycle manager and
// the trap dispatch layer, built in dependency order.
type Service struct {
	config   *Config
	switcher arch.Switcher
	perm     lifecycle.PermissionChecker
	auth     syscall.Authorizer

	ticks  *clock.Source
	pages  *pagealloc.Service
	heap   *heap.Service
	tables *registry.Service
	sched  *scheduler.Service
	sync   *ksync.Service
	life   *lifecycle.Service
	traps  *syscall.Service
	loader *bootimage.Service
}

// New builds the kernel core. All tables start empty; nothing persists
// across instances.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:   DefaultConfig(),
		switcher: &arch.SimSwitcher{},
		ticks:    &clock.Source{},
	}
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("nucleos: %w", err)
	}

	s.pages = pagealloc.New(s.config.Memory)

	var err error
	if s.heap, err = heap.New(s.pages, heap.Config{ArenaPages: s.config.HeapPages}); err != nil {
		return nil, fmt.Errorf("nucleos: heap: %w", err)
	}

	s.tables = registry.New(s.pages, s.config.Registry)

	if s.sched, err = scheduler.New(s.tables, s.switcher, s.ticks, s.config.Scheduler); err != nil {
		return nil, fmt.Errorf("nucleos: scheduler: %w", err)
	}

	s.sync = ksync.New(s.sched)
	s.life = lifecycle.New(s.tables, s.sched, s.pages, s.perm)
	s.traps = syscall.New(s.tables, s.sched, s.sync, s.life, s.auth)
	s.loader = bootimage.New(s.pages.PageSize())
	return s, nil
}

// Pages returns the physical page allocator.
func (s *Service) Pages() *pagealloc.Service { return s.pages }

// Heap returns the kernel heap allocator.
func (s *Service) Heap() *heap.Service { return s.heap }

// Registry returns the process/thread tables.
func (s *Service) Registry() *registry.Service { return s.tables }

// Scheduler returns the dispatcher.
func (s *Service) Scheduler() *scheduler.Service { return s.sched }

// Sync returns the synchronization primitive tables.
func (s *Service) Sync() *ksync.Service { return s.sync }

// Lifecycle returns the process lifecycle manager.
func (s *Service) Lifecycle() *lifecycle.Service { return s.life }

// Syscalls returns the trap dispatch layer.
func (s *Service) Syscalls() *syscall.Service { return s.traps }

// Loader returns the boot image loader.
func (s *Service) Loader() *bootimage.Service { return s.loader }

// Runtime wraps the service with boot and timer-interrupt control.
func (s *Service) Runtime() *Runtime {
	return &Runtime{service: s, shutdown: make(chan struct{})}
}
