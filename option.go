package nucleos

import (
	"github.com/nucleos/nucleos/internal/arch"
	"github.com/nucleos/nucleos/service/lifecycle"
	"github.com/nucleos/nucleos/service/syscall"
)

// Option mutates the Service before its components are built.
type Option func(s *Service)

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithSwitcher sets the context-switch implementation. The default is the
// recording simulator.
func WithSwitcher(switcher arch.Switcher) Option {
	return func(s *Service) { s.switcher = switcher }
}

// WithPermissionChecker sets the signal permission policy.
func WithPermissionChecker(perm lifecycle.PermissionChecker) Option {
	return func(s *Service) { s.perm = perm }
}

// WithAuthorizer sets the trap-level permission check.
func WithAuthorizer(auth syscall.Authorizer) Option {
	return func(s *Service) { s.auth = auth }
}

// WithHeapPages sizes the kernel heap arena.
func WithHeapPages(pages int) Option {
	return func(s *Service) { s.config.HeapPages = pages }
}
