package nucleos

import (
	"fmt"
	"time"

	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
)

// Config is a serialisable representation of the kernel configuration. It
// can be populated from JSON or YAML (the bootimage loader produces one
// from a boot specification); the zero value inherits every package
// default.
type Config struct {
	Memory    pagealloc.Config `json:"memory" yaml:"memory"`
	Registry  registry.Config  `json:"registry" yaml:"registry"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`

	// HeapPages sizes the kernel heap arena.
	HeapPages int `json:"heapPages" yaml:"heapPages"`

	// TickInterval is the wall-clock period of the simulated timer
	// interrupt driving scheduler ticks.
	TickInterval time.Duration `json:"tickInterval" yaml:"tickInterval"`
}

// DefaultConfig returns a Config with every package default filled in.
func DefaultConfig() *Config {
	return &Config{
		Memory:       pagealloc.DefaultConfig(),
		Registry:     registry.DefaultConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		HeapPages:    1024,
		TickInterval: 10 * time.Millisecond,
	}
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.HeapPages <= 0 {
		return fmt.Errorf("heapPages must be > 0")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tickInterval must be > 0")
	}
	return c.Scheduler.Validate()
}
