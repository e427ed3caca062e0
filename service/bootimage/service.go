// Package bootimage loads boot specifications and program manifests from
// YAML documents. It is the external image loader the lifecycle manager's
// exec consumes: manifests come out validated, with the entry point and
// segment layout ready to install.
package bootimage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/nucleos/nucleos/model/image"
	"github.com/nucleos/nucleos/service/pagealloc"
	"github.com/nucleos/nucleos/service/registry"
	"github.com/nucleos/nucleos/service/scheduler"
)

// Boot is the boot specification: memory geometry, table sizes, scheduler
// tuning and the programs to start.
type Boot struct {
	Memory    pagealloc.Config `json:"memory" yaml:"memory"`
	Registry  registry.Config  `json:"registry" yaml:"registry"`
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`
	HeapPages int              `json:"heapPages" yaml:"heapPages"`
	Programs  []image.Image    `json:"programs" yaml:"programs"`
}

// Service reads boot documents from any afs-supported scheme (file://,
// mem://, embed).
type Service struct {
	fs       afs.Service
	pageSize int
}

// New creates a loader validating manifests against the given page size.
func New(pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = pagealloc.DefaultConfig().PageSize
	}
	return &Service{fs: afs.New(), pageSize: pageSize}
}

// Load reads and validates a boot specification from the URL.
func (s *Service) Load(ctx context.Context, URL string) (*Boot, error) {
	data, err := s.download(ctx, URL)
	if err != nil {
		return nil, err
	}
	return s.Decode(data)
}

// Decode parses and validates an in-memory boot specification.
func (s *Service) Decode(data []byte) (*Boot, error) {
	boot := &Boot{}
	if err := yaml.Unmarshal(data, boot); err != nil {
		return nil, fmt.Errorf("bootimage: %w", err)
	}
	pageSize := boot.Memory.PageSize
	if pageSize == 0 {
		pageSize = s.pageSize
	}
	for i := range boot.Programs {
		if err := boot.Programs[i].Validate(pageSize); err != nil {
			return nil, fmt.Errorf("bootimage: %w", err)
		}
	}
	return boot, nil
}

// LoadImage reads and validates one program manifest from the URL. The
// image name falls back to the file name.
func (s *Service) LoadImage(ctx context.Context, URL string) (*image.Image, error) {
	data, err := s.download(ctx, URL)
	if err != nil {
		return nil, err
	}
	img := &image.Image{}
	if err := yaml.Unmarshal(data, img); err != nil {
		return nil, fmt.Errorf("bootimage: %w", err)
	}
	if img.Name == "" {
		name := filepath.Base(URL)
		img.Name = name[:len(name)-len(filepath.Ext(name))]
	}
	if err := img.Validate(s.pageSize); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Service) download(ctx context.Context, URL string) ([]byte, error) {
	if filepath.Ext(URL) == "" {
		URL += ".yaml"
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("bootimage: failed to load %s: %w", URL, err)
	}
	return data, nil
}
