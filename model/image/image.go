// Package image defines the executable-image types produced by the boot
// image loader and consumed by exec. An image arrives already validated;
// the lifecycle manager only installs it.
package image

import "fmt"

// Segment is one contiguous piece of a program image. Data holds the
// initial contents and is zero-padded to the segment's page span when the
// segment is installed.
type Segment struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Pages int    `json:"pages" yaml:"pages"`
	Data  []byte `json:"data,omitempty" yaml:"data,omitempty"`
}

// Image is a validated program manifest: entry point, privilege and segment
// layout. Entry is an offset into the first segment; the installer resolves
// it against wherever that segment lands.
type Image struct {
	Name       string    `json:"name" yaml:"name"`
	Entry      uint64    `json:"entry" yaml:"entry"`
	Privileged bool      `json:"privileged,omitempty" yaml:"privileged,omitempty"`
	Segments   []Segment `json:"segments" yaml:"segments"`
	Args       []string  `json:"args,omitempty" yaml:"args,omitempty"`
	Env        []string  `json:"env,omitempty" yaml:"env,omitempty"`
}

// Validate checks the manifest against the page size it will be installed
// with.
func (i *Image) Validate(pageSize int) error {
	if i.Name == "" {
		return fmt.Errorf("image: name is required")
	}
	if len(i.Segments) == 0 {
		return fmt.Errorf("image %s: at least one segment is required", i.Name)
	}
	for n, seg := range i.Segments {
		if seg.Pages <= 0 {
			return fmt.Errorf("image %s: segment %d has no pages", i.Name, n)
		}
		if len(seg.Data) > seg.Pages*pageSize {
			return fmt.Errorf("image %s: segment %d data exceeds %d pages", i.Name, n, seg.Pages)
		}
	}
	if i.Entry >= uint64(i.Segments[0].Pages*pageSize) {
		return fmt.Errorf("image %s: entry 0x%x outside first segment", i.Name, i.Entry)
	}
	return nil
}

// PageCount returns the total pages across all segments.
func (i *Image) PageCount() int {
	total := 0
	for _, seg := range i.Segments {
		total += seg.Pages
	}
	return total
}
