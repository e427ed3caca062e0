package task

import "errors"

// The descriptor table holds opaque handles installed by the filesystem
// layer on open/close. The kernel core interprets only slot occupancy: a
// slot is in use exactly when its entry is non-nil.

var (
	// ErrDescriptorTableFull is returned when every slot is occupied.
	ErrDescriptorTableFull = errors.New("task: descriptor table full")

	// ErrBadDescriptor indicates an out-of-range or empty slot.
	ErrBadDescriptor = errors.New("task: bad descriptor")
)

// InstallDescriptor places handle into the lowest free slot and returns its
// index.
func (p *Process) InstallDescriptor(handle any) (int, error) {
	if handle == nil {
		return -1, ErrBadDescriptor
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, slot := range p.Descriptors {
		if slot == nil {
			p.Descriptors[i] = handle
			return i, nil
		}
	}
	return -1, ErrDescriptorTableFull
}

// ClearDescriptor empties the slot.
func (p *Process) ClearDescriptor(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Descriptors) || p.Descriptors[i] == nil {
		return ErrBadDescriptor
	}
	p.Descriptors[i] = nil
	return nil
}

// Descriptor returns the handle in slot i.
func (p *Process) Descriptor(i int) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.Descriptors) || p.Descriptors[i] == nil {
		return nil, ErrBadDescriptor
	}
	return p.Descriptors[i], nil
}

// DescriptorCount reports the number of occupied slots.
func (p *Process) DescriptorCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, slot := range p.Descriptors {
		if slot != nil {
			n++
		}
	}
	return n
}

// CloneDescriptors copies the occupied slots into dst, used by fork.
func (p *Process) CloneDescriptors(dst *Process) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dst.Descriptors = make([]any, len(p.Descriptors))
	copy(dst.Descriptors, p.Descriptors)
}
