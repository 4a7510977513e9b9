package refbridge

import (
	"errors"

	"github.com/feather-lang/refbridge/mem"
)

// RememberTemp hands h to the mapper to release at the next FreeTemps. The
// caller's reference is transferred.
func (m *Mapper) RememberTemp(h Handle) {
	if h != 0 {
		m.tempObjects = append(m.tempObjects, h)
	}
}

// RememberTempBlock schedules a raw block, such as an argument buffer, for
// release at the next FreeTemps.
func (m *Mapper) RememberTempBlock(addr mem.Addr) {
	if addr != 0 {
		m.tempBlocks = append(m.tempBlocks, addr)
	}
}

// FreeTemps releases everything remembered since the last call: object
// references first, in the order they were remembered, then raw blocks.
func (m *Mapper) FreeTemps() error {
	objs, blocks := m.tempObjects, m.tempBlocks
	m.tempObjects, m.tempBlocks = nil, nil

	var errs []error
	for _, h := range objs {
		if err := m.DecRef(h); err != nil {
			errs = append(errs, err)
		}
	}
	for _, addr := range blocks {
		m.alloc.Free(addr)
	}
	return errors.Join(errs...)
}
