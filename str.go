package refbridge

import (
	"fmt"

	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// StringNew allocates a string of n zero bytes for native code to fill in
// through ob_sval. The trailing NUL is not counted in n.
func (m *Mapper) StringNew(n int) Handle {
	h, err := m.newString(n)
	if err != nil {
		m.fail("PyString_FromStringAndSize", err)
		return 0
	}
	m.track(h, "")
	return h
}

func (m *Mapper) newString(n int) (Handle, error) {
	if n < 0 {
		return 0, fmt.Errorf("size %d: %w", n, ErrIndex)
	}
	s := layout.PyStringObject
	v, err := m.newObject(s, s.Offset("ob_sval")+uint32(n)+1, StringTypeName)
	if err != nil {
		return 0, err
	}
	v.SetInt("ob_size", int32(n))
	v.SetInt("ob_shash", -1)
	if err := v.Err(); err != nil {
		m.alloc.Free(v.Base())
		return 0, err
	}
	return v.Base(), nil
}

func (m *Mapper) storeString(s string) (Handle, error) {
	h, err := m.newString(len(s))
	if err != nil {
		return 0, err
	}
	addr := layout.Bind(m.memory, h, layout.PyStringObject).Addr("ob_sval")
	if !m.memory.Write(uint32(addr), []byte(s)) {
		m.alloc.Free(h)
		return 0, fmt.Errorf("write string at %v: %w", addr, mem.ErrFault)
	}
	m.track(h, s)
	return h, nil
}

// retrieveString reads the bytes back, picking up any writes native code
// made in place.
func (m *Mapper) retrieveString(h Handle, e *entry) (string, error) {
	v := layout.Bind(m.memory, h, layout.PyStringObject)
	n := v.Int("ob_size")
	addr := v.Addr("ob_sval")
	if err := v.Err(); err != nil {
		return "", err
	}
	data, ok := m.memory.Read(uint32(addr), uint32(n))
	if !ok {
		return "", fmt.Errorf("read string at %v: %w", addr, mem.ErrFault)
	}
	s := string(data)
	e.obj = s
	return s, nil
}
