package layout

import (
	"errors"
	"fmt"

	"github.com/feather-lang/refbridge/mem"
)

// ErrNoField is returned when a view is asked for a member its struct lacks.
var ErrNoField = errors.New("layout: no such field")

// View reads and writes the members of one struct instance in native
// memory. The first failure sticks: later accesses are no-ops and Err
// reports it.
type View struct {
	mem  mem.Memory
	base mem.Addr
	s    *Struct
	err  error
}

// Bind returns a view of the struct s at base.
func Bind(m mem.Memory, base mem.Addr, s *Struct) *View {
	v := &View{mem: m, base: base, s: s}
	if base == 0 {
		v.err = fmt.Errorf("null %s: %w", s.Name, mem.ErrFault)
	}
	return v
}

// Err returns the first error encountered by the view.
func (v *View) Err() error {
	return v.err
}

// Base returns the address of the struct.
func (v *View) Base() mem.Addr {
	return v.base
}

// Addr returns the address of a member.
func (v *View) Addr(name string) mem.Addr {
	f, ok := v.field(name)
	if !ok {
		return 0
	}
	return v.base + mem.Addr(f.Offset)
}

func (v *View) Uint32(name string) uint32 {
	f, ok := v.word(name)
	if !ok {
		return 0
	}
	x, ok := v.mem.ReadUint32Le(uint32(v.base) + f.Offset)
	if !ok {
		v.err = fmt.Errorf("read %s.%s at %v: %w", v.s.Name, name, v.base, mem.ErrFault)
		return 0
	}
	return x
}

func (v *View) SetUint32(name string, x uint32) {
	f, ok := v.word(name)
	if !ok {
		return
	}
	if !v.mem.WriteUint32Le(uint32(v.base)+f.Offset, x) {
		v.err = fmt.Errorf("write %s.%s at %v: %w", v.s.Name, name, v.base, mem.ErrFault)
	}
}

func (v *View) Int(name string) int32          { return int32(v.Uint32(name)) }
func (v *View) SetInt(name string, x int32)    { v.SetUint32(name, uint32(x)) }
func (v *View) Ptr(name string) mem.Addr       { return mem.Addr(v.Uint32(name)) }
func (v *View) SetPtr(name string, a mem.Addr) { v.SetUint32(name, uint32(a)) }

func (v *View) field(name string) (Field, bool) {
	if v.err != nil {
		return Field{}, false
	}
	f, ok := v.s.Field(name)
	if !ok {
		v.err = fmt.Errorf("%s.%s: %w", v.s.Name, name, ErrNoField)
		return Field{}, false
	}
	return f, true
}

func (v *View) word(name string) (Field, bool) {
	f, ok := v.field(name)
	if ok && f.Kind.Size() != 4 {
		v.err = fmt.Errorf("%s.%s is a %v, not a word", v.s.Name, name, f.Kind)
		return Field{}, false
	}
	return f, ok
}
