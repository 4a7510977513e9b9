package refbridge

import (
	"fmt"
	"weak"

	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// Destructor is the Go side of a destructor or freefunc slot.
type Destructor func(Handle)

type callable struct {
	fn Destructor
}

// fnBase is the first function address handed out. Function addresses are
// a separate space from linear memory; the base makes them stand out in
// memory dumps.
const fnBase = 0xf000_0000

// trampolines resolves the function addresses stored in native slots to Go
// callables. Like a runtime thunk it holds its callables weakly: a native
// pointer alone does not keep a callable alive.
type trampolines struct {
	next   uint32
	byAddr map[uint32]weak.Pointer[callable]
}

func (t *trampolines) bind(c *callable) uint32 {
	addr := fnBase + t.next*mem.PtrSize
	t.next++
	t.byAddr[addr] = weak.Make(c)
	return addr
}

func (t *trampolines) resolve(addr uint32) (*callable, error) {
	wp, ok := t.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("call 0x%x: %w", addr, ErrBadFunction)
	}
	c := wp.Value()
	if c == nil {
		delete(t.byAddr, addr)
		return nil, fmt.Errorf("call 0x%x: %w", addr, ErrDeadCallable)
	}
	return c, nil
}

type slotKey struct {
	block Handle
	slot  string
}

// installer writes bridge callables into type descriptors and keeps the
// callable currently in each slot reachable for the mapper's lifetime.
type installer struct {
	memory mem.Memory
	thunks *trampolines
	keep   map[slotKey]*callable
}

func newInstaller(m mem.Memory) *installer {
	return &installer{
		memory: m,
		thunks: &trampolines{byAddr: make(map[uint32]weak.Pointer[callable])},
		keep:   make(map[slotKey]*callable),
	}
}

func (in *installer) install(block Handle, slot string, fn Destructor) error {
	c := &callable{fn: fn}
	addr := in.thunks.bind(c)
	v := layout.Bind(in.memory, block, layout.PyTypeObject)
	v.SetUint32(slot, addr)
	if err := v.Err(); err != nil {
		return fmt.Errorf("install %s: %w", slot, err)
	}
	in.keep[slotKey{block: block, slot: slot}] = c
	return nil
}

// lookup returns the callable a slot points at, or nil for an empty slot.
func (in *installer) lookup(block Handle, slot string) (Destructor, error) {
	v := layout.Bind(in.memory, block, layout.PyTypeObject)
	addr := v.Uint32(slot)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, nil
	}
	c, err := in.thunks.resolve(addr)
	if err != nil {
		return nil, err
	}
	return c.fn, nil
}

// InstallSlot writes fn into a function-pointer slot of the descriptor at
// typeBlock, for example "tp_free". The mapper keeps fn alive until it is
// replaced by another InstallSlot on the same slot. A replaced callable is
// released: copies of its old function pointer held by native code then
// fail with ErrDeadCallable once it has been collected.
func (m *Mapper) InstallSlot(typeBlock Handle, slot string, fn Destructor) error {
	return m.slots.install(typeBlock, slot, fn)
}

// CallSlot calls the function in a descriptor slot with h, exactly as
// native code calling through the pointer would. An empty slot is an error.
func (m *Mapper) CallSlot(typeBlock Handle, slot string, h Handle) error {
	fn, err := m.slots.lookup(typeBlock, slot)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%s of %v is empty: %w", slot, typeBlock, ErrBadFunction)
	}
	fn(h)
	return nil
}

// callFree releases h through the tp_free slot of its type. An empty slot
// falls back to Free.
func (m *Mapper) callFree(typeBlock, h Handle) error {
	fn, err := m.slots.lookup(typeBlock, "tp_free")
	if err != nil {
		return fmt.Errorf("free %v: %w", h, err)
	}
	if fn == nil {
		m.Free(h)
		return nil
	}
	fn(h)
	return nil
}
