package refbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// Handle is the native address of an object block. Zero is null.
type Handle = mem.Addr

// entry is a tracking-table row. The refcount is not kept here: it lives in
// the block's ob_refcnt so native code can adjust it inline.
type entry struct {
	obj any
}

// Mapper keeps native handles and host objects in correspondence.
// It is not safe for concurrent use.
type Mapper struct {
	heap    *mem.Heap
	memory  mem.Memory
	alloc   mem.Allocator
	logger  *slog.Logger
	ownHeap bool

	table map[Handle]*entry
	ids   map[any]Handle

	data   *Registry
	slots  *installer
	static []Handle // type blocks allocated by the mapper itself

	lastErr     error
	tempBlocks  []mem.Addr
	tempObjects []Handle
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithHeap makes the mapper use an existing heap. The caller keeps
// ownership and closes it after the mapper.
func WithHeap(h *mem.Heap) Option {
	return func(m *Mapper) { m.heap = h }
}

// WithAllocator routes object and data-store allocations through a. The
// allocator must hand out blocks of the mapper's heap, typically by
// wrapping it (see mem.Recorder).
func WithAllocator(a mem.Allocator) Option {
	return func(m *Mapper) { m.alloc = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) { m.logger = l }
}

// New creates a mapper and installs the builtin type descriptors.
func New(ctx context.Context, opts ...Option) (*Mapper, error) {
	m := &Mapper{
		logger: slog.New(slog.DiscardHandler),
		table:  make(map[Handle]*entry),
		ids:    make(map[any]Handle),
		data:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.heap == nil {
		h, err := mem.NewHeap(ctx, mem.Config{Logger: m.logger})
		if err != nil {
			return nil, err
		}
		m.heap = h
		m.ownHeap = true
	}
	m.memory = m.heap.Memory()
	if m.alloc == nil {
		m.alloc = m.heap
	}
	m.slots = newInstaller(m.memory)

	if err := m.createTypes(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// createTypes allocates a descriptor block per builtin type. Descriptors are
// static data on the native side, so they come straight from the heap
// rather than through the object allocator.
func (m *Mapper) createTypes() error {
	for _, b := range builtinTypes {
		block, err := m.heap.Allocate(layout.PyTypeObject.Size)
		if err != nil {
			return fmt.Errorf("allocate %s: %w", b.name, err)
		}
		m.static = append(m.static, block)
		if err := m.SetData(b.name, block); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the mapper's native memory. Handles become invalid.
func (m *Mapper) Close() error {
	if m.ownHeap {
		return m.heap.Close()
	}
	for _, block := range m.static {
		if _, ok := m.table[block]; ok {
			m.untrack(block)
			m.heap.Free(block)
		}
	}
	m.static = nil
	return nil
}

// Heap returns the heap native blocks live in.
func (m *Mapper) Heap() *mem.Heap { return m.heap }

// Memory returns native memory, for reading struct fields directly.
func (m *Mapper) Memory() mem.Memory { return m.memory }

// SetData stores h in the named slot registry. Setting one of the builtin
// type names also installs the bridge callables into the descriptor at h,
// overwriting whatever the slots held before.
func (m *Mapper) SetData(name string, h Handle) error {
	m.data.Set(name, h)
	if typ, ok := builtinType(name); ok {
		return m.installType(typ, h)
	}
	return nil
}

// GetData returns the value of a named slot.
func (m *Mapper) GetData(name string) (Handle, bool) {
	return m.data.Get(name)
}

func (m *Mapper) installType(typ *Type, block Handle) error {
	v := layout.Bind(m.memory, block, layout.PyTypeObject)
	if v.Int("ob_refcnt") < 1 {
		v.SetInt("ob_refcnt", 1)
	}
	v.SetInt("tp_basicsize", int32(typ.Layout.Size))
	if typ == StringType {
		v.SetInt("tp_itemsize", 1)
	}
	if err := v.Err(); err != nil {
		return fmt.Errorf("install %s: %w", typ.Name, err)
	}

	dealloc := m.objectDealloc
	if typ == ListType {
		dealloc = m.ListDealloc
	}
	if err := m.InstallSlot(block, "tp_dealloc", dealloc); err != nil {
		return err
	}
	if err := m.InstallSlot(block, "tp_free", m.Free); err != nil {
		return err
	}

	if _, ok := m.table[block]; !ok {
		m.track(block, typ)
	}
	m.logger.Debug("install type", "type", typ.Name, "block", block)
	return nil
}

// Store returns a handle for obj, passing ownership of one reference to the
// caller. Storing an object that already has a live handle returns that
// handle with its refcount incremented.
func (m *Mapper) Store(obj any) (Handle, error) {
	if key, ok := identity(obj); ok {
		if h, ok := m.ids[key]; ok {
			return h, m.IncRef(h)
		}
	}
	switch v := obj.(type) {
	case *List:
		return m.storeList(v)
	case string:
		return m.storeString(v)
	default:
		return m.storeObject(obj)
	}
}

// Retrieve returns the host object for h. Lists are rebuilt from native
// memory into their tracked *List; lists reached again while being rebuilt
// resolve to the same object, so cycles come back as cycles.
func (m *Mapper) Retrieve(h Handle) (any, error) {
	return m.retrieve(h, make(map[Handle]*List))
}

func (m *Mapper) retrieve(h Handle, inflight map[Handle]*List) (any, error) {
	if l, ok := inflight[h]; ok {
		return l, nil
	}
	e, ok := m.table[h]
	if !ok {
		return nil, fmt.Errorf("retrieve %v: %w", h, ErrUntracked)
	}
	switch {
	case m.hasType(h, ListType):
		return m.retrieveList(h, e, inflight)
	case m.hasType(h, StringType):
		return m.retrieveString(h, e)
	}
	return e.obj, nil
}

func (m *Mapper) IncRef(h Handle) error {
	if _, ok := m.table[h]; !ok {
		return fmt.Errorf("incref %v: %w", h, ErrUntracked)
	}
	v := layout.Bind(m.memory, h, layout.PyObject)
	v.SetInt("ob_refcnt", v.Int("ob_refcnt")+1)
	return v.Err()
}

// DecRef drops one reference. At zero the entry is removed and the type's
// tp_dealloc runs before DecRef returns.
func (m *Mapper) DecRef(h Handle) error {
	if _, ok := m.table[h]; !ok {
		return fmt.Errorf("decref %v: %w", h, ErrUntracked)
	}
	v := layout.Bind(m.memory, h, layout.PyObject)
	count := v.Int("ob_refcnt")
	if err := v.Err(); err != nil {
		return err
	}
	if count > 1 {
		v.SetInt("ob_refcnt", count-1)
		return v.Err()
	}

	v.SetInt("ob_refcnt", 0)
	typ := v.Ptr("ob_type")
	m.untrack(h)
	if typ == 0 {
		m.Free(h)
		return nil
	}
	fn, err := m.slots.lookup(typ, "tp_dealloc")
	if err != nil {
		return fmt.Errorf("dealloc %v: %w", h, err)
	}
	if fn == nil {
		m.Free(h)
		return nil
	}
	fn(h)
	return nil
}

func (m *Mapper) RefCount(h Handle) (int, error) {
	if _, ok := m.table[h]; !ok {
		return 0, fmt.Errorf("refcount %v: %w", h, ErrUntracked)
	}
	v := layout.Bind(m.memory, h, layout.PyObject)
	n := v.Int("ob_refcnt")
	return int(n), v.Err()
}

// Free releases the block at h, dropping its tracking entry if one is left.
// It is what every builtin type installs as tp_free.
func (m *Mapper) Free(h Handle) {
	if h == 0 {
		return
	}
	if _, ok := m.table[h]; ok {
		m.untrack(h)
	}
	m.alloc.Free(h)
}

// Tracked reports whether h has a tracking entry.
func (m *Mapper) Tracked(h Handle) bool {
	_, ok := m.table[h]
	return ok
}

// Handles returns every tracked handle in address order.
func (m *Mapper) Handles() []Handle {
	hs := make([]Handle, 0, len(m.table))
	for h := range m.table {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// TypeOf returns the host type of a tracked handle, or nil when its
// ob_type is not a tracked descriptor.
func (m *Mapper) TypeOf(h Handle) (*Type, error) {
	if _, ok := m.table[h]; !ok {
		return nil, fmt.Errorf("typeof %v: %w", h, ErrUntracked)
	}
	v := layout.Bind(m.memory, h, layout.PyObject)
	typ := v.Ptr("ob_type")
	if err := v.Err(); err != nil {
		return nil, err
	}
	if e, ok := m.table[typ]; ok {
		t, _ := e.obj.(*Type)
		return t, nil
	}
	return nil, nil
}

func (m *Mapper) track(h Handle, obj any) {
	m.table[h] = &entry{obj: obj}
	if key, ok := identity(obj); ok {
		m.ids[key] = h
	}
}

func (m *Mapper) untrack(h Handle) {
	e, ok := m.table[h]
	if !ok {
		return
	}
	delete(m.table, h)
	if key, ok := identity(e.obj); ok && m.ids[key] == h {
		delete(m.ids, key)
	}
}

// hasType reports whether the block at h points at a tracked descriptor
// for typ. Any descriptor counts, not only the one currently registered,
// so objects created before a SetData keep their type.
func (m *Mapper) hasType(h Handle, typ *Type) bool {
	if h == 0 {
		return false
	}
	v := layout.Bind(m.memory, h, layout.PyObject)
	block := v.Ptr("ob_type")
	if v.Err() != nil || block == 0 {
		return false
	}
	e, ok := m.table[block]
	return ok && e.obj == typ
}

// newObject allocates size bytes for an instance of the named type and
// fills in the header with a refcount of one.
func (m *Mapper) newObject(s *layout.Struct, size uint32, typeName string) (*layout.View, error) {
	typ, ok := m.data.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", typeName, ErrNoType)
	}
	h, err := m.alloc.Allocate(size)
	if err != nil {
		return nil, err
	}
	v := layout.Bind(m.memory, h, s)
	v.SetInt("ob_refcnt", 1)
	v.SetPtr("ob_type", typ)
	if err := v.Err(); err != nil {
		m.alloc.Free(h)
		return nil, err
	}
	return v, nil
}
