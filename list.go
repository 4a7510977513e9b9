package refbridge

import (
	"errors"
	"fmt"

	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// -----------------------------------------------------------------------------
// List Operations
//
// These are called by native code. They never return Go errors: failures
// come back as -1 (or a null handle) with the cause in LastError.
// -----------------------------------------------------------------------------

// ListNew creates a list of n null slots with a refcount of one. A list of
// length zero has no data store at all.
func (m *Mapper) ListNew(n int) Handle {
	h, err := m.newList(n)
	if err != nil {
		m.fail("PyList_New", err)
		return 0
	}
	return h
}

// ListAppend adds a new reference to item at the end of list. The data
// store grows by exactly one slot per call.
func (m *Mapper) ListAppend(list, item Handle) int32 {
	if err := m.listAppend(list, item); err != nil {
		return m.fail("PyList_Append", err)
	}
	return 0
}

// ListSetItem puts item at index, stealing the caller's reference, and
// releases the previous occupant. The reference is consumed even when the
// call fails.
func (m *Mapper) ListSetItem(list Handle, index int, item Handle) int32 {
	if err := m.listSetItem(list, index, item); err != nil {
		return m.fail("PyList_SetItem", err)
	}
	return 0
}

// ListGetSlice returns a new list holding new references to
// list[start:stop], with Go-style clamping extended to negative indices
// counted from the end.
func (m *Mapper) ListGetSlice(list Handle, start, stop int) Handle {
	h, err := m.listGetSlice(list, start, stop)
	if err != nil {
		m.fail("PyList_GetSlice", err)
		return 0
	}
	return h
}

// ListDealloc is the list type's tp_dealloc. It releases every item and the
// data store, then hands the list block to the type's tp_free.
func (m *Mapper) ListDealloc(list Handle) {
	if err := m.listDealloc(list); err != nil {
		m.fail("list_dealloc", err)
	}
}

// -----------------------------------------------------------------------------

func (m *Mapper) newList(n int) (Handle, error) {
	h, err := m.allocList(n)
	if err != nil {
		return 0, err
	}
	m.track(h, NewList())
	return h, nil
}

// allocList builds an untracked list block with n null slots.
func (m *Mapper) allocList(n int) (Handle, error) {
	if n < 0 {
		return 0, fmt.Errorf("size %d: %w", n, ErrIndex)
	}
	v, err := m.newObject(layout.PyListObject, layout.PyListObject.Size, ListTypeName)
	if err != nil {
		return 0, err
	}
	h := v.Base()
	if n > 0 {
		store, err := m.alloc.Allocate(uint32(n) * layout.PtrSize)
		if err != nil {
			m.alloc.Free(h)
			return 0, err
		}
		v.SetPtr("ob_item", store)
		v.SetInt("ob_size", int32(n))
		v.SetInt("allocated", int32(n))
		if err := v.Err(); err != nil {
			m.alloc.Free(store)
			m.alloc.Free(h)
			return 0, err
		}
	}
	return h, nil
}

// listView validates that h is a live list.
func (m *Mapper) listView(h Handle) (*layout.View, error) {
	if h == 0 {
		return nil, ErrNullHandle
	}
	if _, ok := m.table[h]; !ok {
		return nil, fmt.Errorf("%v: %w", h, ErrUntracked)
	}
	if !m.hasType(h, ListType) {
		return nil, fmt.Errorf("%v: %w", h, ErrNotList)
	}
	return layout.Bind(m.memory, h, layout.PyListObject), nil
}

func (m *Mapper) listAppend(list, item Handle) error {
	v, err := m.listView(list)
	if err != nil {
		return err
	}
	if item == 0 {
		return fmt.Errorf("append to %v: %w", list, ErrNullHandle)
	}
	if err := m.IncRef(item); err != nil {
		return err
	}

	old := v.Ptr("ob_item")
	size := v.Int("ob_size")
	allocated := v.Int("allocated")
	if err := v.Err(); err != nil {
		return errors.Join(err, m.DecRef(item))
	}

	store, err := m.alloc.Allocate(uint32(allocated+1) * layout.PtrSize)
	if err != nil {
		return errors.Join(err, m.DecRef(item))
	}
	if err := mem.Copy(m.memory, store, old, uint32(allocated)*layout.PtrSize); err != nil {
		m.alloc.Free(store)
		return errors.Join(err, m.DecRef(item))
	}
	if err := mem.StorePtr(m.memory, slotAddr(store, int(allocated)), item); err != nil {
		m.alloc.Free(store)
		return errors.Join(err, m.DecRef(item))
	}
	if allocated > 0 {
		m.alloc.Free(old)
	}

	v.SetPtr("ob_item", store)
	v.SetInt("ob_size", size+1)
	v.SetInt("allocated", allocated+1)
	return v.Err()
}

func (m *Mapper) listSetItem(list Handle, index int, item Handle) error {
	slot, err := m.itemSlot(list, index)
	if err != nil {
		return errors.Join(err, m.release(item))
	}
	old, err := mem.LoadPtr(m.memory, slot)
	if err != nil {
		return errors.Join(err, m.release(item))
	}
	if err := mem.StorePtr(m.memory, slot, item); err != nil {
		return errors.Join(err, m.release(item))
	}
	return m.release(old)
}

// itemSlot returns the address of list[index].
func (m *Mapper) itemSlot(list Handle, index int) (mem.Addr, error) {
	v, err := m.listView(list)
	if err != nil {
		return 0, err
	}
	size := int(v.Int("ob_size"))
	store := v.Ptr("ob_item")
	if err := v.Err(); err != nil {
		return 0, err
	}
	if index < 0 || index >= size {
		return 0, fmt.Errorf("index %d of %v with length %d: %w", index, list, size, ErrIndex)
	}
	return slotAddr(store, index), nil
}

func (m *Mapper) listGetSlice(list Handle, start, stop int) (Handle, error) {
	v, err := m.listView(list)
	if err != nil {
		return 0, err
	}
	size := int(v.Int("ob_size"))
	src := v.Ptr("ob_item")
	if err := v.Err(); err != nil {
		return 0, err
	}

	start, stop = clampSlice(start, stop, size)
	h, err := m.newList(stop - start)
	if err != nil {
		return 0, err
	}
	dst := layout.Bind(m.memory, h, layout.PyListObject).Ptr("ob_item")
	for i := range stop - start {
		item, err := mem.LoadPtr(m.memory, slotAddr(src, start+i))
		if err == nil && item != 0 {
			err = m.IncRef(item)
		}
		if err == nil {
			err = mem.StorePtr(m.memory, slotAddr(dst, i), item)
		}
		if err != nil {
			return 0, errors.Join(err, m.DecRef(h))
		}
	}
	return h, nil
}

func (m *Mapper) listDealloc(list Handle) error {
	if list == 0 {
		return ErrNullHandle
	}
	if !m.hasType(list, ListType) {
		return fmt.Errorf("%v: %w", list, ErrNotList)
	}
	v := layout.Bind(m.memory, list, layout.PyListObject)
	store := v.Ptr("ob_item")
	size := int(v.Int("ob_size"))
	allocated := v.Int("allocated")
	typ := v.Ptr("ob_type")
	if err := v.Err(); err != nil {
		return err
	}

	var errs []error
	for i := range size {
		item, err := mem.LoadPtr(m.memory, slotAddr(store, i))
		if err == nil && item != list {
			err = m.release(item)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if allocated > 0 {
		m.alloc.Free(store)
	}
	errs = append(errs, m.callFree(typ, list))
	return errors.Join(errs...)
}

func (m *Mapper) retrieveList(h Handle, e *entry, inflight map[Handle]*List) (*List, error) {
	l, _ := e.obj.(*List)
	if l == nil {
		l = NewList()
		e.obj = l
		m.ids[l] = h
	}
	inflight[h] = l

	v := layout.Bind(m.memory, h, layout.PyListObject)
	store := v.Ptr("ob_item")
	size := int(v.Int("ob_size"))
	allocated := int(v.Int("allocated"))
	if err := v.Err(); err != nil {
		return nil, err
	}
	if size < 0 || size > allocated {
		return nil, fmt.Errorf("retrieve %v: size %d with %d allocated: %w", h, size, allocated, ErrCorrupt)
	}
	items := make([]any, size)
	for i := range items {
		item, err := mem.LoadPtr(m.memory, slotAddr(store, i))
		if err != nil {
			return nil, err
		}
		if item == 0 {
			return nil, fmt.Errorf("retrieve %v: slot %d: %w", h, i, ErrIncomplete)
		}
		if items[i], err = m.retrieve(item, inflight); err != nil {
			return nil, err
		}
	}
	l.Items = items
	return l, nil
}

// storeList mirrors a host list natively. The entry is registered before
// the items are stored so that an item referring back to l resolves to the
// handle under construction.
func (m *Mapper) storeList(l *List) (Handle, error) {
	if l == nil {
		return 0, fmt.Errorf("store nil list: %w", ErrNullHandle)
	}
	h, err := m.allocList(0)
	if err != nil {
		return 0, err
	}
	m.track(h, l)
	n := len(l.Items)
	if n == 0 {
		return h, nil
	}

	store, err := m.alloc.Allocate(uint32(n) * layout.PtrSize)
	if err != nil {
		return 0, errors.Join(err, m.DecRef(h))
	}
	v := layout.Bind(m.memory, h, layout.PyListObject)
	v.SetPtr("ob_item", store)
	v.SetInt("ob_size", int32(n))
	v.SetInt("allocated", int32(n))
	if err := v.Err(); err != nil {
		return 0, errors.Join(err, m.DecRef(h))
	}
	for i, obj := range l.Items {
		item, err := m.Store(obj)
		if err == nil {
			err = mem.StorePtr(m.memory, slotAddr(store, i), item)
		}
		if err != nil {
			return 0, errors.Join(fmt.Errorf("store item %d: %w", i, err), m.DecRef(h))
		}
	}
	return h, nil
}

// release drops a reference that may be null.
func (m *Mapper) release(h Handle) error {
	if h == 0 {
		return nil
	}
	return m.DecRef(h)
}

func slotAddr(store mem.Addr, i int) mem.Addr {
	return store + mem.Addr(i*layout.PtrSize)
}

// clampSlice resolves slice bounds against a sequence of length n.
func clampSlice(start, stop, n int) (int, int) {
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n)
	}
	start, stop = clamp(start), clamp(stop)
	return start, max(start, stop)
}
