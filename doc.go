// Package refbridge lets native code written against a reference-counted
// object API operate on values that live in the Go heap.
//
// # Overview
//
// Native code sees objects as addresses of C-style structs in a linear
// memory: an inline reference count, a pointer to a type descriptor, and
// type-specific fields. Go code sees ordinary values. A Mapper keeps the
// two in correspondence:
//
//   - Every native handle with a reference count of one or more has a
//     tracking entry pointing at its host value.
//   - The reference count in the native block is the only count. When it
//     reaches zero the entry goes away and the type's tp_dealloc runs.
//   - Host values with identity (pointers, channels) map to a single handle
//     no matter how often they are stored.
//
// # Quick Start
//
//	m, err := refbridge.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	l := refbridge.NewList("a", "b")
//	l.Items = append(l.Items, l) // lists may contain themselves
//
//	h, _ := m.Store(l)
//	obj, _ := m.Retrieve(h)
//	fmt.Println(refbridge.Format(obj)) // ["a", "b", [...]]
//	m.DecRef(h)
//
// # Native Operations
//
// The List* methods, StringNew and ObjectCall are what native code calls.
// They follow the native conventions: they never return Go errors, failures
// are reported as -1 (or a null handle) and the cause is kept for
// LastError.
//
//	list := m.ListNew(0)
//	item, _ := m.Store("x")
//	m.ListAppend(list, item)     // the list takes its own reference
//	m.DecRef(item)
//	other, _ := m.Store("y")
//	m.ListSetItem(list, 0, other) // steals other, releases item
//
// # Type Slots
//
// Type descriptors hold tp_dealloc and tp_free as function addresses.
// The mapper keeps every installed function alive for its lifetime;
// InstallSlot replaces one, for example to observe frees:
//
//	typ, _ := m.GetData(refbridge.ListTypeName)
//	m.InstallSlot(typ, "tp_free", func(h refbridge.Handle) {
//	    log.Printf("free %v", h)
//	    m.Free(h)
//	})
//
// # Memory
//
// Native memory is a wazero linear memory managed by mem.Heap. Struct
// offsets come from the generated tables in package layout.
package refbridge
