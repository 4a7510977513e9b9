package refbridge

import (
	"fmt"

	"github.com/feather-lang/refbridge/layout"
)

// storeObject gives an opaque host value a bare object header. Native code
// can hold and pass the handle around but cannot look inside.
func (m *Mapper) storeObject(obj any) (Handle, error) {
	v, err := m.newObject(layout.PyObject, layout.PyObject.Size, ObjectTypeName)
	if err != nil {
		return 0, err
	}
	h := v.Base()
	m.track(h, obj)
	return h, nil
}

// objectDealloc is tp_dealloc for objects and strings, which own no other
// blocks.
func (m *Mapper) objectDealloc(h Handle) {
	v := layout.Bind(m.memory, h, layout.PyObject)
	typ := v.Ptr("ob_type")
	if err := v.Err(); err != nil {
		m.fail("object_dealloc", err)
		return
	}
	if err := m.callFree(typ, h); err != nil {
		m.fail("object_dealloc", err)
	}
}

// ObjectCall calls the host function behind callable with the items of the
// list args, and stores the result. It returns a new reference, or null on
// failure. A nil args handle calls with no arguments.
func (m *Mapper) ObjectCall(callable, args Handle) Handle {
	h, err := m.objectCall(callable, args)
	if err != nil {
		m.fail("PyObject_Call", err)
		return 0
	}
	return h
}

func (m *Mapper) objectCall(callable, args Handle) (Handle, error) {
	e, ok := m.table[callable]
	if !ok {
		return 0, fmt.Errorf("call %v: %w", callable, ErrUntracked)
	}
	var fn Callable
	switch f := e.obj.(type) {
	case Callable:
		fn = f
	case func(...any) (any, error):
		fn = f
	default:
		return 0, fmt.Errorf("call %v (%T): %w", callable, e.obj, ErrNotCallable)
	}

	var argv []any
	if args != 0 {
		if !m.hasType(args, ListType) {
			return 0, fmt.Errorf("arguments %v: %w", args, ErrNotList)
		}
		obj, err := m.Retrieve(args)
		if err != nil {
			return 0, err
		}
		argv = obj.(*List).Items
	}

	result, err := fn(argv...)
	if err != nil {
		return 0, err
	}
	return m.Store(result)
}
