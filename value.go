package refbridge

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/feather-lang/refbridge/layout"
)

// List is the host representation of a native list.
//
// A List has identity: storing the same *List twice yields the same handle,
// and retrieving a list handle always returns the same *List, refreshed
// from native memory. Items may contain the list itself.
type List struct {
	Items []any
}

// NewList creates a list holding items.
func NewList(items ...any) *List {
	return &List{Items: items}
}

// Len returns the number of items.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}

// Type is the host representation of a native type descriptor.
type Type struct {
	Name   string
	Layout *layout.Struct
}

func (t *Type) String() string {
	return "<type '" + t.Name + "'>"
}

// Names under which the builtin type descriptors are registered.
const (
	ObjectTypeName = "PyBaseObject_Type"
	StringTypeName = "PyString_Type"
	ListTypeName   = "PyList_Type"
)

var (
	ObjectType = &Type{Name: "object", Layout: layout.PyObject}
	StringType = &Type{Name: "str", Layout: layout.PyStringObject}
	ListType   = &Type{Name: "list", Layout: layout.PyListObject}
)

// builtinTypes in installation order.
var builtinTypes = []struct {
	name string
	typ  *Type
}{
	{ObjectTypeName, ObjectType},
	{StringTypeName, StringType},
	{ListTypeName, ListType},
}

func builtinType(name string) (*Type, bool) {
	for _, b := range builtinTypes {
		if b.name == name {
			return b.typ, true
		}
	}
	return nil, false
}

// Callable is a host function native code can invoke through ObjectCall.
type Callable func(args ...any) (any, error)

// identity returns the key under which obj is deduplicated. Only values
// with reference semantics have identity.
func identity(obj any) (any, bool) {
	if obj == nil {
		return nil, false
	}
	switch reflect.TypeOf(obj).Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return obj, true
	}
	return nil, false
}

// Format renders a host value. Lists that contain themselves print as [...].
func Format(v any) string {
	var b strings.Builder
	format(&b, v, make(map[*List]bool))
	return b.String()
}

func format(b *strings.Builder, v any, active map[*List]bool) {
	switch x := v.(type) {
	case nil:
		b.WriteString("None")
	case *List:
		if active[x] {
			b.WriteString("[...]")
			return
		}
		active[x] = true
		b.WriteByte('[')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, item, active)
		}
		b.WriteByte(']')
		delete(active, x)
	case string:
		b.WriteString(strconv.Quote(x))
	case Callable:
		b.WriteString("<callable>")
	default:
		fmt.Fprint(b, x)
	}
}
