package refbridge_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/feather-lang/refbridge"
	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// =============================================================================
// Store and Retrieve
// =============================================================================

func TestStoreRetrieveRoundTrip(t *testing.T) {
	m := newMapper(t)
	values := map[string]any{
		"Token":  &token{"x"},
		"String": "hello",
		"Int":    42,
		"Nil":    nil,
		"Flat":   refbridge.NewList(1, "two", 3.0),
		"Nested": refbridge.NewList(refbridge.NewList(), refbridge.NewList("a", refbridge.NewList(&token{"deep"}))),
	}
	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			h := mustStore(t, m, v)
			if n := refCount(t, m, h); n != 1 {
				t.Errorf("refcount %d after one Store, want 1", n)
			}
			got, err := m.Retrieve(h)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("round trip (-stored +retrieved):\n%s", diff)
			}
		})
	}
}

func TestStoreIdentity(t *testing.T) {
	m := newMapper(t)

	t.Run("Pointer", func(t *testing.T) {
		tok := &token{"same"}
		h1, h2 := mustStore(t, m, tok), mustStore(t, m, tok)
		if h1 != h2 {
			t.Fatalf("storing one pointer twice gave %v and %v", h1, h2)
		}
		if n := refCount(t, m, h1); n != 2 {
			t.Errorf("refcount %d, want 2", n)
		}
	})

	t.Run("List", func(t *testing.T) {
		l := refbridge.NewList("x")
		h := mustStore(t, m, l)
		if got := mustRetrieveList(t, m, h); got != l {
			t.Error("Retrieve returned a copy of the stored list")
		}
		if again := mustStore(t, m, l); again != h {
			t.Errorf("second Store gave %v, want %v", again, h)
		}
	})

	t.Run("ValuesHaveNoIdentity", func(t *testing.T) {
		h1, h2 := mustStore(t, m, "s"), mustStore(t, m, "s")
		if h1 == h2 {
			t.Error("equal strings share a handle")
		}
	})

	t.Run("SharedChild", func(t *testing.T) {
		child := &token{"child"}
		h := mustStore(t, m, refbridge.NewList(child, child))
		slots := items(t, m, h)
		if slots[0] != slots[1] {
			t.Fatalf("child stored twice: %v", slots)
		}
		if n := refCount(t, m, slots[0]); n != 2 {
			t.Errorf("child refcount %d, want 2", n)
		}
	})

	t.Run("ForgottenAfterRelease", func(t *testing.T) {
		tok := &token{"gone"}
		h := mustStore(t, m, tok)
		m.DecRef(h)
		h2 := mustStore(t, m, tok)
		if n := refCount(t, m, h2); n != 1 {
			t.Errorf("restored object refcount %d, want 1", n)
		}
	})
}

func TestStoreSelfContainingList(t *testing.T) {
	m := newMapper(t)
	l := refbridge.NewList(1)
	l.Items = append(l.Items, l)

	h := mustStore(t, m, l)
	if n := refCount(t, m, h); n != 2 {
		t.Errorf("refcount %d, want 2 (the caller and the list itself)", n)
	}
	if slots := items(t, m, h); slots[1] != h {
		t.Errorf("slot 1 = %v, want the list %v", slots[1], h)
	}
	got := mustRetrieveList(t, m, h)
	if got != l || got.Items[1] != got {
		t.Errorf("retrieved %s, want the stored cycle", refbridge.Format(got))
	}
}

// =============================================================================
// Reference Counting
// =============================================================================

func TestRefCounting(t *testing.T) {
	m := newMapper(t)
	h := mustStore(t, m, &token{"rc"})

	if err := m.IncRef(h); err != nil {
		t.Fatal(err)
	}
	ob := layout.Bind(m.Memory(), h, layout.PyObject)
	if n := ob.Int("ob_refcnt"); n != 2 {
		t.Errorf("ob_refcnt in memory = %d, want 2", n)
	}

	// Native code adjusts the count inline.
	ob.SetInt("ob_refcnt", 5)
	if n := refCount(t, m, h); n != 5 {
		t.Errorf("RefCount = %d, want 5", n)
	}
	for range 4 {
		m.DecRef(h)
	}
	if !m.Tracked(h) {
		t.Fatal("released before the count reached zero")
	}
	if err := m.DecRef(h); err != nil {
		t.Fatal(err)
	}
	if m.Tracked(h) {
		t.Error("still tracked at zero")
	}
}

func TestUntracked(t *testing.T) {
	m := newMapper(t)
	dead := mustStore(t, m, &token{"dead"})
	m.DecRef(dead)

	for _, h := range []refbridge.Handle{0, 0x7ff8, dead} {
		t.Run(fmt.Sprint(h), func(t *testing.T) {
			if _, err := m.RefCount(h); !errors.Is(err, refbridge.ErrUntracked) {
				t.Errorf("RefCount: %v, want ErrUntracked", err)
			}
			if err := m.IncRef(h); !errors.Is(err, refbridge.ErrUntracked) {
				t.Errorf("IncRef: %v, want ErrUntracked", err)
			}
			if err := m.DecRef(h); !errors.Is(err, refbridge.ErrUntracked) {
				t.Errorf("DecRef: %v, want ErrUntracked", err)
			}
			if _, err := m.Retrieve(h); !errors.Is(err, refbridge.ErrUntracked) {
				t.Errorf("Retrieve: %v, want ErrUntracked", err)
			}
		})
	}
}

func TestFreeNull(t *testing.T) {
	m, rec := newRecordingMapper(t)
	m.Free(0)
	if len(rec.Frees) != 0 {
		t.Errorf("Free(0) reached the allocator: %v", rec.Frees)
	}
}

// =============================================================================
// Named Slots and Types
// =============================================================================

func TestRegistry(t *testing.T) {
	m := newMapper(t)
	for _, name := range []string{refbridge.ObjectTypeName, refbridge.StringTypeName, refbridge.ListTypeName} {
		if h, ok := m.GetData(name); !ok || h == 0 {
			t.Errorf("%s not registered", name)
		}
	}

	if err := m.SetData("Py_None", 0x40); err != nil {
		t.Fatal(err)
	}
	if h, ok := m.GetData("Py_None"); !ok || h != 0x40 {
		t.Errorf("GetData(Py_None) = %v, %v", h, ok)
	}
	if _, ok := m.GetData("missing"); ok {
		t.Error("GetData found a slot that was never set")
	}

	other := newMapper(t)
	if _, ok := other.GetData("Py_None"); ok {
		t.Error("slots leaked between mappers")
	}
}

func TestTypeDescriptors(t *testing.T) {
	m := newMapper(t)
	typ, _ := m.GetData(refbridge.ListTypeName)

	obj, err := m.Retrieve(typ)
	if err != nil {
		t.Fatalf("Retrieve(type): %v", err)
	}
	if obj != refbridge.ListType {
		t.Errorf("type block retrieves as %v, want %v", obj, refbridge.ListType)
	}

	v := layout.Bind(m.Memory(), typ, layout.PyTypeObject)
	if n := v.Int("tp_basicsize"); n != int32(layout.PyListObject.Size) {
		t.Errorf("tp_basicsize = %d, want %d", n, layout.PyListObject.Size)
	}
	if v.Uint32("tp_dealloc") == 0 || v.Uint32("tp_free") == 0 {
		t.Error("slots not installed")
	}

	for _, tt := range []struct {
		obj  any
		want *refbridge.Type
	}{
		{&token{}, refbridge.ObjectType},
		{"s", refbridge.StringType},
		{refbridge.NewList(), refbridge.ListType},
	} {
		got, err := m.TypeOf(mustStore(t, m, tt.obj))
		if err != nil || got != tt.want {
			t.Errorf("TypeOf(%s) = %v, %v; want %v", refbridge.Format(tt.obj), got, err, tt.want)
		}
	}
}

func TestSetDataReinstallsType(t *testing.T) {
	heap, err := mem.NewHeap(context.Background(), mem.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer heap.Close()
	m, err := refbridge.New(context.Background(), refbridge.WithHeap(heap))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	block, err := heap.Allocate(layout.PyTypeObject.Size)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetData(refbridge.ListTypeName, block); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	list := m.ListNew(0)
	if got := listView(m, list).Ptr("ob_type"); got != block {
		t.Errorf("new list has type %v, want %v", got, block)
	}
	if err := m.DecRef(list); err != nil {
		t.Fatalf("DecRef through the new descriptor: %v", err)
	}
	if m.Tracked(list) {
		t.Error("list not released through the new descriptor")
	}
}

// =============================================================================
// Strings
// =============================================================================

func TestStrings(t *testing.T) {
	m, rec := newRecordingMapper(t)
	s := "héllo"
	h := mustStore(t, m, s)

	size := layout.PyStringObject.Offset("ob_sval") + uint32(len(s)) + 1
	if diff := cmp.Diff([]mem.Alloc{{Addr: h, Size: size}}, rec.Allocs); diff != "" {
		t.Errorf("allocations (-want +got):\n%s", diff)
	}
	v := layout.Bind(m.Memory(), h, layout.PyStringObject)
	if n := v.Int("ob_size"); n != int32(len(s)) {
		t.Errorf("ob_size = %d, want %d", n, len(s))
	}
	if hash := v.Int("ob_shash"); hash != -1 {
		t.Errorf("ob_shash = %d, want -1", hash)
	}
	data, _ := m.Memory().Read(uint32(v.Addr("ob_sval")), uint32(len(s))+1)
	if string(data) != s+"\x00" {
		t.Errorf("ob_sval = %q, want %q", data, s+"\x00")
	}

	t.Run("NativeWrites", func(t *testing.T) {
		m.Memory().Write(uint32(v.Addr("ob_sval")), []byte("J"))
		got, err := m.Retrieve(h)
		if err != nil || got != "Jéllo" {
			t.Errorf("Retrieve = %q, %v; want %q", got, err, "Jéllo")
		}
	})

	t.Run("StringNew", func(t *testing.T) {
		h := m.StringNew(3)
		if h == 0 {
			t.Fatalf("StringNew: %v", m.LastError())
		}
		v := layout.Bind(m.Memory(), h, layout.PyStringObject)
		m.Memory().Write(uint32(v.Addr("ob_sval")), []byte("abc"))
		if got, _ := m.Retrieve(h); got != "abc" {
			t.Errorf("Retrieve = %q, want %q", got, "abc")
		}
		if m.StringNew(-1) != 0 {
			t.Error("StringNew(-1) succeeded")
		}
		wantLastError(t, m, refbridge.ErrIndex)
	})

	t.Run("Release", func(t *testing.T) {
		rec.Reset()
		m.DecRef(h)
		if diff := cmp.Diff([]mem.Addr{h}, rec.Frees); diff != "" {
			t.Errorf("frees (-want +got):\n%s", diff)
		}
	})
}

// =============================================================================
// ObjectCall
// =============================================================================

func TestObjectCall(t *testing.T) {
	m := newMapper(t)
	join := refbridge.Callable(func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("nothing to join")
		}
		return refbridge.NewList(append([]any{"joined"}, args...)...), nil
	})
	fn := mustStore(t, m, join)

	t.Run("Call", func(t *testing.T) {
		args := mustStore(t, m, refbridge.NewList("a", "b"))
		r := m.ObjectCall(fn, args)
		if r == 0 {
			t.Fatalf("ObjectCall: %v", m.LastError())
		}
		got := mustRetrieveList(t, m, r)
		if diff := cmp.Diff([]any{"joined", "a", "b"}, got.Items); diff != "" {
			t.Errorf("result (-want +got):\n%s", diff)
		}
	})

	t.Run("PlainFunc", func(t *testing.T) {
		plain := mustStore(t, m, func(args ...any) (any, error) { return len(args), nil })
		r := m.ObjectCall(plain, 0)
		if got, _ := m.Retrieve(r); got != 0 {
			t.Errorf("result %v, want 0", got)
		}
	})

	t.Run("CallableError", func(t *testing.T) {
		if r := m.ObjectCall(fn, 0); r != 0 {
			t.Errorf("ObjectCall = %v, want null", r)
		}
		if err := m.LastError(); err == nil || err.Error() != "PyObject_Call: nothing to join" {
			t.Errorf("LastError() = %v", err)
		}
		m.ClearError()
	})

	t.Run("NotCallable", func(t *testing.T) {
		m.ObjectCall(mustStore(t, m, &token{"x"}), 0)
		wantLastError(t, m, refbridge.ErrNotCallable)
	})

	t.Run("ArgsNotAList", func(t *testing.T) {
		m.ObjectCall(fn, mustStore(t, m, "a"))
		wantLastError(t, m, refbridge.ErrNotList)
	})
}

// =============================================================================
// Error State and Temporaries
// =============================================================================

func TestErrorState(t *testing.T) {
	m := newMapper(t)
	if m.LastError() != nil {
		t.Fatal("fresh mapper has a pending error")
	}
	m.SetError("native failure")
	if err := m.LastError(); err == nil || err.Error() != "native failure" {
		t.Errorf("LastError() = %v", err)
	}

	m.ListAppend(0, 0)
	if err := m.LastError(); !errors.Is(err, refbridge.ErrNullHandle) {
		t.Errorf("boundary failure did not replace the error: %v", err)
	}
	m.ClearError()
	if m.LastError() != nil {
		t.Error("ClearError left an error")
	}
}

func TestTemps(t *testing.T) {
	m, rec := newRecordingMapper(t)
	h1 := mustStore(t, m, &token{"1"})
	h2 := mustStore(t, m, "two")
	block, err := m.Heap().Allocate(16)
	if err != nil {
		t.Fatal(err)
	}

	m.RememberTemp(h1)
	m.RememberTemp(h2)
	m.RememberTemp(0)
	m.RememberTempBlock(block)
	rec.Reset()

	if err := m.FreeTemps(); err != nil {
		t.Fatalf("FreeTemps: %v", err)
	}
	if diff := cmp.Diff([]mem.Addr{h1, h2, block}, rec.Frees); diff != "" {
		t.Errorf("frees (-want +got):\n%s", diff)
	}
	if err := m.FreeTemps(); err != nil {
		t.Errorf("second FreeTemps: %v", err)
	}

	t.Run("ReleasedTwice", func(t *testing.T) {
		h := mustStore(t, m, &token{"x"})
		m.RememberTemp(h)
		m.DecRef(h)
		if err := m.FreeTemps(); !errors.Is(err, refbridge.ErrUntracked) {
			t.Errorf("FreeTemps = %v, want ErrUntracked", err)
		}
	})
}

// =============================================================================
// Format
// =============================================================================

func TestFormat(t *testing.T) {
	self := refbridge.NewList(1)
	self.Items = append(self.Items, self)

	tests := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{"a\"b", `"a\"b"`},
		{42, "42"},
		{refbridge.NewList(), "[]"},
		{refbridge.NewList(1, "x", refbridge.NewList(nil)), `[1, "x", [None]]`},
		{self, "[1, [...]]"},
		{refbridge.NewList(self, self), "[[1, [...]], [1, [...]]]"},
		{refbridge.Callable(nil), "<callable>"},
		{refbridge.ListType, "<type 'list'>"},
	}
	for _, tt := range tests {
		if got := refbridge.Format(tt.in); got != tt.want {
			t.Errorf("Format = %s, want %s", got, tt.want)
		}
	}
}

func TestClose(t *testing.T) {
	m, err := refbridge.New(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	mustStore(t, m, refbridge.NewList("leaked"))
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
