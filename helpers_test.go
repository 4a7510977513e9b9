package refbridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/feather-lang/refbridge"
	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
)

// token is an opaque host value with identity.
type token struct{ Name string }

func newMapper(t *testing.T) *refbridge.Mapper {
	t.Helper()
	m, err := refbridge.New(context.Background())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// newRecordingMapper returns a mapper whose object and data-store
// allocations go through a Recorder. Type descriptors are allocated before
// the recorder sees anything.
func newRecordingMapper(t *testing.T) (*refbridge.Mapper, *mem.Recorder) {
	t.Helper()
	heap, err := mem.NewHeap(context.Background(), mem.Config{})
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	rec := mem.NewRecorder(heap)
	m, err := refbridge.New(context.Background(), refbridge.WithHeap(heap), refbridge.WithAllocator(rec))
	if err != nil {
		heap.Close()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		heap.Close()
	})
	return m, rec
}

func mustStore(t *testing.T, m *refbridge.Mapper, obj any) refbridge.Handle {
	t.Helper()
	h, err := m.Store(obj)
	if err != nil {
		t.Fatalf("Store(%v): %v", refbridge.Format(obj), err)
	}
	return h
}

func mustRetrieveList(t *testing.T, m *refbridge.Mapper, h refbridge.Handle) *refbridge.List {
	t.Helper()
	obj, err := m.Retrieve(h)
	if err != nil {
		t.Fatalf("Retrieve(%v): %v", h, err)
	}
	l, ok := obj.(*refbridge.List)
	if !ok {
		t.Fatalf("Retrieve(%v) = %T, want *List", h, obj)
	}
	return l
}

func refCount(t *testing.T, m *refbridge.Mapper, h refbridge.Handle) int {
	t.Helper()
	n, err := m.RefCount(h)
	if err != nil {
		t.Fatalf("RefCount(%v): %v", h, err)
	}
	return n
}

func listView(m *refbridge.Mapper, h refbridge.Handle) *layout.View {
	return layout.Bind(m.Memory(), h, layout.PyListObject)
}

// items reads the raw slots of a list.
func items(t *testing.T, m *refbridge.Mapper, list refbridge.Handle) []refbridge.Handle {
	t.Helper()
	v := listView(m, list)
	store, size := v.Ptr("ob_item"), int(v.Int("ob_size"))
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	hs := make([]refbridge.Handle, size)
	for i := range hs {
		h, err := mem.LoadPtr(m.Memory(), store+mem.Addr(i*mem.PtrSize))
		if err != nil {
			t.Fatal(err)
		}
		hs[i] = h
	}
	return hs
}

func wantLastError(t *testing.T, m *refbridge.Mapper, target error) {
	t.Helper()
	if err := m.LastError(); !errors.Is(err, target) {
		t.Errorf("LastError() = %v, want %v", err, target)
	}
	m.ClearError()
}
