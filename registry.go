package refbridge

import "sort"

// Registry holds the named singleton slots of one mapper, such as the
// address of the list type descriptor. Each Mapper owns its own.
type Registry struct {
	slots map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]Handle)}
}

// Set stores h under name, replacing any previous value.
func (r *Registry) Set(name string, h Handle) {
	r.slots[name] = h
}

// Get returns the value stored under name.
func (r *Registry) Get(name string) (Handle, bool) {
	h, ok := r.slots[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
