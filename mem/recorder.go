package mem

// Alloc is one recorded allocation.
type Alloc struct {
	Addr Addr
	Size uint32 // requested size
}

// Recorder forwards to another allocator and records every call in order.
type Recorder struct {
	Next   Allocator
	Allocs []Alloc
	Frees  []Addr
}

func NewRecorder(next Allocator) *Recorder {
	return &Recorder{Next: next}
}

func (r *Recorder) Allocate(size uint32) (Addr, error) {
	addr, err := r.Next.Allocate(size)
	if err != nil {
		return 0, err
	}
	r.Allocs = append(r.Allocs, Alloc{Addr: addr, Size: size})
	return addr, nil
}

func (r *Recorder) Free(addr Addr) {
	r.Frees = append(r.Frees, addr)
	r.Next.Free(addr)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.Allocs = nil
	r.Frees = nil
}
