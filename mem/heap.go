package mem

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// PageSize is the size of one page of linear memory.
const PageSize = 65536

// blockAlign is the alignment of every block the heap hands out.
const blockAlign = 8

// nativeModule defines one memory of a single page and exports it as "memory".
var nativeModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: min 1 page, no max
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export section
}

// Config configures a Heap.
type Config struct {
	// InitialPages is the number of pages committed up front. Zero means one.
	InitialPages uint32

	// MaxPages caps growth. Zero means the wazero default (4GiB).
	MaxPages uint32

	// Logger receives allocation traces at debug level.
	Logger *slog.Logger
}

type span struct {
	addr Addr
	size uint32
}

// Heap is a first-fit allocator over a wazero linear memory.
// It is not safe for concurrent use.
type Heap struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	logger  *slog.Logger

	top  uint32          // first byte never handed out
	live map[Addr]uint32 // block -> rounded size
	free []span          // sorted by addr, never adjacent
}

// NewHeap instantiates a fresh linear memory.
func NewHeap(ctx context.Context, cfg Config) (*Heap, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg.MaxPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MaxPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	mod, err := r.InstantiateWithConfig(ctx, nativeModule, wazero.NewModuleConfig().WithName("native"))
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate native memory: %w", err)
	}
	memory := mod.ExportedMemory("memory")
	if memory == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("native module exports no memory")
	}
	if cfg.InitialPages > 1 {
		if _, ok := memory.Grow(cfg.InitialPages - 1); !ok {
			r.Close(ctx)
			return nil, fmt.Errorf("commit %d pages: %w", cfg.InitialPages, ErrOutOfMemory)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Heap{
		ctx:     ctx,
		runtime: r,
		module:  mod,
		memory:  memory,
		logger:  logger,
		top:     blockAlign, // keeps address 0 out of circulation
		live:    make(map[Addr]uint32),
	}, nil
}

// Close releases the wazero runtime and with it all native memory.
func (h *Heap) Close() error {
	return h.runtime.Close(h.ctx)
}

// Memory returns the linear memory blocks live in.
func (h *Heap) Memory() api.Memory {
	return h.memory
}

// Allocate returns a zeroed block of at least size bytes.
func (h *Heap) Allocate(size uint32) (Addr, error) {
	if size > 1<<32-1-blockAlign {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, ErrOutOfMemory)
	}
	n := roundUp(max(size, 1), blockAlign)

	for i, s := range h.free {
		if s.size < n {
			continue
		}
		if s.size == n {
			h.free = slices.Delete(h.free, i, i+1)
		} else {
			h.free[i] = span{addr: s.addr + Addr(n), size: s.size - n}
		}
		return h.claim(s.addr, n)
	}

	end := uint64(h.top) + uint64(n)
	if end > 1<<32-1 {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, ErrOutOfMemory)
	}
	if err := h.ensure(uint32(end)); err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, err)
	}
	addr := Addr(h.top)
	h.top = uint32(end)
	return h.claim(addr, n)
}

// Free returns a block to the heap. Freeing null is a no-op; freeing an
// address the heap does not own panics.
func (h *Heap) Free(addr Addr) {
	if addr == 0 {
		return
	}
	n, ok := h.live[addr]
	if !ok {
		panic(fmt.Sprintf("mem: free of unallocated address %v", addr))
	}
	delete(h.live, addr)
	h.release(span{addr: addr, size: n})
	h.logger.Debug("free", "addr", addr, "size", n)
}

// Size reports the rounded size of a live block.
func (h *Heap) Size(addr Addr) (uint32, bool) {
	n, ok := h.live[addr]
	return n, ok
}

// Stats describes heap occupancy.
type Stats struct {
	Blocks int    // live blocks
	InUse  uint32 // bytes in live blocks
	Free   uint32 // bytes on the free list
	Top    uint32 // high-water mark
	Pages  uint32 // committed pages
}

func (h *Heap) Stats() Stats {
	st := Stats{Blocks: len(h.live), Top: h.top, Pages: h.memory.Size() / PageSize}
	for _, n := range h.live {
		st.InUse += n
	}
	for _, s := range h.free {
		st.Free += s.size
	}
	return st
}

func (h *Heap) claim(addr Addr, n uint32) (Addr, error) {
	if !h.memory.Write(uint32(addr), make([]byte, n)) {
		return 0, fmt.Errorf("zero %v: %w", addr, ErrFault)
	}
	h.live[addr] = n
	h.logger.Debug("allocate", "addr", addr, "size", n)
	return addr, nil
}

func (h *Heap) ensure(end uint32) error {
	size := h.memory.Size()
	if end <= size {
		return nil
	}
	pages := (end - size + PageSize - 1) / PageSize
	if _, ok := h.memory.Grow(pages); !ok {
		return fmt.Errorf("grow by %d pages: %w", pages, ErrOutOfMemory)
	}
	h.logger.Debug("grow", "pages", pages, "size", h.memory.Size())
	return nil
}

// release puts s on the free list, merging it with its neighbours, and
// lowers top when the tail of the heap becomes free.
func (h *Heap) release(s span) {
	i, _ := slices.BinarySearchFunc(h.free, s.addr, func(e span, a Addr) int {
		return int(int64(e.addr) - int64(a))
	})
	h.free = slices.Insert(h.free, i, s)

	if i+1 < len(h.free) && h.free[i].addr+Addr(h.free[i].size) == h.free[i+1].addr {
		h.free[i].size += h.free[i+1].size
		h.free = slices.Delete(h.free, i+1, i+2)
	}
	if i > 0 && h.free[i-1].addr+Addr(h.free[i-1].size) == h.free[i].addr {
		h.free[i-1].size += h.free[i].size
		h.free = slices.Delete(h.free, i, i+1)
	}

	if last := len(h.free) - 1; last >= 0 {
		tail := h.free[last]
		if uint32(tail.addr)+tail.size == h.top {
			h.top = uint32(tail.addr)
			h.free = h.free[:last]
		}
	}
}

func roundUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
