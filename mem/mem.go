// Package mem provides the native address space the bridge lays its structs
// out in, and the allocators that carve blocks out of it.
package mem

import (
	"bytes"
	"errors"
	"fmt"
)

// Addr is an offset into native linear memory. Zero is the null address and
// is never returned by an allocator.
type Addr uint32

func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint32(a))
}

// PtrSize is the width of a native pointer.
const PtrSize = 4

var (
	// ErrFault is returned when an access falls outside linear memory.
	ErrFault = errors.New("mem: address out of range")

	// ErrOutOfMemory is returned when the heap cannot grow any further.
	ErrOutOfMemory = errors.New("mem: out of memory")
)

// Memory is the byte-addressable view of native memory.
// wazero's api.Memory satisfies it.
type Memory interface {
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Allocator hands out zero-initialized blocks of native memory.
//
// An address returned by Allocate is never live twice at the same time.
// Freeing an address twice is a caller error.
type Allocator interface {
	Allocate(size uint32) (Addr, error)
	Free(addr Addr)
}

// LoadPtr reads the pointer stored at addr.
func LoadPtr(m Memory, addr Addr) (Addr, error) {
	v, ok := m.ReadUint32Le(uint32(addr))
	if !ok {
		return 0, fmt.Errorf("load %v: %w", addr, ErrFault)
	}
	return Addr(v), nil
}

// StorePtr writes v at addr.
func StorePtr(m Memory, addr, v Addr) error {
	if !m.WriteUint32Le(uint32(addr), uint32(v)) {
		return fmt.Errorf("store %v: %w", addr, ErrFault)
	}
	return nil
}

// Copy copies n bytes from src to dst. The ranges must not overlap.
func Copy(m Memory, dst, src Addr, n uint32) error {
	if n == 0 {
		return nil
	}
	data, ok := m.Read(uint32(src), n)
	if !ok {
		return fmt.Errorf("copy from %v: %w", src, ErrFault)
	}
	if !m.Write(uint32(dst), bytes.Clone(data)) {
		return fmt.Errorf("copy to %v: %w", dst, ErrFault)
	}
	return nil
}
