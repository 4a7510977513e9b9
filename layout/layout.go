// Package layout describes the native struct layouts the bridge reads and
// writes. The tables in zz_generated.go are produced by cmd/structgen from
// structs.toml and must not be edited by hand.
package layout

//go:generate go run ../cmd/structgen -in structs.toml -out zz_generated.go

import "github.com/feather-lang/refbridge/mem"

// PtrSize is the width of a pointer field.
const PtrSize = mem.PtrSize

// Kind is the scalar type of a field on the wasm32 target.
type Kind uint8

const (
	Int Kind = iota
	Long
	Ssize
	Ptr
	Char
)

var kindNames = [...]string{Int: "int", Long: "long", Ssize: "ssize", Ptr: "ptr", Char: "char"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Size is the width of the kind in bytes. Every kind is naturally aligned.
func (k Kind) Size() uint32 {
	if k == Char {
		return 1
	}
	return 4
}

// ParseKind maps a declared field type to its kind. Unrecognized types are
// function-pointer typedefs in every header seen so far and map to Ptr.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return Kind(k)
		}
	}
	return Ptr
}

// Field is one member of a native struct.
type Field struct {
	Name   string
	Kind   Kind
	Offset uint32
}

// Struct is the layout of one native struct.
type Struct struct {
	Name   string
	Size   uint32
	Fields []Field
}

// Field looks up a member by name.
func (s *Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Offset returns the offset of a member. It panics if there is no such
// member; callers pass field names known at compile time.
func (s *Struct) Offset(name string) uint32 {
	f, ok := s.Field(name)
	if !ok {
		panic("layout: " + s.Name + " has no field " + name)
	}
	return f.Offset
}

// Compute lays out a declaration with natural alignment, padding the total
// size to the widest member.
func Compute(d StructDecl) *Struct {
	s := &Struct{Name: d.Name, Fields: make([]Field, 0, len(d.Fields))}
	var off, widest uint32 = 0, 1
	for _, fd := range d.Fields {
		k := ParseKind(fd.Type)
		size := k.Size()
		off = alignUp(off, size)
		s.Fields = append(s.Fields, Field{Name: fd.Name, Kind: k, Offset: off})
		off += size
		widest = max(widest, size)
	}
	s.Size = alignUp(off, widest)
	return s
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
