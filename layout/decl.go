package layout

import (
	"fmt"
	"io"
	"sort"

	"github.com/BurntSushi/toml"
)

// FieldDecl is a declared struct member: a name and a C type name.
type FieldDecl struct {
	Name string
	Type string
}

// StructDecl is a declared native struct, in member order.
type StructDecl struct {
	Name   string
	Fields []FieldDecl
}

// Decls is the content of a struct declaration file.
type Decls struct {
	Target  string
	Structs []StructDecl // sorted by name
}

type declFile struct {
	Target  string `toml:"target"`
	Structs []struct {
		Name   string     `toml:"name"`
		Fields [][]string `toml:"fields"`
	} `toml:"struct"`
}

// ReadDecls parses a TOML struct declaration file:
//
//	target = "wasm32"
//
//	[[struct]]
//	name = "PyObject"
//	fields = [["ob_refcnt", "int"], ["ob_type", "ptr"]]
func ReadDecls(r io.Reader) (*Decls, error) {
	var f declFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode struct declarations: %w", err)
	}
	if f.Target != "" && f.Target != "wasm32" {
		return nil, fmt.Errorf("unsupported target %q", f.Target)
	}

	d := &Decls{Target: "wasm32"}
	for _, s := range f.Structs {
		if s.Name == "" {
			return nil, fmt.Errorf("struct without a name")
		}
		sd := StructDecl{Name: s.Name}
		for i, pair := range s.Fields {
			if len(pair) != 2 {
				return nil, fmt.Errorf("%s: field %d: want [name, type], got %d elements", s.Name, i, len(pair))
			}
			sd.Fields = append(sd.Fields, FieldDecl{Name: pair[0], Type: pair[1]})
		}
		d.Structs = append(d.Structs, sd)
	}
	sort.Slice(d.Structs, func(i, j int) bool { return d.Structs[i].Name < d.Structs[j].Name })
	return d, nil
}
