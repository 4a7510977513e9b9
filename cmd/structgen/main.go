// Command structgen turns native struct declarations into the offset tables
// of package layout.
//
// Usage:
//
//	structgen -in structs.toml -out zz_generated.go
package main

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/spf13/pflag"

	"github.com/feather-lang/refbridge/layout"
)

var tmpl = template.Must(template.New("layout").Funcs(template.FuncMap{
	"kindIdent": func(k layout.Kind) string { return kindIdents[k] },
}).Parse(`// Code generated by structgen; DO NOT EDIT.
{{- range .Badge}}
// {{.}}
{{- end}}

package {{.Package}}

// Target is the ABI the tables below describe.
const Target = {{printf "%q" .Target}}
{{range .Structs}}
// {{.Name}} is the layout of the native {{.Name}} struct.
var {{.Name}} = &Struct{
	Name: {{printf "%q" .Name}},
	Size: {{.Size}},
	Fields: []Field{
	{{- range .Fields}}
		{Name: {{printf "%q" .Name}}, Kind: {{kindIdent .Kind}}, Offset: {{.Offset}}},
	{{- end}}
	},
}
{{end}}
// All lists every generated layout, sorted by name.
var All = []*Struct{ {{- range $i, $s := .Structs}}{{if $i}}, {{end}}{{$s.Name}}{{end -}} }
`))

var kindIdents = map[layout.Kind]string{
	layout.Int:   "Int",
	layout.Long:  "Long",
	layout.Ssize: "Ssize",
	layout.Ptr:   "Ptr",
	layout.Char:  "Char",
}

type data struct {
	Badge   []string
	Package string
	Target  string
	Structs []*layout.Struct
}

// badge is the provenance header written below the generated-code marker.
func badge(args []string) []string {
	return []string{
		"This file was generated by running the following command:",
		"  structgen " + strings.Join(args, " "),
	}
}

// generate reads declarations from r and returns formatted Go source.
func generate(r io.Reader, pkg string, args []string) ([]byte, error) {
	decls, err := layout.ReadDecls(r)
	if err != nil {
		return nil, err
	}
	d := data{Badge: badge(args), Package: pkg, Target: decls.Target}
	for _, sd := range decls.Structs {
		d.Structs = append(d.Structs, layout.Compute(sd))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return nil, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w\n%s", err, buf.Bytes())
	}
	return src, nil
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("structgen", pflag.ContinueOnError)
	in := fs.StringP("in", "i", "structs.toml", "struct declaration file")
	out := fs.StringP("out", "o", "", "output file (default stdout)")
	pkg := fs.String("package", "layout", "package name of the generated file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	src, err := generate(f, *pkg, args)
	if err != nil {
		return fmt.Errorf("%s: %w", *in, err)
	}
	if *out == "" {
		_, err = stdout.Write(src)
		return err
	}
	return os.WriteFile(*out, src, 0o644)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "structgen: %v\n", err)
		os.Exit(1)
	}
}
