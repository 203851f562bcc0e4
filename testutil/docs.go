package testutil

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// AssertDocumented fails t when an exported function, method or type in the
// non-test files of dir has no doc comment.
func AssertDocumented(t testing.TB, dir string) {
	t.Helper()
	missing, err := UndocumentedExports(dir)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(missing) > 0 {
		t.Fatalf("undocumented exports in %s:\n%s", dir, strings.Join(missing, "\n"))
	}
}

// UndocumentedExports lists "name (in file)" for every exported declaration of
// dir without a doc comment, sorted. Methods count only on exported receivers.
func UndocumentedExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var missing []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if !d.Name.IsExported() || d.Doc != nil {
					continue
				}
				label := d.Name.Name
				if d.Recv != nil {
					recv := receiverName(d.Recv)
					if !ast.IsExported(recv) {
						continue
					}
					label = recv + "." + label
				}
				missing = append(missing, label+" (in "+name+")")
			case *ast.GenDecl:
				if d.Tok != token.TYPE {
					continue
				}
				for _, spec := range d.Specs {
					ts := spec.(*ast.TypeSpec)
					if ts.Name.IsExported() && ts.Doc == nil && d.Doc == nil {
						missing = append(missing, ts.Name.Name+" (in "+name+")")
					}
				}
			}
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func receiverName(recv *ast.FieldList) string {
	if len(recv.List) == 0 {
		return ""
	}
	expr := recv.List[0].Type
	for {
		switch x := expr.(type) {
		case *ast.StarExpr:
			expr = x.X
		case *ast.IndexExpr:
			expr = x.X
		case *ast.IndexListExpr:
			expr = x.X
		case *ast.Ident:
			return x.Name
		default:
			return ""
		}
	}
}
