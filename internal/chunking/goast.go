package chunking

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// GoSymbolSource extracts top-level symbols from Go source using go/ast.
// It is an optional, richer symbol source feeding the generic symbol-driven
// chunker: a proper parser path is optional per language and must not
// change the chunk ids a regex/line pass already produced.
type GoSymbolSource struct{}

// NewGoSymbolSource creates a Go AST-backed SymbolSource.
func NewGoSymbolSource() *GoSymbolSource { return &GoSymbolSource{} }

// Symbols implements SymbolSource. It returns (nil, false) for any file
// that does not parse as Go or is not a .go file.
func (g *GoSymbolSource) Symbols(file, content string) ([]Symbol, bool) {
	if DetectLanguage(file) != "go" {
		return nil, false
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, content, parser.ParseComments)
	if err != nil {
		return nil, false
	}

	var symbols []Symbol
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := "function"
			if d.Recv != nil {
				kind = "method"
			}
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			symbols = append(symbols, Symbol{
				Name:          d.Name.Name,
				Kind:          kind,
				Line:          start,
				EndLine:       end,
				Documentation: cleanDoc(d.Doc),
			})
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					kind := "type"
					switch s.Type.(type) {
					case *ast.StructType:
						kind = "class"
					case *ast.InterfaceType:
						kind = "interface"
					}
					start := fset.Position(d.Pos()).Line
					end := fset.Position(d.End()).Line
					doc := s.Doc
					if doc == nil {
						doc = d.Doc
					}
					symbols = append(symbols, Symbol{
						Name:          s.Name.Name,
						Kind:          kind,
						Line:          start,
						EndLine:       end,
						Documentation: cleanDoc(doc),
					})
				case *ast.ValueSpec:
					kind := "variable"
					if d.Tok == token.CONST {
						kind = "constant"
					}
					start := fset.Position(d.Pos()).Line
					end := fset.Position(d.End()).Line
					for _, name := range s.Names {
						if name.Name == "_" {
							continue
						}
						symbols = append(symbols, Symbol{
							Name:          name.Name,
							Kind:          kind,
							Line:          start,
							EndLine:       end,
							Documentation: cleanDoc(d.Doc),
						})
					}
				}
			}
		}
	}

	if len(symbols) == 0 {
		return nil, false
	}
	return symbols, true
}

func cleanDoc(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
