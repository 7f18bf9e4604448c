package chunking

import (
	"sort"
	"strings"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// Symbol is a single declaration discovered by an (optional, pluggable)
// language-specific symbol source. The symbol-driven chunker only needs
// name/kind/line span/parent — it does not care how symbols were found.
type Symbol struct {
	Name          string
	Kind          string // function|method|class|interface|type|enum|namespace|module|constant|variable
	Line          int
	EndLine       int
	ParentID      string
	Documentation string
}

// chunkTypeForKind maps a symbol kind to a CodeChunk type.
func chunkTypeForKind(kind string) model.ChunkType {
	switch kind {
	case "function", "method":
		return model.ChunkFunction
	case "class":
		return model.ChunkClass
	case "interface":
		return model.ChunkInterface
	case "type", "enum":
		return model.ChunkTypeDecl
	case "namespace", "module":
		return model.ChunkModule
	case "constant", "variable":
		return model.ChunkBlock
	default:
		return model.ChunkBlock
	}
}

// ChunkBySymbols implements the symbol-driven chunking algorithm: a
// preamble chunk, one chunk per top-level symbol (with nested symbol names
// folded in), gap chunks between symbols, and a trailing chunk.
func ChunkBySymbols(projectID, file, content string, symbols []Symbol, indexedAt time.Time) []model.CodeChunk {
	lines := strings.Split(content, "\n")
	language := DetectLanguage(file)

	var topLevel []Symbol
	childrenOf := map[string][]Symbol{}

	for _, s := range symbols {
		if s.ParentID == "" {
			topLevel = append(topLevel, s)
		}
	}
	sort.Slice(topLevel, func(i, j int) bool { return topLevel[i].Line < topLevel[j].Line })

	// Nested symbols are attributed to their parent by containment (any
	// symbol whose line range falls inside a top-level symbol's range and
	// which is not itself top-level).
	for _, parent := range topLevel {
		for _, s := range symbols {
			if s.ParentID == "" {
				continue
			}
			if s.Line >= parent.Line && s.EndLine <= parent.EndLine {
				childrenOf[parent.Name] = append(childrenOf[parent.Name], s)
			}
		}
	}

	var chunks []model.CodeChunk
	emit := func(start, end int, ctype model.ChunkType, names []string, doc string) {
		if start > end {
			return
		}
		body := joinLines(lines, start, end)
		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			return
		}
		chunks = append(chunks, model.CodeChunk{
			ID:        ChunkID(projectID, file, start, end),
			ProjectID: projectID,
			File:      file,
			StartLine: start,
			EndLine:   end,
			Content:   body,
			Symbols:   names,
			ChunkType: ctype,
			Metadata: model.ChunkMetadata{
				Language:      language,
				Hash:          HashContent(body),
				Dependencies:  ExtractImports(body),
				Exports:       ExtractExports(body),
				Documentation: doc,
			},
			IndexedAt: indexedAt,
		})
	}

	if len(topLevel) == 0 {
		return chunks
	}

	// Preamble: content before the first symbol.
	if topLevel[0].Line > 1 {
		preamble := joinLines(lines, 1, topLevel[0].Line-1)
		if strings.TrimSpace(preamble) != "" {
			names := ExtractImports(preamble)
			emit(1, topLevel[0].Line-1, model.ChunkModule, names, "")
		}
	}

	for i, sym := range topLevel {
		names := []string{sym.Name}
		for _, child := range childrenOf[sym.Name] {
			names = append(names, child.Name)
		}
		emit(sym.Line, sym.EndLine, chunkTypeForKind(sym.Kind), names, sym.Documentation)

		// Gap chunk between this symbol and the next.
		var nextStart int
		if i+1 < len(topLevel) {
			nextStart = topLevel[i+1].Line
		} else {
			nextStart = len(lines) + 1
		}
		gapStart := sym.EndLine + 1
		gapEnd := nextStart - 1
		if gapStart <= gapEnd {
			gap := joinLines(lines, gapStart, gapEnd)
			if strings.TrimSpace(gap) != "" {
				emit(gapStart, gapEnd, model.ChunkBlock, nil, "")
			}
		}
	}

	// Trailing content after the last symbol is already covered: the loop
	// above treats "no next symbol" as nextStart = len(lines)+1, so the
	// final gap chunk already spans to end of file.

	return chunks
}

func joinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
