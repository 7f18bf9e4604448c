package chunking

import (
	"strings"
	"time"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// LineChunkConfig configures the line-based fallback chunker.
type LineChunkConfig struct {
	MaxChunkSize       int // tokens
	MinChunkSize       int // tokens
	OverlapSize        int // tokens
	PreserveBoundaries bool
}

// DefaultLineChunkConfig returns the package's default chunking config.
func DefaultLineChunkConfig() LineChunkConfig {
	return LineChunkConfig{
		MaxChunkSize:       1000,
		MinChunkSize:       50,
		OverlapSize:        50,
		PreserveBoundaries: true,
	}
}

// estimateTokensLocal uses the same chars/4 contract as the budget package, but
// is duplicated here as a local, dependency-free helper so the chunker does
// not need to import the budget package for a single arithmetic op.
func estimateTokensLocal(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// ChunkByLines splits content into line windows when no symbol list is
// available: windows sized from an estimated average tokens-per-line,
// boundary search backward up to 10 lines, and overlap between
// consecutive windows.
func ChunkByLines(projectID, file, content string, cfg LineChunkConfig, indexedAt time.Time) []model.CodeChunk {
	lines := strings.Split(content, "\n")
	totalLines := len(lines)
	if totalLines == 0 {
		return nil
	}

	avgTokensPerLine := estimateTokensLocal(content) / totalLines
	if avgTokensPerLine < 1 {
		avgTokensPerLine = 1
	}
	linesPerChunk := cfg.MaxChunkSize / avgTokensPerLine
	if linesPerChunk < 10 {
		linesPerChunk = 10
	}

	language := DetectLanguage(file)

	var chunks []model.CodeChunk
	start := 1
	for start <= totalLines {
		end := start + linesPerChunk - 1
		if end > totalLines {
			end = totalLines
		}

		if cfg.PreserveBoundaries && end < totalLines {
			end = searchBoundary(lines, end, 10)
		}

		body := joinLines(lines, start, end)
		isFinal := end >= totalLines
		if estimateTokensLocal(body) >= cfg.MinChunkSize || isFinal {
			chunks = append(chunks, model.CodeChunk{
				ID:        ChunkID(projectID, file, start, end),
				ProjectID: projectID,
				File:      file,
				StartLine: start,
				EndLine:   end,
				Content:   body,
				ChunkType: model.ChunkBlock,
				Metadata: model.ChunkMetadata{
					Language:     language,
					Hash:         HashContent(body),
					Dependencies: ExtractImports(body),
					Exports:      ExtractExports(body),
				},
				IndexedAt: indexedAt,
			})
		}

		if isFinal {
			break
		}

		overlapLines := cfg.OverlapSize / avgTokensPerLine
		next := end - overlapLines + 1
		if next <= start {
			next = end + 1
		}
		start = next
	}

	return chunks
}

// searchBoundary looks up to back lines before end for a line whose
// trimmed content is "}", "};", ends with "}", or is blank, preferring the
// closest such line to end. If none is found, end is returned unchanged.
func searchBoundary(lines []string, end, back int) int {
	limit := end - back
	if limit < 1 {
		limit = 1
	}
	for i := end; i >= limit; i-- {
		trimmed := strings.TrimSpace(lines[i-1])
		if trimmed == "}" || trimmed == "};" || strings.HasSuffix(trimmed, "}") || trimmed == "" {
			return i
		}
	}
	return end
}
