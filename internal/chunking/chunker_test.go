package chunking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"a.go":   "go",
		"a.ts":   "typescript",
		"a.tsx":  "typescript",
		"a.py":   "python",
		"a.rb":   "ruby",
		"a.rs":   "rust",
		"a.java": "java",
		"a.c":    "c",
		"a.cpp":  "cpp",
		"a.json": "json",
		"a.md":   "markdown",
		"a.css":  "css",
		"a.html": "html",
		"a.xyz":  "unknown",
	}
	for file, want := range cases {
		assert.Equal(t, want, DetectLanguage(file), file)
	}
}

func TestHashContentDeterministic(t *testing.T) {
	h1 := HashContent("package main\n")
	h2 := HashContent("package main\n")
	require.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashContent("package other\n"))
}

func TestChunkIDStableForSameLocation(t *testing.T) {
	id1 := ChunkID("proj", "a.go", 1, 10)
	id2 := ChunkID("proj", "a.go", 1, 10)
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, ChunkID("proj", "a.go", 1, 11))
	assert.NotEqual(t, id1, ChunkID("proj", "b.go", 1, 10))
}

func TestChunkByLinesSmallFileSingleChunk(t *testing.T) {
	content := "line1\nline2\nline3\n"
	chunks := ChunkByLines("proj", "a.txt", content, DefaultLineChunkConfig(), fixedTime())
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestChunkByLinesRespectsOverlapAndBoundaries(t *testing.T) {
	var lines []string
	for i := 0; i < 400; i++ {
		if i%20 == 19 {
			lines = append(lines, "}")
		} else {
			lines = append(lines, "    x := 1 // padding padding padding padding padding")
		}
	}
	content := joinLines(lines, 1, len(lines))
	cfg := LineChunkConfig{MaxChunkSize: 200, MinChunkSize: 10, OverlapSize: 20, PreserveBoundaries: true}
	chunks := ChunkByLines("proj", "a.go", content, cfg, fixedTime())
	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1, "windows should overlap or be contiguous")
	}
	assert.Equal(t, len(lines), chunks[len(chunks)-1].EndLine)
}

func TestChunkBySymbolsEmitsPreambleSymbolAndGap(t *testing.T) {
	content := `package main

import "fmt"

func Hello() {
	fmt.Println("hi")
}

const x = 1

func World() {
	fmt.Println("world")
}
`
	symbols := []Symbol{
		{Name: "Hello", Kind: "function", Line: 5, EndLine: 7},
		{Name: "World", Kind: "function", Line: 11, EndLine: 13},
	}
	chunks := ChunkBySymbols("proj", "a.go", content, symbols, fixedTime())
	require.NotEmpty(t, chunks)

	var sawPreamble, sawHello, sawGap, sawWorld bool
	for _, c := range chunks {
		switch {
		case c.ChunkType == "module" && c.StartLine == 1:
			sawPreamble = true
		case c.ChunkType == "function" && contains(c.Symbols, "Hello"):
			sawHello = true
		case c.ChunkType == "function" && contains(c.Symbols, "World"):
			sawWorld = true
		case c.ChunkType == "block" && c.StartLine == 8:
			sawGap = true
		}
	}
	assert.True(t, sawPreamble)
	assert.True(t, sawHello)
	assert.True(t, sawGap)
	assert.True(t, sawWorld)
}

func TestGoSymbolSourceExtractsTopLevelDecls(t *testing.T) {
	src := `package demo

// Greeter says hello.
type Greeter struct{}

// Greet returns a greeting.
func (g *Greeter) Greet() string {
	return "hi"
}

const Max = 10
`
	src2, ok := NewGoSymbolSource().Symbols("demo.go", src)
	require.True(t, ok)
	names := map[string]string{}
	for _, s := range src2 {
		names[s.Name] = s.Kind
	}
	assert.Equal(t, "class", names["Greeter"])
	assert.Equal(t, "method", names["Greet"])
	assert.Equal(t, "constant", names["Max"])
}

func TestExtractImportsAndExports(t *testing.T) {
	content := `import { a, b as c } from "./mod";
const x = require("other");
export { a, b as c };
export default function Foo() {}
`
	imports := ExtractImports(content)
	assert.Contains(t, imports, "./mod")
	assert.Contains(t, imports, "other")

	exports := ExtractExports(content)
	assert.Contains(t, exports, "a")
	assert.Contains(t, exports, "c")
	assert.Contains(t, exports, "default")
}

func TestComplexityCountsBranches(t *testing.T) {
	content := "if a { } else if b { } for {} while(x) {} a && b || c"
	c := Complexity(content)
	assert.Greater(t, c, 1)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
