// Package ast splits source files at declaration boundaries so generated
// questions target one function or type at a time.
package ast

import (
	"context"
	"errors"
)

// ErrUnsupported is returned for languages without a grammar.
var ErrUnsupported = errors.New("language not supported")

// Node represents a parsed AST node
type Node struct {
	Type      string // function_declaration, class_declaration, etc.
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int
	Children  []*Node
}

// Chunk is a top-level declaration of a source file.
type Chunk struct {
	Content   string
	StartLine int // 1-based
	EndLine   int
	NodeType  string
	Language  string
}

// Parser extracts declarations from source code.
type Parser interface {
	// Parse returns the AST root node.
	Parse(ctx context.Context, content []byte, language string) (*Node, error)

	// Chunk returns the declarations of content in source order. A file
	// without declarations yields no chunks and no error.
	Chunk(ctx context.Context, content []byte, language string) ([]Chunk, error)

	// SupportsLanguage reports whether a grammar is available.
	SupportsLanguage(language string) bool
}

// chunkable holds the node types emitted as chunks, across grammars.
var chunkable = map[string]bool{
	// Go
	"function_declaration": true,
	"method_declaration":   true,
	"type_declaration":     true,
	// Python
	"function_definition": true,
	"class_definition":    true,
	// TypeScript, JavaScript, Java
	"class_declaration":     true,
	"interface_declaration": true,
	"method_definition":     true,
	// Rust
	"function_item": true,
	"impl_item":     true,
	"struct_item":   true,
	"enum_item":     true,
	"trait_item":    true,
}

// collect walks n and appends every outermost chunkable node.
func collect(n *Node, content []byte, language string, chunks []Chunk) []Chunk {
	if chunkable[n.Type] {
		if n.EndByte > len(content) || n.StartByte > n.EndByte {
			return chunks
		}
		return append(chunks, Chunk{
			Content:   string(content[n.StartByte:n.EndByte]),
			StartLine: n.StartLine + 1, // 0-indexed to 1-indexed
			EndLine:   n.EndLine + 1,
			NodeType:  n.Type,
			Language:  language,
		})
	}
	for _, child := range n.Children {
		chunks = collect(child, content, language, chunks)
	}
	return chunks
}
