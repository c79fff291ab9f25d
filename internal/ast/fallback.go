//go:build !cgo

package ast

import (
	"context"
	"log/slog"
)

// fallbackParser is used when tree-sitter is not compiled in. It supports no
// language, so callers fall back to word chunking.
type fallbackParser struct{}

func NewParser() Parser {
	slog.Warn("Tree-Sitter not available (CGO disabled), using fallback parser")
	return &fallbackParser{}
}

func (p *fallbackParser) Parse(_ context.Context, _ []byte, _ string) (*Node, error) {
	return nil, ErrUnsupported
}

func (p *fallbackParser) Chunk(_ context.Context, _ []byte, _ string) ([]Chunk, error) {
	return nil, ErrUnsupported
}

func (p *fallbackParser) SupportsLanguage(string) bool {
	return false
}
