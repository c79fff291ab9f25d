//go:build cgo

package ast

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// treeSitterParser caches one parser per language. A sitter.Parser is not
// safe for concurrent use, so mu is held for the whole parse.
type treeSitterParser struct {
	parsers map[string]*sitter.Parser
	mu      sync.Mutex
}

func NewParser() Parser {
	return &treeSitterParser{
		parsers: make(map[string]*sitter.Parser),
	}
}

func grammar(language string) *sitter.Language {
	switch language {
	case LangGo:
		return golang.GetLanguage()
	case LangPython:
		return python.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangJavaScript:
		return javascript.GetLanguage()
	case LangJava:
		return java.GetLanguage()
	case LangRust:
		return rust.GetLanguage()
	default:
		return nil
	}
}

// getParser must be called with mu held.
func (p *treeSitterParser) getParser(language string) *sitter.Parser {
	if parser, ok := p.parsers[language]; ok {
		return parser
	}

	lang := grammar(language)
	if lang == nil {
		return nil
	}
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	p.parsers[language] = parser
	return parser
}

func (p *treeSitterParser) Parse(ctx context.Context, content []byte, language string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	parser := p.getParser(language)
	if parser == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, language)
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("failed to parse content")
	}

	return convertNode(root), nil
}

func convertNode(n *sitter.Node) *Node {
	node := &Node{
		Type:      n.Type(),
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartLine: int(n.StartPoint().Row),
		EndLine:   int(n.EndPoint().Row),
	}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

func (p *treeSitterParser) Chunk(ctx context.Context, content []byte, language string) ([]Chunk, error) {
	node, err := p.Parse(ctx, content, language)
	if err != nil {
		return nil, err
	}
	return collect(node, content, language, nil), nil
}

func (p *treeSitterParser) SupportsLanguage(language string) bool {
	return grammar(language) != nil
}
