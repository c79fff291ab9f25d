package ast

import (
	"context"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", LangGo},
		{"src/App.TSX", LangTypeScript},
		{"lib/util.py", LangPython},
		{"docs/guide.md", LangMarkdown},
		{"notes.txt", LangText},
		{"README", LangText},
		{"Dockerfile", "dockerfile"},
		{"image.png", LangUnknown},
	}

	for _, tt := range tests {
		if got := DetectLanguage(tt.path); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCollect(t *testing.T) {
	content := []byte("package x\n\nfunc A() {}\n")
	root := &Node{
		Type: "source_file",
		Children: []*Node{
			{Type: "package_clause", StartByte: 0, EndByte: 9},
			{
				Type: "function_declaration", StartByte: 11, EndByte: 22, StartLine: 2, EndLine: 2,
				Children: []*Node{{Type: "function_declaration", StartByte: 11, EndByte: 12}},
			},
			{Type: "function_declaration", StartByte: 11, EndByte: 99},
		},
	}

	chunks := collect(root, content, LangGo, nil)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].Content != "func A() {}" || chunks[0].StartLine != 3 || chunks[0].EndLine != 3 {
		t.Errorf("chunk = %+v", chunks[0])
	}
}

func TestParser_ChunkGo(t *testing.T) {
	parser := NewParser()
	if !parser.SupportsLanguage(LangGo) {
		t.Skip("Go language not supported by parser")
	}

	code := []byte(`package main

// Hello greets.
func Hello() {
	println("hi")
}

type Greeter struct{}

func (Greeter) Greet() {}
`)

	chunks, err := parser.Chunk(context.Background(), code, LangGo)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	want := []struct {
		nodeType  string
		startLine int
	}{
		{"function_declaration", 4},
		{"type_declaration", 8},
		{"method_declaration", 10},
	}
	if len(chunks) != len(want) {
		t.Fatalf("len(chunks) = %d, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].NodeType != w.nodeType || chunks[i].StartLine != w.startLine {
			t.Errorf("chunks[%d] = %s@%d, want %s@%d", i, chunks[i].NodeType, chunks[i].StartLine, w.nodeType, w.startLine)
		}
	}
}

func TestParser_Unsupported(t *testing.T) {
	parser := NewParser()
	if parser.SupportsLanguage("cobol") {
		t.Error("SupportsLanguage(cobol) = true")
	}
	if _, err := parser.Chunk(context.Background(), []byte("x"), "cobol"); err == nil {
		t.Error("Chunk(cobol) should fail")
	}
}
