package generator

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ricesearch/rice-eval/internal/ast"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadDocuments(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":               "secret/\n# comment\n*.tmp.md\n",
		".riceignore":              "drafts\n",
		"README.md":                "# Project",
		"docs/guide.md":            "Install it.",
		"docs/notes.tmp.md":        "scratch",
		"drafts/idea.txt":          "later",
		"secret/keys.txt":          "hunter2",
		"node_modules/pkg/main.js": "module.exports = 1",
		"src/main.go":              "package main",
		"image.png":                "\x89PNG",
		"data.txt":                 "nul\x00byte",
		"empty.txt":                "",
	})

	docs, err := LoadDocuments(root)
	if err != nil {
		t.Fatalf("LoadDocuments() error = %v", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	want := []string{"README.md", "docs/guide.md", "empty.txt", "src/main.go"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	for _, d := range docs {
		if d.ID == "src/main.go" && (d.Language != ast.LangGo || d.Text != "package main") {
			t.Errorf("doc = %+v", d)
		}
	}
}

func TestLoadDocuments_SingleFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"faq.md": "Q and A"})

	docs, err := LoadDocuments(filepath.Join(root, "faq.md"))
	if err != nil {
		t.Fatalf("LoadDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "faq.md" || docs[0].Language != ast.LangMarkdown {
		t.Errorf("docs = %+v", docs)
	}

	if _, err := LoadDocuments(filepath.Join(root, "missing")); err == nil {
		t.Error("LoadDocuments() should fail for a missing root")
	}
}

func TestIgnoreFilter(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{".gitignore": "*.gen.go\n!keep.gen.go\n"})

	f, err := NewIgnoreFilter(root)
	if err != nil {
		t.Fatalf("NewIgnoreFilter() error = %v", err)
	}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"main.go", false, false},
		{"api.gen.go", false, true},
		{"keep.gen.go", false, false},
		{".git", true, true},
		{"web/node_modules", true, true},
		{"app.log", false, true},
	}
	for _, tt := range tests {
		if got := f.ShouldIgnore(filepath.Join(root, tt.path), tt.isDir); got != tt.want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if f.ShouldIgnore(root, true) {
		t.Error("root itself must not be ignored")
	}
}

func TestDocumentHash(t *testing.T) {
	a := NewDocument("a.md", "x")
	if a.Hash() != NewDocument("a.md", "x").Hash() {
		t.Error("Hash() not deterministic")
	}
	if a.Hash() == NewDocument("b.md", "x").Hash() {
		t.Error("Hash() ignores the path")
	}
}
