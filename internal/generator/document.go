package generator

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/ricesearch/rice-eval/internal/ast"
	"github.com/ricesearch/rice-eval/internal/pkg/hash"
)

// MaxDocumentSize is the largest file LoadDocuments reads.
const MaxDocumentSize = 1 << 20

// Document is a source text questions are generated from.
type Document struct {
	// ID is the slash separated path relative to the loaded root.
	ID       string `json:"id"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// NewDocument creates a document, detecting its language from id.
func NewDocument(id, text string) Document {
	return Document{
		ID:       id,
		Path:     id,
		Language: ast.DetectLanguage(id),
		Text:     text,
	}
}

// Hash identifies the document by path and content.
func (d Document) Hash() string {
	return hash.DocumentID(d.ID, d.Text)
}

// LoadDocuments walks root and returns every text file in lexical path
// order, honoring .gitignore and .riceignore. Files of unknown type, binary
// files and files over MaxDocumentSize are skipped.
func LoadDocuments(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat docs root: %w", err)
	}
	if !info.IsDir() {
		doc, ok, err := readDocument(root, filepath.Base(root))
		if err != nil || !ok {
			return nil, err
		}
		return []Document{doc}, nil
	}

	filter, err := NewIgnoreFilter(root)
	if err != nil {
		return nil, fmt.Errorf("load ignore files: %w", err)
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if filter.ShouldIgnore(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		doc, ok, err := readDocument(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return docs, nil
}

func readDocument(path, id string) (Document, bool, error) {
	if ast.DetectLanguage(id) == ast.LangUnknown {
		return Document{}, false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, false, err
	}
	if info.Size() > MaxDocumentSize {
		return Document{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, false, err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return Document{}, false, nil
	}

	doc := NewDocument(id, string(data))
	doc.Path = path
	return doc, true, nil
}
