package generator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ricesearch/rice-eval/internal/ast"
)

// Chunk is the unit a question batch is generated from. Its ID becomes the
// relevant document id of every question generated from it.
type Chunk struct {
	// ID is "path:start-end", the span id used by the search API.
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Text       string `json:"text"`
}

// Chunker splits documents into chunks of roughly Size words. Source files in
// a language the parser supports are first split at declarations.
type Chunker struct {
	size    int
	overlap int
	parser  ast.Parser
}

// NewChunker creates a chunker. parser may be nil to disable declaration
// splitting.
func NewChunker(size, overlap int, parser ast.Parser) *Chunker {
	if size < 1 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap, parser: parser}
}

// Chunk splits doc. Blank documents produce no chunks.
func (c *Chunker) Chunk(ctx context.Context, doc Document) []Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	var chunks []Chunk
	if c.parser != nil && c.parser.SupportsLanguage(doc.Language) {
		decls, err := c.parser.Chunk(ctx, []byte(doc.Text), doc.Language)
		if err == nil {
			for _, d := range decls {
				chunks = append(chunks, c.chunkWords(doc.ID, d.Content, d.StartLine)...)
			}
		}
	}
	if len(chunks) == 0 {
		chunks = c.chunkWords(doc.ID, doc.Text, 1)
	}

	// Windows over a single very long line share a span.
	seen := make(map[string]int, len(chunks))
	for i := range chunks {
		id := chunks[i].ID
		if n := seen[id]; n > 0 {
			chunks[i].ID = fmt.Sprintf("%s#%d", id, n)
		}
		seen[id]++
	}
	return chunks
}

// word is the byte range and line of one whitespace separated word.
type word struct {
	start, end int
	line       int
}

func splitWords(text string, firstLine int) []word {
	var words []word
	line := firstLine
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{start: start, end: i, line: line})
				start = -1
			}
			if r == '\n' {
				line++
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{start: start, end: len(text), line: line})
	}
	return words
}

// chunkWords slides a window of c.size words over text, advancing by
// c.size - c.overlap. Chunk text is the original slice, so formatting within
// a chunk is kept.
func (c *Chunker) chunkWords(docID, text string, firstLine int) []Chunk {
	words := splitWords(text, firstLine)
	if len(words) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := min(start+c.size, len(words))
		first, last := words[start], words[end-1]
		chunks = append(chunks, Chunk{
			ID:         fmt.Sprintf("%s:%d-%d", docID, first.line, last.line),
			DocumentID: docID,
			StartLine:  first.line,
			EndLine:    last.line,
			Text:       text[first.start:last.end],
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
