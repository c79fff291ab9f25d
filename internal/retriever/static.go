package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	pkgctx "github.com/ricesearch/rice-eval/internal/pkg/context"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Static replays a precomputed run: a JSON object mapping query ids or query
// texts to ranked document ids.
type Static struct {
	byID      map[string][]string
	byText    map[string][]string
	// ambiguous holds texts shared by id entries with different rankings.
	ambiguous map[string]bool
	entries   int
}

// NewStatic creates a static retriever from run. Keys that are ids in queries
// (id to text) are looked up by the query id in the request context; any
// other key is taken to be the query text itself.
func NewStatic(run map[string][]string, queries map[string]string) *Static {
	s := &Static{
		byID:      make(map[string][]string),
		byText:    make(map[string][]string, len(run)),
		ambiguous: make(map[string]bool),
		entries:   len(run),
	}
	for key, ids := range run {
		if _, isID := queries[key]; !isID {
			s.byText[key] = ids
		}
	}

	// Id entries keep text lookups working for callers without a query id.
	// An id key for the same text wins over a text key.
	fromID := make(map[string][]string)
	for key, ids := range run {
		text, isID := queries[key]
		if !isID {
			continue
		}
		s.byID[key] = ids
		if prev, seen := fromID[text]; seen && !slices.Equal(prev, ids) {
			s.ambiguous[text] = true
		}
		fromID[text] = ids
	}
	for text, ids := range fromID {
		if !s.ambiguous[text] {
			s.byText[text] = ids
		}
	}
	return s
}

// LoadStatic reads a run file.
func LoadStatic(path string, queries map[string]string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}

	var run map[string][]string
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run file %s: %w", path, err)
	}
	return NewStatic(run, queries), nil
}

// Retrieve implements evaluation.Retriever. The query id from ctx selects the
// run entry when present, so queries sharing a text keep their own rankings.
// A query missing from the run is a NOT_FOUND error.
func (s *Static) Retrieve(ctx context.Context, query string) ([]string, error) {
	ids, ok := s.byID[pkgctx.QueryID(ctx)]
	if !ok {
		if s.ambiguous[query] {
			return nil, apperrors.ValidationError(fmt.Sprintf("run has several entries for query %q, a query id is required", query))
		}
		ids, ok = s.byText[query]
	}
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("run entry for query %q", query))
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// Len returns the number of entries in the run.
func (s *Static) Len() int {
	return s.entries
}
