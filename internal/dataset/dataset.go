// Package dataset holds the query/ground-truth collections consumed by the
// evaluation engine.
package dataset

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Dataset maps query ids to query text and to the ids of the documents that
// are relevant for that query. Corpus optionally carries the document text.
//
// Queries are iterated in insertion order when built with Add, and in file
// order when decoded from JSON. Entries added directly to the maps follow
// the ordered ones, sorted by id.
type Dataset struct {
	Queries      map[string]string
	RelevantDocs map[string][]string
	Corpus       map[string]string

	order       []string
	corpusOrder []string
}

// Entry is a single query of a dataset together with its ground truth.
type Entry struct {
	ID       string
	Query    string
	Expected []string
}

// New creates an empty dataset.
func New() *Dataset {
	return &Dataset{
		Queries:      make(map[string]string),
		RelevantDocs: make(map[string][]string),
		Corpus:       make(map[string]string),
	}
}

func (d *Dataset) init() {
	if d.Queries == nil {
		d.Queries = make(map[string]string)
	}
	if d.RelevantDocs == nil {
		d.RelevantDocs = make(map[string][]string)
	}
	if d.Corpus == nil {
		d.Corpus = make(map[string]string)
	}
}

// Add registers a query and its relevant document ids. Re-adding an id
// replaces its content but keeps its original position.
func (d *Dataset) Add(id, query string, relevant []string) {
	d.init()
	if _, exists := d.Queries[id]; !exists {
		d.order = append(d.order, id)
	}
	d.Queries[id] = query
	d.RelevantDocs[id] = append([]string(nil), relevant...)
}

// AddDocument registers corpus text for a document id.
func (d *Dataset) AddDocument(id, text string) {
	d.init()
	if _, exists := d.Corpus[id]; !exists {
		d.corpusOrder = append(d.corpusOrder, id)
	}
	d.Corpus[id] = text
}

// Len returns the number of queries.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Queries)
}

// QueryIDs returns query ids in iteration order.
func (d *Dataset) QueryIDs() []string {
	if d == nil {
		return nil
	}
	return orderedKeys(d.order, d.Queries)
}

// DocumentIDs returns corpus ids in iteration order.
func (d *Dataset) DocumentIDs() []string {
	if d == nil {
		return nil
	}
	return orderedKeys(d.corpusOrder, d.Corpus)
}

// Entries returns every query with its expected ids, in iteration order.
func (d *Dataset) Entries() []Entry {
	ids := d.QueryIDs()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{
			ID:       id,
			Query:    d.Queries[id],
			Expected: d.RelevantDocs[id],
		})
	}
	return entries
}

// Validate checks that every query has ground truth and vice versa.
func (d *Dataset) Validate() error {
	if d == nil {
		return apperrors.ValidationError("dataset is nil")
	}

	var errs []string
	for _, id := range d.QueryIDs() {
		if _, ok := d.RelevantDocs[id]; !ok {
			errs = append(errs, fmt.Sprintf("query %q has no relevant_docs entry", id))
		}
		if strings.TrimSpace(d.Queries[id]) == "" {
			errs = append(errs, fmt.Sprintf("query %q is empty", id))
		}
	}
	for _, id := range sortedKeys(d.RelevantDocs) {
		if _, ok := d.Queries[id]; !ok {
			errs = append(errs, fmt.Sprintf("relevant_docs %q has no query", id))
		}
	}

	if len(errs) > 0 {
		return apperrors.ValidationError("invalid dataset: " + strings.Join(errs, "; "))
	}
	return nil
}

func orderedKeys[V any](order []string, m map[string]V) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if _, ok := m[id]; ok && !seen[id] {
			keys = append(keys, id)
			seen[id] = true
		}
	}
	if len(keys) == len(m) {
		return keys
	}

	var rest []string
	for id := range m {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
