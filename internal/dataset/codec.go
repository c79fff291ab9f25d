package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MarshalJSON encodes the dataset with keys in iteration order.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"queries":`)
	if err := writeObject(&buf, d.QueryIDs(), func(id string) any { return d.Queries[id] }); err != nil {
		return nil, err
	}
	buf.WriteString(`,"corpus":`)
	if err := writeObject(&buf, d.DocumentIDs(), func(id string) any { return d.Corpus[id] }); err != nil {
		return nil, err
	}
	buf.WriteString(`,"relevant_docs":`)
	if err := writeObject(&buf, d.QueryIDs(), func(id string) any {
		if ids := d.RelevantDocs[id]; ids != nil {
			return ids
		}
		return []string{}
	}); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a dataset, remembering the order of query and
// corpus keys as they appear in the input.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	*d = Dataset{}
	d.init()

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dataset: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, _ := tok.(string)

		switch field {
		case "queries":
			err = decodeObject(dec, func(id string) error {
				var q string
				if err := dec.Decode(&q); err != nil {
					return fmt.Errorf("query %q: %w", id, err)
				}
				if _, exists := d.Queries[id]; !exists {
					d.order = append(d.order, id)
				}
				d.Queries[id] = q
				return nil
			})
		case "corpus":
			err = decodeObject(dec, func(id string) error {
				var text string
				if err := dec.Decode(&text); err != nil {
					return fmt.Errorf("corpus %q: %w", id, err)
				}
				d.AddDocument(id, text)
				return nil
			})
		case "relevant_docs":
			err = decodeObject(dec, func(id string) error {
				var ids []string
				if err := dec.Decode(&ids); err != nil {
					return fmt.Errorf("relevant_docs %q: %w", id, err)
				}
				d.RelevantDocs[id] = ids
				return nil
			})
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return fmt.Errorf("dataset: %s: %w", field, err)
		}
	}

	_, err = dec.Token()
	return err
}

// Decode reads a dataset from r.
func Decode(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	ds := New()
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("decoding dataset: %w", err)
	}
	return ds, nil
}

// Encode writes ds to w as indented JSON.
func Encode(w io.Writer, ds *Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads and validates a dataset file.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Save writes ds to path, creating parent directories as needed.
func Save(path string, ds *Dataset) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeObject(buf *bytes.Buffer, keys []string, value func(string) any) error {
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(value(k))
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return nil
}

// decodeObject walks a JSON object, calling each for every key with the
// decoder positioned at the value. A null object is treated as empty.
func decodeObject(dec *json.Decoder, each func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", tok)
		}
		if err := each(key); err != nil {
			return err
		}
	}

	_, err = dec.Token()
	return err
}
