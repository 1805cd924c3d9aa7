package collection

import (
	"bufio"
	"bytes"
	"io"

	json "github.com/goccy/go-json"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/types"
)

// AddJSON decodes a single JSON document body and indexes it under
// mode, the non-HTTP counterpart of a single-document import call.
func (c *Collection) AddJSON(raw []byte, mode types.IndexMode, dirtyMode types.DirtyValueMode) (*types.Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, cerr.Wrap(cerr.CodeValidation, err, "decode document body")
	}
	return c.Add(fields, mode, dirtyMode)
}

// ImportJSONL reads newline-delimited JSON documents from r and
// indexes them as one AddMany batch, the bulk-import shape for
// collections seeded from a .jsonl export.
func (c *Collection) ImportJSONL(r io.Reader, mode types.IndexMode, dirtyMode types.DirtyValueMode) ([]AddResult, error) {
	var docs []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			return nil, cerr.Wrap(cerr.CodeValidation, err, "decode document body")
		}
		docs = append(docs, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, err, "read jsonl import")
	}
	return c.AddMany(docs, mode, dirtyMode), nil
}

// ExportJSONL writes every currently indexed document to w as
// newline-delimited JSON, the mirror of ImportJSONL.
func (c *Collection) ExportJSONL(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	enc := json.NewEncoder(w)
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, doc := range sh.docs {
			if err := enc.Encode(doc.Raw); err != nil {
				sh.mu.RUnlock()
				return cerr.Wrap(cerr.CodeInternal, err, "encode document body")
			}
		}
		sh.mu.RUnlock()
	}
	return nil
}

// MarshalResult renders a SearchResult as JSON for a caller that owns
// its own transport; this module stops at the Go value, so encoding
// is exposed as a plain function rather than a method on a server
// type.
func MarshalResult(result *types.SearchResult) ([]byte, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, err, "encode search result")
	}
	return b, nil
}
