package persist

import (
	"sort"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/collection"
	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/curation"
	"github.com/mizusearch/core/types"
)

// KV is the read surface a storage layer exposes for reload: visit
// every key with the given prefix in ascending byte order. The store's
// own iterator lifetime stays inside Scan, so the scope-bound
// acquisition the design notes call for is the method boundary itself.
type KV interface {
	Scan(prefix string, fn func(key string, value []byte) error) error
}

// KVWriter is the write surface Dump targets.
type KVWriter interface {
	Put(key string, value []byte) error
}

// KVDeleter extends KV with deletion, for collection drops.
type KVDeleter interface {
	KV
	Delete(key string) error
}

// CollectionMeta is the JSON stored under $CM_<name>.
type CollectionMeta struct {
	ID     uint32                 `json:"id"`
	Schema types.CollectionSchema `json:"schema"`
}

// Snapshot carries the cross-collection state Load recovered that has
// no home on a single collection: the id counter, symlinks, and
// presets. The transport layer owns interpreting presets; the core
// only round-trips their bytes.
type Snapshot struct {
	NextCollectionID uint32
	Symlinks         map[string]string
	Presets          map[string][]byte
}

// Load replays a persisted key space into eng: collection metas first,
// then each collection's documents in seq_id order, then overrides and
// stop-word sets. Returns the cross-collection snapshot state.
func Load(kv KV, eng *collection.Engine) (*Snapshot, error) {
	snap := &Snapshot{Symlinks: make(map[string]string), Presets: make(map[string][]byte)}

	err := kv.Scan(KeyCollectionIDCounter, func(key string, value []byte) error {
		if key != KeyCollectionIDCounter {
			return nil
		}
		n, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			return cerr.Internal("malformed $CI counter %q", value)
		}
		snap.NextCollectionID = uint32(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var metas []CollectionMeta
	err = kv.Scan(prefixCollectionMeta, func(key string, value []byte) error {
		name, ok := CollectionNameFromMetaKey(key)
		if !ok {
			return nil
		}
		var meta CollectionMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return cerr.Wrap(cerr.CodeInternal, err, "decode collection meta %q", name)
		}
		if meta.Schema.Name == "" {
			meta.Schema.Name = name
		}
		metas = append(metas, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, meta := range metas {
		col, err := eng.CreateCollection(meta.Schema, config.Config{})
		if err != nil {
			return nil, err
		}
		if err := loadDocuments(kv, col, meta.ID); err != nil {
			return nil, err
		}
		if err := loadOverrides(kv, col, meta.Schema.Name); err != nil {
			return nil, err
		}
		if err := loadStopWords(kv, col, meta.Schema.Name); err != nil {
			return nil, err
		}
	}

	err = kv.Scan(prefixSymlink, func(key string, value []byte) error {
		snap.Symlinks[key[len(prefixSymlink):]] = string(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = kv.Scan(prefixPreset, func(key string, value []byte) error {
		snap.Presets[key[len(prefixPreset):]] = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// loadDocuments re-adds a collection's documents in ascending seq_id
// order, so the reloaded collection's relative ordering (and every
// tie-break that leans on seq_id) matches the persisted one even
// though seq_ids themselves are reassigned densely.
func loadDocuments(kv KV, col *collection.Collection, collectionID uint32) error {
	type rec struct {
		seq uint32
		raw []byte
	}
	var docs []rec
	err := kv.Scan(DocumentPrefix(collectionID), func(key string, value []byte) error {
		seq, ok := SeqIDFromDocumentKey(key)
		if !ok {
			return nil
		}
		docs = append(docs, rec{seq: seq, raw: append([]byte(nil), value...)})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].seq < docs[j].seq })
	for _, d := range docs {
		var raw map[string]any
		if err := json.Unmarshal(d.raw, &raw); err != nil {
			return cerr.Wrap(cerr.CodeInternal, err, "decode stored document %d_S_%d", collectionID, d.seq)
		}
		if _, err := col.Add(raw, types.Upsert, types.CoerceOrReject); err != nil {
			return err
		}
	}
	return nil
}

func loadOverrides(kv KV, col *collection.Collection, name string) error {
	return kv.Scan(prefixOverride+name+"_", func(key string, value []byte) error {
		_, id, ok := SplitScopedKey(key, prefixOverride)
		if !ok {
			return nil
		}
		var rule curation.Rule
		if err := json.Unmarshal(value, &rule); err != nil {
			return cerr.Wrap(cerr.CodeInternal, err, "decode override %q", key)
		}
		if rule.ID == "" {
			rule.ID = id
		}
		col.Curation.Add(rule)
		return nil
	})
}

func loadStopWords(kv KV, col *collection.Collection, name string) error {
	return kv.Scan(prefixStopWords+name+"_", func(key string, value []byte) error {
		var words []string
		if err := json.Unmarshal(value, &words); err != nil {
			return cerr.Wrap(cerr.CodeInternal, err, "decode stop-word set %q", key)
		}
		for _, w := range words {
			col.StopWords[w] = true
		}
		return nil
	})
}

// Dump writes eng's current state under the same key layout Load
// consumes. Collection ids are assigned in sorted-name order starting
// from snap.NextCollectionID (or 1 when snap is nil); the updated
// counter is written under $CI.
func Dump(eng *collection.Engine, w KVWriter, snap *Snapshot) error {
	schemas := eng.ListCollections()
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })

	nextID := uint32(1)
	if snap != nil && snap.NextCollectionID > 0 {
		nextID = snap.NextCollectionID
	}

	for _, schema := range schemas {
		col, err := eng.GetCollection(schema.Name)
		if err != nil {
			return err
		}
		meta := CollectionMeta{ID: nextID, Schema: schema}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return cerr.Wrap(cerr.CodeInternal, err, "encode collection meta %q", schema.Name)
		}
		if err := w.Put(CollectionMetaKey(schema.Name), metaBytes); err != nil {
			return err
		}

		var dumpErr error
		col.EachDocument(func(doc *types.Document) {
			if dumpErr != nil {
				return
			}
			raw, err := json.Marshal(doc.Raw)
			if err != nil {
				dumpErr = cerr.Wrap(cerr.CodeInternal, err, "encode document %q", doc.ID)
				return
			}
			if err := w.Put(DocumentKey(meta.ID, uint32(doc.SeqID)), raw); err != nil {
				dumpErr = err
				return
			}
			if err := w.Put(DocMappingKey(meta.ID, doc.ID), []byte(strconv.FormatUint(uint64(doc.SeqID), 10))); err != nil {
				dumpErr = err
			}
		})
		if dumpErr != nil {
			return dumpErr
		}

		for _, rule := range col.Curation.Rules() {
			b, err := json.Marshal(rule)
			if err != nil {
				return cerr.Wrap(cerr.CodeInternal, err, "encode override %q", rule.ID)
			}
			if err := w.Put(OverrideKey(schema.Name, rule.ID), b); err != nil {
				return err
			}
		}

		if len(col.StopWords) > 0 {
			words := make([]string, 0, len(col.StopWords))
			for wd := range col.StopWords {
				words = append(words, wd)
			}
			sort.Strings(words)
			b, err := json.Marshal(words)
			if err != nil {
				return cerr.Wrap(cerr.CodeInternal, err, "encode stop words for %q", schema.Name)
			}
			if err := w.Put(StopWordsKey(schema.Name, "default"), b); err != nil {
				return err
			}
		}

		nextID++
	}

	if snap != nil {
		for name, target := range snap.Symlinks {
			if err := w.Put(SymlinkKey(name), []byte(target)); err != nil {
				return err
			}
		}
		for name, body := range snap.Presets {
			if err := w.Put(PresetKey(name), body); err != nil {
				return err
			}
		}
	}

	return w.Put(KeyCollectionIDCounter, []byte(strconv.FormatUint(uint64(nextID), 10)))
}

// DeleteCollectionKeys removes every key a dropped collection owns:
// its id-prefixed document and mapping keys, its meta, and its scoped
// overrides and stop-word sets. $CI is deliberately left alone so
// collection ids are never reissued.
func DeleteCollectionKeys(kv KVDeleter, meta CollectionMeta) error {
	var doomed []string
	collect := func(key string, _ []byte) error {
		doomed = append(doomed, key)
		return nil
	}
	if err := kv.Scan(CollectionPrefix(meta.ID), collect); err != nil {
		return err
	}
	if err := kv.Scan(prefixOverride+meta.Schema.Name+"_", collect); err != nil {
		return err
	}
	if err := kv.Scan(prefixStopWords+meta.Schema.Name+"_", collect); err != nil {
		return err
	}
	doomed = append(doomed, CollectionMetaKey(meta.Schema.Name))
	for _, key := range doomed {
		if err := kv.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
