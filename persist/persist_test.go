package persist

import (
	"sort"
	"strings"
	"testing"

	"github.com/mizusearch/core/collection"
	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/curation"
	"github.com/mizusearch/core/types"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Put(key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func (m *memKV) Scan(prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, m.data[k]); err != nil {
			return err
		}
	}
	return nil
}

func booksSchema() types.CollectionSchema {
	return types.CollectionSchema{
		Name: "books",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "title", Type: types.FieldString, Index: true},
			{Name: "points", Type: types.FieldInt32, Sort: true, Index: true},
		},
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	eng := collection.NewEngine()
	col, err := eng.CreateCollection(booksSchema(), config.Config{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	docs := []map[string]any{
		{"id": "0", "title": "Tom Sawyer", "points": 100},
		{"id": "1", "title": "Huckleberry Finn", "points": 200},
		{"id": "2", "title": "The Prince and the Pauper", "points": 50},
	}
	for _, d := range docs {
		if _, err := col.Add(d, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	col.Curation.Add(curation.Rule{ID: "r1", Query: "classics", Match: curation.MatchExact, Includes: []curation.Include{{DocID: "0", Position: 1}}})
	col.StopWords["the"] = true

	kv := newMemKV()
	if err := Dump(eng, kv, &Snapshot{Symlinks: map[string]string{"novels": "books"}, Presets: map[string][]byte{"default": []byte(`{"per_page":20}`)}}); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	if _, ok := kv.data[CollectionMetaKey("books")]; !ok {
		t.Fatal("missing $CM_books")
	}
	if string(kv.data[KeyCollectionIDCounter]) != "2" {
		t.Fatalf("got $CI %q", kv.data[KeyCollectionIDCounter])
	}

	eng2 := collection.NewEngine()
	snap, err := Load(kv, eng2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.NextCollectionID != 2 {
		t.Fatalf("got NextCollectionID %d", snap.NextCollectionID)
	}
	if snap.Symlinks["novels"] != "books" {
		t.Fatalf("got symlinks %v", snap.Symlinks)
	}
	if string(snap.Presets["default"]) != `{"per_page":20}` {
		t.Fatalf("got presets %v", snap.Presets)
	}

	col2, err := eng2.GetCollection("books")
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	for _, d := range docs {
		got, err := col2.Get(d["id"].(string))
		if err != nil {
			t.Fatalf("Get(%v): %v", d["id"], err)
		}
		if got.Raw["title"] != d["title"] {
			t.Fatalf("doc %v: got title %v, want %v", d["id"], got.Raw["title"], d["title"])
		}
	}
	rules := col2.Curation.Rules()
	if len(rules) != 1 || rules[0].ID != "r1" || len(rules[0].Includes) != 1 {
		t.Fatalf("got rules %+v", rules)
	}
	if !col2.StopWords["the"] {
		t.Fatal("stop word not restored")
	}

	res, err := col2.Search(&types.SearchRequest{Q: "sawyer", QueryBy: []string{"title"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Document.ID != "0" {
		t.Fatalf("got hits %+v", res.Hits)
	}
}

func TestRecordCodec(t *testing.T) {
	var buf []byte
	buf = AppendRecord(buf, "$CM_books", []byte(`{"id":1}`))
	buf = AppendRecord(buf, "1_S_0", []byte(`{"title":"x"}`))

	key, value, rest, err := ReadRecord(buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if key != "$CM_books" || string(value) != `{"id":1}` {
		t.Fatalf("got %q / %q", key, value)
	}
	key, value, rest, err = ReadRecord(rest)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if key != "1_S_0" || string(value) != `{"title":"x"}` {
		t.Fatalf("got %q / %q", key, value)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}

	if _, _, _, err := ReadRecord(buf[:3]); err == nil {
		t.Fatal("expected error on truncated record")
	}
}

func TestDeleteCollectionKeysPreservesCounter(t *testing.T) {
	eng := collection.NewEngine()
	for _, name := range []string{"books", "films"} {
		s := booksSchema()
		s.Name = name
		col, err := eng.CreateCollection(s, config.Config{})
		if err != nil {
			t.Fatalf("CreateCollection(%s): %v", name, err)
		}
		if _, err := col.Add(map[string]any{"id": "0", "title": "x", "points": 1}, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	kv := newMemKV()
	if err := Dump(eng, kv, nil); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	if err := DeleteCollectionKeys(kv, CollectionMeta{ID: 1, Schema: types.CollectionSchema{Name: "books"}}); err != nil {
		t.Fatalf("DeleteCollectionKeys: %v", err)
	}

	if _, ok := kv.data[KeyCollectionIDCounter]; !ok {
		t.Fatal("$CI must survive a collection delete")
	}
	if _, ok := kv.data[CollectionMetaKey("books")]; ok {
		t.Fatal("$CM_books should be gone")
	}
	for k := range kv.data {
		if strings.HasPrefix(k, CollectionPrefix(1)) {
			t.Fatalf("leftover key %q", k)
		}
	}
	if _, ok := kv.data[CollectionMetaKey("films")]; !ok {
		t.Fatal("films meta must survive")
	}
	if _, ok := kv.data[DocumentKey(2, 0)]; !ok {
		t.Fatal("films documents must survive")
	}
}
