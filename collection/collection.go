package collection

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/curation"
	"github.com/mizusearch/core/types"
	"github.com/mizusearch/core/vectorindex"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Embedder is the capability a caller's embedding runtime supplies
// for query-time auto-embedding: a single method this package calls
// at index/query boundaries, never on a data-plane hot path.
// Generating embeddings is out of scope here; only the interface is.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Collection is one schema's complete in-memory index set: a sharded
// string/numeric/geo/facet index (the write-parallelism unit),
// collection-wide vector indices guarded by their own mutex, the
// curation engine, and the synonym/stop-word tables the search
// orchestrator consults.
type Collection struct {
	// mu arbitrates collection-wide access: Search takes it for
	// reading, document operations and schema changes take it for
	// writing. Per-shard write parallelism is layered inside one
	// exclusive Lock via AddMany's errgroup fan-out across shard.mu,
	// not instead of this lock.
	mu sync.RWMutex

	schema types.CollectionSchema
	cfg    config.Config
	log    *slog.Logger

	shards    []*shard
	numShards int

	nextSeqID   atomic.Uint32
	userIDToSeq map[string]types.SeqID

	vecMu   sync.Mutex
	vectors map[string]*vectorindex.Index

	Curation  *curation.Engine
	Synonyms  []types.SynonymRule
	StopWords map[string]bool

	Embedder Embedder

	// embedGroup collapses concurrent auto-embedding calls for the same
	// query text during hybrid search into a single
	// Embedder.Embed invocation.
	embedGroup singleflight.Group
}

// New builds an empty collection for schema. cfg supplies the engine
// tunables (block sizes, shard count, facet fallback ratio, ...) and
// is used as given, except that a non-positive NumMemoryShards means
// one shard; callers normally start from config.Default().
func New(schema types.CollectionSchema, cfg config.Config, log *slog.Logger) *Collection {
	if log == nil {
		log = slog.Default()
	}
	n := cfg.NumMemoryShards
	if n <= 0 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = newShard(i)
	}
	return &Collection{
		schema:      schema,
		cfg:         cfg,
		log:         log.With(slog.String("collection", schema.Name)),
		shards:      shards,
		numShards:   n,
		userIDToSeq: make(map[string]types.SeqID),
		vectors:     make(map[string]*vectorindex.Index),
		Curation:    curation.New(),
		StopWords:   make(map[string]bool),
	}
}

func (c *Collection) Schema() types.CollectionSchema { return c.schema }

func (c *Collection) shardFor(seqID types.SeqID) *shard {
	return c.shards[uint32(seqID)%uint32(c.numShards)]
}

// AddResult is one line's outcome from AddMany.
type AddResult struct {
	Document *types.Document
	Err      error
}

// Add indexes a single document under one of the CREATE/UPSERT/
// UPDATE/EMPLACE modes.
func (c *Collection) Add(raw map[string]any, mode types.IndexMode, dirtyMode types.DirtyValueMode) (*types.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(raw, mode, dirtyMode)
}

// AddMany indexes docs as a sharded write batch: seq_ids are
// assigned up front (a single fast step under the collection's
// exclusive lock), then each shard's share of the batch is indexed
// concurrently via errgroup, since disjoint shards touch disjoint
// index state and never contend.
func (c *Collection) AddMany(docs []map[string]any, mode types.IndexMode, dirtyMode types.DirtyValueMode) []AddResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]AddResult, len(docs))
	byShard := make([][]int, c.numShards)

	// Phase 1: resolve mode, assign seq_ids, coerce — cheap, sequential
	// (mode resolution needs the shared userIDToSeq map).
	type indexedPlan struct {
		addPlan
		resultIdx int
	}
	var plan []indexedPlan
	for i, raw := range docs {
		p, err := c.prepareAdd(raw, mode, dirtyMode)
		if err != nil {
			results[i] = AddResult{Err: err}
			continue
		}
		plan = append(plan, indexedPlan{addPlan: p, resultIdx: i})
		shardIdx := int(uint32(p.seqID) % uint32(c.numShards))
		byShard[shardIdx] = append(byShard[shardIdx], len(plan)-1)
	}

	// Phase 2: index each shard's share in parallel.
	var g errgroup.Group
	for s, planIdxs := range byShard {
		if len(planIdxs) == 0 {
			continue
		}
		s, planIdxs := s, planIdxs
		g.Go(func() error {
			sh := c.shards[s]
			sh.mu.Lock()
			defer sh.mu.Unlock()
			for _, pi := range planIdxs {
				p := plan[pi]
				if p.oldDoc != nil {
					c.unindexDocLocked(sh, p.oldDoc)
				}
				doc := &types.Document{SeqID: p.seqID, ID: p.id, Raw: p.fields}
				sh.docs[p.seqID] = doc
				for _, fs := range c.schema.Fields {
					if v, ok := p.fields[fs.Name]; ok {
						sh.indexField(c.cfg, fs, p.seqID, v, true)
					}
				}
				results[p.resultIdx] = AddResult{Document: doc}
			}
			return nil
		})
	}
	_ = g.Wait() // shard goroutines never return an error; indexing failures are reported per-line above

	// Phase 3: vector fields, serialized under the collection-wide
	// vector mutex. A vector-insert failure rejects the whole
	// document, so this can still flip an already-"successful"
	// result to an error; the document's indexing is undone the same
	// way addLocked undoes it.
	for _, p := range plan {
		if err := c.indexVectors(p.seqID, p.fields); err != nil {
			sh := c.shardFor(p.seqID)
			sh.mu.Lock()
			c.unindexDocLocked(sh, sh.docs[p.seqID])
			delete(sh.docs, p.seqID)
			if p.oldDoc != nil {
				sh.docs[p.seqID] = p.oldDoc
				for _, fs := range c.schema.Fields {
					if v, ok := p.oldDoc.Raw[fs.Name]; ok {
						sh.indexField(c.cfg, fs, p.seqID, v, true)
					}
				}
			}
			sh.mu.Unlock()
			if p.isNew {
				delete(c.userIDToSeq, p.id)
			}
			results[p.resultIdx] = AddResult{Err: err}
		}
	}

	return results
}

type addPlan struct {
	seqID  types.SeqID
	id     string
	fields map[string]any
	isNew  bool
	oldDoc *types.Document
}

// prepareAdd resolves mode against userIDToSeq and coerces the
// document's fields. Caller must hold c.mu for writing.
func (c *Collection) prepareAdd(raw map[string]any, mode types.IndexMode, dirtyMode types.DirtyValueMode) (addPlan, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return addPlan{}, cerr.Validation("document missing required \"id\" field")
	}

	existingSeq, exists := c.userIDToSeq[id]
	resolved := mode
	if mode == types.Emplace {
		if exists {
			resolved = types.Update
		} else {
			resolved = types.Create
		}
	}

	switch resolved {
	case types.Create:
		if exists {
			return addPlan{}, cerr.Conflict("document %q already exists", id)
		}
	case types.Update, types.Upsert:
		if !exists && resolved == types.Update {
			return addPlan{}, cerr.NotFound("document %q does not exist", id)
		}
	}

	fields, err := coerceDocument(&c.schema, raw, dirtyMode)
	if err != nil {
		return addPlan{}, err
	}

	var oldDoc *types.Document
	var seqID types.SeqID
	isNew := !exists
	if exists {
		seqID = existingSeq
		oldDoc = c.docForSeq(seqID)
		if resolved == types.Update {
			merged := make(map[string]any, len(oldDoc.Raw)+len(fields))
			for k, v := range oldDoc.Raw {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			fields = merged
		}
	} else {
		seqID = types.SeqID(c.nextSeqID.Add(1) - 1)
		c.userIDToSeq[id] = seqID
	}

	return addPlan{seqID: seqID, id: id, fields: fields, isNew: isNew, oldDoc: oldDoc}, nil
}

func (c *Collection) addLocked(raw map[string]any, mode types.IndexMode, dirtyMode types.DirtyValueMode) (*types.Document, error) {
	p, err := c.prepareAdd(raw, mode, dirtyMode)
	if err != nil {
		return nil, err
	}
	sh := c.shardFor(p.seqID)
	sh.mu.Lock()
	if p.oldDoc != nil {
		c.unindexDocLocked(sh, p.oldDoc)
	}
	doc := &types.Document{SeqID: p.seqID, ID: p.id, Raw: p.fields}
	sh.docs[p.seqID] = doc
	for _, fs := range c.schema.Fields {
		if v, ok := p.fields[fs.Name]; ok {
			sh.indexField(c.cfg, fs, p.seqID, v, true)
		}
	}
	sh.mu.Unlock()

	if err := c.indexVectors(p.seqID, p.fields); err != nil {
		// A vector-insert failure rejects the whole document rather
		// than leaving a half-indexed state, so undo the scalar/string
		// indexing just performed. An update rolls back to the previous
		// revision's indexed state; a create is erased entirely.
		sh.mu.Lock()
		c.unindexDocLocked(sh, doc)
		delete(sh.docs, p.seqID)
		if p.oldDoc != nil {
			sh.docs[p.seqID] = p.oldDoc
			for _, fs := range c.schema.Fields {
				if v, ok := p.oldDoc.Raw[fs.Name]; ok {
					sh.indexField(c.cfg, fs, p.seqID, v, true)
				}
			}
		}
		sh.mu.Unlock()
		if p.isNew {
			delete(c.userIDToSeq, p.id)
		}
		return nil, err
	}
	return doc, nil
}

func (c *Collection) indexVectors(seqID types.SeqID, fields map[string]any) error {
	for _, fs := range c.schema.Fields {
		if fs.Type != types.FieldVector {
			continue
		}
		v, ok := fields[fs.Name]
		if !ok {
			continue
		}
		vec := asVector(v, fs.VectorDim)
		if vec == nil {
			return cerr.Validation("field %q: vector dimension mismatch", fs.Name)
		}
		ix, err := c.vectorIndexFor(fs)
		if err != nil {
			return err
		}
		c.vecMu.Lock()
		err = ix.Insert(int64(seqID), vec)
		c.vecMu.Unlock()
		if err != nil {
			return cerr.Wrap(cerr.CodeValidation, err, "field %q: vector insert failed", fs.Name)
		}
	}
	return nil
}

func (c *Collection) vectorIndexFor(fs types.FieldSchema) (*vectorindex.Index, error) {
	c.vecMu.Lock()
	defer c.vecMu.Unlock()
	ix, ok := c.vectors[fs.Name]
	if ok {
		return ix, nil
	}
	var err error
	ix, err = vectorindex.New(fs.VectorDim, fs.VectorDistance)
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, err, "field %q: build vector index", fs.Name)
	}
	c.vectors[fs.Name] = ix
	return ix, nil
}

// unindexDocLocked reverses every index contribution old currently
// holds. Caller must already hold sh.mu for writing.
func (c *Collection) unindexDocLocked(sh *shard, old *types.Document) {
	for _, fs := range c.schema.Fields {
		if v, ok := old.Raw[fs.Name]; ok {
			sh.indexField(c.cfg, fs, old.SeqID, v, false)
		}
	}
}

// Get resolves a user-supplied document id to its current document.
func (c *Collection) Get(id string) (*types.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seqID, ok := c.userIDToSeq[id]
	if !ok {
		return nil, cerr.NotFound("document %q not found", id)
	}
	return c.docForSeq(seqID), nil
}

// EachDocument visits every live document in ascending seq_id order
// under the collection's read lock. fn must not retain the document
// past its return or call back into the collection.
func (c *Collection) EachDocument(fn func(*types.Document)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var all []*types.Document
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, doc := range sh.docs {
			all = append(all, doc)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SeqID < all[j].SeqID })
	for _, doc := range all {
		fn(doc)
	}
}

func (c *Collection) docForSeq(seqID types.SeqID) *types.Document {
	sh := c.shardFor(seqID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.docs[seqID]
}

// Remove deletes a document and every index entry it contributed,
// lifecycle: the seq_id itself is never reissued, only freed
// for the vector adapter's soft-delete bookkeeping once indexing of
// the delete has fully propagated.
func (c *Collection) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqID, ok := c.userIDToSeq[id]
	if !ok {
		return cerr.NotFound("document %q not found", id)
	}
	sh := c.shardFor(seqID)
	sh.mu.Lock()
	doc, ok := sh.docs[seqID]
	if ok {
		c.unindexDocLocked(sh, doc)
		delete(sh.docs, seqID)
	}
	sh.mu.Unlock()
	delete(c.userIDToSeq, id)

	c.vecMu.Lock()
	for _, ix := range c.vectors {
		ix.Erase(int64(seqID))
	}
	c.vecMu.Unlock()
	return nil
}

// WithDeadline derives a deadline from d applied to "now", for
// callers building a SearchRequest (the cooperative-cancellation
// model).
func WithDeadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// drainShards acquires every shard's lock in ascending id order and
// runs fn, then releases them in reverse order. Used by schema-change
// operations ("cross-shard operations require draining all shard
// locks in a fixed order to prevent deadlock"); callers must already
// hold c.mu for writing.
func (c *Collection) drainShards(fn func()) {
	for _, sh := range c.shards {
		sh.mu.Lock()
	}
	fn()
	for i := len(c.shards) - 1; i >= 0; i-- {
		c.shards[i].mu.Unlock()
	}
}

// AlterSchema installs a new field list, draining every
// shard lock first since existing indices may need to be dropped or
// (for a newly added field) left empty until the next write touches
// it.
func (c *Collection) AlterSchema(fields []types.FieldSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byName := make(map[string]types.FieldSchema, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	var dropped []string
	for _, existing := range c.schema.Fields {
		if _, ok := byName[existing.Name]; !ok {
			dropped = append(dropped, existing.Name)
		}
	}

	c.drainShards(func() {
		for _, sh := range c.shards {
			for _, name := range dropped {
				delete(sh.strings, name)
				delete(sh.numeric, name)
				delete(sh.geo, name)
				delete(sh.facets, name)
			}
		}
	})

	c.schema.Fields = fields
	c.log.Info("schema altered", slog.Int("field_count", len(fields)), slog.Int("dropped", len(dropped)))
	return nil
}

func (c *Collection) String() string {
	return fmt.Sprintf("collection(%s, %d shards)", c.schema.Name, c.numShards)
}
