package collection

import (
	"log/slog"
	"sync"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/types"
)

// Engine owns every collection in one process: a structured logger,
// functional-options construction, and a registry a caller embeds
// directly. Serving over a network belongs to the caller, not this
// module, so there is no listener or drain logic here.
type Engine struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	cfg config.Config
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger every collection created afterward
// inherits. If nil, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithConfig sets the default config.Config new collections are built
// with when CreateCollection is called without an explicit override.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// NewEngine builds an empty Engine with conservative defaults.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		collections: make(map[string]*Collection),
		cfg:         config.Default(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.log }

// CreateCollection registers a new, empty collection under schema.Name,
// using the engine's default config unless cfg is non-zero.
func (e *Engine) CreateCollection(schema types.CollectionSchema, cfg config.Config) (*Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if schema.Name == "" {
		return nil, cerr.Validation("collection schema missing required \"name\"")
	}
	if _, exists := e.collections[schema.Name]; exists {
		return nil, cerr.Conflict("collection %q already exists", schema.Name)
	}
	if (cfg == config.Config{}) {
		cfg = e.cfg
	}

	col := New(schema, cfg, e.log)
	e.collections[schema.Name] = col
	e.log.Info("collection created", slog.String("collection", schema.Name))
	return col, nil
}

// GetCollection resolves a collection by name.
func (e *Engine) GetCollection(name string) (*Collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, ok := e.collections[name]
	if !ok {
		return nil, cerr.NotFound("collection %q not found", name)
	}
	return col, nil
}

// DropCollection removes a collection entirely; it is not recoverable.
func (e *Engine) DropCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[name]; !ok {
		return cerr.NotFound("collection %q not found", name)
	}
	delete(e.collections, name)
	e.log.Info("collection dropped", slog.String("collection", name))
	return nil
}

// ListCollections returns every registered collection's schema in no
// particular order; callers that need a stable order sort the result
// themselves.
func (e *Engine) ListCollections() []types.CollectionSchema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.CollectionSchema, 0, len(e.collections))
	for _, col := range e.collections {
		out = append(out, col.Schema())
	}
	return out
}
