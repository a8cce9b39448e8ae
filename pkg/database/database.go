// Package database holds named collections of documents with their
// indexes, and dispatches commands against them.
package database

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/cache"
	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/mnohosten/laura-engine/pkg/metrics"
	"github.com/mnohosten/laura-engine/pkg/query"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Database represents a database instance
type Database struct {
	name        string
	config      Config
	collections map[string]*Collection
	pool        *ants.Pool
	filters     *cache.LRU[*query.Filter]
	logger      *zap.Logger
	metrics     *metrics.MetricsCollector
	mu          sync.RWMutex
	closed      atomic.Bool
}

// Config holds database configuration
type Config struct {
	Name string

	// Workers sizes the pool used for parallel filtering and $facet.
	// Zero runs everything on the calling goroutine.
	Workers  int
	Parallel *query.ParallelConfig

	// SampleSeed makes $sample deterministic when non-zero.
	SampleSeed uint64

	// Operations slower than SlowOpThreshold are logged at warn level.
	// Zero disables the slow operation log.
	SlowOpThreshold time.Duration

	// FilterCacheSize bounds the cache of compiled filters. Zero means
	// DefaultFilterCacheSize, a negative size disables the cache.
	FilterCacheSize int

	Logger    *zap.Logger
	Metrics   *metrics.MetricsCollector
	Persister Persister
}

// DefaultFilterCacheSize is the compiled filter cache size used when
// Config.FilterCacheSize is zero.
const DefaultFilterCacheSize = 256

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		Workers:         4,
		Parallel:        query.DefaultParallelConfig(),
		SlowOpThreshold: 100 * time.Millisecond,
	}
}

// Open creates a database. The database starts empty; call Restore to load
// persisted state.
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Parallel == nil {
		cfg.Parallel = query.DefaultParallelConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var pool *ants.Pool
	if cfg.Workers > 0 {
		var err error
		// Submit fails instead of waiting when every worker is busy and
		// the caller runs the task itself.
		pool, err = ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
	}

	var filters *cache.LRU[*query.Filter]
	switch {
	case cfg.FilterCacheSize == 0:
		filters = cache.New[*query.Filter](DefaultFilterCacheSize, 0)
	case cfg.FilterCacheSize > 0:
		filters = cache.New[*query.Filter](cfg.FilterCacheSize, 0)
	}

	db := &Database{
		name:        cfg.Name,
		filters:     filters,
		config:      cfg,
		collections: make(map[string]*Collection),
		pool:        pool,
		logger:      cfg.Logger.With(zap.String("db", cfg.Name)),
		metrics:     cfg.Metrics,
	}
	db.logger.Debug("database opened", zap.Int("workers", cfg.Workers))
	return db, nil
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Close releases the worker pool. Execute fails with ErrDatabaseClosed
// afterwards.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrDatabaseClosed
	}
	if db.pool != nil {
		db.pool.Release()
	}
	db.logger.Debug("database closed")
	return nil
}

// Collection returns the handle for name. The collection itself comes into
// existence on the first write through the handle.
func (db *Database) Collection(name string) *Collection {
	db.mu.RLock()
	coll, ok := db.collections[name]
	db.mu.RUnlock()
	if ok {
		return coll
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if coll, ok := db.collections[name]; ok {
		return coll
	}
	coll = newCollection(name, db)
	db.collections[name] = coll
	return coll
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	coll := db.Collection(name)
	coll.mu.Lock()
	defer coll.mu.Unlock()
	if coll.created {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	coll.markCreated()
	return coll, nil
}

// DropCollection drops an existing collection.
func (db *Database) DropCollection(name string) error {
	db.mu.RLock()
	coll, ok := db.collections[name]
	db.mu.RUnlock()
	if !ok || !coll.Exists() {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	coll.Drop()
	return nil
}

// ListCollections returns the names of existing collections, sorted.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	handles := make([]*Collection, 0, len(db.collections))
	for _, coll := range db.collections {
		handles = append(handles, coll)
	}
	db.mu.RUnlock()

	names := make([]string, 0, len(handles))
	for _, coll := range handles {
		if coll.Exists() {
			names = append(names, coll.name)
		}
	}
	sort.Strings(names)
	return names
}

// ValidateCollectionName rejects names that are empty, contain '$' or a
// NUL byte, or start or end with '.'.
func ValidateCollectionName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: collection name must not be empty", document.ErrValidation)
	case strings.ContainsAny(name, "$\x00"):
		return fmt.Errorf("%w: invalid collection name %q", document.ErrValidation, name)
	case strings.HasPrefix(name, ".") || strings.HasSuffix(name, "."):
		return fmt.Errorf("%w: invalid collection name %q", document.ErrValidation, name)
	}
	return nil
}

// compileFilter compiles filter, reusing an earlier compilation of an
// identical document. Compiled filters are immutable and shared between
// goroutines. withNear selects query.Compile over query.CompileMatch.
func (db *Database) compileFilter(filter *document.Document, withNear bool) (*query.Filter, error) {
	compile := query.CompileMatch
	prefix := "m:"
	if withNear {
		compile, prefix = query.Compile, "f:"
	}
	if db.filters == nil {
		return compile(filter)
	}

	key := prefix
	if filter != nil {
		key += document.KeyString(document.DocValue(filter))
	}

	if f, ok := db.filters.Get(key); ok {
		db.metrics.RecordFilterCache(true)
		return f, nil
	}
	db.metrics.RecordFilterCache(false)
	if filter != nil {
		filter = filter.Clone() // the caller may reuse its document
	}
	f, err := compile(filter)
	if err != nil {
		return nil, err
	}
	db.filters.Put(key, f)
	return f, nil
}

// FilterCacheStats reports the compiled filter cache activity.
func (db *Database) FilterCacheStats() cache.Stats {
	if db.filters == nil {
		return cache.Stats{}
	}
	return db.filters.Stats()
}

func (db *Database) pipelineOptions() *aggregation.Options {
	return &aggregation.Options{
		Pool:     db.pool,
		Seed:     db.config.SampleSeed,
		Observer: db.observeStage,
	}
}

func (db *Database) observeStage(stage string, docsIn, docsOut int, elapsed time.Duration) {
	db.metrics.RecordStage(stage, docsOut, elapsed)
	db.logger.Debug("stage finished",
		zap.String("stage", stage),
		zap.Int("in", docsIn),
		zap.Int("out", docsOut),
		zap.Duration("elapsed", elapsed))
}

// observe records an operation in the metrics and the slow operation log.
func (db *Database) observe(op, collection string, start time.Time, err error) {
	elapsed := time.Since(start)
	db.metrics.RecordOperation(op, elapsed, err)

	if err != nil {
		db.logger.Debug("operation failed",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Error(err))
	}
	if t := db.config.SlowOpThreshold; t > 0 && elapsed >= t {
		db.logger.Warn("slow operation",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", t))
	}
}
