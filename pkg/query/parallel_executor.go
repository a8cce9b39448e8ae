package query

import (
	"sync"

	"github.com/mnohosten/laura-engine/pkg/document"
	"github.com/panjf2000/ants/v2"
)

// ParallelConfig holds configuration for parallel query execution
type ParallelConfig struct {
	// MinDocsForParallel is the minimum number of documents to use parallel execution
	MinDocsForParallel int
	// ChunkSize is the number of documents per task (0 = auto-calculate)
	ChunkSize int
}

// DefaultParallelConfig returns a sensible default configuration
func DefaultParallelConfig() *ParallelConfig {
	return &ParallelConfig{
		MinDocsForParallel: 1000,
		ChunkSize:          0,
	}
}

// FilterDocuments returns the documents matching f, preserving input order.
// Large inputs are split into chunks evaluated on pool; a nil pool or a
// small input runs sequentially.
func FilterDocuments(pool *ants.Pool, docs []*document.Document, f *Filter, config *ParallelConfig) []*document.Document {
	if config == nil {
		config = DefaultParallelConfig()
	}
	if f.IsEmpty() {
		return append([]*document.Document(nil), docs...)
	}
	if pool == nil || len(docs) < config.MinDocsForParallel {
		return filterRange(docs, f)
	}

	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		workers := max(pool.Cap(), 1)
		chunkSize = max((len(docs)+workers-1)/workers, 100)
	}

	numChunks := (len(docs) + chunkSize - 1) / chunkSize
	results := make([][]*document.Document, numChunks)

	var wg sync.WaitGroup
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(docs))
		chunk := i

		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[chunk] = filterRange(docs[start:end], f)
		}
		if err := pool.Submit(task); err != nil {
			// Pool closed or saturated without blocking: run inline
			task()
		}
	}
	wg.Wait()

	var out []*document.Document
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func filterRange(docs []*document.Document, f *Filter) []*document.Document {
	var out []*document.Document
	for _, doc := range docs {
		if f.Matches(doc) {
			out = append(out, doc)
		}
	}
	return out
}
