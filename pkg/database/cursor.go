package database

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mnohosten/laura-engine/pkg/aggregation"
	"github.com/mnohosten/laura-engine/pkg/document"
)

const defaultBatchSize = 101

// Cursor iterates over query results. It holds the versions of the
// documents that matched when it was created; projection is applied as
// documents are pulled.
type Cursor struct {
	id         string
	results    []*document.Document
	projection *aggregation.Projection
	position   int
	batchSize  int

	timeout      time.Duration
	lastAccessed time.Time
	closed       bool
	mu           sync.Mutex
}

func newCursor(docs []*document.Document, proj *aggregation.Projection, batchSize int) *Cursor {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Cursor{
		results:      docs,
		projection:   proj,
		batchSize:    batchSize,
		timeout:      10 * time.Minute,
		lastAccessed: time.Now(),
	}
}

// ID returns the id assigned by a CursorManager, or "".
func (c *Cursor) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// HasNext returns true if there are more documents to fetch
func (c *Cursor) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.position < len(c.results)
}

// Next returns the next document, or ErrCursorExhausted.
func (c *Cursor) Next() (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAccessed = time.Now()
	if c.closed || c.position >= len(c.results) {
		return nil, ErrCursorExhausted
	}
	doc := c.results[c.position]
	c.position++
	return c.projection.Apply(doc)
}

// NextBatch returns up to the batch size of documents. An exhausted cursor
// returns an empty batch.
func (c *Cursor) NextBatch() ([]*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAccessed = time.Now()
	if c.closed {
		return []*document.Document{}, nil
	}
	end := min(c.position+c.batchSize, len(c.results))
	batch := make([]*document.Document, 0, end-c.position)
	for ; c.position < end; c.position++ {
		doc, err := c.projection.Apply(c.results[c.position])
		if err != nil {
			return batch, err
		}
		batch = append(batch, doc)
	}
	return batch, nil
}

// All drains the cursor.
func (c *Cursor) All() ([]*document.Document, error) {
	var out []*document.Document
	for {
		batch, err := c.NextBatch()
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			return out, nil
		}
		out = append(out, batch...)
	}
}

// Count returns the total number of documents in the result set
func (c *Cursor) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Remaining returns the number of documents remaining
func (c *Cursor) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return len(c.results) - c.position
}

// Close releases the results. Further reads see an exhausted cursor.
func (c *Cursor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.results = nil
}

func (c *Cursor) exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.position >= len(c.results)
}

func (c *Cursor) timedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastAccessed) > c.timeout
}

// CursorManager keeps cursors that are read across several requests, such as
// a shell paging through results.
type CursorManager struct {
	cursors map[string]*Cursor
	timeout time.Duration
	mu      sync.RWMutex
}

// NewCursorManager creates a manager whose cursors expire after timeout of
// inactivity. Zero means ten minutes.
func NewCursorManager(timeout time.Duration) *CursorManager {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CursorManager{
		cursors: make(map[string]*Cursor),
		timeout: timeout,
	}
}

// Register assigns cur an id and keeps it until it is closed or times out.
func (cm *CursorManager) Register(cur *Cursor) (string, error) {
	id, err := generateCursorID()
	if err != nil {
		return "", fmt.Errorf("failed to generate cursor ID: %w", err)
	}

	cur.mu.Lock()
	cur.id = id
	cur.timeout = cm.timeout
	cur.mu.Unlock()

	cm.mu.Lock()
	cm.cursors[id] = cur
	cm.mu.Unlock()
	return id, nil
}

// Get retrieves a cursor by ID
func (cm *CursorManager) Get(id string) (*Cursor, error) {
	cm.mu.RLock()
	cur, ok := cm.cursors[id]
	cm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, id)
	}
	if cur.timedOut(time.Now()) {
		cm.Close(id)
		return nil, fmt.Errorf("%w: %s timed out", ErrCursorNotFound, id)
	}
	return cur, nil
}

// Close closes and forgets a cursor. Unknown ids are ignored.
func (cm *CursorManager) Close(id string) {
	cm.mu.Lock()
	cur, ok := cm.cursors[id]
	delete(cm.cursors, id)
	cm.mu.Unlock()
	if ok {
		cur.Close()
	}
}

// Cleanup removes exhausted and timed out cursors and returns how many were
// removed.
func (cm *CursorManager) Cleanup() int {
	now := time.Now()
	cm.mu.Lock()
	defer cm.mu.Unlock()

	removed := 0
	for id, cur := range cm.cursors {
		if cur.exhausted() || cur.timedOut(now) {
			cur.Close()
			delete(cm.cursors, id)
			removed++
		}
	}
	return removed
}

// Active returns the number of live cursors.
func (cm *CursorManager) Active() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.cursors)
}

func generateCursorID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
