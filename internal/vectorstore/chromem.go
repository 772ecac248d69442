package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex is an embedded vector index backed by chromem-go. It needs no
// external service, which suits single-node deployments and tests.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewChromemIndex opens a persistent index at path, or an in-memory one
// when path is empty.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (c *ChromemIndex) HealthCheck(ctx context.Context) error {
	return nil
}

// EnsureCollection creates the collection on first use. Embeddings are always
// supplied by the caller so no embedding function is configured.
func (c *ChromemIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	_, err := c.collection(name, dim)
	return err
}

func (c *ChromemIndex) collection(name string, dim int) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.collections[name]; ok {
		return col, nil
	}

	meta := map[string]string{"dimension": strconv.Itoa(dim)}
	col, err := c.db.GetOrCreateCollection(name, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	c.collections[name] = col
	return col, nil
}

func (c *ChromemIndex) existing(name string) *chromem.Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if col, ok := c.collections[name]; ok {
		return col
	}
	return c.db.GetCollection(name, nil)
}

func (c *ChromemIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	col := c.existing(collection)
	if col == nil {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, p := range points {
		doc := chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.Content,
			Embedding: p.Vector,
			Metadata: map[string]string{
				"memory_id":      p.Payload.MemoryID,
				"user_id":        p.Payload.UserID,
				"character_name": p.Payload.CharacterName,
				"memory_type":    p.Payload.MemoryType,
				"importance":     strconv.FormatFloat(p.Payload.Importance, 'f', -1, 64),
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document: %w", err)
		}
	}
	return nil
}

// Search queries within the filter. The limit is clamped to the document
// count up front.
func (c *ChromemIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	col := c.existing(collection)
	if col == nil {
		return nil, nil
	}
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	where := map[string]string{
		"user_id":        filter.UserID,
		"character_name": filter.CharacterName,
	}
	// The filter can leave fewer documents than n, which chromem rejects, so
	// step the limit down until the query fits.
	var results []chromem.Result
	var err error
	for ; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil || !isResultCountError(err) {
			break
		}
	}
	if err != nil {
		if isResultCountError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			MemoryID: r.Metadata["memory_id"],
		})
	}
	return out, nil
}

func (c *ChromemIndex) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col := c.existing(collection)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// Count reports how many vectors a collection holds. Zero when it doesn't exist.
func (c *ChromemIndex) Count(collection string) int {
	col := c.existing(collection)
	if col == nil {
		return 0
	}
	return col.Count()
}

func isResultCountError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
