package vectordb

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

const localEmbeddingDims = 256

// LocalDataset is an embedded dataset backed by chromem-go. Document names
// are document ids; a side index keeps name → text so listing stays cheap
// (chromem has no list-all API).
type LocalDataset struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	docs       map[string]string
}

// NewLocalDataset creates an in-memory dataset. path may name a directory
// for persistence; when empty the dataset lives in memory only.
func NewLocalDataset(name, path string) (*LocalDataset, error) {
	var db *chromem.DB
	var err error
	if path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open local dataset: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &LocalDataset{
		db:   db,
		name: name,
		docs: make(map[string]string),
	}, nil
}

// Ensure creates the backing collection.
func (d *LocalDataset) Ensure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.collection != nil {
		return nil
	}
	c, err := d.db.GetOrCreateCollection(d.name, nil, localEmbedding)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	d.collection = c
	return nil
}

// CreateDocumentByText inserts a document keyed by name.
func (d *LocalDataset) CreateDocumentByText(ctx context.Context, name, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.collection == nil {
		return fmt.Errorf("local dataset not ensured")
	}
	err := d.collection.AddDocument(ctx, chromem.Document{
		ID:      name,
		Content: text,
		Metadata: map[string]string{
			"name": name,
		},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	d.docs[name] = text
	return nil
}

// ListDocuments returns documents whose names contain the keyword
// (case-insensitive). Pagination mirrors the remote API shape.
func (d *LocalDataset) ListDocuments(ctx context.Context, keyword string, page, limit int) ([]Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	names := make([]string, 0, len(d.docs))
	lower := strings.ToLower(keyword)
	for name := range d.docs {
		if keyword == "" || strings.Contains(strings.ToLower(name), lower) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	start := (page - 1) * limit
	if start >= len(names) {
		return nil, nil
	}
	end := start + limit
	if end > len(names) {
		end = len(names)
	}

	docs := make([]Document, 0, end-start)
	for _, name := range names[start:end] {
		docs = append(docs, Document{ID: name, Name: name, Text: d.docs[name]})
	}
	return docs, nil
}

// DeleteDocumentByName removes a document. Missing names are a no-op.
func (d *LocalDataset) DeleteDocumentByName(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[name]; !ok {
		return nil
	}
	if d.collection != nil {
		if err := d.collection.Delete(ctx, nil, nil, name); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	}
	delete(d.docs, name)
	return nil
}

// DocumentCount returns the number of live documents.
func (d *LocalDataset) DocumentCount(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs), nil
}

// Search performs a similarity query over document contents.
func (d *LocalDataset) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	d.mu.Lock()
	collection := d.collection
	count := len(d.docs)
	d.mu.Unlock()

	if collection == nil || count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, res := range results {
		docs = append(docs, Document{ID: res.ID, Name: res.Metadata["name"], Text: res.Content})
	}
	return docs, nil
}

// localEmbedding maps text to a deterministic hashed bag-of-words vector.
// It gives stable nearest-neighbor behavior without any network dependency;
// accuracy is traded for availability, which is the point of local mode.
func localEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, localEmbeddingDims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%localEmbeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// chromem rejects zero vectors; give empty text a fixed direction.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
