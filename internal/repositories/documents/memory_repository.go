package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/models"
)

type memoryRecord struct {
	rev  string
	body []byte
	doc  models.Document
}

// MemoryRepository is an in-process Repository. Documents are stored
// serialized, so callers never share maps with the store.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]memoryRecord
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]memoryRecord)}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	rec, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	return decodeBody(id, rec.rev, rec.body)
}

func (r *MemoryRepository) Put(ctx context.Context, doc models.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc.ID == "" {
		return "", fmt.Errorf("%w: empty id", common.ErrInvalidDocument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.docs[doc.ID]
	if exists != (doc.Rev != "") || (exists && cur.rev != doc.Rev) {
		return "", common.ErrConflict
	}

	stored := doc
	stored.Rev = models.NextRevision(doc.Rev)
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
	}
	// keep a decoded copy for index evaluation
	decoded, err := decodeBody(doc.ID, stored.Rev, body)
	if err != nil {
		return "", err
	}

	r.docs[doc.ID] = memoryRecord{rev: stored.Rev, body: body, doc: *decoded}
	return stored.Rev, nil
}

func (r *MemoryRepository) Remove(ctx context.Context, id, rev string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	if cur.rev != rev {
		return common.ErrConflict
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryRepository) Query(ctx context.Context, view string, opts models.QueryOptions) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type hit struct {
		key string
		id  string
	}

	r.mu.RLock()
	var hits []hit
	for id, rec := range r.docs {
		for _, e := range Emit(&rec.doc) {
			if e.View != view {
				continue
			}
			k := EncodeKey(e.Key)
			if inRange(k, opts) {
				hits = append(hits, hit{key: k, id: id})
			}
		}
	}

	if opts.Reduce {
		r.mu.RUnlock()
		return []models.Row{{Value: len(hits)}}, nil
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].key != hits[j].key {
			return hits[i].key < hits[j].key
		}
		return hits[i].id < hits[j].id
	})
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	var rows []models.Row
	for _, h := range hits {
		row := models.Row{ID: h.id, Key: DecodeKey(h.key)}
		if opts.IncludeDocs {
			rec := r.docs[h.id]
			doc, err := decodeBody(h.id, rec.rev, rec.body)
			if err != nil {
				r.mu.RUnlock()
				return nil, err
			}
			row.Doc = doc
		}
		rows = append(rows, row)
	}
	r.mu.RUnlock()
	return rows, nil
}

func (r *MemoryRepository) Close() error { return nil }
