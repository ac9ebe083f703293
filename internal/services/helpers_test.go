package services

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
)

// recordingRepo wraps a Repository, counting calls and letting tests run
// code right before a Put reaches the store.
type recordingRepo struct {
	documents.Repository

	mu        sync.Mutex
	puts      int
	gets      int
	removes   int
	beforePut func(n int, doc models.Document)
	getErr    error
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{Repository: documents.NewMemoryRepository()}
}

func (r *recordingRepo) Get(ctx context.Context, id string) (*models.Document, error) {
	r.mu.Lock()
	r.gets++
	err := r.getErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.Get(ctx, id)
}

func (r *recordingRepo) Put(ctx context.Context, doc models.Document) (string, error) {
	r.mu.Lock()
	r.puts++
	n := r.puts
	hook := r.beforePut
	r.mu.Unlock()
	if hook != nil {
		hook(n, doc)
	}
	return r.Repository.Put(ctx, doc)
}

func (r *recordingRepo) Remove(ctx context.Context, id, rev string) error {
	r.mu.Lock()
	r.removes++
	r.mu.Unlock()
	return r.Repository.Remove(ctx, id, rev)
}

func (r *recordingRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

// seed writes doc directly to the underlying store.
func (r *recordingRepo) seed(doc models.Document) string {
	rev, err := r.Repository.Put(context.Background(), doc)
	if err != nil {
		panic(err)
	}
	return rev
}
