// Package services contains the application services of fedisync: the
// conflict-safe write operations over the document store, OAuth credential
// management, account lookup, loop cursor persistence and read-side queries.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
)

// DocumentService defines the conflict-safe write operations.
//
// Contract:
//   - ForceUpdate: make the stored copy equal doc with as few writes as
//     possible; identical content is a no-op.
//   - Merge: shallow-merge doc onto the stored copy, retrying exactly once
//     on a revision conflict.
//   - Purge: delete by id; a missing document is success.
//   - Get: read-through to the store.
type DocumentService interface {
	ForceUpdate(ctx context.Context, doc models.Document) (string, error)
	Merge(ctx context.Context, doc models.Document) (string, error)
	Purge(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Document, error)
}

type documentService struct {
	repo documents.Repository
	log  logging.Logger
}

// NewDocumentService constructs a DocumentService over repo.
func NewDocumentService(repo documents.Repository, log logging.Logger) DocumentService {
	return &documentService{repo: repo, log: log}
}

func (s *documentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.repo.Get(ctx, id)
}

// ForceUpdate returns the revision the store holds for doc.ID afterwards.
// A write that loses a race with another writer is re-stamped against the
// fresh revision once; a second conflict is returned.
func (s *documentService) ForceUpdate(ctx context.Context, doc models.Document) (string, error) {
	rev, err := s.forceUpdate(ctx, doc)
	if !errors.Is(err, common.ErrConflict) {
		return rev, err
	}

	s.log.Debug(ctx, "force update conflict, retrying", "id", doc.ID)

	doc.Rev = ""
	rev, err = s.forceUpdate(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("force update %s: %w", doc.ID, err)
	}
	return rev, nil
}

func (s *documentService) forceUpdate(ctx context.Context, doc models.Document) (string, error) {
	current, err := s.repo.Get(ctx, doc.ID)
	if errors.Is(err, common.ErrNotFound) {
		doc.Rev = ""
		return s.repo.Put(ctx, doc)
	}
	if err != nil {
		return "", fmt.Errorf("force update %s: %w", doc.ID, err)
	}

	if doc.Rev != "" && current.Rev == doc.Rev {
		return s.repo.Put(ctx, doc)
	}

	normalized, err := doc.Normalize()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
	}
	if models.SameContent(*current, normalized) {
		s.log.Debug(ctx, "force update skipped, content unchanged", "id", doc.ID)
		return current.Rev, nil
	}

	doc.Rev = current.Rev
	return s.repo.Put(ctx, doc)
}

// Merge returns the revision written. A second conflict is returned to the
// caller wrapped around common.ErrConflict.
func (s *documentService) Merge(ctx context.Context, doc models.Document) (string, error) {
	rev, err := s.repo.Put(ctx, doc)
	if err == nil {
		return rev, nil
	}
	if !errors.Is(err, common.ErrConflict) {
		return "", err
	}

	s.log.Debug(ctx, "merge conflict, retrying", "id", doc.ID)

	current, err := s.repo.Get(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", doc.ID, err)
	}

	rev, err = s.repo.Put(ctx, models.Merge(*current, doc))
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", doc.ID, err)
	}
	return rev, nil
}

func (s *documentService) Purge(ctx context.Context, id string) error {
	current, err := s.repo.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("purge %s: %w", id, err)
	}

	err = s.repo.Remove(ctx, id, current.Rev)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}
