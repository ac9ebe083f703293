package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/models"
)

// CursorService persists the position of a polling loop so that a restart
// resumes where the previous run stopped.
type CursorService interface {
	Load(ctx context.Context, domain string, dir models.Direction, path string) (string, error)
	Save(ctx context.Context, domain string, dir models.Direction, path, cursor string) error
	Clear(ctx context.Context, domain string, dir models.Direction, path string) error
}

type cursorService struct {
	docs DocumentService
}

// NewCursorService constructs a CursorService.
func NewCursorService(docs DocumentService) CursorService {
	return &cursorService{docs: docs}
}

// Load returns the saved cursor, or "" when the loop starts fresh.
func (s *cursorService) Load(ctx context.Context, domain string, dir models.Direction, path string) (string, error) {
	doc, err := s.docs.Get(ctx, models.CursorID(domain, dir, path))
	if errors.Is(err, common.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Item.String("cursor"), nil
}

func (s *cursorService) Save(ctx context.Context, domain string, dir models.Direction, path, cursor string) error {
	if cursor == "" {
		return s.Clear(ctx, domain, dir, path)
	}
	_, err := s.docs.ForceUpdate(ctx, models.Document{
		ID: models.CursorID(domain, dir, path),
		Item: models.Item{
			"domain":    domain,
			"direction": string(dir),
			"path":      path,
			"cursor":    cursor,
		},
	})
	return err
}

func (s *cursorService) Clear(ctx context.Context, domain string, dir models.Direction, path string) error {
	return s.docs.Purge(ctx, models.CursorID(domain, dir, path))
}
