package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
)

// QueryService answers read-side questions from the store's views.
type QueryService interface {
	// Collection returns the documents owned by source that were seen in path.
	Collection(ctx context.Context, source, path string) ([]models.Document, error)
	// Timeline returns the documents flagged for path in posting order.
	Timeline(ctx context.Context, path string, limit int) ([]models.Document, error)
	// ByAccount returns the statuses authored by the account at accountURL.
	ByAccount(ctx context.Context, accountURL string, limit int) ([]models.Document, error)
	// Count returns how many documents carry flag.
	Count(ctx context.Context, flag string) (int, error)
	// Mutuals returns the accounts that both follow and are followed by the
	// local account of domain.
	Mutuals(ctx context.Context, domain string) ([]models.Item, error)
}

type queryService struct {
	repo     documents.Repository
	accounts AccountService
}

// NewQueryService constructs a QueryService.
func NewQueryService(repo documents.Repository, accounts AccountService) QueryService {
	return &queryService{repo: repo, accounts: accounts}
}

func (s *queryService) Collection(ctx context.Context, source, path string) ([]models.Document, error) {
	key := []string{source, path}
	return s.docs(ctx, documents.ViewPropGroup, models.QueryOptions{StartKey: key, EndKey: key, IncludeDocs: true})
}

func (s *queryService) Timeline(ctx context.Context, path string, limit int) ([]models.Document, error) {
	return s.docs(ctx, documents.ViewPropByTime, models.QueryOptions{
		StartKey:    []string{path},
		EndKey:      []string{path, models.KeyHigh},
		IncludeDocs: true,
		Limit:       limit,
	})
}

func (s *queryService) ByAccount(ctx context.Context, accountURL string, limit int) ([]models.Document, error) {
	return s.docs(ctx, documents.ViewByAccount, models.QueryOptions{
		StartKey:    []string{accountURL},
		EndKey:      []string{accountURL, models.KeyHigh},
		IncludeDocs: true,
		Limit:       limit,
	})
}

func (s *queryService) docs(ctx context.Context, view string, opts models.QueryOptions) ([]models.Document, error) {
	rows, err := s.repo.Query(ctx, view, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", view, err)
	}
	out := make([]models.Document, 0, len(rows))
	for _, r := range rows {
		if r.Doc != nil {
			out = append(out, *r.Doc)
		}
	}
	return out, nil
}

func (s *queryService) Count(ctx context.Context, flag string) (int, error) {
	rows, err := s.repo.Query(ctx, documents.ViewProps, models.QueryOptions{
		StartKey: []string{flag},
		EndKey:   []string{flag},
		Reduce:   true,
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", flag, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0].Value.(int)
	return n, nil
}

func (s *queryService) Mutuals(ctx context.Context, domain string) ([]models.Item, error) {
	account, err := s.accounts.GetAccount(ctx, domain)
	if err != nil {
		return nil, err
	}
	id, ok := account.Item.ID()
	if !ok {
		return nil, fmt.Errorf("account of %s has no id", domain)
	}
	source := models.Source(account.Item.String("acct"), domain)

	followers, err := s.Collection(ctx, source, models.FollowersPath(id))
	if err != nil {
		return nil, err
	}
	following, err := s.Collection(ctx, source, models.FollowingPath(id))
	if err != nil {
		return nil, err
	}

	followed := make(map[string]struct{}, len(following))
	for _, d := range following {
		followed[d.ID] = struct{}{}
	}

	var mutuals []models.Item
	for _, d := range followers {
		if _, ok := followed[d.ID]; ok {
			mutuals = append(mutuals, d.Item)
		}
	}
	return mutuals, nil
}
