package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/models"
)

// AccountVerifier fetches the authenticated account of a domain.
type AccountVerifier interface {
	VerifyCredentials(ctx context.Context, domain string) (models.Item, error)
}

// AccountService returns the local account of a domain, caching it in the
// store after the first lookup.
type AccountService interface {
	GetAccount(ctx context.Context, domain string) (*models.Document, error)
	Source(ctx context.Context, domain string) (string, error)
}

type accountService struct {
	docs     DocumentService
	verifier AccountVerifier
}

// NewAccountService constructs an AccountService.
func NewAccountService(docs DocumentService, verifier AccountVerifier) AccountService {
	return &accountService{docs: docs, verifier: verifier}
}

func (s *accountService) GetAccount(ctx context.Context, domain string) (*models.Document, error) {
	doc, err := s.docs.Get(ctx, models.AccountID(domain))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	item, err := s.verifier.VerifyCredentials(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("verify credentials on %s: %w", domain, err)
	}
	if item.String("acct") == "" {
		return nil, fmt.Errorf("%w: account without acct on %s", common.ErrInvalidDocument, domain)
	}

	account := models.Document{ID: models.AccountID(domain), Item: item}
	account.SetFlag("account", true)
	if _, err := s.docs.ForceUpdate(ctx, account); err != nil {
		return nil, err
	}
	return s.docs.Get(ctx, models.AccountID(domain))
}

// Source returns "acct@domain" for the domain's local account.
func (s *accountService) Source(ctx context.Context, domain string) (string, error) {
	doc, err := s.GetAccount(ctx, domain)
	if err != nil {
		return "", err
	}
	return models.Source(doc.Item.String("acct"), domain), nil
}
