package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"golang.org/x/oauth2"
)

// flag set on the credential records, as on collection documents
const oauthFlag = "oauth"

// OAuthClient is the part of the Mastodon transport the credential flow
// needs. *mastodon.Client satisfies it.
type OAuthClient interface {
	RegisterApp(ctx context.Context, domain, name, scopes string) (models.Item, error)
	OAuthConfig(domain, clientID, clientSecret, scopes string) *oauth2.Config
	OAuthContext(ctx context.Context) context.Context
}

// CredentialService manages the per-domain OAuth app registration and
// access token, and hands out request headers from a session cache.
//
// Contract:
//   - Register: create an app on the instance and return the URL where the
//     user obtains an authorization code.
//   - Access: exchange the code for a token. Returns true without a request
//     when a token is already stored.
//   - AuthHeaders: cached headers for authenticated requests; fails with
//     common.ErrUnauthenticated when no token is stored.
//   - Invalidate: drop a domain from the cache.
//   - Forget: delete the stored token after the instance rejected it,
//     keeping the app registration.
//   - Logout: delete the stored registration and token.
type CredentialService interface {
	Register(ctx context.Context, domain, name, scopes string) (string, error)
	Access(ctx context.Context, domain, code, scopes string) (bool, error)
	AuthHeaders(ctx context.Context, domain string) (http.Header, error)
	Invalidate(domain string)
	Forget(ctx context.Context, domain string) error
	Logout(ctx context.Context, domain string) error
}

type credentialService struct {
	docs   DocumentService
	client OAuthClient
	log    logging.Logger

	mu    sync.Mutex
	cache map[string]http.Header
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(docs DocumentService, client OAuthClient, log logging.Logger) CredentialService {
	return &credentialService{
		docs:   docs,
		client: client,
		log:    log,
		cache:  make(map[string]http.Header),
	}
}

func (s *credentialService) Register(ctx context.Context, domain, name, scopes string) (string, error) {
	if name == "" {
		name = common.DefaultAppName
	}
	if scopes == "" {
		scopes = common.DefaultScopes
	}

	app, err := s.client.RegisterApp(ctx, domain, name, scopes)
	if err != nil {
		return "", fmt.Errorf("register app on %s: %w", domain, err)
	}
	app["scopes"] = scopes

	doc := models.Document{ID: models.AuthID(domain), Item: app}
	doc.SetFlag(oauthFlag, true)
	if _, err := s.docs.ForceUpdate(ctx, doc); err != nil {
		return "", err
	}

	cfg := s.client.OAuthConfig(domain, app.String("client_id"), app.String("client_secret"), scopes)
	s.log.Info(ctx, "app registered", "domain", domain, "name", name)
	return cfg.AuthCodeURL(""), nil
}

func (s *credentialService) Access(ctx context.Context, domain, code, scopes string) (bool, error) {
	_, err := s.docs.Get(ctx, models.AccessID(domain))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return false, err
	}

	auth, err := s.docs.Get(ctx, models.AuthID(domain))
	if errors.Is(err, common.ErrNotFound) {
		return false, fmt.Errorf("%w: no app registered on %s", common.ErrUnauthenticated, domain)
	}
	if err != nil {
		return false, err
	}
	if code == "" {
		return false, fmt.Errorf("%w: authorization code required for %s", common.ErrUnauthenticated, domain)
	}
	if scopes == "" {
		scopes = auth.Item.String("scopes")
	}
	if scopes == "" {
		scopes = common.DefaultScopes
	}

	cfg := s.client.OAuthConfig(domain, auth.Item.String("client_id"), auth.Item.String("client_secret"), scopes)
	token, err := cfg.Exchange(s.client.OAuthContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return false, fmt.Errorf("%w: %s: %v", common.ErrUnauthenticated, domain, err)
		}
		return false, fmt.Errorf("%w: token exchange on %s: %v", common.ErrTransport, domain, err)
	}

	item := models.Item{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
	}
	if v := token.Extra("scope"); v != nil {
		item["scope"] = v
	}
	if v := token.Extra("created_at"); v != nil {
		item["created_at"] = v
	}

	doc := models.Document{ID: models.AccessID(domain), Item: item}
	doc.SetFlag(oauthFlag, true)
	if _, err := s.docs.ForceUpdate(ctx, doc); err != nil {
		return false, err
	}
	s.Invalidate(domain)
	s.log.Info(ctx, "access granted", "domain", domain)
	return false, nil
}

func (s *credentialService) AuthHeaders(ctx context.Context, domain string) (http.Header, error) {
	s.mu.Lock()
	h, ok := s.cache[domain]
	s.mu.Unlock()
	if ok {
		return h.Clone(), nil
	}

	access, err := s.docs.Get(ctx, models.AccessID(domain))
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: no access token for %s", common.ErrUnauthenticated, domain)
	}
	if err != nil {
		return nil, err
	}
	token := access.Item.String("access_token")
	if token == "" {
		return nil, fmt.Errorf("%w: empty access token for %s", common.ErrUnauthenticated, domain)
	}

	name := common.DefaultAppName
	auth, err := s.docs.Get(ctx, models.AuthID(domain))
	switch {
	case err == nil && auth.Item.String("name") != "":
		name = auth.Item.String("name")
	case err != nil && !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	h = http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("User-Agent", name)
	h.Set("Accept", "application/json")

	s.mu.Lock()
	s.cache[domain] = h
	s.mu.Unlock()
	return h.Clone(), nil
}

func (s *credentialService) Invalidate(domain string) {
	s.mu.Lock()
	delete(s.cache, domain)
	s.mu.Unlock()
}

func (s *credentialService) Forget(ctx context.Context, domain string) error {
	s.Invalidate(domain)
	return s.docs.Purge(ctx, models.AccessID(domain))
}

func (s *credentialService) Logout(ctx context.Context, domain string) error {
	s.Invalidate(domain)
	for _, id := range []string{models.AccessID(domain), models.AuthID(domain), models.AccountID(domain)} {
		if err := s.docs.Purge(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
