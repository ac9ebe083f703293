package mastodon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"golang.org/x/oauth2"
)

// RegisterApp creates an OAuth application on domain. The returned item
// carries client_id, client_secret, name and redirect_uri.
func (c *Client) RegisterApp(ctx context.Context, domain, name, scopes string) (models.Item, error) {
	req := map[string]string{
		"client_name":   name,
		"redirect_uris": common.OOBRedirectURI,
		"scopes":        scopes,
	}
	var raw json.RawMessage
	if err := c.PostJSON(ctx, domain, "apps", http.Header{"User-Agent": {name}}, req, &raw); err != nil {
		return nil, err
	}

	var app models.Item
	if err := models.DecodeJSON(raw, &app); err != nil {
		return nil, err
	}
	if app.String("name") == "" {
		app["name"] = name
	}
	return app, nil
}

// OAuthConfig returns the authorization-code flow configuration for an app
// registered on domain. Tokens are requested out of band.
func (c *Client) OAuthConfig(domain, clientID, clientSecret, scopes string) *oauth2.Config {
	base := c.BaseURL(domain)
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  common.OOBRedirectURI,
		Scopes:       strings.Fields(scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth/authorize",
			TokenURL:  base + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// OAuthContext carries the client's HTTP client into oauth2 calls.
func (c *Client) OAuthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// VerifyCredentials returns the authenticated account.
func (c *Client) VerifyCredentials(ctx context.Context, domain string) (models.Item, error) {
	resp, err := c.Get(ctx, domain, "accounts/verify_credentials")
	if err != nil {
		return nil, err
	}
	var account models.Item
	if err := models.DecodeJSON(resp.Body, &account); err != nil {
		return nil, err
	}
	return account, nil
}

// StatusOptions are the optional fields of a new status.
type StatusOptions struct {
	Visibility  string `json:"visibility,omitempty"`
	SpoilerText string `json:"spoiler_text,omitempty"`
	InReplyToID string `json:"in_reply_to_id,omitempty"`
}

// PostStatus publishes a status. The request body's hash is sent as the
// Idempotency-Key, so a retried post is not duplicated.
func (c *Client) PostStatus(ctx context.Context, domain, text string, opts StatusOptions) (models.Item, error) {
	body := struct {
		Status string `json:"status"`
		StatusOptions
	}{Status: text, StatusOptions: opts}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)

	header, err := c.authHeaders(ctx, domain)
	if err != nil {
		return nil, err
	}
	header.Set("Idempotency-Key", hex.EncodeToString(sum[:]))

	var raw json.RawMessage
	if err := c.PostJSON(ctx, domain, "statuses", header, body, &raw); err != nil {
		return nil, err
	}
	var status models.Item
	if err := models.DecodeJSON(raw, &status); err != nil {
		return nil, err
	}
	return status, nil
}
