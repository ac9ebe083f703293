// Package crawler downloads single pages of Mastodon collections into the
// document store, flagging every item with the collection path it was seen
// in and skipping items that already carry that flag.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/mastodon"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/services"
)

// Fetcher performs an authenticated GET of a collection path or cursor URL.
type Fetcher interface {
	Get(ctx context.Context, domain, pathOrURL string) (*mastodon.Response, error)
}

// SourceResolver names the local account that owns a domain's documents.
type SourceResolver interface {
	Source(ctx context.Context, domain string) (string, error)
}

// Crawler fetches collection pages and ingests their items.
type Crawler struct {
	client   Fetcher
	docs     services.DocumentService
	accounts SourceResolver
	log      logging.Logger
}

// New constructs a Crawler.
func New(client Fetcher, docs services.DocumentService, accounts SourceResolver, log logging.Logger) *Crawler {
	return &Crawler{client: client, docs: docs, accounts: accounts, log: log}
}

// NormalizePath strips surrounding slashes, so "/timelines/home/" and
// "timelines/home" name the same flag.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// FetchPage downloads one page of path on domain, starting at cursor when
// it is non-empty and at the newest page otherwise. Items are ingested in
// the order the instance returned them; the first failure aborts the rest of
// the page, and the returned result counts what was done before it.
func (c *Crawler) FetchPage(ctx context.Context, domain, path, cursor string) (models.PageResult, error) {
	path = NormalizePath(path)
	res := models.PageResult{Domain: domain, Path: path, Cursor: cursor}

	source, err := c.accounts.Source(ctx, domain)
	if err != nil {
		return res, err
	}

	target := path
	if cursor != "" {
		target = cursor
	}
	resp, err := c.client.Get(ctx, domain, target)
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", target, err)
	}

	raws, err := resp.Items()
	if err != nil {
		return res, err
	}
	res.Fetched = len(raws)

	for _, raw := range raws {
		item, err := models.ItemFromRaw(raw)
		if err != nil {
			return res, err
		}
		written, err := c.Ingest(ctx, path, source, item)
		if err != nil {
			return res, err
		}
		if written {
			res.Written++
		} else {
			res.Skipped++
		}
	}

	if resp.CursorErr != nil {
		c.log.Warn(ctx, "ignoring malformed link header", "domain", domain, "path", path, "error", resp.CursorErr)
	} else {
		res.Next = resp.Next
		res.Prev = resp.Prev
	}

	c.log.Debug(ctx, "page fetched",
		"domain", domain, "path", path, "items", res.Fetched, "written", res.Written, "skipped", res.Skipped)
	return res, nil
}

// Ingest flags item as a member of path and merges it into the store. It
// reports false without writing when the stored copy already carries the
// flag.
func (c *Crawler) Ingest(ctx context.Context, path, source string, item models.Item) (bool, error) {
	id, ok := item.ID()
	if !ok {
		return false, fmt.Errorf("%w: item without id", common.ErrInvalidDocument)
	}

	existing, err := c.docs.Get(ctx, id)
	switch {
	case err == nil:
		if existing.HasFlag(path) {
			return false, nil
		}
	case errors.Is(err, common.ErrNotFound):
	default:
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}

	doc := models.Document{ID: id, Item: item, Source: source}
	doc.SetFlag(path, true)
	if _, err := c.docs.Merge(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}
