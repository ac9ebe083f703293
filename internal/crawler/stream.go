package crawler

import (
	"context"

	"github.com/dmitrijs2005/fedisync/internal/mastodon"
)

// StreamHandler returns a callback for mastodon.Client.Stream that ingests
// every new or edited status under path (normally "timelines/home"). Other
// events are ignored.
func (c *Crawler) StreamHandler(domain, path string) func(context.Context, mastodon.Event) error {
	path = NormalizePath(path)
	var source string
	return func(ctx context.Context, ev mastodon.Event) error {
		if ev.Type != "update" && ev.Type != "status.update" {
			return nil
		}
		if ev.Item == nil {
			c.log.Warn(ctx, "stream event without item", "domain", domain, "event", ev.Type)
			return nil
		}

		if source == "" {
			s, err := c.accounts.Source(ctx, domain)
			if err != nil {
				return err
			}
			source = s
		}

		written, err := c.Ingest(ctx, path, source, ev.Item)
		if err != nil {
			return err
		}
		c.log.Debug(ctx, "stream item", "domain", domain, "path", path, "written", written)
		return nil
	}
}
