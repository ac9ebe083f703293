package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// HeaderProvider supplies per-domain request headers (Authorization,
// User-Agent). Invalidate is called when the instance rejects them.
type HeaderProvider interface {
	AuthHeaders(ctx context.Context, domain string) (http.Header, error)
	Invalidate(domain string)
}

// Response is a successful page fetch. Next and Prev hold the cursors of the
// Link header; CursorErr is set when the header was present but malformed.
type Response struct {
	Body      []byte
	Header    http.Header
	Next      string
	Prev      string
	CursorErr error
}

// Items splits a collection page body into its entries.
func (r *Response) Items() ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(r.Body, &items); err != nil {
		return nil, fmt.Errorf("%w: page body is not an array: %v", common.ErrInvalidDocument, err)
	}
	return items, nil
}

// Client talks to Mastodon instances.
type Client struct {
	httpClient *http.Client
	headers    HeaderProvider
	baseURL    func(domain string) string
	log        logging.Logger

	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithBaseURL overrides how a domain maps to its origin. The default is
// "https://" + domain.
func WithBaseURL(fn func(domain string) string) Option {
	return func(c *Client) { c.baseURL = fn }
}

// WithRetry sets the retry budget and the initial backoff delay.
func WithRetry(maxRetries uint64, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient builds an unauthenticated client. Use WithHeaders to attach a
// credential source.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    func(domain string) string { return "https://" + domain },
		log:        logging.Nop(),
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHeaders returns a copy of c that authenticates with p.
func (c *Client) WithHeaders(p HeaderProvider) *Client {
	cp := *c
	cp.headers = p
	return &cp
}

// BaseURL returns the origin of domain, without a trailing slash.
func (c *Client) BaseURL(domain string) string {
	return strings.TrimRight(c.baseURL(domain), "/")
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// ResolveURL turns a collection path into an absolute API URL. Absolute
// URLs (cursors) are returned unchanged.
func (c *Client) ResolveURL(domain, pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	return c.BaseURL(domain) + "/api/v1/" + strings.TrimLeft(pathOrURL, "/")
}

// Get fetches a path or cursor URL with authentication. Cursor URLs must
// point at the domain's own origin; the token is never sent elsewhere.
func (c *Client) Get(ctx context.Context, domain, pathOrURL string) (*Response, error) {
	target := c.ResolveURL(domain, pathOrURL)
	if err := c.checkOrigin(domain, target); err != nil {
		return nil, err
	}
	header, err := c.authHeaders(ctx, domain)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, domain, http.MethodGet, target, header, nil)
}

// checkOrigin fails with common.ErrMalformedCursor unless rawURL has the
// scheme and host of BaseURL(domain).
func (c *Client) checkOrigin(domain, rawURL string) error {
	base, err := url.Parse(c.BaseURL(domain))
	if err != nil {
		return fmt.Errorf("base url of %s: %w", domain, err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrMalformedCursor, err)
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return fmt.Errorf("%w: %s is not on %s", common.ErrMalformedCursor, rawURL, base.Host)
	}
	return nil
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, domain, path string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, domain, http.MethodPost, c.ResolveURL(domain, path), header, payload)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Body, out)
}

func (c *Client) authHeaders(ctx context.Context, domain string) (http.Header, error) {
	if c.headers == nil {
		return http.Header{}, nil
	}
	h, err := c.headers.AuthHeaders(ctx, domain)
	if err != nil {
		return nil, err
	}
	return h.Clone(), nil
}

func (c *Client) do(ctx context.Context, domain, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	backoff := retry.NewExponential(c.baseDelay)
	backoff = retry.WithCappedDuration(c.maxDelay, backoff)
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	var out *Response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Debug(ctx, "request failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
			return retry.RetryableError(&TransportError{URL: rawURL, Err: err})
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return retry.RetryableError(&TransportError{URL: rawURL, Err: readErr})
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			out = &Response{Body: payload, Header: resp.Header}
			out.Next, out.Prev, out.CursorErr = Cursors(resp.Header.Get("Link"))
			if out.CursorErr == nil {
				out.CursorErr = c.checkCursors(domain, out)
			}
			return nil
		}

		httpErr := newHTTPError(resp.StatusCode, payload)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.log.Debug(ctx, "instance busy, retrying", "url", rawURL, "status", resp.StatusCode, "attempt", attempt)
			return retry.RetryableError(httpErr)
		}
		return httpErr
	})
	if err != nil {
		if StatusCode(err) == http.StatusUnauthorized {
			if c.headers != nil {
				c.headers.Invalidate(domain)
			}
			return nil, fmt.Errorf("%w: %s: %v", common.ErrUnauthenticated, domain, err)
		}
		return nil, err
	}
	return out, nil
}

// checkCursors drops both cursors when either leaves the domain's origin.
func (c *Client) checkCursors(domain string, r *Response) error {
	for _, cursor := range []string{r.Next, r.Prev} {
		if cursor == "" {
			continue
		}
		if err := c.checkOrigin(domain, cursor); err != nil {
			r.Next, r.Prev = "", ""
			return err
		}
	}
	return nil
}

func newHTTPError(status int, payload []byte) *HTTPError {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(payload, &body)

	e := &HTTPError{StatusCode: status, Code: body.Error, Message: body.Description}
	if e.Message == "" {
		e.Message = body.Error
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
