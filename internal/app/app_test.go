package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/config"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/mastodon"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	postKey    atomic.Value
}

func newFakeInstance(t *testing.T) *fakeInstance {
	t.Helper()
	f := &fakeInstance{}
	jsonHandler := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","name":"fedisync","client_id":"cid","client_secret":"secret"}`))
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","scope":"read","created_at":1700000000}`))
	})
	mux.HandleFunc("/api/v1/accounts/verify_credentials", jsonHandler(`{"id":"7","acct":"bob","url":"https://d.example/@bob"}`))
	mux.HandleFunc("/api/v1/timelines/home", jsonHandler(`[{"id":"s2","created_at":"2024-01-02T00:00:00Z"},{"id":"s1","created_at":"2024-01-01T00:00:00Z"}]`))
	mux.HandleFunc("/api/v1/accounts/7/followers", jsonHandler(`[{"id":"a1","acct":"ann","url":"https://x.example/@ann"},{"id":"a2","acct":"carol","url":"https://y.example/@carol"}]`))
	mux.HandleFunc("/api/v1/accounts/7/following", jsonHandler(`[{"id":"a2","acct":"carol","url":"https://y.example/@carol"},{"id":"a3","acct":"dave","url":"https://z.example/@dave"}]`))
	mux.HandleFunc("/api/v1/statuses", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.postKey.Store(r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"99","url":"https://d.example/@bob/99"}`))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestApp(t *testing.T, inst *fakeInstance, input string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Domain = "d.example"
	cfg.ArchiveInterval = 10 * time.Millisecond
	cfg.FollowInterval = 10 * time.Millisecond
	cfg.ListenAddr = "127.0.0.1:0"

	client := mastodon.NewClient(
		mastodon.WithHTTPClient(inst.srv.Client()),
		mastodon.WithBaseURL(func(string) string { return inst.srv.URL }),
		mastodon.WithRetry(1, time.Millisecond),
	)

	out := &bytes.Buffer{}
	a := New(cfg, documents.NewMemoryRepository(), client, logging.Nop(), strings.NewReader(input), out)
	t.Cleanup(func() { _ = a.Close() })
	return a, out
}

func TestRun_UnknownCommand(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "")
	err := a.Run(context.Background(), []string{"frobnicate"})
	require.ErrorIs(t, err, common.ErrUnknownCommand)
}

func TestRun_AuthPromptsForCode(t *testing.T) {
	inst := newFakeInstance(t)
	a, out := newTestApp(t, inst, "good\n")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"auth"}))
	assert.Contains(t, out.String(), inst.srv.URL+"/oauth/authorize?")
	assert.Contains(t, out.String(), "Authenticated on d.example.")

	access, err := a.docs.Get(ctx, models.AccessID("d.example"))
	require.NoError(t, err)
	assert.Equal(t, "tok", access.Item.String("access_token"))

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"auth"}))
	assert.Equal(t, "Already authenticated on d.example.\n", out.String())
	assert.EqualValues(t, 1, inst.tokenCalls.Load())
}

func TestRun_AuthReadsCodeFromTerminal(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) { return []byte("good\n"), nil }

	a, out := newTestApp(t, newFakeInstance(t), "")
	a.terminal = true

	require.NoError(t, a.Run(context.Background(), []string{"auth"}))
	assert.Contains(t, out.String(), "Authorization code: ")
}

func TestRun_RejectedCode(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "bad\n")
	err := a.Run(context.Background(), []string{"auth"})
	require.ErrorIs(t, err, common.ErrUnauthenticated)
}

func TestRun_SyncWithoutCodeFails(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "")
	err := a.Run(context.Background(), nil)
	require.ErrorIs(t, err, io.EOF)
}

func TestRun_ArchiveStoresTimeline(t *testing.T) {
	a, out := newTestApp(t, newFakeInstance(t), "good\n")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"archive"}))
	assert.Contains(t, out.String(), "timelines/home: completed after 1 pages")

	for _, id := range []string{"s1", "s2"} {
		doc, err := a.docs.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, doc.HasFlag("timelines/home"))
		assert.Equal(t, "bob@d.example", doc.Source)
	}

	cursor, err := a.cursors.Load(ctx, "d.example", models.DirectionArchive, "timelines/home")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestRun_FollowUntilCancelled(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "good\n")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Run(ctx, []string{"follow"}))

	doc, err := a.docs.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.True(t, doc.HasFlag("timelines/home"))
}

func TestRun_SyncUntilCancelled(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "good\n")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Run(ctx, []string{"sync"}))

	n, err := a.queries.Count(context.Background(), "timelines/home")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_RejectedTokenIsReturned(t *testing.T) {
	for _, cmd := range []string{"archive", "follow", "sync", "mutuals"} {
		t.Run(cmd, func(t *testing.T) {
			a, _ := newTestApp(t, newFakeInstance(t), "")
			ctx := context.Background()

			access := models.Document{ID: models.AccessID("d.example"), Item: models.Item{"access_token": "revoked", "token_type": "Bearer"}}
			access.SetFlag("oauth", true)
			_, err := a.docs.ForceUpdate(ctx, access)
			require.NoError(t, err)

			runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			started := time.Now()

			err = a.Run(runCtx, []string{cmd})
			require.ErrorIs(t, err, common.ErrUnauthenticated)
			assert.Less(t, time.Since(started), time.Second, "loops should stop on the first rejection")

			_, err = a.docs.Get(ctx, models.AccessID("d.example"))
			require.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestRun_Mutuals(t *testing.T) {
	a, out := newTestApp(t, newFakeInstance(t), "good\n")

	require.NoError(t, a.Run(context.Background(), []string{"mutuals"}))
	assert.Contains(t, out.String(), "carol\thttps://y.example/@carol\n")
	assert.Contains(t, out.String(), "1 mutuals\n")
	assert.NotContains(t, out.String(), "ann\t")
	assert.NotContains(t, out.String(), "dave\t")
}

func TestRun_Post(t *testing.T) {
	inst := newFakeInstance(t)
	a, out := newTestApp(t, inst, "good\n")

	require.NoError(t, a.Run(context.Background(), []string{"post", "hello world"}))
	assert.True(t, strings.HasSuffix(out.String(), "https://d.example/@bob/99\n"))
	assert.NotEmpty(t, inst.postKey.Load())

	err := a.Run(context.Background(), []string{"post"})
	require.Error(t, err)
}

func TestRun_Logout(t *testing.T) {
	a, out := newTestApp(t, newFakeInstance(t), "good\n")
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"auth"}))
	require.NoError(t, a.Run(ctx, []string{"logout"}))
	assert.Contains(t, out.String(), "Logged out of d.example.")

	_, err := a.docs.Get(ctx, models.AccessID("d.example"))
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = a.docs.Get(ctx, models.AuthID("d.example"))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, newFakeInstance(t), "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Run(ctx, []string{"serve"}))
}
