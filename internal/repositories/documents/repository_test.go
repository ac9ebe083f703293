package documents

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/dbx"
	"github.com/dmitrijs2005/fedisync/internal/migrations"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fsys, err := migrations.For(dbx.DialectSQLite)
	require.NoError(t, err)
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)

	return NewSQLiteRepository(db)
}

// backends runs fn against every Repository implementation.
func backends(t *testing.T, fn func(t *testing.T, r Repository)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteRepo(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryRepository()) })
}

func status(id, created string, flags ...string) models.Document {
	d := models.Document{
		ID:     id,
		Item:   models.Item{"id": id, "created_at": created, "account": map[string]any{"url": "https://example.org/@bob"}},
		Source: "me@example.org",
	}
	for _, f := range flags {
		d.SetFlag(f, true)
	}
	return d
}

func TestRepository_GetMissing(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		_, err := r.Get(context.Background(), "nope")
		require.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestRepository_PutGet(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		rev, err := r.Put(ctx, status("1", "2023-01-01T00:00:00Z", "timelines/home"))
		require.NoError(t, err)
		assert.Equal(t, 1, models.RevisionGeneration(rev))

		got, err := r.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, rev, got.Rev)
		assert.Equal(t, "me@example.org", got.Source)
		assert.True(t, got.HasFlag("timelines/home"))
		assert.Equal(t, "2023-01-01T00:00:00Z", got.Item.String("created_at"))
	})
}

func TestRepository_PutConflicts(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		rev1, err := r.Put(ctx, status("1", ""))
		require.NoError(t, err)

		// absent revision on an existing document
		_, err = r.Put(ctx, status("1", ""))
		require.ErrorIs(t, err, common.ErrConflict)

		doc := status("1", "")
		doc.Rev = rev1
		rev2, err := r.Put(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, 2, models.RevisionGeneration(rev2))

		// stale revision
		_, err = r.Put(ctx, doc)
		require.ErrorIs(t, err, common.ErrConflict)

		// revision on a missing document
		ghost := status("2", "")
		ghost.Rev = "1-abc"
		_, err = r.Put(ctx, ghost)
		require.ErrorIs(t, err, common.ErrConflict)
	})
}

func TestRepository_Remove(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		rev, err := r.Put(ctx, status("1", "2023-01-01", "p"))
		require.NoError(t, err)

		require.ErrorIs(t, r.Remove(ctx, "1", "1-stale"), common.ErrConflict)
		require.ErrorIs(t, r.Remove(ctx, "missing", "1-x"), common.ErrNotFound)
		require.NoError(t, r.Remove(ctx, "1", rev))

		_, err = r.Get(ctx, "1")
		require.ErrorIs(t, err, common.ErrNotFound)

		rows, err := r.Query(ctx, ViewProps, models.QueryOptions{StartKey: []string{"p"}, EndKey: []string{"p"}})
		require.NoError(t, err)
		assert.Empty(t, rows)

		// the id can be created again from scratch
		_, err = r.Put(ctx, status("1", ""))
		require.NoError(t, err)
	})
}

func TestRepository_QueryViews(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		for _, d := range []models.Document{
			status("a", "2023-01-03", "timelines/home"),
			status("b", "2023-01-01", "timelines/home", "accounts/1/followers"),
			status("c", "2023-01-02", "accounts/1/followers"),
		} {
			_, err := r.Put(ctx, d)
			require.NoError(t, err)
		}

		count, err := r.Query(ctx, ViewProps, models.QueryOptions{
			StartKey: []string{"timelines/home"}, EndKey: []string{"timelines/home"}, Reduce: true,
		})
		require.NoError(t, err)
		require.Len(t, count, 1)
		assert.Equal(t, 2, count[0].Value)

		byTime, err := r.Query(ctx, ViewPropByTime, models.QueryOptions{
			StartKey: []string{"timelines/home"}, EndKey: []string{"timelines/home", "\uffff"},
		})
		require.NoError(t, err)
		require.Len(t, byTime, 2)
		assert.Equal(t, "b", byTime[0].ID)
		assert.Equal(t, []string{"timelines/home", "2023-01-01"}, byTime[0].Key)
		assert.Equal(t, "a", byTime[1].ID)
		assert.Nil(t, byTime[0].Doc)

		group, err := r.Query(ctx, ViewPropGroup, models.QueryOptions{
			StartKey:    []string{"me@example.org", "accounts/1/followers"},
			EndKey:      []string{"me@example.org", "accounts/1/followers"},
			IncludeDocs: true,
		})
		require.NoError(t, err)
		require.Len(t, group, 2)
		assert.Equal(t, "b", group[0].ID)
		assert.Equal(t, "c", group[1].ID)
		require.NotNil(t, group[1].Doc)
		assert.True(t, group[1].Doc.HasFlag("accounts/1/followers"))

		limited, err := r.Query(ctx, ViewByAccount, models.QueryOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, []string{"https://example.org/@bob", "2023-01-01"}, limited[0].Key)
	})
}

func TestRepository_ReindexOnUpdate(t *testing.T) {
	backends(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		rev, err := r.Put(ctx, status("a", "2023-01-01", "p"))
		require.NoError(t, err)

		d := status("a", "2023-01-01", "p", "q")
		d.Rev = rev
		_, err = r.Put(ctx, d)
		require.NoError(t, err)

		rows, err := r.Query(ctx, ViewProps, models.QueryOptions{Reduce: true})
		require.NoError(t, err)
		assert.Equal(t, 2, rows[0].Value)
	})
}
