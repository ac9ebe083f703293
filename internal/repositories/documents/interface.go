package documents

import (
	"context"

	"github.com/dmitrijs2005/fedisync/internal/models"
)

// Repository is the store facade consumed by the write operations.
type Repository interface {
	// Get returns the current revision of the document, or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Document, error)

	// Put writes doc and returns the new revision. doc.Rev must match the
	// stored revision, or be empty when the document does not exist yet;
	// otherwise common.ErrConflict is returned.
	Put(ctx context.Context, doc models.Document) (string, error)

	// Remove deletes the document at revision rev. It returns
	// common.ErrNotFound for a missing document and common.ErrConflict for a
	// stale revision.
	Remove(ctx context.Context, id, rev string) error

	// Query returns the rows of view whose keys fall in the inclusive
	// [StartKey, EndKey] range, ordered by key then document id.
	Query(ctx context.Context, view string, opts models.QueryOptions) ([]models.Row, error)

	// Close releases the underlying connection.
	Close() error
}
