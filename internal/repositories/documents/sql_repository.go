package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/dbx"
	"github.com/dmitrijs2005/fedisync/internal/models"
)

// SQLRepository implements Repository on database/sql. Statements are
// written with '?' placeholders and rebound for the configured dialect.
type SQLRepository struct {
	db      *sql.DB
	dialect dbx.Dialect
}

// NewSQLiteRepository returns a repository over a SQLite database. SQLite
// serializes writers, so the pool is limited to one connection.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	db.SetMaxOpenConns(1)
	return &SQLRepository{db: db, dialect: dbx.DialectSQLite}
}

// NewPostgresRepository returns a repository over a PostgreSQL database.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, dialect: dbx.DialectPostgres}
}

// Dialect reports the SQL flavour the repository speaks.
func (r *SQLRepository) Dialect() dbx.Dialect { return r.dialect }

func (r *SQLRepository) q(query string) string {
	return dbx.Rebind(r.dialect, query)
}

// Get loads a document by id.
func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	var rev string
	var body []byte
	err := r.db.QueryRowContext(ctx, r.q(`SELECT rev, body FROM documents WHERE id = ?`), id).Scan(&rev, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	return decodeBody(id, rev, body)
}

func decodeBody(id, rev string, body []byte) (*models.Document, error) {
	doc := &models.Document{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrInvalidDocument, id, err)
	}
	doc.ID = id
	doc.Rev = rev
	return doc, nil
}

// Put writes doc under a revision check and refreshes its index rows in the
// same transaction.
func (r *SQLRepository) Put(ctx context.Context, doc models.Document) (string, error) {
	if doc.ID == "" {
		return "", fmt.Errorf("%w: empty id", common.ErrInvalidDocument)
	}

	newRev := models.NextRevision(doc.Rev)
	stored := doc
	stored.Rev = newRev
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidDocument, err)
	}

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var res sql.Result
		var err error
		if doc.Rev == "" {
			res, err = tx.ExecContext(ctx,
				r.q(`INSERT INTO documents (id, rev, body) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`),
				doc.ID, newRev, string(body))
		} else {
			res, err = tx.ExecContext(ctx,
				r.q(`UPDATE documents SET rev = ?, body = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND rev = ?`),
				newRev, string(body), doc.ID, doc.Rev)
		}
		if err != nil {
			return fmt.Errorf("write document: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if ra != 1 {
			return common.ErrConflict
		}

		return r.reindex(ctx, tx, &stored)
	})
	if err != nil {
		return "", err
	}
	return newRev, nil
}

func (r *SQLRepository) reindex(ctx context.Context, tx dbx.DBTX, doc *models.Document) error {
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM doc_index WHERE doc_id = ?`), doc.ID); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	for _, e := range Emit(doc) {
		if _, err := tx.ExecContext(ctx,
			r.q(`INSERT INTO doc_index (view_name, index_key, doc_id) VALUES (?, ?, ?)`),
			e.View, EncodeKey(e.Key), doc.ID); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
	}
	return nil
}

// Remove deletes the document at revision rev.
func (r *SQLRepository) Remove(ctx context.Context, id, rev string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM documents WHERE id = ? AND rev = ?`), id, rev)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if ra == 0 {
			var n int
			if err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM documents WHERE id = ?`), id).Scan(&n); err != nil {
				return fmt.Errorf("check document: %w", err)
			}
			if n == 0 {
				return common.ErrNotFound
			}
			return common.ErrConflict
		}

		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM doc_index WHERE doc_id = ?`), id); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		return nil
	})
}

// Query reads a key range of view.
func (r *SQLRepository) Query(ctx context.Context, view string, opts models.QueryOptions) ([]models.Row, error) {
	where := []string{"i.view_name = ?"}
	args := []any{view}
	if opts.StartKey != nil {
		where = append(where, "i.index_key >= ?")
		args = append(args, EncodeKey(opts.StartKey))
	}
	if opts.EndKey != nil {
		where = append(where, "i.index_key <= ?")
		args = append(args, EncodeKey(opts.EndKey))
	}
	cond := strings.Join(where, " AND ")

	if opts.Reduce {
		var n int
		err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM doc_index i WHERE `+cond), args...).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count view %s: %w", view, err)
		}
		return []models.Row{{Value: n}}, nil
	}

	var query string
	if opts.IncludeDocs {
		query = `SELECT i.doc_id, i.index_key, d.rev, d.body FROM doc_index i JOIN documents d ON d.id = i.doc_id WHERE ` + cond
	} else {
		query = `SELECT i.doc_id, i.index_key FROM doc_index i WHERE ` + cond
	}
	query += ` ORDER BY i.index_key, i.doc_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query view %s: %w", view, err)
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		var row models.Row
		var key string
		if opts.IncludeDocs {
			var rev string
			var body []byte
			if err := rows.Scan(&row.ID, &key, &rev, &body); err != nil {
				return nil, err
			}
			doc, err := decodeBody(row.ID, rev, body)
			if err != nil {
				return nil, err
			}
			row.Doc = doc
		} else {
			if err := rows.Scan(&row.ID, &key); err != nil {
				return nil, err
			}
		}
		row.Key = DecodeKey(key)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
