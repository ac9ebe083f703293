// Package repomanager opens the document store named by a DSN and brings
// its schema up to date with the embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fedisync/internal/dbx"
	"github.com/dmitrijs2005/fedisync/internal/filex"
	"github.com/dmitrijs2005/fedisync/internal/migrations"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// MemoryDSN selects the in-process store.
const MemoryDSN = "memory:"

// runMigrations is a seam for testing the goose provider.
var runMigrations = func(ctx context.Context, d dbx.Dialect, db *sql.DB) error {
	fsys, err := migrations.For(d)
	if err != nil {
		return err
	}

	dialect := goose.DialectSQLite3
	if d == dbx.DialectPostgres {
		dialect = goose.DialectPostgres
	}

	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// DialectFor reports which backend a DSN selects. postgres:// and
// postgresql:// URLs select PostgreSQL; anything else is a SQLite path.
func DialectFor(dsn string) dbx.Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dbx.DialectPostgres
	}
	return dbx.DialectSQLite
}

// Open connects to the store named by dsn and runs pending migrations.
func Open(ctx context.Context, dsn string) (documents.Repository, error) {
	if dsn == MemoryDSN {
		return documents.NewMemoryRepository(), nil
	}

	d := DialectFor(dsn)
	driver := "sqlite"
	if d == dbx.DialectPostgres {
		driver = "pgx"
	} else if err := filex.EnsureParentDir(filex.SQLitePath(dsn)); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d, err)
	}

	if err := runMigrations(ctx, d, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d, err)
	}

	if d == dbx.DialectPostgres {
		return documents.NewPostgresRepository(db), nil
	}
	return documents.NewSQLiteRepository(db), nil
}
