// Package migrations embeds the goose schema migrations for every
// supported document store dialect.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/fedisync/internal/dbx"
)

//go:embed sqlite/*.sql postgres/*.sql
var Migrations embed.FS

// For returns the migration directory of dialect d, rooted so that the
// .sql files sit at its top level.
func For(d dbx.Dialect) (fs.FS, error) {
	switch d {
	case dbx.DialectSQLite, dbx.DialectPostgres:
		return fs.Sub(Migrations, string(d))
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", d)
	}
}
