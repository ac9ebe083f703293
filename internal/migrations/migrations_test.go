package migrations

import (
	"io/fs"
	"testing"

	"github.com/dmitrijs2005/fedisync/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	for _, d := range []dbx.Dialect{dbx.DialectSQLite, dbx.DialectPostgres} {
		fsys, err := For(d)
		require.NoError(t, err)

		names, err := fs.Glob(fsys, "*.sql")
		require.NoError(t, err)
		assert.Equal(t, []string{"00001_documents.sql", "00002_doc_index.sql"}, names)
	}

	_, err := For("oracle")
	assert.Error(t, err)
}
