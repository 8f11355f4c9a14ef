package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM production_orders WHERE id=? AND status IN (?,?)`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `SELECT id FROM production_orders WHERE id=$1 AND status IN ($2,$3)`, Postgres.Rebind(q))
}

func TestRebindSkipsQuotedMarks(t *testing.T) {
	q := `SELECT '?' AS mark, id FROM events WHERE id>?`
	assert.Equal(t, `SELECT '?' AS mark, id FROM events WHERE id>$1`, Postgres.Rebind(q))
}

func TestDialectFromConfig(t *testing.T) {
	assert.Equal(t, SQLite, Config{}.Dialect())
	assert.Equal(t, SQLite, Config{Driver: "sqlite"}.Dialect())
	assert.Equal(t, Postgres, Config{Driver: "Postgres"}.Dialect())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
	assert.Empty(t, SQLite.ForUpdate())
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(dir, ".prodline", "prodline.db"))
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	require.Error(t, err)
}
