package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"prodline/internal/db"
	"prodline/internal/engine"
	"prodline/internal/migrate"
)

func TestInternalErrorIsLoggedWithCause(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	e := engine.New(conn, db.SQLite)

	core, logs := observer.New(zapcore.InfoLevel)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Log: zap.New(core), Auth: AuthConfig{AllowActorHeader: true}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	// Every query now fails inside the store.
	require.NoError(t, conn.Close())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/workshops", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor-Id", "op-1")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()

	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, string(body), `"code":"internal_error"`)
	assert.NotContains(t, string(body), "database is closed")

	failed := logs.FilterMessage("request failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "/v1/workshops", fields["path"])
	assert.Contains(t, fields["error"], "database is closed")
}
