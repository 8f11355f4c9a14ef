package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestFromYAMLWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`webhooks:
  - name: erp
    url: https://erp.example.com/hook
    events: [order.status_changed]
    when: 'payload.to == "completed"'
    timeout: 2s
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, 2*time.Second, cfg.Webhooks[0].Timeout)
	assert.Equal(t, []string{"order.status_changed"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "database:\n  driver: postgres\n",
		"unknown driver":       "database:\n  driver: mysql\n",
		"redis without addr":   "lock:\n  backend: redis\n  addr: \"\"\n",
		"unknown lock backend": "lock:\n  backend: etcd\n",
		"relative base path":   "server:\n  base_path: v1\n",
		"bad log format":       "log:\n  format: xml\n",
		"webhook without url":  "webhooks:\n  - name: a\n    url: ftp://x\n",
		"duplicate webhook":    "webhooks:\n  - name: a\n    url: http://x\n  - name: a\n    url: http://y\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
	_, err := FromYAML([]byte("server: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "pl config init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}
