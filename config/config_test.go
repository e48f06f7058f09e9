package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.AuditInterval)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LEDGER_ENV", "production")
	t.Setenv("LEDGER_STORE", "postgres")
	t.Setenv("LEDGER_PG_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_CACHE_TTL", "2m")
	t.Setenv("LEDGER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LEDGER_RATE_LIMIT", "0")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0, cfg.RateLimit)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"LEDGER_STORE": "mongo"}},
		{"postgres without dsn", map[string]string{"LEDGER_STORE": "postgres"}},
		{"negative rate", map[string]string{"LEDGER_RATE_LIMIT": "-1"}},
		{"bad duration", map[string]string{"LEDGER_CACHE_TTL": "soon"}},
		{"negative audit interval", map[string]string{"LEDGER_AUDIT_INTERVAL": "-1m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
