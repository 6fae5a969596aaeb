package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"RIREKI_STORE", "DATABASE_URL", "RIREKI_SQLITE_PATH",
		"RIREKI_CONNECT_TIMEOUT", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_SERVICE_NAME", "RIREKI_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreKind)
	assert.Equal(t, "rireki.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "rireki", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.OTELEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RIREKI_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/rireki")
	t.Setenv("RIREKI_CONNECT_TIMEOUT", "5s")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreKind)
	assert.Equal(t, "postgres://localhost/rireki", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("RIREKI_STORE", "")
	t.Setenv("RIREKI_CONNECT_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestValidate(t *testing.T) {
	valid := Config{StoreKind: StoreMemory, SQLitePath: "rireki.db", ConnectTimeout: time.Second}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.StoreKind = "mysql"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.StoreKind = StorePostgres
	assert.Error(t, bad.Validate(), "postgres requires DATABASE_URL")

	bad = valid
	bad.StoreKind = StoreSQLite
	bad.SQLitePath = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.ConnectTimeout = 0
	assert.Error(t, bad.Validate())
}
