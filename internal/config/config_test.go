package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libreviews/revdal/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.App.Env)
	assert.Equal(t, 1000, cfg.Migration.BatchSize)
	assert.Equal(t, 0.05, cfg.Migration.JoinWarnRatio)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 2*time.Hour, cfg.LockTTL())
	assert.Equal(t, 30*time.Second, cfg.SourceTimeout())
	assert.Equal(t, 2*time.Minute, cfg.QueryTimeout())
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=libreviews sslmode=disable TimeZone=UTC connect_timeout=10", cfg.Target.GetDSN())
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("REVDAL_TEST_PG_PASSWORD", "s3cret")
	t.Setenv("REVDAL_TEST_DUMP", "/data/dump")

	path := writeConfig(t, `
app:
  env: production
source:
  driver: dump
  dump_dir: ${REVDAL_TEST_DUMP}
target:
  host: db.internal
  password: ${REVDAL_TEST_PG_PASSWORD}
  table_prefix: stage_
migration:
  batch_size: 250
redis:
  enabled: true
  host: cache.internal
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/dump", cfg.Source.DumpDir)
	assert.Equal(t, "s3cret", cfg.Target.Password)
	assert.Equal(t, "stage_", cfg.Target.TablePrefix)
	assert.Equal(t, 250, cfg.Migration.BatchSize)
	// unset keys keep their defaults
	assert.Equal(t, 20, cfg.Migration.SampleSize)
	assert.Equal(t, 5432, cfg.Target.Port)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr())
	assert.False(t, cfg.IsDevelopment())
	assert.Contains(t, cfg.Target.GetDSN(), "password=s3cret")
}

func TestLoad_DSNOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, "target:\n  dsn: postgres://u:p@h/db\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db", cfg.Target.GetDSN())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown env", "app:\n  env: moon\n", "Env"},
		{"zero batch", "migration:\n  batch_size: 0\n", "BatchSize"},
		{"ratio above one", "migration:\n  join_warn_ratio: 1.5\n", "JoinWarnRatio"},
		{"dump without dir", "source:\n  driver: dump\n", "DumpDir"},
		{"es without addresses", "elasticsearch:\n  enabled: true\n", "Addresses"},
		{"storage without bucket", "storage:\n  enabled: true\n", "Bucket"},
		{"negative source timeout", "source:\n  timeout: -1\n", "Timeout"},
		{"negative query timeout", "target:\n  query_timeout: -5\n", "QueryTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, common.ErrValidation)
			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields(), tt.field)
		})
	}
}

func TestLoad_BadPrefix(t *testing.T) {
	_, err := Load(writeConfig(t, "target:\n  table_prefix: \"x; drop\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table_prefix")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "app: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(".env", []byte("REVDAL_TEST_A=env\nREVDAL_TEST_B=env\n"), 0o600))
	require.NoError(t, os.WriteFile(".env.local", []byte("REVDAL_TEST_A=local\n"), 0o600))
	t.Setenv("REVDAL_TEST_A", "")
	t.Setenv("REVDAL_TEST_B", "")
	os.Unsetenv("REVDAL_TEST_A")
	os.Unsetenv("REVDAL_TEST_B")

	loaded := LoadDotEnv()
	assert.Equal(t, []string{".env.local", ".env"}, loaded)
	assert.Equal(t, "local", os.Getenv("REVDAL_TEST_A"))
	assert.Equal(t, "env", os.Getenv("REVDAL_TEST_B"))
}
