package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  env: production
database:
  host: db.internal
  name: wp
jwt:
  secret: s3cret
  expires_in: 2h
migration:
  post_types: [product, event]
  batch_size: 250
  table_handling: validate
  status_ttl: 30m
  lock_ttl: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 2*time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, []string{"product", "event"}, cfg.Migration.PostTypes)
	assert.Equal(t, 250, cfg.Migration.BatchSize)
	assert.Equal(t, "validate", cfg.Migration.TableHandling)
	assert.Equal(t, 30*time.Minute, cfg.Migration.StatusTTL)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  env: local\n"))
	require.NoError(t, err)

	assert.Equal(t, 8082, cfg.Server.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 100, cfg.Migration.BatchSize)
	assert.Equal(t, "auto", cfg.Migration.TableHandling)
	assert.Equal(t, time.Hour, cfg.Migration.StatusTTL)
}

func TestLoadNormalizesBadValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
migration:
  batch_size: -5
  table_handling: yolo
`))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Migration.BatchSize)
	assert.Equal(t, "auto", cfg.Migration.TableHandling)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override.host")
	t.Setenv("CPT_BATCH_SIZE", "42")

	cfg, err := Load(writeConfig(t, "database:\n  host: from-yaml\n"))
	require.NoError(t, err)

	assert.Equal(t, "override.host", cfg.Database.Host)
	assert.Equal(t, 42, cfg.Migration.BatchSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 3306, User: "u", Password: "p", Name: "wp"}
	dsn := d.GetDSN()
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/wp")
	assert.Contains(t, dsn, "parseTime=true")
}
