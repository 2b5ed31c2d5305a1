// ABOUTME: Tests for YAML config loading, env expansion, and validation
// ABOUTME: Uses temp files so each case controls the exact file content

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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
mongo:
  uri: "mongodb://localhost:27017"
  database: "chatrelay"
  collection: "messages"
auth:
  jwt_secret: "shh"
relay:
  transient_backoff: "5s"
  resubscribe_backoff: "10s"
  sweep_interval: "30s"
  request_timeout: "45s"
logging:
  level: "debug"
  format: "json"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "chatrelay", cfg.Mongo.Database)
	assert.Equal(t, "messages", cfg.Mongo.Collection)
	assert.Equal(t, "shh", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.Relay.TransientBackoff)
	assert.Equal(t, 10*time.Second, cfg.Relay.ResubscribeBackoff)
	assert.Equal(t, 30*time.Second, cfg.Relay.SweepInterval)
	assert.Equal(t, 45*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_SECRET", "from-env")

	content := `
server:
  http_addr: ":8080"
mongo:
  uri: "mongodb://localhost:27017"
  database: "chatrelay"
  collection: "messages"
auth:
  jwt_secret: "${CHATRELAY_TEST_SECRET}"
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not: valid"))
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	content := `
server:
  http_addr: ":8080"
mongo:
  uri: "mongodb://localhost:27017"
  database: "chatrelay"
  collection: "messages"
auth:
  jwt_secret: "shh"
relay:
  transient_backoff: "five seconds"
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient_backoff")
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing mongo uri", func(c *Config) { c.Mongo.URI = "" }, "mongo.uri"},
		{"missing database", func(c *Config) { c.Mongo.Database = "" }, "mongo.database"},
		{"missing collection", func(c *Config) { c.Mongo.Collection = "" }, "mongo.collection"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server: ServerConfig{HTTPAddr: ":8080"},
				Mongo: MongoConfig{
					URI:        "mongodb://localhost:27017",
					Database:   "chatrelay",
					Collection: "messages",
				},
				Auth: AuthConfig{JWTSecret: "shh"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
