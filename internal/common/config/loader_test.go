package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: maritime-query-engine
  version: 1.2.0
server:
  allowed_origins:
    - https://bridge.example.com
database:
  postgres:
    host: localhost
    database: maintenance
    user: engine
    password: ${TEST_DB_PASSWORD}
  elasticsearch:
    addresses: ["http://localhost:9200"]
  redis:
    address: localhost:6379
workers:
  classify-query:
    enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, []string{"https://bridge.example.com"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, 2, cfg.Engine.MinWords)
	assert.InDelta(t, 0.85, cfg.Engine.DeterministicThreshold, 1e-9)
	assert.InDelta(t, 0.40, cfg.Engine.FallbackFloor, 1e-9)
	assert.InDelta(t, 0.80, cfg.Engine.HighWeight, 1e-9)
	assert.Equal(t, 5, cfg.Search.SufficientResults)
	assert.Equal(t, 5*time.Minute, GetDuration(cfg.Actions.ConfirmationWindow))
	assert.Equal(t, "tenant_id", cfg.Auth.Keycloak.TenantClaim)

	w := GetWorkerConfig(cfg, "classify-query")
	assert.False(t, w.Enabled)
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 3, w.MaxRetries)
	assert.False(t, IsWorkerEnabled(cfg, "commit-mutation"))
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing postgres host",
			body:    "database:\n  redis:\n    address: localhost:6379\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name: "enabled worker without broker",
			body: baseYAML + `
  commit-mutation:
    enabled: true
`,
			wantErr: "camunda.broker_address is required",
		},
		{
			name: "inverted thresholds",
			body: baseYAML + `
engine:
  deterministic_threshold: 0.5
  fallback_floor: 0.6
`,
			wantErr: "engine thresholds",
		},
		{
			name: "sns without topic",
			body: baseYAML + `
integrations:
  aws:
    sns:
      enabled: true
`,
			wantErr: "compliance_topic_arn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile_EnvOverridesEmptySecrets(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "")
	t.Setenv("KEYCLOAK_CLIENT_SECRET", "kc-secret")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)
	assert.Equal(t, "kc-secret", cfg.Auth.Keycloak.ClientSecret)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
