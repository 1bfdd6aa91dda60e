package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AppName: "subscription-service",
		HTTP:    HTTPConfig{Address: ":8080", MaxBodyBytes: 1 << 20},
		Storage: StorageConfig{Driver: StorageMemory},
		PayPal: PayPalConfig{
			BaseURL:      "https://api-m.sandbox.paypal.com",
			ClientID:     "client",
			ClientSecret: "secret",
		},
		Events: EventsConfig{Driver: EventsNoop},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing app name", mutate: func(c *Config) { c.AppName = "" }, wantErr: "app_name"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = StoragePostgres }, wantErr: "storage.postgres.dsn"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "storage.driver"},
		{name: "missing paypal credentials", mutate: func(c *Config) { c.PayPal.ClientSecret = "" }, wantErr: "paypal.client_id"},
		{name: "verification without webhook id", mutate: func(c *Config) { c.PayPal.VerifySignature = true }, wantErr: "paypal.webhook_id"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Driver = EventsKafka }, wantErr: "events.kafka_brokers"},
		{name: "unknown events driver", mutate: func(c *Config) { c.Events.Driver = "sns" }, wantErr: "events.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app_name: subscription-service
storage:
  driver: memory
paypal:
  client_id: from-file
  client_secret: file-secret
events:
  driver: audit
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("PAYPAL_CLIENT_ID", "from-env")
	t.Setenv("HTTP_REQUEST_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.PayPal.ClientID)
	assert.Equal(t, "file-secret", cfg.PayPal.ClientSecret)
	assert.Equal(t, 3*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, EventsAudit, cfg.Events.Driver)
	assert.Equal(t, "auth-token", cfg.Auth.CookieName)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
