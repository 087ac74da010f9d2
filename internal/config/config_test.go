package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                  "development",
		JWTSecret:            "secure-secret-at-least-32-chars-long",
		DBPassword:           "secure-password",
		DBSSLMode:            "disable",
		Port:                 "8080",
		ImageMaxUploadSizeMB: 10,
		BlobBackend:          "local",
		RetentionDays:        365,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateBlobBackend(t *testing.T) {
	c := validConfig()
	c.BlobBackend = "cdn"
	assert.Error(t, c.Validate())

	c.CDNOrigin = "https://cdn.example.com"
	assert.NoError(t, c.Validate())

	c.BlobBackend = "s3"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateFeatureFlags(t *testing.T) {
	c := validConfig()
	c.FeatureFlags = "reaction_cap_best_effort=on,new_feed=25%"
	assert.NoError(t, c.Validate())

	c.FeatureFlags = "reaction_cap_best_effort=sometimes"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEATURE_FLAGS")
}

func TestConfig_ValidateProductionSecret(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.DBSSLMode = "require"
	c.JWTSecret = defaultJWTSecret
	assert.Error(t, c.Validate())

	c.JWTSecret = "short"
	assert.Error(t, c.Validate())
}

func TestConfig_Retention(t *testing.T) {
	c := validConfig()
	assert.Equal(t, 365*24*time.Hour, c.Retention())

	c.RetentionDays = 7
	assert.Equal(t, 7*24*time.Hour, c.Retention())

	c.RetentionDays = 0
	assert.Equal(t, 365*24*time.Hour, c.Retention())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("REAPER_INTERVAL", "15m")
	t.Setenv("RETENTION_DAYS", "30")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 15*time.Minute, c.ReaperInterval)
	assert.Equal(t, 30*24*time.Hour, c.Retention())
	assert.Equal(t, "local", c.BlobBackend)
	assert.Equal(t, 500, c.ReaperBatchSize)
}
