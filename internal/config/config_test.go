package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "production",
		DBDriver:                 "postgres",
		DBSSLMode:                "require",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		Port:                     "8080",
		DBConnMaxLifetimeMinutes: 1,
		RedisURL:                 "redis://localhost:6379",
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
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with disable SSL mode", "prod", "disable", true},
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

func TestConfig_ValidateProductionStrictness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Default secret", func(c *Config) { c.JWTSecret = defaultJWTSecret }},
		{"Short secret", func(c *Config) { c.JWTSecret = "short" }},
		{"Weak DB password", func(c *Config) { c.DBPassword = "password" }},
		{"SQLite driver", func(c *Config) { c.DBDriver = "sqlite" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfig_ValidateGeneral(t *testing.T) {
	c := validConfig()
	c.Env = "development"
	c.DBDriver = "mysql"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Port = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.TracingSamplerRatio = 1.5
	assert.Error(t, c.Validate())

	c = validConfig()
	c.DBMaxOpenConns = -1
	assert.Error(t, c.Validate())
}

func TestConfig_Durations(t *testing.T) {
	c := &Config{DBConnMaxLifetimeMinutes: 15}
	assert.Equal(t, 15*time.Minute, c.ConnMaxLifetime())
	assert.Equal(t, 30*time.Second, c.ReviewableCountTTL())

	c.ReviewableCountTTLSeconds = 5
	assert.Equal(t, 5*time.Second, c.ReviewableCountTTL())
}

func TestLoadConfig_SSLModeNormalization(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "postgres", c.DBDriver)
	assert.Equal(t, "hybrid", c.DBSchemaMode)
}

func TestLoadConfig_SQLiteDriverFromEnv(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_DRIVER")
	defer os.Unsetenv("REVIEWABLE_COUNT_TTL_SECONDS")
	defer viper.Reset()

	os.Setenv("APP_ENV", "test")
	os.Setenv("DB_DRIVER", "SQLite")
	os.Setenv("REVIEWABLE_COUNT_TTL_SECONDS", "12")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "test", c.Env)
	assert.Equal(t, 12*time.Second, c.ReviewableCountTTL())
}
