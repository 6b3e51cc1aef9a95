package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server process.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisDB     int    `mapstructure:"REDIS_DB"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// SessionBackend selects the SessionStore implementation: "mongo",
	// "redis" or "memory". Chosen once at process start and never swapped.
	SessionBackend string `mapstructure:"SESSION_BACKEND"`

	// TenantKey is the tenant this process serves when resolving the
	// active provider configuration.
	TenantKey string `mapstructure:"TENANT_KEY"`

	// AutoProvision controls whether a first-time federated identity may
	// create a local account. When off, federation fails closed.
	AutoProvision bool `mapstructure:"AUTO_PROVISION"`

	// LandingURL is where the browser is sent after a session is
	// established.
	LandingURL string `mapstructure:"LANDING_URL"`

	PairingTTLMin          int `mapstructure:"PAIRING_TTL_MIN"`
	PairingRetentionHours  int `mapstructure:"PAIRING_RETENTION_HOURS"`
	SessionValidityHours   int `mapstructure:"SESSION_VALIDITY_HOURS"`
	FinalizeTokenTTLMin    int `mapstructure:"FINALIZE_TOKEN_TTL_MIN"`
	ProviderTimeoutSeconds int `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	SweepIntervalSeconds   int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
}

// PairingTTL returns the pairing session TTL as a duration.
func (c *ServerConfig) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLMin) * time.Minute
}

// PairingRetention returns how long terminal sessions are kept before purge.
func (c *ServerConfig) PairingRetention() time.Duration {
	return time.Duration(c.PairingRetentionHours) * time.Hour
}

// SessionValidity returns the rolling session validity window.
func (c *ServerConfig) SessionValidity() time.Duration {
	return time.Duration(c.SessionValidityHours) * time.Hour
}

// FinalizeTokenTTL returns the finalization token lifetime.
func (c *ServerConfig) FinalizeTokenTTL() time.Duration {
	return time.Duration(c.FinalizeTokenTTLMin) * time.Minute
}

// ProviderTimeout returns the per-call deadline for provider requests.
// Independent of the pairing TTL and the finalization token TTL.
func (c *ServerConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// SweepInterval returns how often the background sweeper runs.
func (c *ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/fedlogin/")
	v.AddConfigPath("$HOME/.fedlogin")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/fedlogin_dev")
	v.SetDefault("MONGO_DB_NAME", "fedlogin_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("SESSION_BACKEND", "mongo")
	v.SetDefault("TENANT_KEY", "default")
	v.SetDefault("AUTO_PROVISION", true)
	v.SetDefault("LANDING_URL", "/")
	v.SetDefault("PAIRING_TTL_MIN", 5)
	v.SetDefault("PAIRING_RETENTION_HOURS", 24)
	v.SetDefault("SESSION_VALIDITY_HOURS", 24)
	v.SetDefault("FINALIZE_TOKEN_TTL_MIN", 5)
	v.SetDefault("PROVIDER_TIMEOUT_SECONDS", 30)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file means defaults/env only; anything else is a
		// real read failure.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
