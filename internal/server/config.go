package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DataDir        string        `mapstructure:"data_dir"`
	DevMode        bool          `mapstructure:"dev_mode"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Options converts the config into server options.
func (c *Config) Options() Options {
	return Options{
		DevMode:      c.DevMode,
		RateLimit:    c.RateLimit,
		RateBurst:    c.RateBurst,
		WriteTimeout: c.WriteTimeout,
	}
}

// LoadConfig reads configuration from file and environment variables.
// Environment variables use the RS_ prefix with dots replaced by
// underscores, so RS_PLUGINS_VAULT_PASSPHRASE sets plugins.vault.passphrase.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("database.path", "./data/relayscan.db")

	v.SetDefault("plugins.vault.enabled", true)
	v.SetDefault("plugins.vault.passphrase", "")
	v.SetDefault("plugins.recon.enabled", true)
	v.SetDefault("plugins.recon.concurrency", 20)
	v.SetDefault("plugins.recon.probe_timeout", "3500ms")
	v.SetDefault("plugins.recon.probe_port", 80)
	v.SetDefault("plugins.recon.max_targets", 65536)
	v.SetDefault("plugins.recon.accept_unversioned", false)
	v.SetDefault("plugins.recon.autoscan_enabled", false)
	v.SetDefault("plugins.recon.autoscan_interval", "1m")
	v.SetDefault("plugins.recon.quiet_start", "")
	v.SetDefault("plugins.recon.quiet_end", "")
	v.SetDefault("plugins.control.enabled", true)
	v.SetDefault("plugins.control.action_timeout", "3500ms")
	v.SetDefault("plugins.control.probe_port", 80)
	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.secret", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.events", "")
	v.SetDefault("plugins.webhook.queue_size", 256)

	v.SetDefault("plugins.broker.enabled", true)
	v.SetDefault("plugins.broker.url", "")
	v.SetDefault("plugins.broker.subject_prefix", "relayscan")
	v.SetDefault("plugins.broker.events", "")
	v.SetDefault("plugins.broker.reconnect_wait", "2s")
	v.SetDefault("plugins.broker.flush_timeout", "5s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relayscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/relayscan")
	}

	v.SetEnvPrefix("RS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// ServerConfig decodes the server section of v.
func ServerConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("server", &cfg); err != nil {
		return nil, fmt.Errorf("decode server config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("server.port %d out of range", cfg.Port)
	}
	return &cfg, nil
}
