package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envKeyReplacer maps nested keys to env names: server.port -> TALLY_SERVER_PORT.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds the server configuration.
type Config struct {
	Host     string  `mapstructure:"host"`
	Port     int     `mapstructure:"port"`
	DevMode  bool    `mapstructure:"dev_mode"`  // serves Swagger UI at /swagger/
	ReadOnly bool    `mapstructure:"read_only"` // rejects mutating requests such as counter reset
	RateRPS  float64 `mapstructure:"rate_rps"`
	Burst    int     `mapstructure:"rate_burst"`

	// TrustProxy keys rate limits on X-Forwarded-For. Enable only behind
	// a reverse proxy that sets it.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.rate_rps", 100)
	v.SetDefault("server.rate_burst", 200)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("database.path", "./data/tally.db")

	// Sample source; defaults match a USB serial scale bridge.
	v.SetDefault("source.kind", "serial")
	v.SetDefault("source.address", "/dev/ttyUSB0")
	v.SetDefault("source.baud_rate", 9600)
	v.SetDefault("source.read_timeout", "200ms")
	v.SetDefault("source.dial_timeout", "5s")

	// Plugin defaults
	v.SetDefault("plugins.counter.enabled", true)
	v.SetDefault("plugins.counter.scale_factor", 720e-6)
	v.SetDefault("plugins.counter.history", 4)
	v.SetDefault("plugins.counter.tare_threshold", 0.1)
	v.SetDefault("plugins.counter.settle_range", 0.1)
	v.SetDefault("plugins.counter.baseline_alpha", 0.02)
	v.SetDefault("plugins.counter.merge_threshold", 3.0)
	v.SetDefault("plugins.counter.initial_deviation_ratio", 0.02)
	v.SetDefault("plugins.counter.journal_enabled", true)
	v.SetDefault("plugins.counter.journal_retention", "720h")
	v.SetDefault("plugins.counter.maintenance_interval", "1h")
	v.SetDefault("plugins.mqtt.enabled", true)
	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.topic_prefix", "tally")
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.queue_size", 100)
	v.SetDefault("plugins.webhook.retries", 2)
	v.SetDefault("plugins.webhook.backoff", "500ms")
	v.SetDefault("plugins.webhook.secret", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tally")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tally")
	}

	// Environment variable support: TALLY_SERVER_PORT=9090
	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
