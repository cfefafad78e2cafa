package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/tally/pkg/plugin"
)

// Config holds the broker connection and topic layout.
type Config struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Retain      bool          `mapstructure:"retain"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// SnapshotInterval republishes the live snapshot so the current weight
	// stays fresh between deltas. Zero publishes on events only.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`

	HADiscovery       bool   `mapstructure:"ha_discovery"`
	HADiscoveryPrefix string `mapstructure:"ha_discovery_prefix"`
}

// DefaultConfig leaves BrokerURL empty, which keeps the module idle.
func DefaultConfig() Config {
	return Config{
		ClientID:          "tally",
		TopicPrefix:       "tally",
		QoS:               1,
		Retain:            true,
		Timeout:           10 * time.Second,
		SnapshotInterval:  5 * time.Second,
		HADiscoveryPrefix: "homeassistant",
	}
}

// loadConfig overlays the module section onto DefaultConfig.
func loadConfig(c plugin.Config) (Config, error) {
	cfg := DefaultConfig()
	if c != nil {
		if err := c.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("decode mqtt config: %w", err)
		}
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.TopicPrefix == "" || strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("invalid topic_prefix %q", c.TopicPrefix)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must not be negative, got %s", c.SnapshotInterval)
	}
	return nil
}

// topic joins the prefix and a leaf such as "delta".
func (c Config) topic(leaf string) string {
	return c.TopicPrefix + "/" + leaf
}
