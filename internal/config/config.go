// Package config adapts the process-wide Viper tree to plugin.Config and
// builds the zap logger.
package config

import (
	"time"

	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/spf13/viper"
)

// modulePrefix is where per-module sections live, e.g. plugins.counter.
const modulePrefix = "plugins."

var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig is a plugin.Config over a Viper tree or a section of one.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. A nil v yields an empty config so modules without a
// section still see their defaults.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

// Module returns the plugins.<name> section.
func (c *ViperConfig) Module(name string) plugin.Config {
	return c.Sub(modulePrefix + name)
}

// ModuleEnabled reports whether plugins.<name>.enabled is true or unset.
// Modules are on unless explicitly switched off.
func (c *ViperConfig) ModuleEnabled(name string) bool {
	key := modulePrefix + name + ".enabled"
	return !c.v.IsSet(key) || c.v.GetBool(key)
}

// Unmarshal decodes the whole tree into target using mapstructure tags.
// Duration strings such as "250ms" decode into time.Duration fields.
func (c *ViperConfig) Unmarshal(target any) error { return c.v.Unmarshal(target) }

func (c *ViperConfig) Get(key string) any                   { return c.v.Get(key) }
func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub scopes to a section. A missing section is empty, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}

// Viper exposes the tree for top-level keys like server.* and source.*.
func (c *ViperConfig) Viper() *viper.Viper { return c.v }
