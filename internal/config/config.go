// Package config provides a Viper-backed implementation of the plugin.Config interface.
package config

import (
	"strings"
	"time"

	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement plugin.Config.
//
// A sub-config keeps a key prefix into the same Viper instance instead of
// copying a section with viper.Sub, so RS_* environment overrides and
// defaults still apply to plugin sections.
type ViperConfig struct {
	v      *viper.Viper
	prefix string
}

// New creates a Config backed by the given Viper instance.
// Returns the concrete type; callers assign to plugin.Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) key(k string) string {
	return c.prefix + k
}

// Unmarshal decodes the whole section into target.
func (c *ViperConfig) Unmarshal(target any) error {
	if c.prefix == "" {
		return c.v.Unmarshal(target)
	}
	return c.v.UnmarshalKey(strings.TrimSuffix(c.prefix, "."), target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(c.key(key))
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(c.key(key))
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(c.key(key))
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(c.key(key))
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(c.key(key))
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(c.key(key))
}

// Sub returns the section under key, for example "plugins.recon".
func (c *ViperConfig) Sub(key string) plugin.Config {
	return &ViperConfig{v: c.v, prefix: c.key(key) + "."}
}
