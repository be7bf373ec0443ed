// Package config merges the monitor's configuration from file, environment
// and flags through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nmels/wfpmon/wfp"
)

// Config is the fully merged monitor configuration.
type Config struct {
	// APILevel is the requested interface level. APILevelPinned records
	// whether the user set it explicitly; an explicit level must succeed
	// exactly there, the default is allowed to walk down.
	APILevel       int
	APILevelPinned bool

	ShowAll     bool
	ShowIPv4    bool
	ShowIPv6    bool
	OwnUserOnly bool

	ExcludeAddresses []string
	ExcludePrograms  []string

	NegotiateTimeout time.Duration
	Width            int

	DataDir  string
	RulesDir string

	StoreEnabled bool
	SigmaEnabled bool

	LogLevel string
}

// SetDefaults registers every key with its default so partial config files
// and bare environments work. api_level deliberately has no default: its
// absence is what makes the level unpinned.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("show_all", false)
	v.SetDefault("ipv4", true)
	v.SetDefault("ipv6", true)
	v.SetDefault("own_user_only", false)
	v.SetDefault("exclude_addresses", []string{})
	v.SetDefault("exclude_programs", []string{})
	v.SetDefault("negotiate_timeout", 2*time.Second)
	v.SetDefault("width", 80)
	v.SetDefault("data_dir", "data")
	v.SetDefault("rules_dir", "rules.d")
	v.SetDefault("store_enabled", false)
	v.SetDefault("sigma_enabled", false)
	v.SetDefault("log_level", "info")
}

// Load reads the merged configuration out of v. The api_level pin is
// detected here: any explicit source (file, env, changed flag) pins the
// level, otherwise the default applies and negotiation may walk down.
func Load(v *viper.Viper) (*Config, error) {
	level := int(wfp.DefaultLevel)
	levelPinned := v.IsSet("api_level")
	if levelPinned {
		level = v.GetInt("api_level")
	}
	c := &Config{
		APILevel:         level,
		APILevelPinned:   levelPinned,
		ShowAll:          v.GetBool("show_all"),
		ShowIPv4:         v.GetBool("ipv4"),
		ShowIPv6:         v.GetBool("ipv6"),
		OwnUserOnly:      v.GetBool("own_user_only"),
		ExcludeAddresses: v.GetStringSlice("exclude_addresses"),
		ExcludePrograms:  v.GetStringSlice("exclude_programs"),
		NegotiateTimeout: v.GetDuration("negotiate_timeout"),
		Width:            v.GetInt("width"),
		DataDir:          v.GetString("data_dir"),
		RulesDir:         v.GetString("rules_dir"),
		StoreEnabled:     v.GetBool("store_enabled"),
		SigmaEnabled:     v.GetBool("sigma_enabled"),
		LogLevel:         v.GetString("log_level"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values no later stage could act on. An out-of-range
// interface level is a configuration error, not a negotiation failure.
func (c *Config) Validate() error {
	if !wfp.Level(c.APILevel).Valid() {
		return fmt.Errorf("config: api_level %d out of range %d..%d: %w",
			c.APILevel, wfp.LevelMin, wfp.LevelMax, wfp.ErrBadLevel)
	}
	if c.Width <= 0 {
		return fmt.Errorf("config: width must be positive, got %d", c.Width)
	}
	if c.NegotiateTimeout < 0 {
		return fmt.Errorf("config: negotiate_timeout must not be negative")
	}
	return nil
}

// SessionOptions maps the configuration onto the session option set.
func (c *Config) SessionOptions() wfp.Options {
	return wfp.Options{
		Level:           wfp.Level(c.APILevel),
		LevelPinned:     c.APILevelPinned,
		ShowAll:         c.ShowAll,
		ShowIPv4:        c.ShowIPv4,
		ShowIPv6:        c.ShowIPv6,
		OwnUserOnly:     c.OwnUserOnly,
		ExcludeAddrs:    c.ExcludeAddresses,
		ExcludePrograms: c.ExcludePrograms,
		Timeout:         c.NegotiateTimeout,
		Width:           c.Width,
	}
}
