// Package config loads application settings from defaults, an optional YAML
// file and VISION_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	verrors "vision-workbench/internal/errors"
)

const (
	// AppName is the config file base name searched for when no file is given.
	AppName = "vision-workbench"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "VISION"
)

// Device types understood by the application root.
const (
	DeviceSimulated = "simulated"
	DeviceFile      = "file"
	DeviceCamera    = "camera"
)

// Config holds the application configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	PluginLoadTimeout time.Duration `mapstructure:"plugin_load_timeout"`
	ParameterDir      string        `mapstructure:"parameter_dir"`
	WorkflowDir       string        `mapstructure:"workflow_dir"`

	Devices []DeviceConfig `mapstructure:"devices"`
	Plugins PluginConfig   `mapstructure:"plugins"`
}

// DeviceConfig declares one device to register at startup. Options are
// driver specific: "dir" for file, "source" for camera, "connect_delay" for
// simulated.
type DeviceConfig struct {
	ID      string                 `mapstructure:"id"`
	Type    string                 `mapstructure:"type"`
	Name    string                 `mapstructure:"name"`
	Options map[string]interface{} `mapstructure:"options"`
}

type PluginConfig struct {
	Disabled []string    `mapstructure:"disabled"`
	Retry    RetryConfig `mapstructure:"retry"`
	Cache    CacheConfig `mapstructure:"cache"`
	// Tessdata is the training data directory for the OCR plugin.
	Tessdata string `mapstructure:"tessdata"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("plugin_load_timeout", 5*time.Second)
	v.SetDefault("parameter_dir", "parameters")
	v.SetDefault("workflow_dir", "workflows")
	v.SetDefault("devices", []map[string]interface{}{
		{"id": "sim0", "type": DeviceSimulated, "name": "Simulated camera"},
	})
	v.SetDefault("plugins.disabled", []string{})
	v.SetDefault("plugins.retry.attempts", 1)
	v.SetDefault("plugins.retry.delay", 50*time.Millisecond)
	v.SetDefault("plugins.cache.size", 0)
	v.SetDefault("plugins.cache.ttl", time.Minute)
	v.SetDefault("plugins.tessdata", "")
}

// Load reads the configuration. With an empty cfgFile the working directory
// and $HOME/.config/vision-workbench are searched; a missing file is not an
// error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + AppName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, verrors.New("config", "Load", verrors.ErrInvalidConfig, "reading config file: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, verrors.New("config", "Load", verrors.ErrInvalidConfig, "parsing config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format must be console or json, got %q", c.LogFormat))
	}
	if c.PluginLoadTimeout <= 0 {
		problems = append(problems, "plugin_load_timeout must be positive")
	}
	if c.Plugins.Retry.Attempts < 1 {
		problems = append(problems, "plugins.retry.attempts must be at least 1")
	}
	if c.Plugins.Cache.Size < 0 {
		problems = append(problems, "plugins.cache.size must not be negative")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			problems = append(problems, fmt.Sprintf("devices[%d]: id is required", i))
		} else if seen[d.ID] {
			problems = append(problems, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true

		if !slices.Contains([]string{DeviceSimulated, DeviceFile, DeviceCamera}, d.Type) {
			problems = append(problems, fmt.Sprintf("devices[%d]: unknown type %q", i, d.Type))
		}
		if d.Type == DeviceFile && d.Option("dir") == "" {
			problems = append(problems, fmt.Sprintf("devices[%d]: file device needs options.dir", i))
		}
	}

	if len(problems) > 0 {
		return verrors.New("config", "Validate", verrors.ErrInvalidConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Option returns a device option formatted as a string, or "" when unset.
func (d DeviceConfig) Option(key string) string {
	v, ok := d.Options[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
