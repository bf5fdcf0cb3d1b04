package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCENARIOSYNC_API_ENDPOINT
const EnvPrefix = "SCENARIOSYNC"

// FileName is the config file base name searched for when no path is given
const FileName = "scenariosync"

// Config is the complete runtime configuration
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Panel  PanelConfig  `mapstructure:"panel"`
	Mirror MirrorConfig `mapstructure:"mirror"`
	OSC    OSCConfig    `mapstructure:"osc"`
	Log    LogConfig    `mapstructure:"log"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

type APIConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PlotComponents bool          `mapstructure:"plot_components"`
}

type AuthConfig struct {
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"token_file"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type CacheConfig struct {
	EmptyRetryDelay time.Duration `mapstructure:"empty_retry_delay"`
	EmptyRetries    int           `mapstructure:"empty_retries"`
}

type PanelConfig struct {
	Addr         string        `mapstructure:"addr"`
	StateTimeout time.Duration `mapstructure:"state_timeout"`
}

type MirrorConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// OSCConfig addresses the host bridge. Port 0 disables outbound updates and
// an empty Listen disables inbound reload commands.
type OSCConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.plot_components", false)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("cache.empty_retry_delay", 750*time.Millisecond)
	v.SetDefault("cache.empty_retries", 1)
	v.SetDefault("panel.addr", "127.0.0.1:8765")
	v.SetDefault("panel.state_timeout", 5*time.Second)
	v.SetDefault("mirror.dir", "scenarios")
	v.SetDefault("mirror.debounce", 300*time.Millisecond)
	v.SetDefault("osc.host", "127.0.0.1")
	v.SetDefault("osc.port", 0)
	v.SetDefault("osc.listen", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// New returns a viper instance with defaults, config search paths, and
// environment overrides set up
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(FileName)
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, FileName))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps command-line flags onto config keys. Keys whose flag is not
// defined are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file at path, or searches the default locations when
// path is empty. A missing file in the search path is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(New(), path)
}

// LoadWith reads configuration through v, which may carry bound flags
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// Validate rejects a missing endpoint and non-positive timeouts
func (c *Config) Validate() error {
	var errs []error
	if c.API.Endpoint == "" {
		errs = append(errs, errors.New("api.endpoint is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %v", c.API.Timeout))
	}
	if c.Panel.StateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("panel.state_timeout must be positive, got %v", c.Panel.StateTimeout))
	}
	if c.Mirror.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("mirror.debounce must be positive, got %v", c.Mirror.Debounce))
	}
	if c.Cache.EmptyRetryDelay < 0 || c.Cache.EmptyRetries < 0 {
		errs = append(errs, errors.New("cache retry settings must not be negative"))
	}
	if c.OSC.Port < 0 || c.OSC.Port > 65535 {
		errs = append(errs, fmt.Errorf("osc.port out of range: %d", c.OSC.Port))
	}
	return errors.Join(errs...)
}
