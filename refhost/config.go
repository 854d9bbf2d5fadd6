package refhost

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wippyai/addon-runtime/abi"
	"github.com/wippyai/addon-runtime/errors"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "ADDONRUN_"

// Config controls a Host.
type Config struct {
	// Workers bounds how many background work items execute at once.
	Workers int `mapstructure:"workers"`
	// MaxCallDepth bounds nested callback invocations.
	MaxCallDepth int `mapstructure:"max_call_depth"`
	// DrainTimeout bounds how long Close waits for in-flight work.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// GCOnClose runs a collection before the final teardown finalizers.
	GCOnClose bool `mapstructure:"gc_on_close"`
	// LogLevel is used by tools that build their logger from config.
	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.NumCPU(),
		MaxCallDepth: 256,
		DrainTimeout: 5 * time.Second,
		GCOnClose:    true,
		LogLevel:     "info",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.InvalidArg(errors.PhaseConfig, fmt.Sprintf("workers must be positive, got %d", c.Workers))
	}
	if c.MaxCallDepth <= 0 {
		return errors.InvalidArg(errors.PhaseConfig, fmt.Sprintf("max_call_depth must be positive, got %d", c.MaxCallDepth))
	}
	if c.DrainTimeout < 0 {
		return errors.InvalidArg(errors.PhaseConfig, "drain_timeout must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.InvalidArg(errors.PhaseConfig, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	return nil
}

// LoadConfig layers defaults, an optional YAML file and ADDONRUN_*
// environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	k := koanf.New(".")

	defaults := map[string]any{
		"workers":        def.Workers,
		"max_call_depth": def.MaxCallDepth,
		"drain_timeout":  def.DrainTimeout.String(),
		"gc_on_close":    def.GCOnClose,
		"log_level":      def.LogLevel,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, abi.StatusGenericFailure, err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, abi.StatusGenericFailure, err, fmt.Sprintf("load %s", path))
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, abi.StatusGenericFailure, err, "load environment")
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           &cfg,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, abi.StatusGenericFailure, err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
