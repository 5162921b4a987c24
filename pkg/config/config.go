// Package config loads the project configuration (appwright.yaml) and
// applies environment overrides on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
	"github.com/bheemreddy-samsara/appwright/pkg/provider"
	"github.com/bheemreddy-samsara/appwright/pkg/trace"
)

// Config represents the project configuration (appwright.yaml).
type Config struct {
	Platform string `yaml:"platform"` // Target platform: android or ios
	Provider string `yaml:"provider"` // Session provider, empty means local emulator
	App      string `yaml:"app"`      // App build path or provider upload ref

	Device DeviceConfig `yaml:"device"`
	Test   TestConfig   `yaml:"test"`
	Trace  TraceConfig  `yaml:"trace"`
	Output OutputConfig `yaml:"output"`
}

// DeviceConfig selects the device a session runs on.
type DeviceConfig struct {
	Name      string `yaml:"name"`      // adb serial, simulator name, or cloud device name
	OSVersion string `yaml:"osVersion"` // Requested OS version on cloud devices
	Endpoint  string `yaml:"endpoint"`  // WebDriver hub override
}

// TestConfig carries per-test execution defaults.
type TestConfig struct {
	Retries int      `yaml:"retries"` // Extra attempts after a failure
	Timeout Duration `yaml:"timeout"` // Per-attempt budget, zero means none
	Build   string   `yaml:"build"`   // Build label on cloud dashboards
}

// TraceConfig is the yaml shape of the visual trace settings. Pointer
// fields distinguish "absent" from explicit zero values.
type TraceConfig struct {
	Screenshots    *string `yaml:"screenshots"`
	MaxScreenshots *int64  `yaml:"maxScreenshots"`
	Dedupe         *bool   `yaml:"dedupe"`
}

// OutputConfig controls where run artifacts land.
type OutputConfig struct {
	Dir     string `yaml:"dir"`     // Report directory
	Verbose bool   `yaml:"verbose"` // Debug-level logging
}

// envOverrides are applied over the yaml values after loading.
type envOverrides struct {
	Platform   null.String `envconfig:"APPWRIGHT_PLATFORM"`
	Provider   null.String `envconfig:"APPWRIGHT_PROVIDER"`
	App        null.String `envconfig:"APPWRIGHT_APP"`
	DeviceName null.String `envconfig:"APPWRIGHT_DEVICE_NAME"`
	OSVersion  null.String `envconfig:"APPWRIGHT_OS_VERSION"`
	Endpoint   null.String `envconfig:"APPWRIGHT_ENDPOINT"`
	Retries    null.Int    `envconfig:"APPWRIGHT_RETRIES"`
	Timeout    null.String `envconfig:"APPWRIGHT_TEST_TIMEOUT"`
	Build      null.String `envconfig:"APPWRIGHT_BUILD"`
	OutputDir  null.String `envconfig:"APPWRIGHT_OUTPUT_DIR"`
}

// Load reads configuration from a file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir looks for appwright.yaml or appwright.yml in the directory.
// With no config file present, environment overrides alone apply.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"appwright.yaml", "appwright.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.Platform.Valid {
		c.Platform = env.Platform.String
	}
	if env.Provider.Valid {
		c.Provider = env.Provider.String
	}
	if env.App.Valid {
		c.App = env.App.String
	}
	if env.DeviceName.Valid {
		c.Device.Name = env.DeviceName.String
	}
	if env.OSVersion.Valid {
		c.Device.OSVersion = env.OSVersion.String
	}
	if env.Endpoint.Valid {
		c.Device.Endpoint = env.Endpoint.String
	}
	if env.Retries.Valid {
		c.Test.Retries = int(env.Retries.Int64)
	}
	if env.Timeout.Valid {
		parsed, err := time.ParseDuration(env.Timeout.String)
		if err != nil {
			return core.ErrInvalidConfig.WithMessage(
				fmt.Sprintf("invalid APPWRIGHT_TEST_TIMEOUT %q", env.Timeout.String))
		}
		c.Test.Timeout = Duration(parsed)
	}
	if env.Build.Valid {
		c.Test.Build = env.Build.String
	}
	if env.OutputDir.Valid {
		c.Output.Dir = env.OutputDir.String
	}
	return nil
}

// Validate checks the fields session bootstrap depends on.
func (c *Config) Validate() error {
	switch c.Platform {
	case "", "android", "ios":
	default:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown platform %q", c.Platform))
	}

	switch c.Provider {
	case "", "emulator", "local", "browserstack", "lambdatest", "device-farm", "devicefarm":
	default:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown provider %q", c.Provider))
	}

	if c.Test.Retries < 0 {
		return core.ErrInvalidConfig.WithMessage("test.retries cannot be negative")
	}
	if c.Trace.MaxScreenshots != nil && *c.Trace.MaxScreenshots < 0 {
		return core.ErrInvalidConfig.WithMessage("trace.maxScreenshots cannot be negative")
	}
	return nil
}

// ProviderOptions assembles the session provider options.
func (c *Config) ProviderOptions(log logrus.FieldLogger) provider.Options {
	return provider.Options{
		Platform:   c.Platform,
		AppPath:    c.App,
		DeviceName: c.Device.Name,
		OSVersion:  c.Device.OSVersion,
		Build:      c.Test.Build,
		Endpoint:   c.Device.Endpoint,
		Logger:     log,
	}
}

// TraceConfig converts the yaml trace section into engine config. Absent
// fields stay null so the engine defaults apply.
func (c *Config) TraceConfig() trace.Config {
	var cfg trace.Config
	if c.Trace.Screenshots != nil {
		cfg.Screenshots = null.StringFrom(*c.Trace.Screenshots)
	}
	if c.Trace.MaxScreenshots != nil {
		cfg.MaxScreenshots = null.IntFrom(*c.Trace.MaxScreenshots)
	}
	if c.Trace.Dedupe != nil {
		cfg.Dedupe = null.BoolFrom(*c.Trace.Dedupe)
	}
	return cfg
}

// OutputDir returns the report directory, defaulting to appwright-report.
func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return "appwright-report"
}

// Duration wraps time.Duration for yaml values like "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
