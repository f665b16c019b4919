package config

import (
	"github.com/creasty/defaults"
	"github.com/goccy/go-yaml"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/pkg/errors"
	"os"
	"time"
)

// DefaultConfigPath specifies the default location of the daemon's config.yml for package installations.
const DefaultConfigPath = "/etc/icinga-state-engine/config.yml"

// Config defines the daemon configuration.
type Config struct {
	// Objects is the path to the compiled monitoring objects file
	// committed into the engine at startup.
	Objects   string          `yaml:"objects"`
	Flapping  FlappingConfig  `yaml:"flapping"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   logging.Config  `yaml:"logging"`
}

// Validate checks constraints in the supplied configuration and returns an error if they are violated.
func (c *Config) Validate() error {
	if err := c.Flapping.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return nil
}

// FlappingConfig defines process-wide flapping detection settings.
// Per-checkable thresholds from the object configuration take precedence
// over the defaults given here.
type FlappingConfig struct {
	// Enable switches flapping detection for the whole process.
	Enable bool `yaml:"enable" default:"true"`
	// ThresholdLow is the default percentage below which a
	// flapping checkable recovers.
	ThresholdLow float64 `yaml:"threshold-low" default:"25"`
	// ThresholdHigh is the default percentage above which a
	// checkable starts flapping.
	ThresholdHigh float64 `yaml:"threshold-high" default:"30"`
}

// Validate checks constraints in the supplied flapping configuration and
// returns an error if they are violated.
func (f *FlappingConfig) Validate() error {
	if f.ThresholdLow < 0 || f.ThresholdHigh < 0 {
		return errors.New("flapping thresholds must not be negative")
	}

	if f.ThresholdLow > f.ThresholdHigh {
		return errors.New("flapping threshold-low must not exceed threshold-high")
	}

	return nil
}

// RetentionConfig defines where and how often volatile checkable state is persisted.
type RetentionConfig struct {
	// Path names the SQLite database file for state retention.
	// Empty disables retention.
	Path string `yaml:"path"`
	// Interval between retention flushes.
	Interval time.Duration `yaml:"interval" default:"30s"`
}

// Validate checks constraints in the supplied retention configuration and
// returns an error if they are violated.
func (r *RetentionConfig) Validate() error {
	if r.Interval <= 0 {
		return errors.New("retention interval must be positive")
	}

	return nil
}

// FromYAMLFile returns a new Config value created from the given YAML config file.
func FromYAMLFile(name string) (*Config, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "can't open YAML file "+name)
	}
	defer f.Close()

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, errors.Wrap(err, "can't set config defaults")
	}

	d := yaml.NewDecoder(f)
	if err := d.Decode(c); err != nil {
		return nil, errors.Wrap(err, "can't parse YAML file "+name)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return c, nil
}
