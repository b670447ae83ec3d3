package hilltop

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig to fields left empty.
const (
	DefaultBaselineFrames = 5
	DefaultHTTPPort       = 8080
	DefaultPollInterval   = 30 * time.Second
)

// LoadConfig loads the configuration from a YAML file, fills defaults and
// validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills unset detection, baseline, HTTP and polling settings.
func (c *Config) ApplyDefaults() {
	if c.Detection.FeatureSize == 0 {
		c.Detection.FeatureSize = DefaultFeatureSize
	}
	if c.Detection.TopN == nil {
		n := DefaultTopN
		c.Detection.TopN = &n
	}
	if c.Baseline.Frames == 0 {
		c.Baseline.Frames = DefaultBaselineFrames
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	for i := range c.Sources {
		if c.Sources[i].SnapshotURL != "" && c.Sources[i].PollInterval == 0 {
			c.Sources[i].PollInterval = DefaultPollInterval
		}
		if c.Sources[i].Color == "" {
			c.Sources[i].Color = DefaultMarkerColor
		}
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be defined")
	}
	if c.Baseline.Frames < 1 {
		return fmt.Errorf("baseline.frames must be at least 1")
	}
	if err := c.ParamsFor(nil).Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, sc := range c.Sources {
		if sc.ID == "" {
			return fmt.Errorf("source[%d].id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("source[%d].id %q is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true

		if sc.Topic == "" && sc.SnapshotURL == "" {
			return fmt.Errorf("source[%d].topic or snapshotUrl is required for %s", i, sc.ID)
		}
		if sc.Topic != "" && c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required for topic source %s", sc.ID)
		}
		if err := c.ParamsFor(&c.Sources[i]).Validate(); err != nil {
			return fmt.Errorf("source[%d] %s: %w", i, sc.ID, err)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
