package hilltop

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Point is a reported peak in base pixel coordinates.
type Point struct {
	X      int   `json:"x"`
	Y      int   `json:"y"`
	Weight int64 `json:"weight"`
}

// Params controls one peak search.
type Params struct {
	// FeatureSize is the approximate side in pixels of the differences to
	// look for. It sizes the refinement and suppression windows.
	FeatureSize int `json:"featureSize"`

	// TopN is the number of peaks to report.
	TopN int `json:"topN"`

	// Workers bounds the goroutines building the difference map; 0 uses
	// GOMAXPROCS. The search itself is always sequential.
	Workers int `json:"workers,omitempty"`
}

// Default detection parameters.
const (
	DefaultFeatureSize = 75
	DefaultTopN        = 2
)

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{FeatureSize: DefaultFeatureSize, TopN: DefaultTopN}
}

// Validate returns an ErrInvalidInput error for unusable parameters.
func (p Params) Validate() error {
	if p.FeatureSize < 1 {
		return fmt.Errorf("%w: featureSize must be at least 1, got %d", ErrInvalidInput, p.FeatureSize)
	}
	if p.TopN < 0 {
		return fmt.Errorf("%w: topN must not be negative, got %d", ErrInvalidInput, p.TopN)
	}
	return nil
}

// ValidateFor checks p against a width x height difference map. The
// feature size may not exceed the longer side and TopN may not exceed the
// number of pixels.
func (p Params) ValidateFor(width, height int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if side := max(width, height); p.FeatureSize > side {
		return fmt.Errorf("%w: featureSize %d exceeds the %dx%d image", ErrInvalidInput, p.FeatureSize, width, height)
	}
	if p.TopN > width*height {
		return fmt.Errorf("%w: topN %d exceeds the %d pixels of a %dx%d image",
			ErrInvalidInput, p.TopN, width*height, width, height)
	}
	return nil
}

// Result is the outcome of FindPeaks.
type Result struct {
	Peaks          []Point `json:"peaks"`
	MeanDifference int64   `json:"meanDifference"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

// PeakReport is a Result as published for a configured source.
type PeakReport struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Timestamp   int64  `json:"timestamp"`
	FeatureSize int    `json:"featureSize"`
	Result
}

// NewPeakReport stamps a result with a fresh id and the current time.
func NewPeakReport(source string, featureSize int, r *Result) PeakReport {
	return PeakReport{
		ID:          uuid.New().String(),
		Source:      source,
		Timestamp:   time.Now().UnixMilli(),
		FeatureSize: featureSize,
		Result:      *r,
	}
}

// SourceConfig defines an image source from the config file.
type SourceConfig struct {
	ID           string        `yaml:"id" json:"id"`
	Topic        string        `yaml:"topic,omitempty" json:"topic,omitempty"`             // MQTT topic carrying encoded frames
	SnapshotURL  string        `yaml:"snapshotUrl,omitempty" json:"snapshotUrl,omitempty"` // Polled over HTTP when set
	PollInterval time.Duration `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	Color        string        `yaml:"color,omitempty" json:"color,omitempty"`
	FeatureSize  *int          `yaml:"featureSize,omitempty" json:"featureSize,omitempty"` // Overrides detection.featureSize
	TopN         *int          `yaml:"topN,omitempty" json:"topN,omitempty"`               // Overrides detection.topN
}

// DetectionConfig holds the default search parameters.
type DetectionConfig struct {
	FeatureSize int  `yaml:"featureSize" json:"featureSize"`
	TopN        *int `yaml:"topN,omitempty" json:"topN,omitempty"` // nil means DefaultTopN; 0 reports nothing
	Workers     int  `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// BaselineConfig controls how a source's background is composed.
type BaselineConfig struct {
	Frames int `yaml:"frames" json:"frames"` // Frames merged into the baseline
}

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Baseline  BaselineConfig  `yaml:"baseline" json:"baseline"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Sources   []SourceConfig  `yaml:"sources" json:"sources"`
}

// GetSourceByID returns the source config for the given ID
func (c *Config) GetSourceByID(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// GetSourceByTopic returns the source subscribed to topic, or nil.
func (c *Config) GetSourceByTopic(topic string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Topic != "" && c.Sources[i].Topic == topic {
			return &c.Sources[i]
		}
	}
	return nil
}

// ParamsFor merges the source overrides into the detection defaults.
func (c *Config) ParamsFor(sc *SourceConfig) Params {
	p := Params{
		FeatureSize: c.Detection.FeatureSize,
		TopN:        DefaultTopN,
		Workers:     c.Detection.Workers,
	}
	if c.Detection.TopN != nil {
		p.TopN = *c.Detection.TopN
	}
	if sc == nil {
		return p
	}
	if sc.FeatureSize != nil {
		p.FeatureSize = *sc.FeatureSize
	}
	if sc.TopN != nil {
		p.TopN = *sc.TopN
	}
	return p
}
