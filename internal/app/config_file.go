package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/civicdata/healthsnap/internal/schema"
)

// FileConfig is the single-file YAML configuration schema. The dataset
// section is the operator's lever when the publisher changes a layout:
// link patterns, header signatures, field mappings, and templates all live
// here, not in code.
type FileConfig struct {
	BaseURL   string `yaml:"baseURL"`
	OutputDir string `yaml:"outputDir"`
	UserAgent string `yaml:"userAgent"`

	Fetch struct {
		MaxAttempts int           `yaml:"maxAttempts"`
		Backoff     time.Duration `yaml:"backoff"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"fetch"`

	Discovery struct {
		Timeout   time.Duration `yaml:"timeout"`
		StableFor time.Duration `yaml:"stableFor"`
	} `yaml:"discovery"`

	Run struct {
		Timeout time.Duration `yaml:"timeout"`
		Workers int           `yaml:"workers"`
	} `yaml:"run"`

	Datasets []*schema.DatasetSpec `yaml:"datasets"`
}

// LoadConfig reads, defaults, and validates the YAML configuration,
// compiling every dataset's patterns. Config failure is the one condition
// that is fatal to the whole process.
func LoadConfig(path string) (Config, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Config{
		BaseURL:            fc.BaseURL,
		OutputDir:          fc.OutputDir,
		UserAgent:          fc.UserAgent,
		FetchMaxAttempts:   fc.Fetch.MaxAttempts,
		FetchBackoff:       fc.Fetch.Backoff,
		FetchTimeout:       fc.Fetch.Timeout,
		DiscoveryTimeout:   fc.Discovery.Timeout,
		DiscoveryStableFor: fc.Discovery.StableFor,
		RunTimeout:         fc.Run.Timeout,
		Workers:            fc.Run.Workers,
		Datasets:           fc.Datasets,
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	for _, d := range cfg.Datasets {
		if err := d.Compile(); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "snapshots"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "healthsnap/1.0 (+https://github.com/civicdata/healthsnap)"
	}
	if cfg.FetchMaxAttempts == 0 {
		cfg.FetchMaxAttempts = 3
	}
	if cfg.FetchBackoff == 0 {
		cfg.FetchBackoff = 200 * time.Millisecond
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = 45 * time.Second
	}
	if cfg.DiscoveryStableFor == 0 {
		cfg.DiscoveryStableFor = time.Second
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RunDate.IsZero() {
		now := time.Now().UTC()
		cfg.RunDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func validate(cfg Config) error {
	if cfg.BaseURL == "" {
		return errors.New("config: baseURL is required")
	}
	if len(cfg.Datasets) == 0 {
		return errors.New("config: at least one dataset is required")
	}
	return nil
}
