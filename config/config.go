// Package config loads the resource manager's YAML configuration file,
// per SPEC_FULL.md's ambient-stack expansion of spec.md §6: the folio
// volume path, bucket worker limits, and ager sweep interval.
//
// Grounded on canonical-snapd's pervasive use of gopkg.in/yaml.v3 for
// on-disk state and configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resource manager's top-level configuration.
type Config struct {
	Volume struct {
		Path           string `yaml:"path"`
		CapacityFrames int    `yaml:"capacity_frames"`
	} `yaml:"volume"`

	Bucket struct {
		WorkerLimit   int           `yaml:"worker_limit"`
		AllocPolicy   string        `yaml:"alloc_policy"` // "sync" or "async"
		WorkerTimeout time.Duration `yaml:"worker_timeout"`
		GlobalTimeout time.Duration `yaml:"global_timeout"`
	} `yaml:"bucket"`

	Ager struct {
		SweepInterval time.Duration `yaml:"sweep_interval"`
		BatchSize     int           `yaml:"batch_size"`
	} `yaml:"ager"`

	Debug int `yaml:"debug"`
}

/// Default returns a Config populated with the same defaults the spec's
/// constants imply (AGE_PERIOD, BatchSize, etc.), usable standalone
/// without a config file.
func Default() *Config {
	c := &Config{}
	c.Volume.Path = "rm.db"
	c.Volume.CapacityFrames = 4096
	c.Bucket.WorkerLimit = 64
	c.Bucket.AllocPolicy = "sync"
	c.Bucket.WorkerTimeout = 30 * time.Second
	c.Bucket.GlobalTimeout = 5 * time.Minute
	c.Ager.SweepInterval = 125 * time.Millisecond
	c.Ager.BatchSize = 64
	return c
}

/// Load reads and parses the YAML config file at path, starting from
/// Default() and overriding whatever fields the file sets.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
