// Package config holds the engine's tunable parameters and their defaults,
// loadable from a YAML file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config collects every tunable of the engine. Fields map directly onto
// the named defaults scattered through the design: base pages per range,
// the merge trigger, buffer pool capacity, retry count, version ring
// depth, and the log directory.
type Config struct {
	// BasePagesPerRange bounds how many base pages a PageRange holds per
	// column before new rows spill into a fresh PageRange.
	BasePagesPerRange int `yaml:"base_pages_per_range"`

	// MergeTrigger is the update-counter threshold at which a table runs
	// its merge protocol and resets the counter.
	MergeTrigger int `yaml:"merge_trigger"`

	// BufferPoolCapacity is the maximum number of pages the buffer pool
	// holds across every table and column it backs.
	BufferPoolCapacity int `yaml:"buffer_pool_capacity"`

	// MaxRetries bounds how many times in total (the first run included) a
	// TransactionWorker runs a transaction that keeps returning false
	// before giving up on it.
	MaxRetries int `yaml:"max_retries"`

	// VersionRingDepth bounds the ring of page-directory snapshots a
	// table keeps and persists to versions.json. select_version reads do
	// not use this ring; they walk the indirection chain.
	VersionRingDepth int `yaml:"version_ring_depth"`

	// LogDirectory is where transaction.log and recovery.log are written.
	LogDirectory string `yaml:"log_directory"`
}

// Default returns the engine's defaults exactly as named in the design:
// 16 base pages per range, a merge trigger of 1024, a 1024-page buffer
// pool, 3 retries, a 10-deep version ring, logs under ./data/logs.
func Default() Config {
	return Config{
		BasePagesPerRange:  16,
		MergeTrigger:       1024,
		BufferPoolCapacity: 1024,
		MaxRetries:         3,
		VersionRingDepth:   10,
		LogDirectory:       "./data/logs",
	}
}

// Load reads a YAML file and overrides Default() with whatever fields it
// sets; fields the file omits keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// Validate sanity-checks a configuration. It never tightens or loosens the
// engine's own invariants — callers should validate once, at startup.
func (c Config) Validate() error {
	switch {
	case c.BasePagesPerRange < 1:
		return errors.New("config: base_pages_per_range must be at least 1")
	case c.MergeTrigger < 1:
		return errors.New("config: merge_trigger must be at least 1")
	case c.BufferPoolCapacity < 1:
		return errors.New("config: buffer_pool_capacity must be at least 1")
	case c.MaxRetries < 0:
		return errors.New("config: max_retries cannot be negative")
	case c.VersionRingDepth < 1:
		return errors.New("config: version_ring_depth must be at least 1")
	case c.LogDirectory == "":
		return errors.New("config: log_directory must not be empty")
	}
	return nil
}
