/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dnsdeny/internal/filter"
	"github.com/dnsdeny/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Output  OutputConfig   `yaml:"output"`
	HTTP    HTTPConfig     `yaml:"http"`
	Cache   CacheConfig    `yaml:"cache"`
	Logging logging.Config `yaml:"logging"`
	// SourcesFile points at a YAML source list; empty means the built-in
	// defaults.
	SourcesFile string `yaml:"sources_file"`
}

// OutputConfig controls rendering of the generated blocklist.
type OutputConfig struct {
	// Format selects the render style: "plain" or "unbound".
	Format string `yaml:"format"`
	// Path is the output file; empty means stdout.
	Path string `yaml:"path"`
	// Sort orders the rendered domains lexicographically.
	Sort bool `yaml:"sort"`
	// DoHSentinel appends the canary domain that disables
	// browser DNS-over-HTTPS.
	DoHSentinel bool `yaml:"doh_sentinel"`
	// Compress gzips file output.
	Compress bool `yaml:"compress"`
	// BufferSize for disk writes, in bytes. Zero selects the default.
	BufferSize int `yaml:"buffer_size"`
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	Turbo               bool          `yaml:"turbo"`
}

// CacheConfig controls the on-disk payload cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	TTL         time.Duration `yaml:"ttl"`
	MaxMemoryMB int           `yaml:"max_memory_mb"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Format: "plain",
		},
		Cache: CacheConfig{
			Path: "cache",
			TTL:  4 * time.Hour,
		},
		Logging: logging.Config{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads and validates a configuration file. Values absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects bad configuration before any source is fetched. An
// unknown output format in particular must fail here, not after the
// downloads have run.
func (c *Config) Validate() error {
	if _, err := filter.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.Output.BufferSize < 0 {
		return fmt.Errorf("output buffer_size must not be negative")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache path is required when the cache is enabled")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}

// FilterOptions converts the output section into filter options. Call only
// after Validate.
func (c *Config) FilterOptions() filter.Options {
	format, _ := filter.ParseFormat(c.Output.Format)
	return filter.Options{
		Format:            format,
		SortOutput:        c.Output.Sort,
		AppendDoHSentinel: c.Output.DoHSentinel,
	}
}
