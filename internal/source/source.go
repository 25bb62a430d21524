// Package source models the upstream blocklists the pipeline consumes:
// where they live, how the configured set is loaded, and how their payloads
// are fetched.
package source

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

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dnsdeny/internal/logging"
)

var (
	// UseLocalSources forces loading the source list from LocalSourcesFile
	// instead of the built-in defaults. Set from the CLI.
	UseLocalSources = false
	// LocalSourcesFile is the YAML file consulted when UseLocalSources is set.
	LocalSourcesFile = "./sources.yaml"
)

// Source is one upstream blocklist.
type Source struct {
	// Name is a short handle used in logs, metrics labels and output
	// filenames. Lowercase, no spaces.
	Name string `yaml:"name"`
	// URL is where the hosts-format payload is fetched from.
	URL string `yaml:"url"`
	// Disabled skips the source without removing it from the file.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Validate checks that a source is usable.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source with URL %q has no name", s.URL)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("source %q has unparseable URL: %w", s.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source %q has unsupported URL scheme %q", s.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("source %q has no host in URL %q", s.Name, s.URL)
	}
	return nil
}

// Host returns the URL's host for per-host rate limiting and metrics labels.
func (s *Source) Host() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// File is the on-disk YAML shape of a source list.
type File struct {
	Sources []Source `yaml:"sources"`
}

// Defaults returns the built-in source set: well-known public hosts-format
// blocklists. Used when no local sources file is requested.
func Defaults() []Source {
	return []Source{
		{Name: "stevenblack", URL: "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts"},
		{Name: "someonewhocares", URL: "https://someonewhocares.org/hosts/zero/hosts"},
		{Name: "adaway", URL: "https://adaway.org/hosts.txt"},
		{Name: "yoyo", URL: "https://pgl.yoyo.org/adservers/serverlist.php?hostformat=hosts&showintro=0&mimetype=plaintext"},
	}
}

// GetSources returns the active source set, honoring UseLocalSources the
// same way the rest of the CLI honors its local-file overrides: a broken
// local file is an error, never a silent fallback to the defaults.
func GetSources() ([]Source, error) {
	if UseLocalSources {
		logging.Infof("using local sources list from %s", LocalSourcesFile)
		sources, err := LoadFile(LocalSourcesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load local sources file '%s': %w", LocalSourcesFile, err)
		}
		return sources, nil
	}
	return Defaults(), nil
}

// LoadFile reads and validates a YAML source list, dropping disabled entries.
func LoadFile(filename string) ([]Source, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading sources file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML source list.
func Parse(data []byte) ([]Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing sources YAML: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("no sources defined")
	}

	seen := make(map[string]struct{}, len(f.Sources))
	var active []Source
	for i := range f.Sources {
		src := f.Sources[i]
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.Disabled {
			logging.Debugf("skipping disabled source %s", src.Name)
			continue
		}
		active = append(active, src)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("all sources are disabled")
	}
	return active, nil
}

// WriteFile persists a source list as YAML, for `fetch-sources` style
// bootstrap of a local file from the built-in defaults.
func WriteFile(filename string, sources []Source) error {
	data, err := yaml.Marshal(&File{Sources: sources})
	if err != nil {
		return fmt.Errorf("error marshaling sources: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing sources file: %w", err)
	}
	return nil
}
