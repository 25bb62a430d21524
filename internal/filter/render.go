package filter

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
	"sort"
	"strings"
)

// Format selects how the unique domain set is rendered at write time.
type Format int

const (
	// FormatPlain emits each token verbatim, one per line.
	FormatPlain Format = iota
	// FormatUnbound wraps each token as an unbound local-zone refuse
	// directive for direct inclusion in a resolver configuration.
	FormatUnbound
)

// String returns the CLI spelling of the format.
func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatUnbound:
		return "unbound"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat converts a CLI/config format selector into a Format.
// An unrecognized selector is a configuration error; callers must surface it
// before any input is consumed.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain":
		return FormatPlain, nil
	case "unbound":
		return FormatUnbound, nil
	default:
		return 0, fmt.Errorf("unknown output format %q (valid: plain, unbound)", s)
	}
}

// Options is the single configuration surface unifying the historical
// variants of this pipeline: output format, lexicographic sorting, and the
// DoH sentinel append, each an explicit choice instead of incidental drift.
type Options struct {
	Format            Format
	SortOutput        bool
	AppendDoHSentinel bool
}

// renderToken renders a single token in the given format.
func renderToken(token string, f Format) string {
	if f == FormatUnbound {
		return `local-zone: "` + token + `" always_refuse`
	}
	return token
}

// Render produces the output lines for a set of unique tokens.
// Sorting, when requested, happens on a copy so the caller's first-seen
// slice stays intact. The sentinel, when enabled, is appended after sorting
// and skipped if the set already contains it.
func Render(tokens []string, opts Options) []string {
	ordered := tokens
	if opts.SortOutput {
		ordered = make([]string, len(tokens))
		copy(ordered, tokens)
		sort.Strings(ordered)
	}

	lines := make([]string, 0, len(ordered)+1)
	haveSentinel := false
	for _, token := range ordered {
		if token == DoHSentinel {
			haveSentinel = true
		}
		lines = append(lines, renderToken(token, opts.Format))
	}
	if opts.AppendDoHSentinel && !haveSentinel {
		lines = append(lines, renderToken(DoHSentinel, opts.Format))
	}
	return lines
}
