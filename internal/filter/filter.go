/*
Package filter implements the domain extraction and deduplication pipeline
at the heart of dnsdeny. It consumes line-oriented hosts-file text, extracts
syntactically domain-like tokens, normalizes them, and accumulates a unique
set preserving first-seen order. The package performs no I/O of its own
beyond scanning a supplied reader; fetching sources and writing destinations
is the caller's responsibility.
*/
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
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DoHSentinel is the probe domain some browsers resolve to decide whether to
// enable DNS-over-HTTPS. Blocking it forces browsers to respect the local
// resolver's blocklist instead of bypassing it.
const DoHSentinel = "use-application-dns.net"

var (
	// domainPattern matches domain-shaped substrings: one or more labels of
	// [A-Za-z0-9_-] joined by literal dots, on word boundaries. Underscores
	// are accepted because hosts files in the wild contain them.
	domainPattern = regexp.MustCompile(`\b[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)+\b`)

	// numericOnly rejects residual IPv4 fragments that survive the domain
	// pattern, e.g. "192.168.1.1".
	numericOnly = regexp.MustCompile(`^[0-9.]+$`)

	// ipPrefixReplacer removes the null-routing IP prefixes found in hosts
	// files before matching. Without this, malformed lines like
	// "0.0.0.0adserver.example.com" would yield a corrupted leading label.
	ipPrefixReplacer = strings.NewReplacer("127.0.0.1", "", "0.0.0.0", "")
)

// Extract returns the first domain-shaped substring of a raw input line.
// Comment lines (first non-space rune '#') and blank lines yield no match.
// The candidate is case-preserving; Normalize handles lowercasing.
func Extract(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	trimmed = ipPrefixReplacer.Replace(trimmed)
	match := domainPattern.FindString(trimmed)
	if match == "" {
		return "", false
	}
	return match, true
}

// Normalize lowercases a candidate and rejects tokens consisting solely of
// digits and dots (mis-extracted dotted-decimal garbage).
func Normalize(candidate string) (string, bool) {
	if candidate == "" || numericOnly.MatchString(candidate) {
		return "", false
	}
	return strings.ToLower(candidate), true
}

// Deduper is a first-seen-wins set of domain tokens. Insertion order is
// retained so output is deterministic for a given input sequence.
// Not safe for concurrent use; callers merge per-source results serially.
type Deduper struct {
	seen  map[string]struct{}
	order []string
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Add inserts a token, returning true if it was not already present.
func (d *Deduper) Add(token string) bool {
	if _, dup := d.seen[token]; dup {
		return false
	}
	d.seen[token] = struct{}{}
	d.order = append(d.order, token)
	return true
}

// Contains reports whether the token has been seen.
func (d *Deduper) Contains(token string) bool {
	_, ok := d.seen[token]
	return ok
}

// Len returns the number of unique tokens.
func (d *Deduper) Len() int { return len(d.order) }

// Tokens returns the unique tokens in first-seen order. The returned slice
// is owned by the Deduper and must not be mutated by the caller.
func (d *Deduper) Tokens() []string { return d.order }

// Stats counts the work done by a Filter across all scanned inputs.
type Stats struct {
	LinesScanned      int64
	DomainsExtracted  int64
	DuplicatesSkipped int64
}

// Filter bundles extraction, normalization and deduplication behind one
// Options value. The process-wide flag globals of earlier renditions of this
// pipeline are deliberately gone; a Filter is constructed once from parsed
// configuration and passed around explicitly.
type Filter struct {
	opts  Options
	set   *Deduper
	stats Stats
}

// New returns a Filter for the given options. Options are validated when the
// format selector is parsed, before any input is consumed.
func New(opts Options) *Filter {
	return &Filter{opts: opts, set: NewDeduper()}
}

// Add runs a single raw line through extract and normalize, inserting any
// surviving token. Returns true if a new unique token was added.
func (f *Filter) Add(line string) bool {
	f.stats.LinesScanned++
	candidate, ok := Extract(line)
	if !ok {
		return false
	}
	token, ok := Normalize(candidate)
	if !ok {
		return false
	}
	f.stats.DomainsExtracted++
	if !f.set.Add(token) {
		f.stats.DuplicatesSkipped++
		return false
	}
	return true
}

// Scan consumes an entire reader line by line. Hosts files can carry very
// long lines (concatenated lists), so the scanner buffer is widened well
// beyond the bufio default.
func (f *Filter) Scan(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		f.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("error scanning input: %w", err)
	}
	return nil
}

// Merge folds already-normalized tokens into the set, preserving the order
// they are supplied in. Used to combine per-source extraction results in
// configured source order after concurrent fetching.
func (f *Filter) Merge(tokens []string) {
	for _, token := range tokens {
		f.stats.DomainsExtracted++
		if !f.set.Add(token) {
			f.stats.DuplicatesSkipped++
		}
	}
}

// Tokens returns the accumulated unique tokens in first-seen order.
func (f *Filter) Tokens() []string { return f.set.Tokens() }

// Len returns the number of unique tokens accumulated so far.
func (f *Filter) Len() int { return f.set.Len() }

// Stats returns a copy of the counters accumulated so far.
func (f *Filter) Stats() Stats { return f.stats }

// RenderTo renders the accumulated set to w using the Filter's options.
// Returns the number of bytes written.
func (f *Filter) RenderTo(w io.Writer) (int, error) {
	total := 0
	for _, line := range Render(f.set.Tokens(), f.opts) {
		n, err := io.WriteString(w, line+"\n")
		total += n
		if err != nil {
			return total, fmt.Errorf("error writing output: %w", err)
		}
	}
	return total, nil
}
