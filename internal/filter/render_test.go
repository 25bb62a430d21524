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
	"reflect"
	"testing"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected Format
		wantErr  bool
	}{
		{"Plain", "plain", FormatPlain, false},
		{"Unbound", "unbound", FormatUnbound, false},
		{"Uppercase accepted", "UNBOUND", FormatUnbound, false},
		{"Surrounding space accepted", " plain ", FormatPlain, false},
		{"Unknown rejected", "dnsmasq", 0, true},
		{"Empty rejected", "", 0, true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actual, err := ParseFormat(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseFormat(%q) succeeded; want error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat(%q): %v", tc.input, err)
			}
			if actual != tc.expected {
				t.Errorf("ParseFormat(%q) = %v; want %v", tc.input, actual, tc.expected)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	if FormatPlain.String() != "plain" || FormatUnbound.String() != "unbound" {
		t.Error("Format.String does not round-trip the CLI spellings")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		tokens   []string
		opts     Options
		expected []string
	}{
		{
			name:     "Plain keeps insertion order",
			tokens:   []string{"b.com", "a.com"},
			opts:     Options{Format: FormatPlain},
			expected: []string{"b.com", "a.com"},
		},
		{
			name:     "Sorted output",
			tokens:   []string{"b.com", "a.com", "c.com"},
			opts:     Options{Format: FormatPlain, SortOutput: true},
			expected: []string{"a.com", "b.com", "c.com"},
		},
		{
			name:   "Unbound directives",
			tokens: []string{"ads.example.com", "tracker.example.com"},
			opts:   Options{Format: FormatUnbound},
			expected: []string{
				`local-zone: "ads.example.com" always_refuse`,
				`local-zone: "tracker.example.com" always_refuse`,
			},
		},
		{
			name:     "Sentinel appended",
			tokens:   []string{"a.com"},
			opts:     Options{Format: FormatPlain, AppendDoHSentinel: true},
			expected: []string{"a.com", "use-application-dns.net"},
		},
		{
			name:     "Sentinel not duplicated",
			tokens:   []string{"use-application-dns.net", "a.com"},
			opts:     Options{Format: FormatPlain, AppendDoHSentinel: true},
			expected: []string{"use-application-dns.net", "a.com"},
		},
		{
			name:   "Sentinel follows sorted body",
			tokens: []string{"zz.example.com", "aa.example.com"},
			opts:   Options{Format: FormatUnbound, SortOutput: true, AppendDoHSentinel: true},
			expected: []string{
				`local-zone: "aa.example.com" always_refuse`,
				`local-zone: "zz.example.com" always_refuse`,
				`local-zone: "use-application-dns.net" always_refuse`,
			},
		},
		{
			name:     "Empty set with sentinel",
			tokens:   nil,
			opts:     Options{Format: FormatPlain, AppendDoHSentinel: true},
			expected: []string{"use-application-dns.net"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actual := Render(tc.tokens, tc.opts)
			if !reflect.DeepEqual(actual, tc.expected) {
				t.Errorf("Render(%v, %+v) = %v; want %v", tc.tokens, tc.opts, actual, tc.expected)
			}
		})
	}
}

// TestRenderSortLeavesInputIntact guards the sort-on-copy contract.
func TestRenderSortLeavesInputIntact(t *testing.T) {
	t.Parallel()
	tokens := []string{"b.com", "a.com"}
	_ = Render(tokens, Options{Format: FormatPlain, SortOutput: true})
	if tokens[0] != "b.com" || tokens[1] != "a.com" {
		t.Errorf("Render mutated its input: %v", tokens)
	}
}
