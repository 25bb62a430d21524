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

package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dnsdeny/internal/filter"
	"github.com/dnsdeny/internal/source"
)

func hostsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateMergesSourcesInConfiguredOrder(t *testing.T) {
	srvA := hostsServer(t, strings.Join([]string{
		"# first list",
		"0.0.0.0 ads.example.com",
		"0.0.0.0 tracker.example.net",
	}, "\n"))
	srvB := hostsServer(t, strings.Join([]string{
		"127.0.0.1 tracker.example.net", // duplicate across sources
		"127.0.0.1 beacon.example.org",
	}, "\n"))

	outPath := filepath.Join(t.TempDir(), "blocklist.txt")
	gen, err := NewGenerator(context.Background(), &GeneratorConfig{
		OutputPath: outPath,
		Options:    filter.Options{Format: filter.FormatPlain},
	}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	sources := []source.Source{
		{Name: "alpha", URL: srvA.URL},
		{Name: "beta", URL: srvB.URL},
	}
	if err := gen.Generate(context.Background(), sources); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "ads.example.com\ntracker.example.net\nbeacon.example.org\n"
	if string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	stats := gen.GetStats()
	if stats.UniqueDomains.Load() != 3 {
		t.Errorf("UniqueDomains = %d, want 3", stats.UniqueDomains.Load())
	}
	if stats.DuplicatesSkipped.Load() != 1 {
		t.Errorf("DuplicatesSkipped = %d, want 1", stats.DuplicatesSkipped.Load())
	}
	if stats.ProcessedSources.Load() != 2 {
		t.Errorf("ProcessedSources = %d, want 2", stats.ProcessedSources.Load())
	}
}

func TestGenerateSkipsFailingSource(t *testing.T) {
	good := hostsServer(t, "0.0.0.0 ads.example.com\n")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	outPath := filepath.Join(t.TempDir(), "blocklist.txt")
	gen, err := NewGenerator(context.Background(), &GeneratorConfig{
		OutputPath: outPath,
		Options:    filter.Options{Format: filter.FormatPlain},
	}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	sources := []source.Source{
		{Name: "broken", URL: bad.URL},
		{Name: "good", URL: good.URL},
	}
	if err := gen.Generate(context.Background(), sources); err != nil {
		t.Fatalf("Generate() error = %v, want partial success", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "ads.example.com\n" {
		t.Errorf("output = %q, want %q", got, "ads.example.com\n")
	}

	stats := gen.GetStats()
	if stats.FailedSources.Load() != 1 {
		t.Errorf("FailedSources = %d, want 1", stats.FailedSources.Load())
	}
}

func TestGenerateFailsWhenAllSourcesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(bad.Close)

	gen, err := NewGenerator(context.Background(), &GeneratorConfig{
		OutputPath: filepath.Join(t.TempDir(), "blocklist.txt"),
		Options:    filter.Options{Format: filter.FormatPlain},
	}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	sources := []source.Source{{Name: "broken", URL: bad.URL}}
	if err := gen.Generate(context.Background(), sources); err == nil {
		t.Fatal("Generate() error = nil, want failure when every source fails")
	}
}

func TestGenerateUnboundWithSentinel(t *testing.T) {
	srv := hostsServer(t, "0.0.0.0 zeta.example.com\n0.0.0.0 ads.example.com\n")

	outPath := filepath.Join(t.TempDir(), "blocklist.conf")
	gen, err := NewGenerator(context.Background(), &GeneratorConfig{
		OutputPath: outPath,
		Options: filter.Options{
			Format:            filter.FormatUnbound,
			SortOutput:        true,
			AppendDoHSentinel: true,
		},
	}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	sources := []source.Source{{Name: "solo", URL: srv.URL}}
	if err := gen.Generate(context.Background(), sources); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := strings.Join([]string{
		`local-zone: "ads.example.com" always_refuse`,
		`local-zone: "zeta.example.com" always_refuse`,
		`local-zone: "use-application-dns.net" always_refuse`,
		"",
	}, "\n")
	if string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestGenerateNoSources(t *testing.T) {
	gen, err := NewGenerator(context.Background(), &GeneratorConfig{
		Options: filter.Options{Format: filter.FormatPlain},
	}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if err := gen.Generate(context.Background(), nil); err == nil {
		t.Fatal("Generate() error = nil, want error for empty source list")
	}
}
