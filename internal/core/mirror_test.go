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
	"sync/atomic"
	"testing"

	"github.com/dnsdeny/internal/source"
)

func TestMirrorWritesPayloadsAndSidecars(t *testing.T) {
	body := "0.0.0.0 ads.example.com\n0.0.0.0 tracker.example.net\n"
	srv := hostsServer(t, body)

	outDir := t.TempDir()
	mm, err := NewMirrorManager(context.Background(), &MirrorConfig{OutputDir: outDir}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewMirrorManager() error = %v", err)
	}

	sources := []source.Source{{Name: "alpha", URL: srv.URL}}
	if err := mm.Mirror(sources); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "alpha.hosts"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != body {
		t.Errorf("mirrored content = %q, want %q", got, body)
	}

	sidecar, err := os.ReadFile(filepath.Join(outDir, "alpha.hosts.xxh3"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if len(sidecar) == 0 {
		t.Error("sidecar is empty")
	}

	stats := mm.GetStats()
	if stats.MirroredSources.Load() != 1 {
		t.Errorf("MirroredSources = %d, want 1", stats.MirroredSources.Load())
	}
}

func TestMirrorSkipsUnchangedPayload(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("0.0.0.0 static.example.com\n"))
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	sources := []source.Source{{Name: "static", URL: srv.URL}}

	first, err := NewMirrorManager(context.Background(), &MirrorConfig{OutputDir: outDir}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewMirrorManager() error = %v", err)
	}
	if err := first.Mirror(sources); err != nil {
		t.Fatalf("first Mirror() error = %v", err)
	}

	second, err := NewMirrorManager(context.Background(), &MirrorConfig{OutputDir: outDir}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewMirrorManager() error = %v", err)
	}
	if err := second.Mirror(sources); err != nil {
		t.Fatalf("second Mirror() error = %v", err)
	}

	if got := second.GetStats().SkippedUnchanged.Load(); got != 1 {
		t.Errorf("SkippedUnchanged = %d, want 1", got)
	}
	if got := second.GetStats().MirroredSources.Load(); got != 0 {
		t.Errorf("MirroredSources on second run = %d, want 0", got)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2 (one per run)", hits.Load())
	}
}

func TestMirrorContinuesPastFailingSource(t *testing.T) {
	good := hostsServer(t, "0.0.0.0 ads.example.com\n")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	outDir := t.TempDir()
	mm, err := NewMirrorManager(context.Background(), &MirrorConfig{OutputDir: outDir}, &source.Fetcher{})
	if err != nil {
		t.Fatalf("NewMirrorManager() error = %v", err)
	}

	sources := []source.Source{
		{Name: "broken", URL: bad.URL},
		{Name: "good", URL: good.URL},
	}
	if err := mm.Mirror(sources); err != nil {
		t.Fatalf("Mirror() error = %v, want partial success", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "good.hosts")); err != nil {
		t.Errorf("good source not mirrored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "broken.hosts")); !os.IsNotExist(err) {
		t.Error("broken source left a mirror file behind")
	}

	stats := mm.GetStats()
	if stats.FailedSources.Load() != 1 {
		t.Errorf("FailedSources = %d, want 1", stats.FailedSources.Load())
	}
}
