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
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dnsdeny/internal/source"
)

func TestLockedWriterFinalizeRenamesTempFile(t *testing.T) {
	t.Parallel()

	finalPath := filepath.Join(t.TempDir(), "blocklist.txt")
	lw, err := newLockedWriter(finalPath, 0, false)
	if err != nil {
		t.Fatalf("newLockedWriter() error = %v", err)
	}

	if _, err := lw.writer.WriteString("ads.example.com\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}

	// The temp file exists, the final file does not yet.
	if _, err := os.Stat(finalPath + ".tmp"); err != nil {
		t.Fatalf("temp file missing before finalize: %v", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		t.Fatal("final file exists before finalize")
	}

	if err := lw.closeAndFinalize(); err != nil {
		t.Fatalf("closeAndFinalize() error = %v", err)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "ads.example.com\n" {
		t.Errorf("final content = %q, want %q", got, "ads.example.com\n")
	}
	if _, err := os.Stat(finalPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file still present after finalize")
	}
}

func TestLockedWriterFinalizeCompressed(t *testing.T) {
	t.Parallel()

	finalPath := filepath.Join(t.TempDir(), "blocklist.txt.gz")
	lw, err := newLockedWriter(finalPath, 0, true)
	if err != nil {
		t.Fatalf("newLockedWriter() error = %v", err)
	}

	if _, err := lw.writer.WriteString("tracker.example.net\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	if err := lw.closeAndFinalize(); err != nil {
		t.Fatalf("closeAndFinalize() error = %v", err)
	}

	f, err := os.Open(finalPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer gz.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(gz); err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if buf.String() != "tracker.example.net\n" {
		t.Errorf("decompressed = %q, want %q", buf.String(), "tracker.example.net\n")
	}
}

func TestSchedulerProcessesSubmittedWork(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	defer s.Shutdown()

	var processed atomic.Int64
	srcs := []source.Source{
		{Name: "alpha", URL: "https://alpha.example.com/hosts"},
		{Name: "beta", URL: "https://beta.example.com/hosts"},
		{Name: "gamma", URL: "https://gamma.example.com/hosts"},
	}

	for i := range srcs {
		err := s.SubmitWork(context.Background(), &srcs[i], func(item *WorkItem) error {
			processed.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("SubmitWork(%s) error = %v", srcs[i].Name, err)
		}
	}

	s.Wait()
	if got := processed.Load(); got != int64(len(srcs)) {
		t.Errorf("processed = %d, want %d", got, len(srcs))
	}
}

func TestSchedulerRejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.Shutdown()

	src := &source.Source{Name: "late", URL: "https://late.example.com/hosts"}
	err = s.SubmitWork(context.Background(), src, func(item *WorkItem) error { return nil })
	if err != ErrWorkerShutdown {
		t.Errorf("SubmitWork() after shutdown error = %v, want ErrWorkerShutdown", err)
	}
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(context.Background())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	defer s.Shutdown()

	src := &source.Source{Name: "boom", URL: "https://boom.example.com/hosts"}
	err = s.SubmitWork(context.Background(), src, func(item *WorkItem) error {
		panic("callback failure")
	})
	if err != nil {
		t.Fatalf("SubmitWork() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not recover from panicking callback")
	}
}
