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

/*
Package core provides the central logic for dnsdeny: the worker scheduler,
the blocklist generator and the raw-payload mirror. It defines common data
structures and constants used across these components.
*/
package core

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dnsdeny/internal/source"
)

// Common constants
const (
	// MaxShardQueueSize is the capacity of each worker's queue.
	MaxShardQueueSize = 64

	// WorkerMultiplier scales the worker count off the CPU count. Source
	// fetches are network bound, so more workers than cores pays off.
	WorkerMultiplier = 2

	// MaxSubmitRetries is how many times a submit is retried when a
	// worker's queue is full before the work is dropped.
	MaxSubmitRetries = 5

	// StatsReportInterval is how often long-running commands print a
	// progress summary.
	StatsReportInterval = 10 * time.Second

	// DefaultDiskBufferSize is the default bufio.Writer size for output
	// files. Rendered blocklists run to a few megabytes.
	DefaultDiskBufferSize = 256 * 1024
)

// WorkItem represents one unit of work: fetching and processing a single
// source. Items are pooled via sync.Pool to avoid allocation churn when the
// source set is large.
type WorkItem struct {
	// Immutable fields
	SourceName string          // Used for sharding work across workers.
	Source     *source.Source  // Source metadata needed by the callback.
	Callback   WorkCallback    // Function executed by the worker.
	Ctx        context.Context // Context for this specific task.
	CreatedAt  time.Time

	// Mutable fields
	Attempt int
	Error   error
}

// WorkCallback is the function signature for work item callbacks.
type WorkCallback func(item *WorkItem) error

// lockedWriter wraps a bufio.Writer and its underlying closers with a Mutex.
// Output is written to filePath and renamed to finalPath on a clean close so
// consumers never observe a partially written blocklist.
type lockedWriter struct {
	mu        sync.Mutex
	writer    *bufio.Writer
	gzWriter  *gzip.Writer // nil when output is not compressed
	file      *os.File
	filePath  string // temp path while writing
	finalPath string // rename target on clean shutdown
}

// newLockedWriter opens finalPath + ".tmp" for writing, layering gzip in
// when compress is set. bufferSize falls back to DefaultDiskBufferSize when
// non-positive.
func newLockedWriter(finalPath string, bufferSize int, compress bool) (*lockedWriter, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultDiskBufferSize
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening output file %s: %w", tmpPath, err)
	}

	lw := &lockedWriter{
		file:      f,
		filePath:  tmpPath,
		finalPath: finalPath,
	}
	if compress {
		lw.gzWriter = gzip.NewWriter(f)
		lw.writer = bufio.NewWriterSize(lw.gzWriter, bufferSize)
	} else {
		lw.writer = bufio.NewWriterSize(f, bufferSize)
	}
	return lw, nil
}

// closeAndFinalize flushes, closes and renames the writer's file. Safe to
// call exactly once per writer; errors are returned for the caller to log.
func (lw *lockedWriter) closeAndFinalize() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	var firstErr error
	if lw.writer != nil {
		if err := lw.writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if lw.gzWriter != nil {
		if err := lw.gzWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if lw.file != nil {
		if err := lw.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil && lw.filePath != "" && lw.finalPath != "" {
		if err := os.Rename(lw.filePath, lw.finalPath); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
