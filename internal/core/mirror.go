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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	dnsio "github.com/dnsdeny/internal/io"
	"github.com/dnsdeny/internal/logging"
	"github.com/dnsdeny/internal/metrics"
	"github.com/dnsdeny/internal/source"
	"github.com/dnsdeny/internal/util"
)

// MirrorManager maintains a local mirror of raw source payloads, one file per
// source. Unchanged payloads are detected via a content-hash sidecar and
// skipped, so repeated mirror runs only touch files whose upstream actually
// changed.
type MirrorManager struct {
	scheduler *Scheduler
	config    *MirrorConfig
	fetcher   *source.Fetcher
	stats     *MirrorStats
	ctx       context.Context
	cancel    context.CancelFunc
	pool      *dnsio.BufferPool
	// hostLimiters maps upstream host -> *RateLimiter so sources sharing a
	// host share an adaptive budget.
	hostLimiters  sync.Map
	setupComplete atomic.Bool
}

// MirrorConfig holds configuration for mirroring.
type MirrorConfig struct {
	OutputDir  string
	BufferSize int
	Compress   bool // If true, mirrored files are gzipped (.gz suffix)
}

// MirrorStats holds runtime statistics for a mirror run.
type MirrorStats struct {
	TotalSources       atomic.Int64
	MirroredSources    atomic.Int64
	SkippedUnchanged   atomic.Int64
	FailedSources      atomic.Int64
	OutputBytesWritten atomic.Int64
	StartTime          time.Time
}

// NewMirrorManager creates a mirror manager and its scheduler and buffer
// pool.
func NewMirrorManager(ctx context.Context, config *MirrorConfig, fetcher *source.Fetcher) (*MirrorManager, error) {
	scheduler, err := NewScheduler(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDiskBufferSize
	}

	mmCtx, cancel := context.WithCancel(ctx)

	bufOpts := dnsio.DefaultAsyncBufferOptions()
	bufOpts.BufferSize = config.BufferSize
	bufOpts.Compressed = config.Compress

	mm := &MirrorManager{
		scheduler: scheduler,
		config:    config,
		fetcher:   fetcher,
		stats:     &MirrorStats{StartTime: time.Now()},
		ctx:       mmCtx,
		cancel:    cancel,
		pool:      dnsio.NewBufferPool(mmCtx, bufOpts),
	}
	return mm, nil
}

// Mirror fetches every source and writes its raw payload under OutputDir.
// Source failures are logged and skipped; Mirror only fails when the output
// directory cannot be prepared or every source failed.
func (mm *MirrorManager) Mirror(sources []source.Source) error {
	mm.stats.TotalSources.Store(int64(len(sources)))
	if len(sources) == 0 {
		return fmt.Errorf("no sources to mirror")
	}

	if err := os.MkdirAll(mm.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create mirror directory %s: %w", mm.config.OutputDir, err)
	}

	logging.Infof("mirroring %d sources to %s", len(sources), mm.config.OutputDir)
	for i := range sources {
		if mm.ctx.Err() != nil {
			break
		}
		src := &sources[i]
		if err := mm.scheduler.submitWithRetry(mm.ctx, src, mm.mirrorCallback); err != nil {
			logging.Errorf("failed to submit source %s for mirroring: %v", src.Name, err)
			mm.stats.FailedSources.Add(1)
		}
	}
	mm.setupComplete.Store(true)

	mm.scheduler.Wait()
	mm.Shutdown()

	if mm.ctx.Err() != nil && mm.stats.MirroredSources.Load() == 0 {
		return mm.ctx.Err()
	}
	if mm.stats.MirroredSources.Load() == 0 && mm.stats.SkippedUnchanged.Load() == 0 {
		return fmt.Errorf("all %d sources failed to mirror", len(sources))
	}

	logging.Infof("mirror complete: %d updated, %d unchanged, %d failed in %s",
		mm.stats.MirroredSources.Load(),
		mm.stats.SkippedUnchanged.Load(),
		mm.stats.FailedSources.Load(),
		time.Since(mm.stats.StartTime).Round(time.Millisecond))
	return nil
}

// mirrorCallback runs on a scheduler worker: rate-limit by host, fetch the
// payload, skip if unchanged, otherwise write the file and its hash sidecar.
func (mm *MirrorManager) mirrorCallback(item *WorkItem) error {
	limiter := mm.limiterForHost(item.Source.Host())
	if err := mm.waitForLimiter(item.Ctx, limiter); err != nil {
		mm.stats.FailedSources.Add(1)
		return err
	}

	payload, err := mm.fetcher.Fetch(item.Ctx, item.Source)
	if err != nil {
		limiter.RecordFailure()
		mm.stats.FailedSources.Add(1)
		return fmt.Errorf("fetch %s: %w", item.SourceName, err)
	}
	limiter.RecordSuccess()

	fileName := mm.fileName(item.SourceName)
	filePath := filepath.Join(mm.config.OutputDir, fileName)
	sidecarPath := sidecarFor(filePath)

	digest := fmt.Sprintf("%016x", xxh3.Hash(payload))
	if prev, err := os.ReadFile(sidecarPath); err == nil && strings.TrimSpace(string(prev)) == digest {
		logging.Debugf("source %s unchanged (hash %s), skipping", item.SourceName, digest)
		mm.stats.SkippedUnchanged.Add(1)
		return nil
	}

	buf, err := mm.pool.GetBuffer(filePath)
	if err != nil {
		mm.stats.FailedSources.Add(1)
		return fmt.Errorf("open mirror file %s: %w", filePath, err)
	}

	n, err := buf.Write(payload)
	if err != nil {
		mm.stats.FailedSources.Add(1)
		return fmt.Errorf("write mirror file %s: %w", filePath, err)
	}
	mm.stats.OutputBytesWritten.Add(int64(n))
	if metrics.IsMetricsEnabled() {
		m := metrics.GetMetrics()
		m.DiskWriteBytes.WithLabelValues(fileName, "mirror").Add(float64(n))
		m.DiskWriteOps.WithLabelValues(fileName, "mirror").Inc()
	}

	if err := os.WriteFile(sidecarPath, []byte(digest+"\n"), 0644); err != nil {
		// The mirror file itself is fine; a missing sidecar just means the
		// next run rewrites it.
		logging.Warnf("failed to write hash sidecar %s: %v", sidecarPath, err)
	}

	mm.stats.MirroredSources.Add(1)
	logging.Debugf("mirrored source %s (%d bytes, hash %s)", item.SourceName, n, digest)
	return nil
}

// limiterForHost returns the shared adaptive limiter for a host, creating it
// on first use.
func (mm *MirrorManager) limiterForHost(host string) *RateLimiter {
	if v, ok := mm.hostLimiters.Load(host); ok {
		return v.(*RateLimiter)
	}
	rl := NewRateLimiter(MaxRate / 2)
	actual, _ := mm.hostLimiters.LoadOrStore(host, rl)
	return actual.(*RateLimiter)
}

// waitForLimiter polls the adaptive limiter until a token is available or
// the context is cancelled.
func (mm *MirrorManager) waitForLimiter(ctx context.Context, rl *RateLimiter) error {
	for !rl.Allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// fileName maps a source name to its mirror file name.
func (mm *MirrorManager) fileName(sourceName string) string {
	name := util.SanitizeFilename(sourceName) + ".hosts"
	if mm.config.Compress {
		name += ".gz"
	}
	return name
}

// sidecarFor returns the hash sidecar path for a mirror file.
func sidecarFor(filePath string) string {
	return filePath + ".xxh3"
}

// Shutdown flushes and closes all mirror files. Idempotent.
func (mm *MirrorManager) Shutdown() {
	if !mm.setupComplete.Load() {
		mm.setupComplete.Store(true)
	}
	mm.scheduler.Shutdown()

	if err := mm.pool.Flush(); err != nil {
		logging.Warnf("error flushing mirror buffers: %v", err)
	}
	if err := mm.pool.Close(); err != nil {
		logging.Warnf("error closing mirror buffers: %v", err)
	}
	mm.cancel()
}

// GetStats returns the mirror's statistics.
func (mm *MirrorManager) GetStats() *MirrorStats { return mm.stats }
