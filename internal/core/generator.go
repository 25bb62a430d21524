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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsdeny/internal/filter"
	"github.com/dnsdeny/internal/logging"
	"github.com/dnsdeny/internal/metrics"
	"github.com/dnsdeny/internal/source"
)

// Generator orchestrates fetching blocklist sources, extracting domains and
// writing the merged, deduplicated output.
//
// Sources are fetched concurrently through the scheduler, but each source's
// tokens are collected into a private buffer and merged in configured source
// order afterwards, so the output is deterministic for a given source list
// regardless of which fetch finishes first.
type Generator struct {
	scheduler *Scheduler
	config    *GeneratorConfig
	fetcher   *source.Fetcher
	stats     *GeneratorStats
	// results maps source name -> *sourceResult, written by worker
	// callbacks and read back on the merge path.
	results sync.Map
}

// GeneratorConfig holds operational parameters for a generation run.
type GeneratorConfig struct {
	// OutputPath is the file the rendered blocklist is written to.
	// Empty means stdout.
	OutputPath string
	// BufferSize for disk I/O; zero selects DefaultDiskBufferSize.
	BufferSize int
	// Compress gzips the output file. Ignored when writing to stdout.
	Compress bool
	// Options control rendering: format, sorting and the DoH sentinel.
	Options filter.Options
}

// GeneratorStats uses atomic counters so worker callbacks can update them
// without locking.
type GeneratorStats struct {
	TotalSources       atomic.Int64
	ProcessedSources   atomic.Int64
	FailedSources      atomic.Int64
	LinesScanned       atomic.Int64
	DomainsExtracted   atomic.Int64
	DuplicatesSkipped  atomic.Int64
	UniqueDomains      atomic.Int64
	OutputBytesWritten atomic.Int64
	StartTime          time.Time
}

// sourceResult carries one source's extracted tokens from its worker
// callback to the ordered merge.
type sourceResult struct {
	tokens []string
	stats  filter.Stats
}

// NewGenerator initializes the generator and its scheduler. The fetcher may
// carry a cache store; a nil-cache fetcher simply downloads every time.
func NewGenerator(ctx context.Context, config *GeneratorConfig, fetcher *source.Fetcher) (*Generator, error) {
	scheduler, err := NewScheduler(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	return &Generator{
		scheduler: scheduler,
		config:    config,
		fetcher:   fetcher,
		stats:     &GeneratorStats{StartTime: time.Now()},
	}, nil
}

// Generate runs the full pipeline for the given sources: concurrent fetch and
// extraction, ordered merge, render, atomic write. Individual source failures
// are logged and skipped; Generate only fails when every source failed or the
// output cannot be written.
func (g *Generator) Generate(ctx context.Context, sources []source.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("no sources to process")
	}
	g.stats.TotalSources.Store(int64(len(sources)))
	logging.Infof("generating blocklist from %d sources", len(sources))

	for i := range sources {
		if ctx.Err() != nil {
			g.scheduler.Shutdown()
			return ctx.Err()
		}
		src := &sources[i]
		if err := g.scheduler.submitWithRetry(ctx, src, g.extractCallback); err != nil {
			logging.Errorf("failed to submit source %s: %v", src.Name, err)
			g.stats.FailedSources.Add(1)
		}
	}

	g.scheduler.Wait()
	g.scheduler.Shutdown()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	merged := g.merge(sources)
	if g.stats.ProcessedSources.Load() == 0 {
		return fmt.Errorf("all %d sources failed", len(sources))
	}

	if err := g.write(merged); err != nil {
		return err
	}

	g.logSummary()
	return nil
}

// extractCallback runs on a scheduler worker: fetch one source's payload and
// extract its tokens into a private result buffer.
func (g *Generator) extractCallback(item *WorkItem) error {
	payload, err := g.fetcher.Fetch(item.Ctx, item.Source)
	if err != nil {
		g.stats.FailedSources.Add(1)
		return fmt.Errorf("fetch %s: %w", item.SourceName, err)
	}

	// A per-source filter dedupes within the source; cross-source dedupe
	// happens in the ordered merge.
	f := filter.New(g.config.Options)
	if err := f.Scan(bytes.NewReader(payload)); err != nil {
		g.stats.FailedSources.Add(1)
		return fmt.Errorf("scan %s: %w", item.SourceName, err)
	}

	st := f.Stats()
	g.results.Store(item.SourceName, &sourceResult{tokens: f.Tokens(), stats: st})
	g.stats.ProcessedSources.Add(1)
	g.stats.LinesScanned.Add(st.LinesScanned)
	metrics.ObserveFilterStats(item.SourceName, st.LinesScanned, st.DomainsExtracted, st.DuplicatesSkipped)

	logging.Debugf("source %s: %d lines, %d domains (%d duplicates within source)",
		item.SourceName, st.LinesScanned, st.DomainsExtracted, st.DuplicatesSkipped)
	return nil
}

// merge folds per-source results into one filter in configured source order.
// Sources that failed have no result and are skipped.
func (g *Generator) merge(sources []source.Source) *filter.Filter {
	merged := filter.New(g.config.Options)
	for i := range sources {
		v, ok := g.results.Load(sources[i].Name)
		if !ok {
			continue
		}
		res := v.(*sourceResult)
		merged.Merge(res.tokens)
	}

	st := merged.Stats()
	g.stats.DomainsExtracted.Store(st.DomainsExtracted)
	g.stats.DuplicatesSkipped.Store(st.DuplicatesSkipped)
	g.stats.UniqueDomains.Store(int64(merged.Len()))
	return merged
}

// write renders the merged set to the configured destination. File output
// goes through a temp file and rename so a crash never leaves a truncated
// blocklist behind.
func (g *Generator) write(merged *filter.Filter) error {
	metrics.ObserveRendered(g.config.Options.Format.String(), merged.Len())

	if g.config.OutputPath == "" {
		n, err := merged.RenderTo(os.Stdout)
		g.stats.OutputBytesWritten.Store(int64(n))
		return err
	}

	if dir := filepath.Dir(g.config.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	lw, err := newLockedWriter(g.config.OutputPath, g.config.BufferSize, g.config.Compress)
	if err != nil {
		return err
	}

	n, renderErr := merged.RenderTo(lockedWriterAdapter{lw})
	g.stats.OutputBytesWritten.Store(int64(n))
	if closeErr := lw.closeAndFinalize(); renderErr == nil {
		renderErr = closeErr
	}
	if renderErr != nil {
		return fmt.Errorf("failed to write %s: %w", g.config.OutputPath, renderErr)
	}
	return nil
}

// lockedWriterAdapter exposes a lockedWriter as an io.Writer, taking the
// mutex per write.
type lockedWriterAdapter struct {
	lw *lockedWriter
}

func (a lockedWriterAdapter) Write(p []byte) (int, error) {
	a.lw.mu.Lock()
	defer a.lw.mu.Unlock()
	return a.lw.writer.Write(p)
}

var _ io.Writer = lockedWriterAdapter{}

func (g *Generator) logSummary() {
	elapsed := time.Since(g.stats.StartTime)
	logging.Infof("blocklist generated: %d unique domains from %d/%d sources (%d lines scanned, %d duplicates skipped) in %s",
		g.stats.UniqueDomains.Load(),
		g.stats.ProcessedSources.Load(),
		g.stats.TotalSources.Load(),
		g.stats.LinesScanned.Load(),
		g.stats.DuplicatesSkipped.Load(),
		elapsed.Round(time.Millisecond))
}

// GetStats returns the generator's statistics.
func (g *Generator) GetStats() *GeneratorStats { return g.stats }
