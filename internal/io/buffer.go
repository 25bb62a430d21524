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

// Package io provides buffered asynchronous file writing for the mirror.
package io

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsdeny/internal/logging"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O.
	DefaultBufferSize = 256 * 1024

	// FlushInterval is how often buffers are flushed automatically.
	FlushInterval = 2 * time.Second

	// BackpressureThreshold is the fraction of buffer capacity that
	// triggers backpressure.
	BackpressureThreshold = 0.8
)

var (
	// ErrBufferFull is returned when the buffer is full and its overflow
	// queue has grown too long.
	ErrBufferFull = errors.New("write buffer full, applying backpressure")

	// ErrBufferClosed is returned when writing to a closed buffer.
	ErrBufferClosed = errors.New("write buffer closed")

	// ErrFlushTimeout is returned when waiting on a concurrent flush
	// times out.
	ErrFlushTimeout = errors.New("flush operation timed out")
)

// BufferMetrics holds per-buffer counters, all atomic.
type BufferMetrics struct {
	BytesWritten     atomic.Int64
	BytesFlushed     atomic.Int64
	FlushCount       atomic.Int64
	WriteCount       atomic.Int64
	BackpressureHits atomic.Int64
	ErrorCount       atomic.Int64
	LastFlushTime    atomic.Int64 // Unix nanoseconds
	LastWriteTime    atomic.Int64 // Unix nanoseconds
	LastErrorTime    atomic.Int64 // Unix nanoseconds
}

// AsyncBuffer is a buffered file writer with background flushing. Writes
// that would push the buffer past its threshold are queued and drained as
// the buffer empties, with ErrBufferFull as the hard stop.
type AsyncBuffer struct {
	// Immutable after creation
	file           *os.File
	gzWriter       *gzip.Writer
	bufWriter      *bufio.Writer
	flushInterval  time.Duration
	bufferSize     int
	compressed     bool
	flushThreshold float64
	identifier     string // for logging

	// Mutable state protected by mu
	mu              sync.Mutex
	closed          bool
	lastFlushTime   time.Time
	flushInProgress bool
	writeQueue      [][]byte // writes deferred under backpressure

	ctx    context.Context
	cancel context.CancelFunc

	flushWg sync.WaitGroup

	metrics BufferMetrics

	flushComplete chan struct{}
	backpressure  chan struct{}
}

// AsyncBufferOptions configures an AsyncBuffer.
type AsyncBufferOptions struct {
	BufferSize     int
	FlushInterval  time.Duration
	Compressed     bool
	FlushThreshold float64
	Identifier     string
}

// DefaultAsyncBufferOptions returns the default options for AsyncBuffer.
func DefaultAsyncBufferOptions() *AsyncBufferOptions {
	return &AsyncBufferOptions{
		BufferSize:     DefaultBufferSize,
		FlushInterval:  FlushInterval,
		Compressed:     false,
		FlushThreshold: BackpressureThreshold,
		Identifier:     "",
	}
}

// NewAsyncBuffer opens path for writing and starts the background flusher.
// The parent directory is created if missing.
func NewAsyncBuffer(ctx context.Context, path string, options *AsyncBufferOptions) (*AsyncBuffer, error) {
	if options == nil {
		options = DefaultAsyncBufferOptions()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	bufCtx, bufCancel := context.WithCancel(ctx)

	ab := &AsyncBuffer{
		file:           file,
		bufferSize:     options.BufferSize,
		compressed:     options.Compressed,
		flushInterval:  options.FlushInterval,
		flushThreshold: options.FlushThreshold,
		identifier:     options.Identifier,
		lastFlushTime:  time.Now(),
		ctx:            bufCtx,
		cancel:         bufCancel,
		flushComplete:  make(chan struct{}, 1),
		backpressure:   make(chan struct{}, 1),
	}

	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			bufCancel()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		ab.gzWriter = gzw
		ab.bufWriter = bufio.NewWriterSize(gzw, options.BufferSize)
	} else {
		ab.bufWriter = bufio.NewWriterSize(file, options.BufferSize)
	}

	ab.startBackgroundFlusher()

	return ab, nil
}

func (ab *AsyncBuffer) startBackgroundFlusher() {
	ticker := time.NewTicker(ab.flushInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ab.Flush(); err != nil && !errors.Is(err, ErrFlushTimeout) {
					ab.metrics.ErrorCount.Add(1)
					ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
					logging.Warnf("background flush failed for %s: %v", ab.identifier, err)
				}
			case <-ab.ctx.Done():
				return
			}
		}
	}()
}

// Write appends data to the buffer. Under backpressure the write is copied
// onto an overflow queue and drained later; only a saturated queue fails.
func (ab *AsyncBuffer) Write(data []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return 0, ErrBufferClosed
	}

	if float64(ab.bufWriter.Buffered())/float64(ab.bufferSize) >= ab.flushThreshold {
		select {
		case ab.backpressure <- struct{}{}:
		default:
		}

		ab.metrics.BackpressureHits.Add(1)

		if len(ab.writeQueue) > 100 {
			return 0, ErrBufferFull
		}

		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		ab.writeQueue = append(ab.writeQueue, dataCopy)

		go ab.Flush()

		return len(data), nil
	}

	n, err := ab.bufWriter.Write(data)
	if err != nil {
		ab.metrics.ErrorCount.Add(1)
		ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}

	ab.metrics.BytesWritten.Add(int64(n))
	ab.metrics.WriteCount.Add(1)
	ab.metrics.LastWriteTime.Store(time.Now().UnixNano())

	// Drain queued writes while there is headroom.
	if len(ab.writeQueue) > 0 && float64(ab.bufWriter.Buffered())/float64(ab.bufferSize) < ab.flushThreshold {
		processed := 0
		for i, queuedData := range ab.writeQueue {
			if float64(ab.bufWriter.Buffered()+len(queuedData))/float64(ab.bufferSize) >= ab.flushThreshold {
				break
			}

			n, err := ab.bufWriter.Write(queuedData)
			if err != nil {
				ab.metrics.ErrorCount.Add(1)
				ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
				break
			}

			ab.metrics.BytesWritten.Add(int64(n))
			ab.metrics.WriteCount.Add(1)
			processed = i + 1
		}

		if processed > 0 {
			ab.writeQueue = ab.writeQueue[processed:]
		}

		if len(ab.writeQueue) == 0 {
			select {
			case <-ab.backpressure:
			default:
			}
		}
	}

	return n, nil
}

// Flush writes buffered data through to disk. A concurrent flush is waited
// on rather than duplicated.
func (ab *AsyncBuffer) Flush() error {
	ab.mu.Lock()

	if ab.closed {
		ab.mu.Unlock()
		return ErrBufferClosed
	}

	if ab.flushInProgress {
		ab.mu.Unlock()

		select {
		case <-ab.flushComplete:
			return nil
		case <-time.After(5 * time.Second):
			return ErrFlushTimeout
		case <-ab.ctx.Done():
			return ab.ctx.Err()
		}
	}

	if ab.bufWriter.Buffered() == 0 {
		ab.mu.Unlock()
		return nil
	}

	ab.flushInProgress = true
	ab.flushWg.Add(1)
	ab.mu.Unlock()

	go func() {
		defer ab.flushWg.Done()
		defer func() {
			ab.mu.Lock()
			ab.flushInProgress = false
			ab.lastFlushTime = time.Now()
			ab.mu.Unlock()

			select {
			case ab.flushComplete <- struct{}{}:
			default:
			}
		}()

		if err := ab.bufWriter.Flush(); err != nil {
			ab.metrics.ErrorCount.Add(1)
			ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
			return
		}

		if ab.compressed && ab.gzWriter != nil {
			if err := ab.gzWriter.Flush(); err != nil {
				ab.metrics.ErrorCount.Add(1)
				ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
				return
			}
		}

		if err := ab.file.Sync(); err != nil {
			ab.metrics.ErrorCount.Add(1)
			ab.metrics.LastErrorTime.Store(time.Now().UnixNano())
			return
		}

		ab.metrics.FlushCount.Add(1)
		ab.metrics.BytesFlushed.Add(int64(ab.bufWriter.Buffered()))
		ab.metrics.LastFlushTime.Store(time.Now().UnixNano())
	}()

	return nil
}

// Close flushes remaining data and closes the file. Idempotent.
func (ab *AsyncBuffer) Close() error {
	ab.mu.Lock()

	if ab.closed {
		ab.mu.Unlock()
		return nil
	}

	ab.closed = true
	ab.mu.Unlock()

	ab.cancel()

	ab.flushWg.Wait()

	if err := ab.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer on close: %w", err)
	}

	if ab.compressed && ab.gzWriter != nil {
		if err := ab.gzWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}

	if err := ab.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	return nil
}

// WaitForBackpressure blocks until backpressure is signalled or the context
// ends.
func (ab *AsyncBuffer) WaitForBackpressure(ctx context.Context) error {
	select {
	case <-ab.backpressure:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetMetrics returns a snapshot of the buffer's counters.
func (ab *AsyncBuffer) GetMetrics() BufferMetrics {
	return ab.metrics
}

// BufferPool manages one AsyncBuffer per output path.
type BufferPool struct {
	mu      sync.RWMutex
	buffers map[string]*AsyncBuffer
	ctx     context.Context
	cancel  context.CancelFunc
	options *AsyncBufferOptions
}

// NewBufferPool creates an empty pool. Buffers inherit options, with the
// Identifier overridden per path.
func NewBufferPool(ctx context.Context, options *AsyncBufferOptions) *BufferPool {
	poolCtx, poolCancel := context.WithCancel(ctx)

	return &BufferPool{
		buffers: make(map[string]*AsyncBuffer),
		ctx:     poolCtx,
		cancel:  poolCancel,
		options: options,
	}
}

// GetBuffer returns the buffer for path, creating it on first use.
func (bp *BufferPool) GetBuffer(path string) (*AsyncBuffer, error) {
	bp.mu.RLock()
	buffer, exists := bp.buffers[path]
	bp.mu.RUnlock()

	if exists {
		return buffer, nil
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	buffer, exists = bp.buffers[path]
	if exists {
		return buffer, nil
	}

	options := *bp.options
	options.Identifier = path

	buffer, err := NewAsyncBuffer(bp.ctx, path, &options)
	if err != nil {
		return nil, err
	}

	bp.buffers[path] = buffer
	return buffer, nil
}

// Close closes all buffers in the pool, returning the last error seen.
func (bp *BufferPool) Close() error {
	bp.cancel()

	bp.mu.Lock()
	defer bp.mu.Unlock()

	var lastErr error
	for path, buffer := range bp.buffers {
		if err := buffer.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close buffer %s: %w", path, err)
		}
	}

	return lastErr
}

// Flush flushes all buffers in the pool, returning the last error seen.
func (bp *BufferPool) Flush() error {
	bp.mu.RLock()
	defer bp.mu.RUnlock()

	var lastErr error
	for path, buffer := range bp.buffers {
		if err := buffer.Flush(); err != nil && !errors.Is(err, ErrBufferClosed) {
			lastErr = fmt.Errorf("failed to flush buffer %s: %w", path, err)
		}
	}

	return lastErr
}
