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
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"

	"github.com/dnsdeny/internal/logging"
	"github.com/dnsdeny/internal/metrics"
	"github.com/dnsdeny/internal/source"
)

// Scheduler manages a pool of worker goroutines and dispatches WorkItems to
// them based on a hash of the source name. Hashing the same source to the
// same worker keeps per-source work ordered without extra locking.
type Scheduler struct {
	numWorkers   int
	workers      []*worker
	ctx          context.Context
	cancel       context.CancelFunc
	shutdown     atomic.Bool
	workItemPool sync.Pool
	activeWork   sync.WaitGroup // Tracks actively processing work items.
}

// worker encapsulates a single worker goroutine and its state.
type worker struct {
	id          int
	cpuAffinity int // Target CPU core, -1 when affinity is unsupported.
	queue       chan *WorkItem
	scheduler   *Scheduler
	ctx         context.Context
	limiter     *rate.Limiter // Paces submissions into this worker's queue.
}

// NewScheduler creates, configures, and starts the scheduler and its worker
// pool. On Linux each worker is pinned to a CPU core, best effort.
func NewScheduler(parentCtx context.Context) (*Scheduler, error) {
	numWorkers := runtime.NumCPU() * WorkerMultiplier
	if numWorkers <= 0 {
		numWorkers = 1
	}

	sctx, cancel := context.WithCancel(parentCtx)

	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	// Source fetches are whole-file downloads; a modest steady rate with
	// bursts up to the queue size is plenty.
	initialRate := rate.Limit(50)
	burstSize := MaxShardQueueSize

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			cpuAffinity: i % runtime.NumCPU(),
			queue:       make(chan *WorkItem, MaxShardQueueSize),
			scheduler:   s,
			ctx:         sctx,
			limiter:     rate.NewLimiter(initialRate, burstSize),
		}
		s.workers[i] = w
		go w.run()
	}

	logging.Infof("scheduler initialized with %d workers (affinity %s)", numWorkers, affinityMode)
	return s, nil
}

// run is the main processing loop for a single worker goroutine.
func (w *worker) run() {
	setAffinity(w.id, w.cpuAffinity)

	workerLabel := strconv.Itoa(w.id)
	for {
		select {
		case <-w.ctx.Done():
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}

			func() {
				defer w.scheduler.activeWork.Done()
				defer func() {
					if r := recover(); r != nil {
						logging.Errorf("panic recovered in worker %d processing source %s: %v", w.id, item.SourceName, r)
						if metrics.IsMetricsEnabled() {
							metrics.GetMetrics().WorkerPanics.WithLabelValues(workerLabel).Inc()
						}
					}
				}()

				err := item.Callback(item)
				if err != nil {
					logging.Errorf("error processing source %s: %v", item.SourceName, err)
					if metrics.IsMetricsEnabled() {
						metrics.GetMetrics().WorkerErrors.WithLabelValues(workerLabel, item.SourceName, "callback").Inc()
					}
				} else if metrics.IsMetricsEnabled() {
					metrics.GetMetrics().WorkerProcessed.WithLabelValues(workerLabel, item.SourceName).Inc()
				}
			}()

			// Reset fields before returning the item to the pool.
			item.Callback = nil
			item.SourceName = ""
			item.Source = nil
			item.Ctx = nil
			item.Error = nil
			w.scheduler.workItemPool.Put(item)
		}
	}
}

// SubmitWork routes a work item to a worker queue chosen by hashing the
// source name. The send is non-blocking so a full queue surfaces as
// ErrQueueFull backpressure instead of stalling the caller.
func (s *Scheduler) SubmitWork(ctx context.Context, src *source.Source, callback WorkCallback) error {
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}

	shardIndex := int(xxh3.HashString(src.Name) % uint64(s.numWorkers))
	targetWorker := s.workers[shardIndex]

	item := s.workItemPool.Get().(*WorkItem)
	item.SourceName = src.Name
	item.Source = src
	item.Attempt = 0
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()
	s.activeWork.Add(1)

	select {
	case targetWorker.queue <- item:
		if metrics.IsMetricsEnabled() {
			metrics.GetMetrics().SchedulerWorkSubmitted.WithLabelValues(src.Name, "fetch").Inc()
		}
		return nil
	default:
		s.activeWork.Done()
		s.workItemPool.Put(item)
		if metrics.IsMetricsEnabled() {
			metrics.GetMetrics().QueueBackpressureHit.WithLabelValues(strconv.Itoa(targetWorker.id), src.Name).Inc()
		}
		return fmt.Errorf("worker %d for source %s: %w", targetWorker.id, src.Name, ErrQueueFull)
	}
}

// submitWithRetry wraps SubmitWork with the rate-limiter wait and a bounded
// retry loop for transient queue-full conditions.
func (s *Scheduler) submitWithRetry(ctx context.Context, src *source.Source, callback WorkCallback) error {
	shardIndex := int(xxh3.HashString(src.Name) % uint64(s.numWorkers))
	targetWorker := s.workers[shardIndex]

	if err := targetWorker.limiter.Wait(ctx); err != nil {
		return err
	}

	retryDelay := 250 * time.Millisecond
	for attempt := 0; attempt < MaxSubmitRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.SubmitWork(ctx, src, callback)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		select {
		case <-time.After(retryDelay):
			retryDelay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("source %s: %w", src.Name, ErrQueueFull)
}

// Wait blocks until all submitted work items have been processed.
func (s *Scheduler) Wait() {
	s.activeWork.Wait()
}

// Shutdown initiates a graceful shutdown of the scheduler and its workers.
// Returns immediately after signalling; callers that need completion should
// Wait first.
func (s *Scheduler) Shutdown() {
	if s.shutdown.CompareAndSwap(false, true) {
		logging.Debug("scheduler shutting down")
		s.cancel()
	}
}
