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
	"math"
	"sync/atomic"
	"time"
)

// Rate limiting bounds for the adaptive per-host limiter used by the mirror.
const (
	// MinRate is the floor in requests per second; the limiter never
	// throttles below this.
	MinRate = 2.0
	// MaxRate is the ceiling in requests per second.
	MaxRate = 1000.0
	// RateIncreaseStep is added to the rate after a successful request.
	RateIncreaseStep = 20.0
	// RateDecreaseStep is subtracted from the rate after a failure or
	// backpressure signal.
	RateDecreaseStep = 50.0
)

// RateLimiter is a simple adaptive token bucket. The rate grows additively on
// success and shrinks on failure, bounded by MinRate and MaxRate. The current
// rate is stored as the bit pattern of a float64 so the hot paths (getRate and
// setRate) are lock-free atomic loads and stores.
//
// lastAdjustment is not atomic; it only feeds the elapsed-time calculation in
// Allow, where exact precision matters less than the overall rate.
type RateLimiter struct {
	currentRate    uint64 // float64 bits of the current rate limit
	successCount   atomic.Uint64
	failureCount   atomic.Uint64
	lastAdjustment time.Time
	backpressure   atomic.Bool
}

// NewRateLimiter creates a RateLimiter starting at initialRate requests per
// second.
func NewRateLimiter(initialRate float64) *RateLimiter {
	rl := &RateLimiter{
		lastAdjustment: time.Now(),
	}
	rl.setRate(initialRate)
	return rl
}

// Allow reports whether an operation may proceed right now. Tokens accrue
// based on elapsed time and the current rate; active backpressure or a
// non-positive rate always denies.
func (rl *RateLimiter) Allow() bool {
	if rl.backpressure.Load() {
		return false
	}

	rate := rl.getRate()
	if rate <= 0 {
		return false
	}

	now := time.Now()
	elapsed := now.Sub(rl.lastAdjustment).Seconds()
	tokens := elapsed * rate

	if tokens >= 1.0 {
		rl.lastAdjustment = now
		return true
	}

	return false
}

// RecordSuccess notes a successful operation and nudges the rate upward.
func (rl *RateLimiter) RecordSuccess() {
	rl.successCount.Add(1)
	rl.adjustRate(true)
}

// RecordFailure notes a failed operation and cuts the rate.
func (rl *RateLimiter) RecordFailure() {
	rl.failureCount.Add(1)
	rl.adjustRate(false)
}

// UpdateBackpressure sets the backpressure state. While active, Allow returns
// false until backpressure is cleared.
func (rl *RateLimiter) UpdateBackpressure(hasBackpressure bool) {
	rl.backpressure.Store(hasBackpressure)
}

// GetCurrentRate returns the current effective rate limit in requests per
// second.
func (rl *RateLimiter) GetCurrentRate() float64 {
	return rl.getRate()
}

func (rl *RateLimiter) adjustRate(success bool) {
	current := rl.getRate()
	var newRate float64

	if success {
		newRate = current + RateIncreaseStep
		if newRate > MaxRate {
			newRate = MaxRate
		}
	} else {
		newRate = current - RateDecreaseStep
		if newRate < MinRate {
			newRate = MinRate
		}
	}

	rl.setRate(newRate)
}

// GetStats returns a snapshot of the limiter's counters and state for
// logging.
func (rl *RateLimiter) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"current_rate":    rl.getRate(),
		"success_count":   rl.successCount.Load(),
		"failure_count":   rl.failureCount.Load(),
		"backpressure":    rl.backpressure.Load(),
		"last_adjustment": rl.lastAdjustment,
	}
}

// Reset reinitializes the limiter to initialRate and clears counters and
// backpressure.
func (rl *RateLimiter) Reset(initialRate float64) {
	rl.setRate(initialRate)
	rl.successCount.Store(0)
	rl.failureCount.Store(0)
	rl.backpressure.Store(false)
	rl.lastAdjustment = time.Now()
}

func (rl *RateLimiter) getRate() float64 {
	bits := atomic.LoadUint64(&rl.currentRate)
	return math.Float64frombits(bits)
}

func (rl *RateLimiter) setRate(rate float64) {
	bits := math.Float64bits(rate)
	atomic.StoreUint64(&rl.currentRate, bits)
}
