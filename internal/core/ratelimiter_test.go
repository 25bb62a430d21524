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
	"testing"
	"time"
)

func TestRateLimiterAdjustsOnSuccessAndFailure(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(100)

	rl.RecordSuccess()
	if got := rl.GetCurrentRate(); got != 100+RateIncreaseStep {
		t.Errorf("rate after success = %v, want %v", got, 100+RateIncreaseStep)
	}

	rl.RecordFailure()
	if got := rl.GetCurrentRate(); got != 100+RateIncreaseStep-RateDecreaseStep {
		t.Errorf("rate after failure = %v, want %v", got, 100+RateIncreaseStep-RateDecreaseStep)
	}
}

func TestRateLimiterBounds(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(MaxRate)
	rl.RecordSuccess()
	if got := rl.GetCurrentRate(); got != MaxRate {
		t.Errorf("rate capped = %v, want %v", got, MaxRate)
	}

	rl.Reset(MinRate)
	rl.RecordFailure()
	if got := rl.GetCurrentRate(); got != MinRate {
		t.Errorf("rate floored = %v, want %v", got, MinRate)
	}
}

func TestRateLimiterBackpressure(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1000)
	rl.UpdateBackpressure(true)

	if rl.Allow() {
		t.Error("Allow() = true under backpressure")
	}

	rl.UpdateBackpressure(false)
	time.Sleep(5 * time.Millisecond) // accrue at least one token
	if !rl.Allow() {
		t.Error("Allow() = false after backpressure cleared")
	}
}

func TestRateLimiterAllowPacing(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1000)
	time.Sleep(5 * time.Millisecond)

	if !rl.Allow() {
		t.Fatal("first Allow() = false, want true")
	}
	// Immediately after consuming a token there should be none left.
	if rl.Allow() {
		t.Error("second immediate Allow() = true, want false")
	}
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(100)
	rl.RecordSuccess()
	rl.RecordFailure()
	rl.UpdateBackpressure(true)

	rl.Reset(250)

	if got := rl.GetCurrentRate(); got != 250 {
		t.Errorf("rate after reset = %v, want 250", got)
	}
	stats := rl.GetStats()
	if stats["success_count"].(uint64) != 0 || stats["failure_count"].(uint64) != 0 {
		t.Errorf("counters not cleared: %v", stats)
	}
	if stats["backpressure"].(bool) {
		t.Error("backpressure not cleared by reset")
	}
}
