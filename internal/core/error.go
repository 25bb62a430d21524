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

import "errors"

// customError is an error type that includes a retryable flag, letting
// components decide whether an operation that produced it is worth retrying.
type customError struct {
	message   string
	retryable bool
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard error interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err is, or wraps, a retryable *customError.
// Nil and unknown error types are treated as non-retryable.
func IsRetryable(err error) bool {
	var e *customError
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// Common error values used within the core package.
var (
	// ErrQueueFull indicates a worker's queue is at capacity and cannot
	// accept new work. Retryable; the queue drains as fetches complete.
	ErrQueueFull = NewError("queue full", true)
	// ErrWorkerShutdown indicates the scheduler is shutting down and no
	// longer accepts work. Not retryable.
	ErrWorkerShutdown = NewError("worker shutdown", false)
)
