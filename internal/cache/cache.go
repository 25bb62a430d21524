// Package cache provides an on-disk payload cache keyed by source URL.
// Fetches consult it before going to the network and refresh it after a
// successful download, so transient upstream outages degrade to slightly
// stale blocklists instead of missing ones.
package cache

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

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the payload cache consulted by the fetch pipeline.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SourceKey derives a stable cache key for a source URL. The xxh3 digest
// keeps keys short and free of characters the backing store might dislike.
func SourceKey(url string) string {
	return fmt.Sprintf("source:%016x", xxh3.HashString(url))
}
