package source

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
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dnsdeny/internal/cache"
	"github.com/dnsdeny/internal/client"
	"github.com/dnsdeny/internal/logging"
	"github.com/dnsdeny/internal/metrics"
)

const userAgent = "dnsdeny (+https://github.com/dnsdeny)"

// Fetcher downloads source payloads over the shared HTTP client, with an
// optional cache layered in front.
type Fetcher struct {
	// Cache, when non-nil, is consulted before the network and refreshed
	// after a successful download.
	Cache cache.Store
	// CacheTTL bounds how stale a cached payload may be served.
	CacheTTL time.Duration
}

// Fetch returns the payload for a source. Cached payloads are served
// without touching the network; on a network failure with a cache miss the
// error is returned for the caller to log and skip — one broken source must
// never abort a run over the remaining ones.
func (f *Fetcher) Fetch(ctx context.Context, src *Source) ([]byte, error) {
	if f.Cache != nil {
		key := cache.SourceKey(src.URL)
		if payload, err := f.Cache.Get(ctx, key); err == nil {
			logging.Debugf("cache hit for source %s (%d bytes)", src.Name, len(payload))
			return payload, nil
		}
	}

	payload, err := f.download(ctx, src)
	if err != nil {
		return nil, err
	}

	if f.Cache != nil {
		if err := f.Cache.Set(ctx, cache.SourceKey(src.URL), payload, f.CacheTTL); err != nil {
			logging.Warnf("failed to cache payload for source %s: %v", src.Name, err)
		}
	}
	return payload, nil
}

// download performs the HTTP GET with retry logic.
func (f *Fetcher) download(ctx context.Context, src *Source) ([]byte, error) {
	httpClient := client.GetHTTPClient()

	req, err := http.NewRequestWithContext(ctx, "GET", src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for source %s: %w", src.Name, err)
	}
	req.Header.Set("User-Agent", userAgent)

	var resp *http.Response
	maxRetries := 3
	retryDelay := 500 * time.Millisecond

	defer metrics.MeasureFetch(src.Name)()

	for attempt := range maxRetries {
		resp, err = httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}

		if resp != nil {
			resp.Body.Close()
		}

		// Check if context is cancelled before retrying
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < maxRetries-1 {
			metrics.IncRetries(src.Name)
			logging.Warnf("retrying fetch for source %s after error: %v (attempt %d/%d)",
				src.Name, err, attempt+1, maxRetries)

			// Use context-aware sleep
			select {
			case <-time.After(retryDelay):
				retryDelay *= 2 // Exponential backoff
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if err != nil {
		metrics.IncFetchErrors(src.Name)
		return nil, fmt.Errorf("error fetching source %s after %d attempts: %w", src.Name, maxRetries, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.IncFetchErrors(src.Name)
		return nil, fmt.Errorf("HTTP error %d fetching source %s", resp.StatusCode, src.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncFetchErrors(src.Name)
		return nil, fmt.Errorf("error reading payload for source %s: %w", src.Name, err)
	}

	metrics.IncFetches(src.Name)
	logging.Infof("fetched source %s (%d bytes)", src.Name, len(body))
	return body, nil
}
