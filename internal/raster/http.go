// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/mosaicus/internal/config"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/metrics"
)

// maxGridPayload caps the response body read per asset window.
const maxGridPayload = 256 << 20 // 256 MiB

// HTTPReader reads asset windows from remote data services speaking the grid
// protocol. A shared circuit breaker sheds load when the upstream degrades
// and a rate limiter keeps the fan-out of parallel tile renders polite.
type HTTPReader struct {
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[*Buffer]
	limiter *rate.Limiter
	timeout time.Duration
}

// NewHTTPReader builds an HTTPReader from raster configuration.
//
// Breaker settings: opens after the configured number of consecutive
// failures, half-opens after BreakerTimeout with up to 3 probe requests.
func NewHTTPReader(cfg config.RasterConfig) *HTTPReader {
	cbName := "asset-reader"
	cb := gobreaker.NewCircuitBreaker[*Buffer](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Asset reader circuit breaker state change")
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPReader{
		client: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cb:      cb,
		limiter: limiter,
		timeout: cfg.ReadTimeout,
	}
}

// ReadWindow fetches the asset resampled onto the window.
func (r *HTTPReader) ReadWindow(ctx context.Context, href string, w Window) (*Buffer, error) {
	u, err := windowURL(href, w)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, u)
}

// ReadPoint fetches the per-band values at a point as a 1x1 window.
func (r *HTTPReader) ReadPoint(ctx context.Context, href string, lon, lat float64) ([]float64, error) {
	buf, err := r.ReadWindow(ctx, href, Window{
		Bounds: [4]float64{lon, lat, lon, lat},
		Width:  1,
		Height: 1,
	})
	if err != nil {
		return nil, err
	}
	if !buf.Valid(0, 0) {
		return nil, ErrPointOutsideBounds
	}
	values := make([]float64, buf.Bands)
	for band := range values {
		values[band] = buf.At(band, 0, 0)
	}
	return values, nil
}

func (r *HTTPReader) fetch(ctx context.Context, u string) (*Buffer, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("asset read rate limit: %w", err)
		}
	}

	buf, err := r.cb.Execute(func() (*Buffer, error) {
		return r.doFetch(ctx, u)
	})
	if err != nil {
		metrics.TileAssetReadErrors.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrAssetUnreachable)
		}
		return nil, err
	}
	return buf, nil
}

func (r *HTTPReader) doFetch(ctx context.Context, u string) (*Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset request: %w", err)
	}
	req.Header.Set("Accept", "application/x-mosaicus-grid")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetUnreachable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, ErrPointOutsideBounds
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s returned 404", ErrAssetUnreachable, u)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", ErrAssetUnreachable, u, resp.StatusCode)
	default:
		return nil, fmt.Errorf("asset read failed: %s returned %d", u, resp.StatusCode)
	}

	buf, err := DecodeGrid(io.LimitReader(resp.Body, maxGridPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode asset payload from %s: %w", u, err)
	}
	return buf, nil
}

// windowURL appends the read-window query parameters to an asset href,
// preserving any query the href already carries.
func windowURL(href string, w Window) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid asset href %q: %w", href, err)
	}
	q := u.Query()
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(w.Bounds[0]), formatCoord(w.Bounds[1]),
		formatCoord(w.Bounds[2]), formatCoord(w.Bounds[3])))
	q.Set("width", strconv.Itoa(w.Width))
	q.Set("height", strconv.Itoa(w.Height))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
