// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package raster

import (
	"context"
	"fmt"
	"sync"
)

// MemoryReader serves asset windows from in-process grids. Used by tests and
// local fixtures; it implements the same resampling contract as the HTTP
// reader (nearest neighbor, out-of-footprint pixels masked invalid).
type MemoryReader struct {
	mu     sync.RWMutex
	assets map[string]memoryAsset
}

type memoryAsset struct {
	bounds [4]float64
	buf    *Buffer
}

// NewMemoryReader creates an empty MemoryReader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{assets: make(map[string]memoryAsset)}
}

// AddAsset registers a grid under an href with its geographic footprint.
// Row 0 of the grid is the footprint's north edge.
func (m *MemoryReader) AddAsset(href string, bounds [4]float64, buf *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[href] = memoryAsset{bounds: bounds, buf: buf}
}

// ReadWindow resamples the stored grid onto the requested window.
func (m *MemoryReader) ReadWindow(_ context.Context, href string, w Window) (*Buffer, error) {
	m.mu.RLock()
	asset, ok := m.assets[href]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetUnreachable, href)
	}

	out := NewBuffer(w.Width, w.Height, asset.buf.Bands)
	lonSpan := w.Bounds[2] - w.Bounds[0]
	latSpan := w.Bounds[3] - w.Bounds[1]

	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			// Pixel center in lon/lat. Row 0 is the window's north edge.
			lon := w.Bounds[0] + (float64(x)+0.5)/float64(w.Width)*lonSpan
			lat := w.Bounds[3] - (float64(y)+0.5)/float64(w.Height)*latSpan

			sx, sy, inside := asset.locate(lon, lat)
			if !inside || !asset.buf.Valid(sx, sy) {
				continue
			}
			out.SetValid(x, y, true)
			for band := 0; band < out.Bands; band++ {
				out.Set(band, x, y, asset.buf.At(band, sx, sy))
			}
		}
	}
	return out, nil
}

// ReadPoint samples the per-band values at a lon/lat point.
func (m *MemoryReader) ReadPoint(_ context.Context, href string, lon, lat float64) ([]float64, error) {
	m.mu.RLock()
	asset, ok := m.assets[href]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetUnreachable, href)
	}

	sx, sy, inside := asset.locate(lon, lat)
	if !inside {
		return nil, ErrPointOutsideBounds
	}
	if !asset.buf.Valid(sx, sy) {
		return nil, ErrPointOutsideBounds
	}
	values := make([]float64, asset.buf.Bands)
	for band := range values {
		values[band] = asset.buf.At(band, sx, sy)
	}
	return values, nil
}

// locate maps a lon/lat point onto the asset's pixel grid.
func (a memoryAsset) locate(lon, lat float64) (x, y int, inside bool) {
	if lon < a.bounds[0] || lon > a.bounds[2] || lat < a.bounds[1] || lat > a.bounds[3] {
		return 0, 0, false
	}
	fx := (lon - a.bounds[0]) / (a.bounds[2] - a.bounds[0])
	fy := (a.bounds[3] - lat) / (a.bounds[3] - a.bounds[1])

	x = int(fx * float64(a.buf.Width))
	y = int(fy * float64(a.buf.Height))
	if x >= a.buf.Width {
		x = a.buf.Width - 1
	}
	if y >= a.buf.Height {
		y = a.buf.Height - 1
	}
	return x, y, true
}
