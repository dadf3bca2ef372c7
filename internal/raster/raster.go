// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package raster defines the pixel buffer model and the asset read surface
// used by the compositing pipeline. Readers return data already resampled
// onto the requested window, so merging is a pure per-pixel operation.
package raster

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. ErrPointOutsideBounds is tolerated during point
// compositing: an asset that does not cover the point simply contributes
// nothing.
var (
	ErrPointOutsideBounds = errors.New("point outside asset bounds")
	ErrInvalidAssetName   = errors.New("invalid asset name")
	ErrAssetUnreachable   = errors.New("asset unreachable")
)

// Window is the geographic window of a read request, in lon/lat.
type Window struct {
	Bounds [4]float64 // min_lon, min_lat, max_lon, max_lat
	Width  int
	Height int
}

// AssetReader reads pixel data from asset locations.
type AssetReader interface {
	// ReadWindow returns the asset resampled onto the window. Pixels the
	// asset does not cover are masked invalid.
	ReadWindow(ctx context.Context, href string, w Window) (*Buffer, error)

	// ReadPoint returns the per-band values at a lon/lat point. Returns
	// ErrPointOutsideBounds when the asset does not cover the point.
	ReadPoint(ctx context.Context, href string, lon, lat float64) ([]float64, error)
}

// Buffer is a masked multi-band pixel grid. Data is band-major; Mask is
// shared across bands with true meaning valid.
type Buffer struct {
	Width  int
	Height int
	Bands  int
	Data   []float64
	Mask   []bool
}

// NewBuffer allocates an all-invalid buffer.
func NewBuffer(width, height, bands int) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Bands:  bands,
		Data:   make([]float64, width*height*bands),
		Mask:   make([]bool, width*height),
	}
}

// At returns the value at (x, y) in the given band.
func (b *Buffer) At(band, x, y int) float64 {
	return b.Data[band*b.Width*b.Height+y*b.Width+x]
}

// Set stores a value at (x, y) in the given band.
func (b *Buffer) Set(band, x, y int, v float64) {
	b.Data[band*b.Width*b.Height+y*b.Width+x] = v
}

// Valid reports whether the pixel at (x, y) carries data.
func (b *Buffer) Valid(x, y int) bool {
	return b.Mask[y*b.Width+x]
}

// SetValid marks the pixel at (x, y).
func (b *Buffer) SetValid(x, y int, valid bool) {
	b.Mask[y*b.Width+x] = valid
}

// AllValid reports whether every pixel carries data.
func (b *Buffer) AllValid() bool {
	for _, v := range b.Mask {
		if !v {
			return false
		}
	}
	return true
}

// AnyValid reports whether at least one pixel carries data.
func (b *Buffer) AnyValid() bool {
	for _, v := range b.Mask {
		if v {
			return true
		}
	}
	return false
}

// Compatible checks that two buffers share a shape and can be merged.
func (b *Buffer) Compatible(o *Buffer) error {
	if b.Width != o.Width || b.Height != o.Height || b.Bands != o.Bands {
		return fmt.Errorf("buffer shape mismatch: %dx%dx%d vs %dx%dx%d",
			b.Width, b.Height, b.Bands, o.Width, o.Height, o.Bands)
	}
	return nil
}
