// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package mosaic merges per-asset pixel buffers into one tile and renders the
// result. Assets arrive in the search's sort order; the pixel selection
// decides how overlapping pixels combine.
package mosaic

import (
	"fmt"
	"sort"

	"github.com/tomtom215/mosaicus/internal/raster"
)

// Selection is a pixel merge strategy. The zero value is First.
type Selection int

const (
	// First keeps the first valid value per pixel, in asset order.
	First Selection = iota
	// Highest keeps the per-band maximum of valid values.
	Highest
	// Lowest keeps the per-band minimum of valid values.
	Lowest
	// Mean averages valid values per band.
	Mean
	// Median takes the per-band median of valid values.
	Median
)

var selectionNames = map[Selection]string{
	First:   "first",
	Highest: "highest",
	Lowest:  "lowest",
	Mean:    "mean",
	Median:  "median",
}

func (s Selection) String() string {
	if name, ok := selectionNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSelection maps a query-string value onto a Selection.
func ParseSelection(v string) (Selection, error) {
	switch v {
	case "", "first":
		return First, nil
	case "highest":
		return Highest, nil
	case "lowest":
		return Lowest, nil
	case "mean":
		return Mean, nil
	case "median":
		return Median, nil
	}
	return First, fmt.Errorf("unknown pixel selection %q", v)
}

// accumulator folds asset buffers into a merged tile, in input order.
type accumulator interface {
	// add folds one buffer in. Inputs must share the accumulator's shape.
	add(b *raster.Buffer) error
	// done reports that further inputs cannot change the result.
	done() bool
	// result finalizes and returns the merged buffer.
	result() *raster.Buffer
}

func newAccumulator(s Selection, width, height, bands int) accumulator {
	switch s {
	case Highest:
		return &extremeAccumulator{dst: raster.NewBuffer(width, height, bands), highest: true}
	case Lowest:
		return &extremeAccumulator{dst: raster.NewBuffer(width, height, bands)}
	case Mean:
		return &meanAccumulator{
			sum:   raster.NewBuffer(width, height, bands),
			count: make([]int, width*height),
		}
	case Median:
		return &medianAccumulator{width: width, height: height, bands: bands}
	default:
		return &firstAccumulator{dst: raster.NewBuffer(width, height, bands)}
	}
}

// firstAccumulator fills gaps only, and is done the moment the tile is fully
// covered. That short-circuit is what lets First skip reading lower-priority
// assets entirely.
type firstAccumulator struct {
	dst     *raster.Buffer
	covered bool
}

func (a *firstAccumulator) add(b *raster.Buffer) error {
	if err := a.dst.Compatible(b); err != nil {
		return err
	}
	for y := 0; y < a.dst.Height; y++ {
		for x := 0; x < a.dst.Width; x++ {
			if a.dst.Valid(x, y) || !b.Valid(x, y) {
				continue
			}
			a.dst.SetValid(x, y, true)
			for band := 0; band < a.dst.Bands; band++ {
				a.dst.Set(band, x, y, b.At(band, x, y))
			}
		}
	}
	a.covered = a.dst.AllValid()
	return nil
}

func (a *firstAccumulator) done() bool { return a.covered }
func (a *firstAccumulator) result() *raster.Buffer { return a.dst }

type extremeAccumulator struct {
	dst     *raster.Buffer
	highest bool
}

func (a *extremeAccumulator) add(b *raster.Buffer) error {
	if err := a.dst.Compatible(b); err != nil {
		return err
	}
	for y := 0; y < a.dst.Height; y++ {
		for x := 0; x < a.dst.Width; x++ {
			if !b.Valid(x, y) {
				continue
			}
			if !a.dst.Valid(x, y) {
				a.dst.SetValid(x, y, true)
				for band := 0; band < a.dst.Bands; band++ {
					a.dst.Set(band, x, y, b.At(band, x, y))
				}
				continue
			}
			for band := 0; band < a.dst.Bands; band++ {
				v := b.At(band, x, y)
				cur := a.dst.At(band, x, y)
				if (a.highest && v > cur) || (!a.highest && v < cur) {
					a.dst.Set(band, x, y, v)
				}
			}
		}
	}
	return nil
}

func (a *extremeAccumulator) done() bool { return false }
func (a *extremeAccumulator) result() *raster.Buffer { return a.dst }

type meanAccumulator struct {
	sum   *raster.Buffer
	count []int
}

func (a *meanAccumulator) add(b *raster.Buffer) error {
	if err := a.sum.Compatible(b); err != nil {
		return err
	}
	for y := 0; y < a.sum.Height; y++ {
		for x := 0; x < a.sum.Width; x++ {
			if !b.Valid(x, y) {
				continue
			}
			a.count[y*a.sum.Width+x]++
			a.sum.SetValid(x, y, true)
			for band := 0; band < a.sum.Bands; band++ {
				a.sum.Set(band, x, y, a.sum.At(band, x, y)+b.At(band, x, y))
			}
		}
	}
	return nil
}

func (a *meanAccumulator) done() bool { return false }

func (a *meanAccumulator) result() *raster.Buffer {
	for y := 0; y < a.sum.Height; y++ {
		for x := 0; x < a.sum.Width; x++ {
			n := a.count[y*a.sum.Width+x]
			if n == 0 {
				continue
			}
			for band := 0; band < a.sum.Bands; band++ {
				a.sum.Set(band, x, y, a.sum.At(band, x, y)/float64(n))
			}
		}
	}
	return a.sum
}

// medianAccumulator holds every input buffer until finalization. Memory-heavy
// by nature; the items limit bounds how many buffers can stack up.
type medianAccumulator struct {
	width, height, bands int
	inputs               []*raster.Buffer
}

func (a *medianAccumulator) add(b *raster.Buffer) error {
	if b.Width != a.width || b.Height != a.height || b.Bands != a.bands {
		return fmt.Errorf("buffer shape mismatch: %dx%dx%d vs %dx%dx%d",
			a.width, a.height, a.bands, b.Width, b.Height, b.Bands)
	}
	a.inputs = append(a.inputs, b)
	return nil
}

func (a *medianAccumulator) done() bool { return false }

func (a *medianAccumulator) result() *raster.Buffer {
	dst := raster.NewBuffer(a.width, a.height, a.bands)
	values := make([]float64, 0, len(a.inputs))
	for y := 0; y < a.height; y++ {
		for x := 0; x < a.width; x++ {
			any := false
			for _, in := range a.inputs {
				if in.Valid(x, y) {
					any = true
					break
				}
			}
			if !any {
				continue
			}
			dst.SetValid(x, y, true)
			for band := 0; band < a.bands; band++ {
				values = values[:0]
				for _, in := range a.inputs {
					if in.Valid(x, y) {
						values = append(values, in.At(band, x, y))
					}
				}
				dst.Set(band, x, y, median(values))
			}
		}
	}
	return dst
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
