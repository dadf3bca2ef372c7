// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package mosaic

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/logging"
	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/raster"
)

// Compositor merges the assets located for a tile into one pixel buffer.
type Compositor struct {
	reader      raster.AssetReader
	concurrency int
}

// NewCompositor creates a Compositor. concurrency 0 defaults to NumCPU.
func NewCompositor(reader raster.AssetReader, concurrency int) *Compositor {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Compositor{reader: reader, concurrency: concurrency}
}

// TileOptions shape one tile render.
type TileOptions struct {
	AssetName string
	TileSize  int
	Selection Selection
	// Reverse flips the asset priority order before merging.
	Reverse bool
}

// RenderInfo carries per-stage timings for the Server-Timing header, plus the
// ids of the assets that contributed.
type RenderInfo struct {
	AssetsUsed  []string
	DataRead    time.Duration
	Postprocess time.Duration
}

// PointValue is one item's contribution at a point.
type PointValue struct {
	ItemID     string    `json:"item_id"`
	Collection string    `json:"collection"`
	Values     []float64 `json:"values"`
}

// RenderTile reads each asset's window and merges them under the pixel
// selection. Assets are read in chunks of the configured concurrency;
// merging preserves priority order regardless of read completion order, and
// the First selection stops issuing reads once the tile is covered.
// Unreadable assets are logged and dropped from the merge; the render fails
// with ErrNoAssetFound only when no asset contributed any pixels.
func (c *Compositor) RenderTile(ctx context.Context, refs []models.AssetRef, z, x, y int, opts TileOptions) (*raster.Buffer, RenderInfo, error) {
	var info RenderInfo
	if len(refs) == 0 {
		return nil, info, locator.ErrNoAssetFound
	}

	hrefs := make([]string, len(refs))
	ids := make([]string, len(refs))
	for i, ref := range refs {
		asset, ok := ref.Assets[opts.AssetName]
		if !ok {
			return nil, info, fmt.Errorf("%w: item %s has no asset %q",
				raster.ErrInvalidAssetName, ref.ID, opts.AssetName)
		}
		hrefs[i] = asset.Href
		ids[i] = ref.ID
	}
	if opts.Reverse {
		reverse(hrefs)
		reverse(ids)
	}

	b := database.CalculateTileBounds(z, x, y)
	window := raster.Window{
		Bounds: [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY},
		Width:  opts.TileSize,
		Height: opts.TileSize,
	}

	var acc accumulator
	readStart := time.Now()

	for start := 0; start < len(hrefs) && (acc == nil || !acc.done()); start += c.concurrency {
		end := start + c.concurrency
		if end > len(hrefs) {
			end = len(hrefs)
		}

		chunk := make([]*raster.Buffer, end-start)
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				buf, err := c.reader.ReadWindow(ctx, hrefs[i], window)
				if err != nil {
					// A failed read drops this asset; the remaining refs
					// still composite.
					logging.Ctx(ctx).Warn().Err(err).
						Str("asset", hrefs[i]).
						Msg("Skipping unreadable asset")
					return nil
				}
				chunk[i-start] = buf
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, info, err
		}

		for i, buf := range chunk {
			if buf == nil || !buf.AnyValid() {
				continue
			}
			if acc == nil {
				acc = newAccumulator(opts.Selection, buf.Width, buf.Height, buf.Bands)
			}
			if err := acc.add(buf); err != nil {
				return nil, info, err
			}
			info.AssetsUsed = append(info.AssetsUsed, ids[start+i])
			if acc.done() {
				break
			}
		}
	}
	info.DataRead = time.Since(readStart)
	metrics.TileRenderDuration.WithLabelValues("dataread").Observe(info.DataRead.Seconds())

	if acc == nil {
		// Every asset intersected the tile's bbox but none contributed pixels.
		return nil, info, locator.ErrNoAssetFound
	}

	postStart := time.Now()
	result := acc.result()
	info.Postprocess = time.Since(postStart)
	metrics.TileRenderDuration.WithLabelValues("postprocess").Observe(info.Postprocess.Seconds())

	return result, info, nil
}

// RenderPoint reads the values under a point from every located asset,
// tolerating assets whose actual data footprint misses the point and
// dropping assets that fail to read.
func (c *Compositor) RenderPoint(ctx context.Context, refs []models.AssetRef, lon, lat float64, assetName string) ([]PointValue, error) {
	var out []PointValue
	for _, ref := range refs {
		asset, ok := ref.Assets[assetName]
		if !ok {
			return nil, fmt.Errorf("%w: item %s has no asset %q",
				raster.ErrInvalidAssetName, ref.ID, assetName)
		}
		values, err := c.reader.ReadPoint(ctx, asset.Href, lon, lat)
		if err != nil {
			if !errors.Is(err, raster.ErrPointOutsideBounds) {
				logging.Ctx(ctx).Warn().Err(err).
					Str("asset", asset.Href).
					Msg("Skipping unreadable asset")
			}
			continue
		}
		out = append(out, PointValue{ItemID: ref.ID, Collection: ref.Collection, Values: values})
	}
	if len(out) == 0 {
		return nil, locator.ErrNoAssetFound
	}
	return out, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
