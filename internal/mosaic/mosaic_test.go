// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package mosaic

import (
	"bytes"
	"context"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/locator"
	"github.com/tomtom215/mosaicus/internal/models"
	"github.com/tomtom215/mosaicus/internal/raster"
)

// partialBuffer returns a 2x2 single-band buffer with the given values;
// NaN-free, validity passed explicitly per pixel.
func partialBuffer(values [4]float64, valid [4]bool) *raster.Buffer {
	b := raster.NewBuffer(2, 2, 1)
	for i := 0; i < 4; i++ {
		b.Data[i] = values[i]
		b.Mask[i] = valid[i]
	}
	return b
}

func TestParseSelection(t *testing.T) {
	for input, want := range map[string]Selection{
		"": First, "first": First, "highest": Highest,
		"lowest": Lowest, "mean": Mean, "median": Median,
	} {
		got, err := ParseSelection(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", input)
	}
	_, err := ParseSelection("brightest")
	assert.Error(t, err)
}

func TestFirstSelection(t *testing.T) {
	acc := newAccumulator(First, 2, 2, 1)

	// First asset covers the left column only.
	require.NoError(t, acc.add(partialBuffer(
		[4]float64{1, 0, 1, 0}, [4]bool{true, false, true, false})))
	assert.False(t, acc.done())

	// Second asset covers everything; only the gaps take its values.
	require.NoError(t, acc.add(partialBuffer(
		[4]float64{9, 9, 9, 9}, [4]bool{true, true, true, true})))
	assert.True(t, acc.done(), "fully covered tile short-circuits")

	got := acc.result()
	assert.Equal(t, 1.0, got.At(0, 0, 0), "first asset wins where it has data")
	assert.Equal(t, 9.0, got.At(0, 1, 0), "second asset fills the gap")
	assert.True(t, got.AllValid())
}

func TestHighestLowestSelection(t *testing.T) {
	a := partialBuffer([4]float64{1, 5, 3, 0}, [4]bool{true, true, true, false})
	b := partialBuffer([4]float64{4, 2, 3, 8}, [4]bool{true, true, true, true})

	acc := newAccumulator(Highest, 2, 2, 1)
	require.NoError(t, acc.add(a))
	require.NoError(t, acc.add(b))
	got := acc.result()
	assert.Equal(t, 4.0, got.At(0, 0, 0))
	assert.Equal(t, 5.0, got.At(0, 1, 0))
	assert.Equal(t, 8.0, got.At(0, 1, 1), "single contributor passes through")

	acc = newAccumulator(Lowest, 2, 2, 1)
	require.NoError(t, acc.add(a))
	require.NoError(t, acc.add(b))
	got = acc.result()
	assert.Equal(t, 1.0, got.At(0, 0, 0))
	assert.Equal(t, 2.0, got.At(0, 1, 0))
}

func TestMeanMedianSelection(t *testing.T) {
	inputs := []*raster.Buffer{
		partialBuffer([4]float64{1, 10, 0, 0}, [4]bool{true, true, false, false}),
		partialBuffer([4]float64{2, 20, 0, 0}, [4]bool{true, true, false, false}),
		partialBuffer([4]float64{6, 30, 0, 0}, [4]bool{true, true, false, false}),
	}

	acc := newAccumulator(Mean, 2, 2, 1)
	for _, in := range inputs {
		require.NoError(t, acc.add(in))
	}
	got := acc.result()
	assert.InDelta(t, 3.0, got.At(0, 0, 0), 1e-9)
	assert.InDelta(t, 20.0, got.At(0, 1, 0), 1e-9)
	assert.False(t, got.Valid(0, 1), "pixels no asset covers stay invalid")

	acc = newAccumulator(Median, 2, 2, 1)
	for _, in := range inputs {
		require.NoError(t, acc.add(in))
	}
	got = acc.result()
	assert.Equal(t, 2.0, got.At(0, 0, 0))
	assert.Equal(t, 20.0, got.At(0, 1, 0))

	// Even count takes the midpoint.
	acc = newAccumulator(Median, 2, 2, 1)
	require.NoError(t, acc.add(inputs[0]))
	require.NoError(t, acc.add(inputs[2]))
	assert.InDelta(t, 3.5, acc.result().At(0, 0, 0), 1e-9)
}

func TestShapeMismatchRejected(t *testing.T) {
	for _, sel := range []Selection{First, Highest, Mean, Median} {
		acc := newAccumulator(sel, 2, 2, 1)
		err := acc.add(raster.NewBuffer(4, 4, 1))
		assert.Error(t, err, "selection %s", sel)
	}
}

// countingReader wraps a MemoryReader and counts window reads.
type countingReader struct {
	*raster.MemoryReader
	reads atomic.Int64
}

func (c *countingReader) ReadWindow(ctx context.Context, href string, w raster.Window) (*raster.Buffer, error) {
	c.reads.Add(1)
	return c.MemoryReader.ReadWindow(ctx, href, w)
}

func worldAsset(value float64) *raster.Buffer {
	b := raster.NewBuffer(8, 8, 1)
	for i := range b.Data {
		b.Data[i] = value
	}
	for i := range b.Mask {
		b.Mask[i] = true
	}
	return b
}

func assetRef(id, href string) models.AssetRef {
	return models.AssetRef{
		ID:         id,
		Collection: "sentinel-2",
		Bounds:     [4]float64{-180, -90, 180, 90},
		Assets:     map[string]models.Asset{"cog": {Href: href}},
	}
}

func TestRenderTileFirstShortCircuits(t *testing.T) {
	reader := &countingReader{MemoryReader: raster.NewMemoryReader()}
	world := [4]float64{-180, -85, 180, 85}
	reader.AddAsset("mem://a", world, worldAsset(1))
	reader.AddAsset("mem://b", world, worldAsset(2))
	reader.AddAsset("mem://c", world, worldAsset(3))

	// Concurrency 1 makes reads strictly sequential, so covering the tile
	// with the first asset must stop before b and c are ever fetched.
	c := NewCompositor(reader, 1)
	refs := []models.AssetRef{
		assetRef("a", "mem://a"), assetRef("b", "mem://b"), assetRef("c", "mem://c"),
	}

	buf, info, err := c.RenderTile(context.Background(), refs, 2, 1, 1, TileOptions{
		AssetName: "cog", TileSize: 16,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, buf.At(0, 8, 8))
	assert.Equal(t, []string{"a"}, info.AssetsUsed)
	assert.Equal(t, int64(1), reader.reads.Load(), "covered tile stops further reads")
}

func TestRenderTilePriorityOrder(t *testing.T) {
	reader := raster.NewMemoryReader()
	// a covers the west half, b covers the world.
	reader.AddAsset("mem://a", [4]float64{-180, -85, 0, 85}, worldAsset(1))
	reader.AddAsset("mem://b", [4]float64{-180, -85, 180, 85}, worldAsset(2))

	c := NewCompositor(reader, 4)
	refs := []models.AssetRef{assetRef("a", "mem://a"), assetRef("b", "mem://b")}

	// Zoom 1 tile row spanning both halves.
	buf, info, err := c.RenderTile(context.Background(), refs, 0, 0, 0, TileOptions{
		AssetName: "cog", TileSize: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, info.AssetsUsed)
	assert.Equal(t, 1.0, buf.At(0, 1, 4), "west pixels come from the first asset")
	assert.Equal(t, 2.0, buf.At(0, 6, 4), "east pixels fall through to the second")

	// Reverse flips the priority.
	buf, _, err = c.RenderTile(context.Background(), refs, 0, 0, 0, TileOptions{
		AssetName: "cog", TileSize: 8, Reverse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, buf.At(0, 1, 4))
}

func TestRenderTileErrors(t *testing.T) {
	c := NewCompositor(raster.NewMemoryReader(), 2)

	_, _, err := c.RenderTile(context.Background(), nil, 0, 0, 0, TileOptions{AssetName: "cog", TileSize: 8})
	assert.ErrorIs(t, err, locator.ErrNoAssetFound)

	refs := []models.AssetRef{assetRef("a", "mem://a")}
	_, _, err = c.RenderTile(context.Background(), refs, 0, 0, 0, TileOptions{AssetName: "visual", TileSize: 8})
	assert.ErrorIs(t, err, raster.ErrInvalidAssetName)

	// The only ref is unreadable, so nothing contributes.
	_, _, err = c.RenderTile(context.Background(), refs, 0, 0, 0, TileOptions{AssetName: "cog", TileSize: 8})
	assert.ErrorIs(t, err, locator.ErrNoAssetFound)
}

func TestRenderTileSkipsUnreadableAssets(t *testing.T) {
	reader := raster.NewMemoryReader()
	// mem://a is never registered, so reading it fails.
	reader.AddAsset("mem://b", [4]float64{-180, -85, 180, 85}, worldAsset(2))

	c := NewCompositor(reader, 2)
	refs := []models.AssetRef{assetRef("a", "mem://a"), assetRef("b", "mem://b")}

	buf, info, err := c.RenderTile(context.Background(), refs, 0, 0, 0, TileOptions{
		AssetName: "cog", TileSize: 8,
	})
	require.NoError(t, err, "a failed read must not abort the tile")
	assert.Equal(t, []string{"b"}, info.AssetsUsed)
	assert.Equal(t, 2.0, buf.At(0, 4, 4))
}

func TestRenderPointSkipsUnreadableAssets(t *testing.T) {
	reader := raster.NewMemoryReader()
	reader.AddAsset("mem://b", [4]float64{0, 0, 10, 10}, worldAsset(7))

	c := NewCompositor(reader, 2)
	refs := []models.AssetRef{assetRef("a", "mem://a"), assetRef("b", "mem://b")}

	values, err := c.RenderPoint(context.Background(), refs, 5, 5, "cog")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "b", values[0].ItemID)
}

func TestRenderPoint(t *testing.T) {
	reader := raster.NewMemoryReader()
	reader.AddAsset("mem://a", [4]float64{0, 0, 10, 10}, worldAsset(1))
	reader.AddAsset("mem://b", [4]float64{20, 20, 30, 30}, worldAsset(2))

	c := NewCompositor(reader, 2)
	refs := []models.AssetRef{assetRef("a", "mem://a"), assetRef("b", "mem://b")}

	// b's footprint misses the point; it is tolerated, not fatal.
	values, err := c.RenderPoint(context.Background(), refs, 5, 5, "cog")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "a", values[0].ItemID)
	assert.Equal(t, []float64{1}, values[0].Values)

	_, err = c.RenderPoint(context.Background(), refs, -50, -50, "cog")
	assert.ErrorIs(t, err, locator.ErrNoAssetFound)
}

func TestEncodeAutoFormat(t *testing.T) {
	full := worldAsset(128)
	data, format, err := Encode(full, FormatAuto, RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, format, "fully covered tiles become JPEG")
	_, err = jpeg.Decode(bytes.NewReader(data))
	assert.NoError(t, err)

	partial := worldAsset(128)
	partial.SetValid(0, 0, false)
	data, format, err = Encode(partial, FormatAuto, RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format, "tiles with nodata keep alpha via PNG")
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "masked pixel is transparent")
}

func TestEncodeRescaleGamma(t *testing.T) {
	buf := worldAsset(500)
	data, _, err := Encode(buf, FormatPNG, RenderOptions{Rescale: [2]float64{0, 1000}})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, _, _, _ := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(128), r>>8, "500 of [0,1000] maps to mid-gray")

	// Gamma brightens midtones.
	data, _, err = Encode(buf, FormatPNG, RenderOptions{Rescale: [2]float64{0, 1000}, Gamma: 2.2})
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r2, _, _, _ := img.At(3, 3).RGBA()
	assert.Greater(t, r2, r)
}

func TestCalculateTileBoundsSharedWithLocator(t *testing.T) {
	// The compositor and locator must agree on tile windows.
	b := database.CalculateTileBounds(3, 4, 2)
	assert.Less(t, b.MinX, b.MaxX)
	assert.Less(t, b.MinY, b.MaxY)
}
