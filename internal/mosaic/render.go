// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package mosaic

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"time"

	"github.com/tomtom215/mosaicus/internal/metrics"
	"github.com/tomtom215/mosaicus/internal/raster"
)

// Format is a tile image output format.
type Format string

const (
	// FormatAuto picks JPEG when the tile is fully opaque, PNG otherwise.
	FormatAuto Format = ""
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
)

// ParseFormat maps a path extension onto a Format.
func ParseFormat(ext string) (Format, error) {
	switch ext {
	case "":
		return FormatAuto, nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return FormatAuto, fmt.Errorf("unsupported tile format %q", ext)
}

// ContentType returns the MIME type for a resolved format.
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// RenderOptions control the buffer-to-image conversion.
type RenderOptions struct {
	// Rescale maps [Min, Max] onto the 0-255 output range. Zero value means
	// the data is already 0-255.
	Rescale [2]float64
	// Gamma applies a power-law correction after rescale. 0 or 1 = none.
	Gamma float64
	// Quality is the JPEG quality (1-100). 0 = the encoder default.
	Quality int
}

// Encode converts a merged buffer into an encoded tile image. With FormatAuto
// the format is deduced from the mask: a fully covered tile needs no alpha
// channel and compresses better as JPEG.
func Encode(buf *raster.Buffer, format Format, opts RenderOptions) ([]byte, Format, error) {
	start := time.Now()

	if format == FormatAuto {
		if buf.AllValid() {
			format = FormatJPEG
		} else {
			format = FormatPNG
		}
	}

	img := toImage(buf, opts)

	var out bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = jpeg.DefaultQuality
		}
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: quality})
	default:
		err = png.Encode(&out, img)
	}
	if err != nil {
		return nil, format, fmt.Errorf("failed to encode %s tile: %w", format, err)
	}

	metrics.TileRenderDuration.WithLabelValues("format").Observe(time.Since(start).Seconds())
	metrics.TilesRendered.WithLabelValues(string(format)).Inc()
	return out.Bytes(), format, nil
}

// toImage renders the first three bands (or a single band as grayscale) into
// an NRGBA image, with the mask as the alpha channel.
func toImage(buf *raster.Buffer, opts RenderOptions) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			if !buf.Valid(x, y) {
				continue
			}
			var r, g, b uint8
			if buf.Bands >= 3 {
				r = scaleSample(buf.At(0, x, y), opts)
				g = scaleSample(buf.At(1, x, y), opts)
				b = scaleSample(buf.At(2, x, y), opts)
			} else {
				v := scaleSample(buf.At(0, x, y), opts)
				r, g, b = v, v, v
			}
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// scaleSample applies rescale and gamma, clamping into [0, 255].
func scaleSample(v float64, opts RenderOptions) uint8 {
	if opts.Rescale[1] > opts.Rescale[0] {
		v = (v - opts.Rescale[0]) / (opts.Rescale[1] - opts.Rescale[0]) * 255
	}
	if opts.Gamma > 0 && opts.Gamma != 1 {
		v = math.Pow(v/255, 1/opts.Gamma) * 255
	}
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(math.Round(v))
}
