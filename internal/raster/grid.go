// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Grid wire format exchanged with data services: a fixed header followed by
// band-major float64 samples and one mask byte per pixel. All integers are
// big-endian.
//
//	magic   [4]byte  "MGR1"
//	width   uint32
//	height  uint32
//	bands   uint32
//	samples width*height*bands float64
//	mask    width*height bytes (0 = nodata)
var gridMagic = [4]byte{'M', 'G', 'R', '1'}

// maxGridPixels bounds decode allocations against hostile payloads.
const maxGridPixels = 16384 * 16384

// EncodeGrid serializes a buffer into the grid wire format.
func EncodeGrid(w io.Writer, b *Buffer) error {
	if _, err := w.Write(gridMagic[:]); err != nil {
		return fmt.Errorf("failed to write grid header: %w", err)
	}
	header := []uint32{uint32(b.Width), uint32(b.Height), uint32(b.Bands)}
	for _, v := range header {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("failed to write grid header: %w", err)
		}
	}
	if err := binary.Write(w, binary.BigEndian, b.Data); err != nil {
		return fmt.Errorf("failed to write grid samples: %w", err)
	}
	mask := make([]byte, len(b.Mask))
	for i, valid := range b.Mask {
		if valid {
			mask[i] = 1
		}
	}
	if _, err := w.Write(mask); err != nil {
		return fmt.Errorf("failed to write grid mask: %w", err)
	}
	return nil
}

// DecodeGrid parses a grid payload into a buffer.
func DecodeGrid(r io.Reader) (*Buffer, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read grid header: %w", err)
	}
	if !bytes.Equal(magic[:], gridMagic[:]) {
		return nil, fmt.Errorf("not a grid payload (magic %q)", magic)
	}

	var width, height, bands uint32
	for _, dst := range []*uint32{&width, &height, &bands} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("failed to read grid header: %w", err)
		}
	}
	if width == 0 || height == 0 || bands == 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%dx%d", width, height, bands)
	}
	if uint64(width)*uint64(height) > maxGridPixels || bands > 64 {
		return nil, fmt.Errorf("grid dimensions %dx%dx%d exceed limits", width, height, bands)
	}

	b := NewBuffer(int(width), int(height), int(bands))
	if err := binary.Read(r, binary.BigEndian, b.Data); err != nil {
		return nil, fmt.Errorf("failed to read grid samples: %w", err)
	}
	mask := make([]byte, width*height)
	if _, err := io.ReadFull(r, mask); err != nil {
		return nil, fmt.Errorf("failed to read grid mask: %w", err)
	}
	for i, m := range mask {
		b.Mask[i] = m != 0
	}

	// NaN samples are nodata regardless of what the mask says.
	for band := 0; band < b.Bands; band++ {
		for i := 0; i < b.Width*b.Height; i++ {
			if math.IsNaN(b.Data[band*b.Width*b.Height+i]) {
				b.Mask[i] = false
			}
		}
	}
	return b, nil
}
