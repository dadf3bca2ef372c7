// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

// Package models defines the shared data structures exchanged between the
// registry, locator, compositor, and the HTTP layer: the API response
// envelope, registered searches, asset references, and TileJSON documents.
package models
