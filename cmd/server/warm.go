// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package main

import (
	"context"

	"github.com/tomtom215/mosaicus/internal/database"
	"github.com/tomtom215/mosaicus/internal/search"
)

// warmBatchSize bounds how many searches one warming pass will touch.
const warmBatchSize = 50

// warmSearchCounts computes item counts for recently used searches that do
// not have them yet. EnsureCounts is a no-op for searches already counted,
// so repeated passes only pay for new registrations.
func warmSearchCounts(ctx context.Context, registry *search.Registry) error {
	searches, _, err := registry.List(ctx, database.ListOptions{
		Limit:  warmBatchSize,
		SortBy: "lastused",
		Desc:   true,
	})
	if err != nil {
		return err
	}
	for _, s := range searches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := registry.EnsureCounts(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
