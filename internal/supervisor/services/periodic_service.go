// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package services

import (
	"context"
	"time"

	"github.com/tomtom215/mosaicus/internal/logging"
)

// PeriodicService runs a function on a fixed interval under supervision.
// Used for background maintenance such as warming item counts on registered
// searches. A failing run is logged but does not crash the service; the
// supervisor only restarts it if Serve itself returns.
type PeriodicService struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// NewPeriodicService creates a periodic service. The first run happens one
// interval after start, not immediately.
func NewPeriodicService(name string, interval time.Duration, run func(ctx context.Context) error) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, run: run}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.run(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("service", p.name).Msg("Periodic run failed")
			}
		}
	}
}

// String identifies the service in supervision logs.
func (p *PeriodicService) String() string {
	return p.name
}
