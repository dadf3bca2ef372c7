// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestCtxEnrichesWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Timestamp: false, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	// Ctx must return a logger usable directly in a call chain.
	ctx := ContextWithRequestID(context.Background(), "req-42")
	Ctx(ctx).Info().Str("searchid", "abc").Msg("tile served")

	require.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"searchid":"abc"`)

	buf.Reset()
	Ctx(context.Background()).Info().Msg("no request")
	assert.NotContains(t, buf.String(), "request_id")
}
