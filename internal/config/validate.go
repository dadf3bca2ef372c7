// Mosaicus - Virtual Mosaic Registry and Tile Compositing Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mosaicus

package config

import (
	"fmt"

	"github.com/tomtom215/mosaicus/internal/validation"
)

// validateStruct runs tag-based validation over the whole Config tree.
func validateStruct(c *Config) error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("invalid configuration: %s", verr.Error())
	}
	return nil
}
