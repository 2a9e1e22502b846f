package config

import (
	"fmt"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/mmap"
	"github.com/dargueta/norblock/transport"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	slug := cfg.Device.Geometry
	if slug == "" {
		slug = DefaultGeometry
	}
	geo, err := geometry.Predefined(slug)
	if err != nil {
		return err
	}

	if cfg.Device.Mode != "" {
		_, err = transport.ParseTransferConfig(cfg.Device.Mode)
		if err != nil {
			return err
		}
	}

	base := cfg.Device.BaseAddress
	if base == 0 {
		base = mmap.DefaultBase
	}
	err = mmap.CheckWindow(base, geo.TotalSize)
	if err != nil {
		return err
	}

	// ------------------------------------------------------------
	// POLL POLICY
	// ------------------------------------------------------------

	if cfg.Device.EraseTimeoutMs < 0 {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("erase_timeout_ms can't be negative, got %d", cfg.Device.EraseTimeoutMs))
	}
	if cfg.Device.PollInitialUs < 0 || cfg.Device.PollMaxUs < 0 {
		return norblock.ErrInvalidArgument.WithMessage("poll intervals can't be negative")
	}
	if cfg.Device.PollMaxUs != 0 && cfg.Device.PollMaxUs < cfg.Device.PollInitialUs {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"poll_max_us (%d) is less than poll_initial_us (%d)",
				cfg.Device.PollMaxUs,
				cfg.Device.PollInitialUs))
	}

	// ------------------------------------------------------------
	// FILE SYSTEM LAYOUT
	// ------------------------------------------------------------

	// Empty fields get defaults, so check what the layout will be once they're
	// filled in. `normalized` is a copy; cfg itself is left alone.
	normalized := normalizeFileSystem(cfg.FileSystem, geo)
	_, err = normalized.Validate(geo)
	return err
}
