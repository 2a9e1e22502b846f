package config

import (
	"github.com/dargueta/norblock/blockdev"
	"github.com/dargueta/norblock/erase"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/mmap"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device.Geometry == "" {
		cfg.Device.Geometry = DefaultGeometry
	}
	if cfg.Device.Mode == "" {
		cfg.Device.Mode = DefaultMode
	}
	if cfg.Device.BaseAddress == 0 {
		cfg.Device.BaseAddress = mmap.DefaultBase
	}

	policy := erase.DefaultPolicy
	if cfg.Device.EraseTimeoutMs == 0 {
		cfg.Device.EraseTimeoutMs = int(policy.Timeout.Milliseconds())
	}
	if cfg.Device.PollInitialUs == 0 {
		cfg.Device.PollInitialUs = int(policy.InitialBackoff.Microseconds())
	}
	if cfg.Device.PollMaxUs == 0 {
		cfg.Device.PollMaxUs = int(policy.MaxBackoff.Microseconds())
	}

	geo, err := geometry.Predefined(cfg.Device.Geometry)
	if err != nil {
		// Validate would have caught this.
		return
	}
	cfg.FileSystem = normalizeFileSystem(cfg.FileSystem, geo)
}

// normalizeFileSystem fills every zero field from the default layout for the
// chip.
func normalizeFileSystem(fs blockdev.Config, geo geometry.Descriptor) blockdev.Config {
	defaults := blockdev.DefaultConfig(geo)

	if fs.BlockSize == 0 {
		fs.BlockSize = defaults.BlockSize
	}
	if fs.ReadSize == 0 {
		fs.ReadSize = defaults.ReadSize
	}
	if fs.ProgSize == 0 {
		fs.ProgSize = defaults.ProgSize
	}
	if fs.CacheSize == 0 {
		fs.CacheSize = defaults.CacheSize
	}
	if fs.LookaheadSize == 0 {
		fs.LookaheadSize = defaults.LookaheadSize
	}
	if fs.BlockCycles == 0 {
		fs.BlockCycles = defaults.BlockCycles
	}
	return fs.Normalize(geo)
}
