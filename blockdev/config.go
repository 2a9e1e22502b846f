package blockdev

import (
	"fmt"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
	"github.com/hashicorp/go-multierror"
)

// Config is the file system's mount-time view of the device. Sizes are in
// bytes.
type Config struct {
	// BlockSize is the file system's erase block. It must be a multiple of the
	// chip's subsector size, and should be equal to it.
	BlockSize uint32 `yaml:"block_size"`
	// ReadSize is the minimum read granularity.
	ReadSize uint32 `yaml:"read_size"`
	// ProgSize is the minimum program granularity.
	ProgSize uint32 `yaml:"prog_size"`
	// BlockCount is the number of blocks the file system may use, starting at
	// the beginning of the chip. Zero means the whole chip.
	BlockCount uint32 `yaml:"block_count"`
	// CacheSize is the size of each of the file system's block caches.
	CacheSize uint32 `yaml:"cache_size"`
	// LookaheadSize is the size of the allocator's lookahead buffer. It must be
	// a multiple of 8.
	LookaheadSize uint32 `yaml:"lookahead_size"`
	// BlockCycles is the number of erase cycles before the file system moves
	// metadata to another block. -1 disables wear leveling.
	BlockCycles int32 `yaml:"block_cycles"`
}

// DefaultConfig returns the configuration that wastes the least for `geo`:
// one block per subsector over the whole chip, page-sized I/O.
func DefaultConfig(geo geometry.Descriptor) Config {
	return Config{
		BlockSize:     geo.SubsectorSize,
		ReadSize:      geo.PageSize,
		ProgSize:      geo.PageSize,
		BlockCount:    geo.SubsectorCount,
		CacheSize:     geo.PageSize,
		LookaheadSize: geo.PageSize,
		BlockCycles:   500,
	}
}

func divides(divisor, n uint32) bool {
	return divisor != 0 && n%divisor == 0
}

// Validate checks the configuration against the chip geometry without
// changing anything. Every problem found is reported, not just the first.
//
// A BlockSize that's a multiple of the subsector size but not equal to it is
// legal; it only costs erase amplification. That's returned as a warning, not
// an error.
func (c Config) Validate(geo geometry.Descriptor) (warnings []string, err error) {
	var problems error
	fail := func(format string, args ...any) {
		problems = multierror.Append(problems, fmt.Errorf(format, args...))
	}

	if c.ReadSize == 0 {
		fail("read size can't be 0")
	}
	if c.ProgSize == 0 {
		fail("program size can't be 0")
	}
	if c.BlockSize == 0 {
		fail("block size can't be 0")
	} else {
		if !divides(geo.SubsectorSize, c.BlockSize) {
			fail(
				"block size %d isn't a multiple of the subsector size %d; erasing a block would destroy its neighbors",
				c.BlockSize,
				geo.SubsectorSize)
		} else if c.BlockSize != geo.SubsectorSize {
			warnings = append(
				warnings,
				fmt.Sprintf(
					"block size %d is larger than the smallest erase unit (%d); every erase will clear %d subsectors",
					c.BlockSize,
					geo.SubsectorSize,
					c.BlockSize/geo.SubsectorSize))
		}
		if c.ReadSize != 0 && !divides(c.ReadSize, c.BlockSize) {
			fail("block size %d isn't a multiple of the read size %d", c.BlockSize, c.ReadSize)
		}
		if c.ProgSize != 0 && !divides(c.ProgSize, c.BlockSize) {
			fail("block size %d isn't a multiple of the program size %d", c.BlockSize, c.ProgSize)
		}
		if uint64(c.BlockSize)*uint64(c.BlockCount) > uint64(geo.TotalSize) {
			fail(
				"%d blocks of %d bytes don't fit on a %d-byte chip",
				c.BlockCount,
				c.BlockSize,
				geo.TotalSize)
		}
		if c.CacheSize != 0 && !divides(c.CacheSize, c.BlockSize) {
			fail("block size %d isn't a multiple of the cache size %d", c.BlockSize, c.CacheSize)
		}
	}

	if c.CacheSize == 0 {
		fail("cache size can't be 0")
	} else {
		if c.ReadSize != 0 && !divides(c.ReadSize, c.CacheSize) {
			fail("cache size %d isn't a multiple of the read size %d", c.CacheSize, c.ReadSize)
		}
		if c.ProgSize != 0 && !divides(c.ProgSize, c.CacheSize) {
			fail("cache size %d isn't a multiple of the program size %d", c.CacheSize, c.ProgSize)
		}
	}

	if !divides(8, c.LookaheadSize) {
		fail("lookahead size must be a non-zero multiple of 8, got %d", c.LookaheadSize)
	}
	if c.BlockCycles == 0 || c.BlockCycles < -1 {
		fail("block cycles must be positive or -1, got %d", c.BlockCycles)
	}

	if problems != nil {
		return warnings, norblock.ErrInvalidArgument.Wrap(problems)
	}
	return warnings, nil
}

// Normalize fills in a zero BlockCount from the geometry.
func (c Config) Normalize(geo geometry.Descriptor) Config {
	if c.BlockCount == 0 && c.BlockSize != 0 {
		c.BlockCount = geo.TotalSize / c.BlockSize
	}
	return c
}
