// Package blockdev adapts an open flash device into a [norblock.BlockDevice]:
// the file system addresses (block, offset) pairs, and the adapter turns them
// into chip addresses and erase commands.
package blockdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
)

// Flash is what the adapter needs from the device underneath it. It's
// satisfied by *device.Device.
type Flash interface {
	Read(address uint32, buffer []byte) error
	Program(address uint32, data []byte) error
	Erase(ctx context.Context, address uint32, unit geometry.EraseUnit) error
	IsBad(address uint32, length uint32) bool
	MappedAddress(address uint32) uint32
	Geometry() geometry.Descriptor
}

// Adapter is the block device the file system sees.
type Adapter struct {
	flash    Flash
	config   Config
	geometry geometry.Descriptor
	warnings []string
	logger   *log.Logger
}

var _ norblock.BlockDevice = (*Adapter)(nil)

// New validates `config` against the flash geometry and creates an adapter. A
// zero BlockCount is replaced by as many blocks as fit on the chip.
func New(flash Flash, config Config, logger *log.Logger) (*Adapter, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	geo := flash.Geometry()
	config = config.Normalize(geo)
	warnings, err := config.Validate(geo)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		logger.Printf("blockdev: warning: %s", warning)
	}

	return &Adapter{
		flash:    flash,
		config:   config,
		geometry: geo,
		warnings: warnings,
		logger:   logger,
	}, nil
}

// Config returns the normalized configuration.
func (a *Adapter) Config() Config {
	return a.config
}

func (a *Adapter) Geometry() geometry.Descriptor {
	return a.geometry
}

// Warnings returns the configuration warnings found when the adapter was
// created. They're also logged.
func (a *Adapter) Warnings() []string {
	return a.warnings
}

// address converts a block-relative range into a chip address.
func (a *Adapter) address(block norblock.Block, offset uint32, length int) (uint32, error) {
	if uint32(block) >= a.config.BlockCount {
		return 0, norblock.ErrOutOfRange.WithMessage(
			fmt.Sprintf("block %d not in [0, %d)", block, a.config.BlockCount))
	}
	if uint64(offset)+uint64(length) > uint64(a.config.BlockSize) {
		return 0, norblock.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"%d bytes at offset %d overflow block %d (block size %d)",
				length,
				offset,
				block,
				a.config.BlockSize))
	}
	return a.config.BlockSize*uint32(block) + offset, nil
}

// Read fills `buffer` starting at `offset` in `block`.
func (a *Adapter) Read(block norblock.Block, offset uint32, buffer []byte) error {
	address, err := a.address(block, offset, len(buffer))
	if err != nil {
		return err
	}
	return a.flash.Read(address, buffer)
}

// Program writes `buffer` starting at `offset` in `block`. The range must have
// been erased since it was last programmed.
func (a *Adapter) Program(block norblock.Block, offset uint32, buffer []byte) error {
	address, err := a.address(block, offset, len(buffer))
	if err != nil {
		return err
	}

	err = a.flash.Program(address, buffer)
	if err == nil {
		return nil
	}
	a.logger.Printf("blockdev: program of block %d failed: %s", block, err)

	// Refusals (busy, bad block, range) pass through untouched.
	if !errors.Is(err, norblock.ErrProgramFailed) {
		return err
	}
	return fmt.Errorf("block %d: %w", block, err)
}

// Erase erases `block` and waits for the chip to finish. See [Adapter.EraseContext].
func (a *Adapter) Erase(block norblock.Block) error {
	return a.EraseContext(context.Background(), block)
}

// EraseContext erases `block`, waiting at most until `ctx` expires or the
// device's erase timeout passes, whichever is first.
//
// Aligned 64 KiB stretches of the block are cleared with sector erases and
// the rest with subsector erases. If the chip fails partway through, the
// erases already done stay done and the device is left with the failed erase
// unacknowledged.
func (a *Adapter) EraseContext(ctx context.Context, block norblock.Block) error {
	start, err := a.address(block, 0, 0)
	if err != nil {
		return err
	}
	end := start + a.config.BlockSize

	if a.flash.IsBad(start, a.config.BlockSize) {
		return norblock.ErrBadBlock.WithMessage(fmt.Sprintf("block %d", block))
	}

	for address := start; address < end; {
		unit := geometry.Subsector
		size := a.geometry.SubsectorSize
		if address%a.geometry.SectorSize == 0 && end-address >= a.geometry.SectorSize {
			unit = geometry.Sector
			size = a.geometry.SectorSize
		}

		err = a.flash.Erase(ctx, address, unit)
		if err != nil {
			a.logger.Printf("blockdev: erase of block %d failed at %#x: %s", block, address, err)
			return err
		}
		address += size
	}
	return nil
}

// Sync does nothing. Programs complete before [Adapter.Program] returns, so
// there's never anything to flush.
func (a *Adapter) Sync() error {
	return nil
}

// MappedAddress gives the bus address where a byte of a block appears while
// memory-mapped mode is on. Out-of-range blocks and offsets are rejected with
// [norblock.ErrOutOfRange].
func (a *Adapter) MappedAddress(block norblock.Block, offset uint32) (uint32, error) {
	address, err := a.address(block, offset, 1)
	if err != nil {
		return 0, err
	}
	return a.flash.MappedAddress(address), nil
}
