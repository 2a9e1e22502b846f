// Package geometry describes the physical layout of a NOR flash chip and
// validates what a chip reports about itself against what the rest of the
// code was configured to expect.
package geometry

import (
	"fmt"

	"github.com/dargueta/norblock"
	"github.com/hashicorp/go-multierror"
)

// EraseUnit selects how much of the chip a single erase command clears.
type EraseUnit int

const (
	// Subsector is the smallest erase unit, typically 4 KiB.
	Subsector EraseUnit = iota
	// Sector is the large erase unit, typically 64 KiB.
	Sector
	// Chip erases the entire device.
	Chip
)

func (u EraseUnit) String() string {
	switch u {
	case Subsector:
		return "subsector"
	case Sector:
		return "sector"
	case Chip:
		return "chip"
	default:
		return fmt.Sprintf("EraseUnit(%d)", int(u))
	}
}

// Descriptor is a static description of a chip's capacity and its page and
// erase-unit sizes. Treat it as immutable once [Descriptor.Validate] passes;
// it's passed around by value for that reason.
type Descriptor struct {
	Name string
	Slug string

	// TotalSize is the capacity of the chip, in bytes.
	TotalSize uint32
	// PageSize is the largest amount of data a single program command can
	// write. Programs never cross a page boundary.
	PageSize uint32
	// SectorSize is the size of the large erase unit.
	SectorSize uint32
	// SubsectorSize is the size of the small erase unit, the smallest region
	// that can be erased atomically.
	SubsectorSize uint32

	PageCount      uint32
	SectorCount    uint32
	SubsectorCount uint32
}

// New creates a Descriptor from the chip size and unit sizes, deriving the
// counts. The result still needs to be validated.
func New(totalSize, pageSize, sectorSize, subsectorSize uint32) Descriptor {
	d := Descriptor{
		TotalSize:     totalSize,
		PageSize:      pageSize,
		SectorSize:    sectorSize,
		SubsectorSize: subsectorSize,
	}
	if pageSize != 0 {
		d.PageCount = totalSize / pageSize
	}
	if sectorSize != 0 {
		d.SectorCount = totalSize / sectorSize
	}
	if subsectorSize != 0 {
		d.SubsectorCount = totalSize / subsectorSize
	}
	return d
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// Validate checks the descriptor for internal consistency. Every size must be
// a non-zero power of two, pages must fit in subsectors and subsectors in
// sectors, and each unit size multiplied by its count must equal the total
// size exactly.
//
// This does no I/O, so it's safe to call before the chip is touched.
func (d Descriptor) Validate() error {
	if d.TotalSize == 0 {
		return norblock.ErrInvalidArgument.WithMessage("flash size can't be 0")
	}

	sizes := []struct {
		name  string
		size  uint32
		count uint32
	}{
		{"page", d.PageSize, d.PageCount},
		{"sector", d.SectorSize, d.SectorCount},
		{"subsector", d.SubsectorSize, d.SubsectorCount},
	}

	for _, s := range sizes {
		if !isPowerOfTwo(s.size) {
			return norblock.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("%s size must be a non-zero power of 2, got %d", s.name, s.size))
		}
		// Multiply in 64 bits so a bogus count can't wrap around and look
		// correct.
		if uint64(s.size)*uint64(s.count) != uint64(d.TotalSize) {
			return norblock.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"%s size * %s count != flash size: %d * %d != %d",
					s.name,
					s.name,
					s.size,
					s.count,
					d.TotalSize))
		}
	}

	if d.PageSize > d.SubsectorSize {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"page size (%d) is larger than the subsector size (%d)",
				d.PageSize,
				d.SubsectorSize))
	}
	if d.SubsectorSize > d.SectorSize {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"subsector size (%d) is larger than the sector size (%d)",
				d.SubsectorSize,
				d.SectorSize))
	}
	return nil
}

// Match compares the geometry a chip reports against the expected geometry.
// Any disagreement is fatal: every address computation downstream assumes the
// expected geometry holds, so there's no partial acceptance. The returned
// error lists every field that differs and matches [norblock.ErrGeometryMismatch].
func Match(expected, reported Descriptor) error {
	fields := []struct {
		name     string
		expected uint32
		reported uint32
	}{
		{"flash size", expected.TotalSize, reported.TotalSize},
		{"sector size", expected.SectorSize, reported.SectorSize},
		{"sector count", expected.SectorCount, reported.SectorCount},
		{"subsector size", expected.SubsectorSize, reported.SubsectorSize},
		{"subsector count", expected.SubsectorCount, reported.SubsectorCount},
		{"page size", expected.PageSize, reported.PageSize},
		{"page count", expected.PageCount, reported.PageCount},
	}

	var mismatches error
	for _, f := range fields {
		if f.expected != f.reported {
			mismatches = multierror.Append(
				mismatches,
				fmt.Errorf("%s: expected %d, chip reports %d", f.name, f.expected, f.reported))
		}
	}

	if mismatches != nil {
		return norblock.ErrGeometryMismatch.Wrap(mismatches)
	}
	return nil
}

// UnitSize returns the number of bytes cleared by one erase command of the
// given unit.
func (d Descriptor) UnitSize(unit EraseUnit) (uint32, error) {
	switch unit {
	case Subsector:
		return d.SubsectorSize, nil
	case Sector:
		return d.SectorSize, nil
	case Chip:
		return d.TotalSize, nil
	default:
		return 0, norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown erase unit %d", int(unit)))
	}
}

// AlignDown returns the start address of the erase unit containing `address`.
// This is the address the chip actually erases from when given an unaligned
// address.
func (d Descriptor) AlignDown(address uint32, unit EraseUnit) (uint32, error) {
	if address >= d.TotalSize {
		return 0, norblock.ErrOutOfRange.WithMessage(
			fmt.Sprintf("address %#x not in [0, %#x)", address, d.TotalSize))
	}

	size, err := d.UnitSize(unit)
	if err != nil {
		return 0, err
	}
	return address - (address % size), nil
}

// SubsectorIndex gives the index of the subsector containing `address`.
func (d Descriptor) SubsectorIndex(address uint32) uint32 {
	return address / d.SubsectorSize
}
