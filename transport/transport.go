// Package transport defines the contract between the flash core and the
// low-level driver that actually talks to the chip over SPI or OPI. The core
// never issues bus transactions itself; it only calls into a [Driver].
package transport

import (
	"fmt"
	"io"
	"strings"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
)

// InterfaceMode is the bus width the driver uses to talk to the chip.
type InterfaceMode int

const (
	// SPI is single-line SPI.
	SPI InterfaceMode = iota
	// OPI is eight-line octal SPI.
	OPI
)

func (m InterfaceMode) String() string {
	switch m {
	case SPI:
		return "SPI"
	case OPI:
		return "OPI"
	default:
		return fmt.Sprintf("InterfaceMode(%d)", int(m))
	}
}

// TransferRate selects whether data is clocked on one or both clock edges.
type TransferRate int

const (
	// STR is single transfer rate.
	STR TransferRate = iota
	// DTR is double transfer rate.
	DTR
)

func (r TransferRate) String() string {
	switch r {
	case STR:
		return "STR"
	case DTR:
		return "DTR"
	default:
		return fmt.Sprintf("TransferRate(%d)", int(r))
	}
}

// TransferConfig is selected once per session before [Driver.Init] and doesn't
// change until [Driver.DeInit].
type TransferConfig struct {
	Interface InterfaceMode
	Rate      TransferRate
}

// The three supported bus configurations.
var (
	ModeSPI    = TransferConfig{Interface: SPI, Rate: STR}
	ModeOPISTR = TransferConfig{Interface: OPI, Rate: STR}
	ModeOPIDTR = TransferConfig{Interface: OPI, Rate: DTR}
)

// Modes lists every valid configuration, in the order a test harness would
// normally exercise them.
var Modes = []TransferConfig{ModeSPI, ModeOPISTR, ModeOPIDTR}

// Validate rejects combinations the chips don't support. Double transfer rate
// is only available in octal mode.
func (c TransferConfig) Validate() error {
	switch c {
	case ModeSPI, ModeOPISTR, ModeOPIDTR:
		return nil
	}
	return norblock.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("unsupported transfer configuration %s", c))
}

// String returns the canonical name of the configuration as accepted by
// [ParseTransferConfig].
func (c TransferConfig) String() string {
	switch c {
	case ModeSPI:
		return "spi"
	case ModeOPISTR:
		return "opi-str"
	case ModeOPIDTR:
		return "opi-dtr"
	}
	return fmt.Sprintf("%s/%s", c.Interface, c.Rate)
}

// ParseTransferConfig converts a name such as "opi-dtr" into a configuration.
// Matching is case-insensitive.
func ParseTransferConfig(name string) (TransferConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spi", "spi-str":
		return ModeSPI, nil
	case "opi-str":
		return ModeOPISTR, nil
	case "opi-dtr":
		return ModeOPIDTR, nil
	}
	return TransferConfig{}, norblock.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("unknown transfer mode %q; expected spi, opi-str, or opi-dtr", name))
}

// ChipID is the JEDEC manufacturer and device identification.
type ChipID [3]byte

func (id ChipID) String() string {
	return fmt.Sprintf("%02x%02x%02x", id[0], id[1], id[2])
}

// Driver is the low-level flash transport. Implementations issue raw commands
// to the physical chip and report what the chip says; they don't track erase
// state or enforce alignment beyond what the chip itself rejects.
//
// Addresses are byte offsets from the start of the chip.
type Driver interface {
	Init(config TransferConfig) error
	DeInit() error

	// Info returns the geometry the chip reports about itself.
	Info() (geometry.Descriptor, error)
	ReadID() (ChipID, error)

	Read(address uint32, buffer []byte) error
	// Write programs `data` starting at `address`. The driver splits the data
	// at page boundaries as needed and returns once programming completes.
	Write(address uint32, data []byte) error

	// EraseBlock starts erasing the unit containing `address`. It returns as
	// soon as the chip accepts the command; completion is observed through
	// Status.
	EraseBlock(address uint32, unit geometry.EraseUnit) error
	SuspendErase() error
	ResumeErase() error

	// Status polls the chip without blocking. StatusOK means the last
	// operation finished, StatusBusy means it's still running, and
	// StatusComponentFailure means the chip reported that it failed. Drivers
	// may return other codes.
	Status() Status

	EnableMemoryMapped() error
	DisableMemoryMapped() error
	// MappedWindow returns the memory-mapped view of the chip. Offset 0 of the
	// window is the first byte of the chip. Reading it is only meaningful while
	// memory-mapped mode is enabled.
	MappedWindow() io.ReadSeeker
}
