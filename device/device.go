// Package device owns everything known about one open flash chip: its
// geometry, the erase in flight, whether it's memory-mapped, and which
// subsectors have been retired. All flash operations go through a [Device].
package device

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/erase"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/mmap"
	"github.com/dargueta/norblock/transport"
)

// Options controls how [Open] brings up the chip.
type Options struct {
	// Expected is the geometry every address computation relies on. The chip
	// must report exactly this geometry or Open fails.
	Expected geometry.Descriptor
	// Mode is the bus configuration for this session.
	Mode transport.TransferConfig
	// MapBase is the bus address of the memory-mapped window. Zero means
	// [mmap.DefaultBase].
	MapBase uint32
	// Policy bounds how long erase waits poll for. Zero fields are filled in
	// from [erase.DefaultPolicy].
	Policy erase.Policy
	// BadBlocks restores a bad subsector map saved with [Device.BadBlockMap].
	// Optional.
	BadBlocks []byte
	// Logger defaults to discarding everything.
	Logger *log.Logger
}

// Device is an open flash chip. It isn't safe for concurrent use except where
// noted; the file system above it is expected to serialize calls.
type Device struct {
	driver      transport.Driver
	geometry    geometry.Descriptor
	mode        transport.TransferConfig
	chipID      transport.ChipID
	logger      *log.Logger
	eraser      *erase.Machine
	gate        *mmap.Gate
	badBlocks   badBlockMap
	programming bool
	open        bool
}

// Open validates the expected geometry, checks it against what the chip
// reports, and initializes the chip in the requested mode. Nothing is sent to
// the chip if the expected geometry is inconsistent, and the chip is never
// initialized if its geometry doesn't match.
func Open(driver transport.Driver, options Options) (*Device, error) {
	logger := options.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	err := options.Expected.Validate()
	if err != nil {
		return nil, err
	}

	reported, err := driver.Info()
	if err != nil {
		return nil, norblock.ErrNotInitialized.WithMessage("can't read chip geometry").Wrap(err)
	}
	err = geometry.Match(options.Expected, reported)
	if err != nil {
		logger.Printf("device: %s", err)
		return nil, err
	}

	err = options.Mode.Validate()
	if err != nil {
		return nil, err
	}

	base := options.MapBase
	if base == 0 {
		base = mmap.DefaultBase
	}
	err = mmap.CheckWindow(base, options.Expected.TotalSize)
	if err != nil {
		return nil, err
	}

	badBlocks := newBadBlockMap(options.Expected.SubsectorCount)
	if options.BadBlocks != nil {
		badBlocks, err = newBadBlockMapFromBytes(options.BadBlocks, options.Expected.SubsectorCount)
		if err != nil {
			return nil, err
		}
	}

	err = driver.Init(options.Mode)
	if err != nil {
		return nil, norblock.ErrNotInitialized.WithMessage(
			fmt.Sprintf("chip refused %s mode", options.Mode)).Wrap(err)
	}

	chipID, err := driver.ReadID()
	if err != nil {
		_ = driver.DeInit()
		return nil, norblock.ErrNotInitialized.WithMessage("can't read chip ID").Wrap(err)
	}

	dev := &Device{
		driver:    driver,
		geometry:  options.Expected,
		mode:      options.Mode,
		chipID:    chipID,
		logger:    logger,
		eraser:    erase.New(driver, options.Expected, options.Policy, logger),
		badBlocks: badBlocks,
		open:      true,
	}
	dev.gate = mmap.New(driver, base, options.Expected.TotalSize, dev.busy, logger)

	logger.Printf(
		"device: opened %d MiB chip %s in %s mode",
		options.Expected.TotalSize/(1024*1024),
		chipID,
		options.Mode)
	return dev, nil
}

// busy is called by the gate with its lock held.
func (d *Device) busy() bool {
	return d.eraser.State().Phase != erase.Idle || d.programming
}

func (d *Device) checkOpen() error {
	if !d.open {
		return norblock.ErrNotInitialized.WithMessage("device is closed")
	}
	return nil
}

func (d *Device) checkRange(address uint32, length int) error {
	if uint64(address)+uint64(length) > uint64(d.geometry.TotalSize) {
		return norblock.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"%d bytes at %#x not in [0, %#x)",
				length,
				address,
				d.geometry.TotalSize))
	}
	return nil
}

// subsectorSpan gives the subsectors touched by `length` bytes at `address`.
func (d *Device) subsectorSpan(address uint32, length uint32) (uint32, uint32) {
	if length == 0 {
		return d.geometry.SubsectorIndex(address), 0
	}
	first := d.geometry.SubsectorIndex(address)
	last := d.geometry.SubsectorIndex(address + length - 1)
	return first, last - first + 1
}

////////////////////////////////////////////////////////////////////////////////
// Data access

// Read fills `buffer` from the chip starting at `address`. It's allowed while
// an erase elsewhere on the chip is suspended or in progress. If memory-mapped
// mode is on, the read is served from the mapped window.
func (d *Device) Read(address uint32, buffer []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkRange(address, len(buffer)); err != nil {
		return err
	}

	if d.gate.State() == mmap.Enabled {
		return d.gate.ReadDirect(d.gate.Base()+address, buffer)
	}

	err := d.driver.Read(address, buffer)
	if err != nil {
		return norblock.ErrReadFailed.WithMessage(
			fmt.Sprintf("%d bytes at %#x", len(buffer), address)).Wrap(err)
	}
	return nil
}

// Program writes `data` starting at `address`, turning memory-mapped mode off
// first. The range must have been erased. Programming isn't allowed while an
// erase is running, but is while one is suspended, as long as the range is
// outside the unit being erased.
//
// Failures are returned as [norblock.ErrProgramFailed] and never retried.
func (d *Device) Program(address uint32, data []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkRange(address, len(data)); err != nil {
		return err
	}

	state := d.eraser.State()
	if state.Phase == erase.InProgress || state.Phase == erase.Failed {
		return norblock.ErrBusy.WithMessage(
			fmt.Sprintf("can't program at %#x: erase is %s", address, state))
	}

	first, count := d.subsectorSpan(address, uint32(len(data)))
	if d.badBlocks.anyBad(first, count) {
		return norblock.ErrBadBlock.WithMessage(
			fmt.Sprintf("can't program %d bytes at %#x", len(data), address))
	}

	return d.gate.Exclusive(func() error {
		d.programming = true
		defer func() { d.programming = false }()

		err := d.driver.Write(address, data)
		if err != nil {
			return norblock.ErrProgramFailed.WithMessage(
				fmt.Sprintf("%d bytes at %#x", len(data), address)).Wrap(err)
		}
		return nil
	})
}

////////////////////////////////////////////////////////////////////////////////
// Erasing

// BeginErase starts erasing the unit containing `address` and returns without
// waiting, turning memory-mapped mode off first. Sector and subsector erases
// of retired subsectors are refused; a chip erase isn't.
func (d *Device) BeginErase(address uint32, unit geometry.EraseUnit) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	if unit != geometry.Chip {
		start, err := d.geometry.AlignDown(address, unit)
		if err != nil {
			return err
		}
		size, err := d.geometry.UnitSize(unit)
		if err != nil {
			return err
		}
		first, count := d.subsectorSpan(start, size)
		if d.badBlocks.anyBad(first, count) {
			return norblock.ErrBadBlock.WithMessage(
				fmt.Sprintf("can't erase %s at %#x", unit, start))
		}
	}

	return d.gate.Exclusive(func() error {
		return d.eraser.Begin(address, unit)
	})
}

// Suspend pauses the running erase so reads can be serviced.
func (d *Device) Suspend() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.eraser.Suspend()
}

// Resume continues a suspended erase from where the chip left off.
func (d *Device) Resume() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.eraser.Resume()
}

// Poll checks on the outstanding erase without blocking.
func (d *Device) Poll() erase.Status {
	return d.eraser.Poll()
}

// WaitErase blocks until the outstanding erase finishes or fails, or the
// deadline passes.
func (d *Device) WaitErase(ctx context.Context) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.eraser.Wait(ctx)
}

// Erase erases the unit containing `address` and waits for it to finish.
func (d *Device) Erase(ctx context.Context, address uint32, unit geometry.EraseUnit) error {
	if err := d.BeginErase(address, unit); err != nil {
		return err
	}
	return d.WaitErase(ctx)
}

// RecoverErase acknowledges a failed erase so the device can be used again. If
// `markBad` is set, every subsector in the failed unit is retired. It returns
// the state of the erase that failed.
func (d *Device) RecoverErase(markBad bool) (erase.State, error) {
	if err := d.checkOpen(); err != nil {
		return erase.State{}, err
	}

	failed, err := d.eraser.Recover()
	if err != nil {
		return failed, err
	}

	if markBad {
		size, err := d.geometry.UnitSize(failed.Unit)
		if err != nil {
			return failed, err
		}
		d.MarkBad(failed.Target, size)
	}
	return failed, nil
}

////////////////////////////////////////////////////////////////////////////////
// Bad subsectors

// MarkBad retires every subsector overlapping `length` bytes at `address`.
// Retired subsectors can't be erased or programmed for the rest of the
// session, or later if the map is saved and restored.
func (d *Device) MarkBad(address uint32, length uint32) {
	first, count := d.subsectorSpan(address, length)
	for i := first; i < first+count && i < d.geometry.SubsectorCount; i++ {
		d.badBlocks.mark(i)
	}
	d.logger.Printf("device: retired %d subsector(s) starting at %#x", count, address)
}

// IsBad reports whether any subsector overlapping the range has been retired.
func (d *Device) IsBad(address uint32, length uint32) bool {
	first, count := d.subsectorSpan(address, length)
	return d.badBlocks.anyBad(first, count)
}

// BadSubsectors lists the indexes of every retired subsector in ascending
// order.
func (d *Device) BadSubsectors() []uint32 {
	return d.badBlocks.list()
}

// BadBlockMap returns a copy of the bad subsector bitmap, suitable for
// [Options.BadBlocks].
func (d *Device) BadBlockMap() []byte {
	return d.badBlocks.bytes()
}

////////////////////////////////////////////////////////////////////////////////
// Memory-mapped mode

// EnableMemoryMapped turns on memory-mapped mode. It fails with
// [norblock.ErrMapUnavailable] while an erase or program is outstanding.
func (d *Device) EnableMemoryMapped() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.gate.Enable()
}

// DisableMemoryMapped turns off memory-mapped mode. It always succeeds.
func (d *Device) DisableMemoryMapped() {
	d.gate.Disable()
}

// MappedRead reads directly from the memory-mapped window at a bus address.
func (d *Device) MappedRead(busAddress uint32, buffer []byte) error {
	return d.gate.ReadDirect(busAddress, buffer)
}

// MappedAddress converts a chip address to the bus address it appears at when
// memory-mapped mode is on.
func (d *Device) MappedAddress(address uint32) uint32 {
	return d.gate.Base() + address
}

////////////////////////////////////////////////////////////////////////////////
// Queries

func (d *Device) EraseState() erase.State {
	return d.eraser.State()
}

func (d *Device) MapState() mmap.State {
	return d.gate.State()
}

func (d *Device) Geometry() geometry.Descriptor {
	return d.geometry
}

func (d *Device) Mode() transport.TransferConfig {
	return d.mode
}

func (d *Device) ChipID() transport.ChipID {
	return d.chipID
}

// Policy returns the erase poll policy in effect.
func (d *Device) Policy() erase.Policy {
	return d.eraser.Policy()
}

// Close turns off memory-mapped mode and shuts the chip down. It refuses with
// [norblock.ErrBusy] while an erase is in progress or suspended, since there's
// no way to abort one. Closing a closed device does nothing.
func (d *Device) Close() error {
	if !d.open {
		return nil
	}

	state := d.eraser.State()
	if state.Phase == erase.InProgress || state.Phase == erase.Suspended {
		return norblock.ErrBusy.WithMessage(
			fmt.Sprintf("can't close device: erase is %s", state))
	}
	if state.Phase == erase.Failed {
		d.logger.Printf("device: closing with unacknowledged failed erase: %s", state)
	}

	d.gate.Disable()
	err := d.driver.DeInit()
	d.open = false
	if err != nil {
		return norblock.ErrNotInitialized.WithMessage("chip didn't shut down cleanly").Wrap(err)
	}
	d.logger.Print("device: closed")
	return nil
}
