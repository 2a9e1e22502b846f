// Package memflash implements [transport.Driver] on top of a byte slice. It
// behaves like a NOR chip where it matters to the layers above it: erased
// bytes read as 0xFF, programming can only clear bits, erases take several
// status polls to finish and keep their progress across suspend/resume, and
// memory-mapped mode excludes every other command.
//
// Faults can be injected to exercise failure paths that real hardware only
// produces on a bad day.
package memflash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/transport"
	"github.com/xaionaro-go/bytesextra"
)

// ErasedValue is what every byte of the chip reads as after an erase.
const ErasedValue = 0xff

// DefaultChipID is the JEDEC ID reported unless overridden.
var DefaultChipID = transport.ChipID{0xc2, 0x81, 0x3b}

// Options tunes the behavior of the simulated chip.
type Options struct {
	// ID is returned by ReadID. Defaults to [DefaultChipID].
	ID transport.ChipID
	// ErasePolls is the number of status polls an erase takes to complete.
	// Each poll erases the next 1/ErasePolls of the unit. Defaults to 4.
	ErasePolls int
}

type pendingErase struct {
	start     uint32
	size      uint32
	done      uint32
	suspended bool
	fails     bool
}

// Chip is a simulated NOR flash chip.
type Chip struct {
	geometry geometry.Descriptor
	reported *geometry.Descriptor
	options  Options

	memory []byte
	window *bytesextra.ReadWriteSeeker

	initialized bool
	mode        transport.TransferConfig
	mapped      bool
	erase       *pendingErase
	eraseFailed bool

	failEraseAt    map[uint32]bool
	failProgramAt  map[uint32]bool
	stuckBusy      bool
	injectedStatus transport.Status
	injectedPolls  int

	initCount  int
	eraseCount int
}

// New creates a chip with the given geometry, fully erased.
func New(geo geometry.Descriptor, options Options) *Chip {
	if options.ErasePolls <= 0 {
		options.ErasePolls = 4
	}
	if options.ID == (transport.ChipID{}) {
		options.ID = DefaultChipID
	}

	memory := bytes.Repeat([]byte{ErasedValue}, int(geo.TotalSize))
	return &Chip{
		geometry:      geo,
		options:       options,
		memory:        memory,
		window:        bytesextra.NewReadWriteSeeker(memory),
		failEraseAt:   make(map[uint32]bool),
		failProgramAt: make(map[uint32]bool),
	}
}

////////////////////////////////////////////////////////////////////////////////
// Implementing transport.Driver

func (c *Chip) Init(config transport.TransferConfig) error {
	if err := config.Validate(); err != nil {
		return transport.NewWithMessage(transport.StatusWrongParam, err.Error())
	}
	c.mode = config
	c.initialized = true
	c.mapped = false
	c.initCount++
	return nil
}

func (c *Chip) DeInit() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	// An erase the chip already accepted keeps running on the chip even though
	// the host side has been torn down, so it's deliberately left alone.
	c.initialized = false
	c.mapped = false
	return nil
}

// Info works without initialization, just like reading the chip's parameter
// tables does on real hardware.
func (c *Chip) Info() (geometry.Descriptor, error) {
	if c.reported != nil {
		return *c.reported, nil
	}
	return c.geometry, nil
}

func (c *Chip) ReadID() (transport.ChipID, error) {
	if !c.initialized {
		return transport.ChipID{}, transport.StatusNoInit
	}
	return c.options.ID, nil
}

func (c *Chip) checkRange(address uint32, length int) error {
	if uint64(address)+uint64(length) > uint64(c.geometry.TotalSize) {
		return transport.NewWithMessage(
			transport.StatusWrongParam,
			fmt.Sprintf(
				"%d bytes at %#x runs past end of chip (%#x)",
				length,
				address,
				c.geometry.TotalSize))
	}
	return nil
}

// checkIndirect verifies that an indirect (command-based) access is allowed
// right now.
func (c *Chip) checkIndirect() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	if c.mapped {
		return transport.NewWithMessage(
			transport.StatusBusy, "memory-mapped mode must be disabled first")
	}
	return nil
}

// Read is allowed while an erase is running elsewhere on the chip. Reading the
// unit being erased returns whatever state the erase has reached.
func (c *Chip) Read(address uint32, buffer []byte) error {
	if err := c.checkIndirect(); err != nil {
		return err
	}
	if err := c.checkRange(address, len(buffer)); err != nil {
		return err
	}
	copy(buffer, c.memory[address:])
	return nil
}

func (c *Chip) Write(address uint32, data []byte) error {
	if err := c.checkIndirect(); err != nil {
		return err
	}
	if err := c.checkRange(address, len(data)); err != nil {
		return err
	}

	end := address + uint32(len(data))
	if c.erase != nil {
		if !c.erase.suspended {
			return transport.NewWithMessage(transport.StatusBusy, "erase in progress")
		}
		if address < c.erase.start+c.erase.size && c.erase.start < end {
			return transport.NewWithMessage(
				transport.StatusWrongParam,
				fmt.Sprintf(
					"can't program [%#x, %#x) inside suspended erase of [%#x, %#x)",
					address,
					end,
					c.erase.start,
					c.erase.start+c.erase.size))
		}
	}

	// A new command clears the failure flag left by the last erase.
	c.eraseFailed = false
	for failAt := range c.failProgramAt {
		if failAt >= address && failAt < end {
			return transport.NewWithMessage(
				transport.StatusComponentFailure,
				fmt.Sprintf("program verify failed at %#x", failAt))
		}
	}

	// Programs never cross a page boundary, so split the data the same way the
	// command sequence would.
	for len(data) > 0 {
		pageRemaining := c.geometry.PageSize - (address % c.geometry.PageSize)
		chunk := data
		if uint32(len(chunk)) > pageRemaining {
			chunk = chunk[:pageRemaining]
		}

		// NOR programming can only pull bits from 1 to 0.
		for i, b := range chunk {
			c.memory[address+uint32(i)] &= b
		}

		address += uint32(len(chunk))
		data = data[len(chunk):]
	}
	return nil
}

func (c *Chip) EraseBlock(address uint32, unit geometry.EraseUnit) error {
	if err := c.checkIndirect(); err != nil {
		return err
	}
	if c.erase != nil {
		return transport.NewWithMessage(transport.StatusBusy, "another erase is outstanding")
	}

	start, err := c.geometry.AlignDown(address, unit)
	if err != nil {
		return transport.NewWithMessage(transport.StatusWrongParam, err.Error())
	}
	size, err := c.geometry.UnitSize(unit)
	if err != nil {
		return transport.NewWithMessage(transport.StatusWrongParam, err.Error())
	}

	pending := &pendingErase{start: start, size: size}
	for failAt := range c.failEraseAt {
		if failAt >= start && failAt < start+size {
			pending.fails = true
		}
	}

	c.erase = pending
	c.eraseFailed = false
	c.eraseCount++
	return nil
}

func (c *Chip) SuspendErase() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	if c.erase == nil || c.erase.suspended {
		return transport.NewWithMessage(transport.StatusWrongParam, "no erase running")
	}
	c.erase.suspended = true
	return nil
}

func (c *Chip) ResumeErase() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	if c.erase == nil || !c.erase.suspended {
		return transport.NewWithMessage(transport.StatusWrongParam, "no erase suspended")
	}
	c.erase.suspended = false
	return nil
}

// Status advances a running erase by one step and reports where it stands.
func (c *Chip) Status() transport.Status {
	if !c.initialized {
		return transport.StatusNoInit
	}
	if c.injectedPolls > 0 {
		c.injectedPolls--
		return c.injectedStatus
	}
	if c.stuckBusy {
		return transport.StatusBusy
	}
	if c.eraseFailed {
		return transport.StatusComponentFailure
	}
	if c.erase == nil {
		return transport.StatusOK
	}
	if c.erase.suspended {
		// The erase is still outstanding; the chip is only ready for reads.
		return transport.StatusBusy
	}

	step := c.erase.size / uint32(c.options.ErasePolls)
	if step == 0 {
		step = 1
	}

	if c.erase.fails && c.erase.done+step >= c.erase.size/2 {
		// Die halfway through, leaving the unit partially erased the way a
		// worn-out cell would.
		c.erase = nil
		c.eraseFailed = true
		return transport.StatusComponentFailure
	}

	end := c.erase.done + step
	if end > c.erase.size {
		end = c.erase.size
	}
	from := c.erase.start + c.erase.done
	to := c.erase.start + end
	for i := from; i < to; i++ {
		c.memory[i] = ErasedValue
	}
	c.erase.done = end

	if c.erase.done >= c.erase.size {
		c.erase = nil
		return transport.StatusOK
	}
	return transport.StatusBusy
}

func (c *Chip) EnableMemoryMapped() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	if c.erase != nil {
		return transport.NewWithMessage(transport.StatusBusy, "erase outstanding")
	}
	c.mapped = true
	return nil
}

func (c *Chip) DisableMemoryMapped() error {
	if !c.initialized {
		return transport.StatusNoInit
	}
	c.mapped = false
	return nil
}

func (c *Chip) MappedWindow() io.ReadSeeker {
	return c.window
}

////////////////////////////////////////////////////////////////////////////////
// Simulation controls

// Mode returns the transfer configuration the chip was last initialized with.
func (c *Chip) Mode() transport.TransferConfig {
	return c.mode
}

// Initialized reports whether Init has been called without a matching DeInit.
func (c *Chip) Initialized() bool {
	return c.initialized
}

// MemoryMapped reports whether the chip is currently in memory-mapped mode.
func (c *Chip) MemoryMapped() bool {
	return c.mapped
}

// InitCount is the number of times Init has succeeded.
func (c *Chip) InitCount() int {
	return c.initCount
}

// EraseCount is the number of erase commands the chip has accepted.
func (c *Chip) EraseCount() int {
	return c.eraseCount
}

// EraseOutstanding reports whether an erase has been accepted but hasn't
// finished or failed yet.
func (c *Chip) EraseOutstanding() bool {
	return c.erase != nil
}

// ReportGeometry makes Info return `reported` instead of the real geometry.
func (c *Chip) ReportGeometry(reported geometry.Descriptor) {
	c.reported = &reported
}

// FailEraseAt makes any erase covering `address` fail partway through.
func (c *Chip) FailEraseAt(address uint32) {
	c.failEraseAt[address] = true
}

// FailProgramAt makes any program covering `address` fail.
func (c *Chip) FailProgramAt(address uint32) {
	c.failProgramAt[address] = true
}

// ClearFaults removes every injected fault.
func (c *Chip) ClearFaults() {
	c.failEraseAt = make(map[uint32]bool)
	c.failProgramAt = make(map[uint32]bool)
	c.stuckBusy = false
	c.injectedPolls = 0
}

// SetStuckBusy makes Status report busy forever, like a hung chip.
func (c *Chip) SetStuckBusy(stuck bool) {
	c.stuckBusy = stuck
}

// InjectStatus makes the next `polls` calls to Status return `code` without
// advancing any erase.
func (c *Chip) InjectStatus(code transport.Status, polls int) {
	c.injectedStatus = code
	c.injectedPolls = polls
}

// Image returns a copy of the chip's entire contents.
func (c *Chip) Image() []byte {
	image := make([]byte, len(c.memory))
	copy(image, c.memory)
	return image
}

// LoadImage overwrites the chip's contents. `image` must be exactly the size
// of the chip.
func (c *Chip) LoadImage(image []byte) error {
	if len(image) != len(c.memory) {
		return transport.NewWithMessage(
			transport.StatusWrongParam,
			fmt.Sprintf("image is %d bytes, chip is %d", len(image), len(c.memory)))
	}
	copy(c.memory, image)
	return nil
}
