// Package mmap gates memory-mapped access to the chip.
//
// While mapping is enabled the chip's contents appear on the bus at a fixed
// base address and can be read directly, but the chip can't erase or program.
// A [Gate] makes sure mapping is never enabled while an erase or program is
// outstanding, and that erases and programs always turn it off first.
package mmap

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/transport"
)

// DefaultBase is where the flash is mapped on the bus unless configured
// otherwise.
const DefaultBase uint32 = 0xa0000000

// CheckWindow verifies that a chip of `size` bytes mapped at `base` fits in
// the 32-bit bus address space.
func CheckWindow(base uint32, size uint32) error {
	if uint64(base)+uint64(size) > 1<<32 {
		return norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%d-byte chip mapped at %#08x runs past the end of the address space",
				size,
				base))
	}
	return nil
}

// State is whether memory-mapped mode is on.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Gate owns the memory-mapped state of one chip.
//
// The gate lock is the only lock in the flash core. It exists so that checking
// whether the chip is busy and switching modes happen as one step; otherwise
// an erase could start between the check and the first direct read.
type Gate struct {
	mu     sync.Mutex
	driver transport.Driver
	base   uint32
	size   uint32
	busy   func() bool
	logger *log.Logger
	state  State
}

// New creates a disabled gate for a chip of `size` bytes mapped at `base`.
// `busy` must report whether an erase or program is outstanding; it's only
// ever called with the gate lock held.
func New(
	driver transport.Driver,
	base uint32,
	size uint32,
	busy func() bool,
	logger *log.Logger,
) *Gate {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Gate{
		driver: driver,
		base:   base,
		size:   size,
		busy:   busy,
		logger: logger,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Base returns the bus address of the first byte of the chip.
func (g *Gate) Base() uint32 {
	return g.base
}

// Enable switches the chip into memory-mapped mode. It fails with
// [norblock.ErrMapUnavailable] if an erase or program is outstanding; callers
// can try again once it settles. Enabling twice is harmless.
func (g *Gate) Enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Enabled {
		return nil
	}
	if g.busy() {
		return norblock.ErrMapUnavailable.WithMessage("erase or program outstanding")
	}
	if err := g.driver.EnableMemoryMapped(); err != nil {
		return norblock.ErrMapUnavailable.Wrap(err)
	}

	g.state = Enabled
	g.logger.Printf("mmap: enabled at %#08x", g.base)
	return nil
}

// Disable leaves memory-mapped mode. It always succeeds: if the driver
// complains, the complaint is logged and the gate is disabled anyway, since
// the chip can't be left half in one mode.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disableLocked()
}

func (g *Gate) disableLocked() {
	if g.state == Disabled {
		return
	}
	if err := g.driver.DisableMemoryMapped(); err != nil {
		g.logger.Printf("mmap: ignoring error while disabling: %s", err)
	}
	g.state = Disabled
	g.logger.Print("mmap: disabled")
}

// Exclusive disables memory-mapped mode and runs `fn` with the gate locked.
// Every erase and program must start inside Exclusive, so that Enable can't
// run between the busy check and the command being issued.
func (g *Gate) Exclusive(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disableLocked()
	return fn()
}

// ReadDirect reads from the mapped window at a bus address, the way the CPU
// would dereference a pointer into the flash. Mapping must be enabled.
func (g *Gate) ReadDirect(busAddress uint32, buffer []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Enabled {
		return norblock.ErrMapUnavailable.WithMessage("memory-mapped mode is disabled")
	}
	if busAddress < g.base ||
		uint64(busAddress-g.base)+uint64(len(buffer)) > uint64(g.size) {
		return norblock.ErrOutOfRange.WithMessage(
			fmt.Sprintf(
				"%d bytes at %#08x not in mapped window [%#08x, %#08x)",
				len(buffer),
				busAddress,
				g.base,
				uint64(g.base)+uint64(g.size)))
	}

	window := g.driver.MappedWindow()
	_, err := window.Seek(int64(busAddress-g.base), io.SeekStart)
	if err != nil {
		return norblock.ErrReadFailed.Wrap(err)
	}
	_, err = io.ReadFull(window, buffer)
	if err != nil {
		return norblock.ErrReadFailed.Wrap(err)
	}
	return nil
}
