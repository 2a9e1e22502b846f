package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dargueta/norblock/device"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/transport"
	"github.com/dargueta/norblock/transport/memflash"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

const (
	testAddress = 0x0050
	testLength  = 512
	testSeed    = 0xd20f
)

var (
	okText     = color.New(color.FgGreen, color.Bold).SprintFunc()
	failedText = color.New(color.FgRed, color.Bold).SprintFunc()
	headerText = color.New(color.FgCyan).SprintFunc()
)

func fillPattern(length int, seed uint32) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte((uint32(i) + seed) % 256)
	}
	return data
}

// selfTest runs the three-part check against one chip in one mode. Each part
// opens the device from scratch, the same as a fresh init/deinit cycle on the
// hardware.
type selfTest struct {
	out    io.Writer
	chip   transport.Driver
	geo    geometry.Descriptor
	mode   transport.TransferConfig
	logger *log.Logger
}

func (s *selfTest) step(name string, err error) error {
	if err != nil {
		fmt.Fprintf(s.out, "%s : %s (%s)\n", name, failedText("FAILED"), err)
		return err
	}
	fmt.Fprintf(s.out, "%s : %s\n", name, okText("OK"))
	return nil
}

func (s *selfTest) open() (*device.Device, error) {
	return device.Open(
		s.chip,
		device.Options{Expected: s.geo, Mode: s.mode, Logger: s.logger})
}

func compare(expected, actual []byte) error {
	if bytes.Equal(expected, actual) {
		return nil
	}
	for i := range expected {
		if expected[i] != actual[i] {
			return fmt.Errorf("byte %d is %#02x, expected %#02x", i, actual[i], expected[i])
		}
	}
	return fmt.Errorf("length mismatch")
}

func compareMapped(dev *device.Device, expected []byte) error {
	direct := make([]byte, len(expected))
	err := dev.MappedRead(dev.MappedAddress(testAddress), direct)
	if err != nil {
		return err
	}
	return compare(expected, direct)
}

// partOne erases the sector holding the test address, programs the pattern,
// and checks it with both indirect and memory-mapped reads.
func (s *selfTest) partOne(ctx context.Context) error {
	dev, err := s.open()
	if err = s.step("Init", err); err != nil {
		return err
	}
	defer dev.Close()

	pattern := fillPattern(testLength, testSeed)
	if err = s.step("Erase 64K sector", dev.Erase(ctx, testAddress, geometry.Sector)); err != nil {
		return err
	}
	if err = s.step("Write", dev.Program(testAddress, pattern)); err != nil {
		return err
	}

	readBack := make([]byte, testLength)
	if err = s.step("Read", dev.Read(testAddress, readBack)); err != nil {
		return err
	}
	if err = s.step("Compare", compare(pattern, readBack)); err != nil {
		return err
	}
	if err = s.step("Memory-mapped enable", dev.EnableMemoryMapped()); err != nil {
		return err
	}
	return s.step("Memory-mapped compare", compareMapped(dev, pattern))
}

// partTwo erases the first subsector, suspending and resuming midway, and
// checks that it ends up blank.
func (s *selfTest) partTwo(ctx context.Context) error {
	dev, err := s.open()
	if err = s.step("Init", err); err != nil {
		return err
	}
	defer dev.Close()

	if err = s.step("Erase 4K subsector", dev.BeginErase(0, geometry.Subsector)); err != nil {
		return err
	}
	if err = s.step("Erase suspend", dev.Suspend()); err != nil {
		return err
	}
	if err = s.step("Erase resume", dev.Resume()); err != nil {
		return err
	}
	if err = s.step("Memory status", dev.WaitErase(ctx)); err != nil {
		return err
	}

	readBack := make([]byte, s.geo.SubsectorSize)
	if err = s.step("Read", dev.Read(0, readBack)); err != nil {
		return err
	}
	blank := bytes.Repeat([]byte{memflash.ErasedValue}, len(readBack))
	return s.step("Compare", compare(blank, readBack))
}

// partThree reprograms the pattern into a freshly erased subsector and checks
// it only through memory-mapped reads.
func (s *selfTest) partThree(ctx context.Context) error {
	dev, err := s.open()
	if err = s.step("Init", err); err != nil {
		return err
	}
	defer dev.Close()

	pattern := fillPattern(testLength, testSeed)
	if err = s.step("Erase 4K subsector", dev.Erase(ctx, testAddress, geometry.Subsector)); err != nil {
		return err
	}
	if err = s.step("Write", dev.Program(testAddress, pattern)); err != nil {
		return err
	}
	if err = s.step("Memory-mapped enable", dev.EnableMemoryMapped()); err != nil {
		return err
	}
	return s.step("Memory-mapped compare", compareMapped(dev, pattern))
}

func (s *selfTest) run(ctx context.Context) error {
	fmt.Fprintf(s.out, "%s\n", headerText(fmt.Sprintf("***** %s mode *****", s.mode)))
	parts := []func(context.Context) error{s.partOne, s.partTwo, s.partThree}
	for i, part := range parts {
		fmt.Fprintf(s.out, "--> part %d\n", i+1)
		if err := part(ctx); err != nil {
			return fmt.Errorf("self test failed in %s mode, part %d: %w", s.mode, i+1, err)
		}
	}
	return nil
}

func selectModes(name string) ([]transport.TransferConfig, error) {
	if name == "all" {
		return transport.Modes, nil
	}
	mode, err := transport.ParseTransferConfig(name)
	if err != nil {
		return nil, err
	}
	return []transport.TransferConfig{mode}, nil
}

func runSelfTestCommand(cliContext *cli.Context) error {
	modes, err := selectModes(cliContext.String("mode"))
	if err != nil {
		return err
	}
	geo, err := geometry.Predefined(cliContext.String("geometry"))
	if err != nil {
		return err
	}

	// One chip for every mode, the same as the hardware sees.
	chip := memflash.New(geo, memflash.Options{})
	out := cliContext.App.Writer
	fmt.Fprintln(out, "---------- TEST STARTED ----------")

	for _, mode := range modes {
		test := selfTest{out: out, chip: chip, geo: geo, mode: mode, logger: newLogger(cliContext)}
		if err := test.run(cliContext.Context); err != nil {
			fmt.Fprintf(out, "---------- %s ----------\n", failedText("TEST ABORTED"))
			return err
		}
	}

	fmt.Fprintf(out, "---------- %s ----------\n", okText("TEST COMPLETED"))
	return nil
}
