package blockdev_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/blockdev"
	"github.com/dargueta/norblock/geometry"
	nortest "github.com/dargueta/norblock/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eraseCall struct {
	address uint32
	unit    geometry.EraseUnit
}

// recordingFlash passes everything through and remembers the erases issued.
type recordingFlash struct {
	blockdev.Flash
	erases []eraseCall
}

func (f *recordingFlash) Erase(ctx context.Context, address uint32, unit geometry.EraseUnit) error {
	f.erases = append(f.erases, eraseCall{address, unit})
	return f.Flash.Erase(ctx, address, unit)
}

func newAdapter(t *testing.T, config blockdev.Config) (*blockdev.Adapter, *recordingFlash) {
	dev, _ := nortest.NewDevice(t)
	flash := &recordingFlash{Flash: dev}
	adapter, err := blockdev.New(flash, config, nortest.Logger(t))
	require.NoError(t, err)
	return adapter, flash
}

func TestDefaultConfigIsValid(t *testing.T) {
	geo := nortest.TestGeometry(t)
	warnings, err := blockdev.DefaultConfig(geo).Validate(geo)
	assert.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestProgramReadRoundTrip(t *testing.T) {
	adapter, _ := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))

	for _, block := range []norblock.Block{0, 1, 17, 255} {
		require.NoError(t, adapter.Erase(block))

		data := nortest.PatternBytes(100, uint32(block))
		require.NoError(t, adapter.Program(block, 4000, data[:96]))

		readBack := make([]byte, 96)
		require.NoError(t, adapter.Read(block, 4000, readBack))
		assert.Equal(t, data[:96], readBack, "block %d", block)
	}
}

func TestEraseThenReadIsErased(t *testing.T) {
	adapter, _ := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))
	require.NoError(t, adapter.Program(3, 0, nortest.PatternBytes(4096, 1)))

	require.NoError(t, adapter.Erase(3))
	buffer := make([]byte, 4096)
	require.NoError(t, adapter.Read(3, 0, buffer))
	nortest.RequireErased(t, buffer)
}

func TestEndToEndScenario(t *testing.T) {
	dev, _ := nortest.NewDevice(t)
	config := blockdev.DefaultConfig(dev.Geometry())
	config.BlockSize = dev.Geometry().SectorSize
	adapter, err := blockdev.New(dev, config, nortest.Logger(t))
	require.NoError(t, err)

	// Block 0 is the 64 KiB unit containing 0x50.
	require.NoError(t, adapter.Erase(0))
	data := nortest.PatternBytes(512, 0xd20f)
	require.NoError(t, adapter.Program(0, 0x50, data))

	readBack := make([]byte, 512)
	require.NoError(t, adapter.Read(0, 0x50, readBack))
	require.Equal(t, data, readBack)

	require.NoError(t, dev.EnableMemoryMapped())
	direct := make([]byte, 512)
	busAddress, err := adapter.MappedAddress(0, 0x50)
	require.NoError(t, err)
	require.NoError(t, dev.MappedRead(busAddress, direct))
	assert.Equal(t, data, direct)
}

func TestMappedAddressBounds(t *testing.T) {
	adapter, _ := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))
	config := adapter.Config()

	busAddress, err := adapter.MappedAddress(2, 0x10)
	require.NoError(t, err)
	assert.EqualValues(t, 0xa0002010, busAddress)

	_, err = adapter.MappedAddress(norblock.Block(config.BlockCount), 0)
	assert.ErrorIs(t, err, norblock.ErrOutOfRange)
	_, err = adapter.MappedAddress(0, config.BlockSize)
	assert.ErrorIs(t, err, norblock.ErrOutOfRange)
}

func TestAddressBounds(t *testing.T) {
	adapter, _ := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))

	assert.ErrorIs(t, adapter.Read(0, 4000, make([]byte, 97)), norblock.ErrOutOfRange)
	assert.ErrorIs(t, adapter.Program(0, 4096, []byte{0}), norblock.ErrOutOfRange)
	assert.ErrorIs(t, adapter.Read(256, 0, make([]byte, 1)), norblock.ErrOutOfRange)
	assert.ErrorIs(t, adapter.Erase(256), norblock.ErrOutOfRange)
	assert.NoError(t, adapter.Read(0, 4095, make([]byte, 1)))
}

func TestSubsectorBlocksUseSubsectorErases(t *testing.T) {
	adapter, flash := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))

	require.NoError(t, adapter.Erase(16))
	assert.Equal(t, []eraseCall{{0x10000, geometry.Subsector}}, flash.erases)
}

func TestLargeBlocksUseSectorErases(t *testing.T) {
	geo := nortest.TestGeometry(t)
	config := blockdev.DefaultConfig(geo)
	config.BlockSize = 128 * 1024
	config.BlockCount = 0

	adapter, flash := newAdapter(t, config)
	assert.EqualValues(t, 8, adapter.Config().BlockCount)
	require.Len(t, adapter.Warnings(), 1)
	assert.Contains(t, adapter.Warnings()[0], "32 subsectors")

	require.NoError(t, adapter.Erase(1))
	assert.Equal(
		t,
		[]eraseCall{{0x20000, geometry.Sector}, {0x30000, geometry.Sector}},
		flash.erases)
}

func TestMidsizeBlocksUseSubsectorErases(t *testing.T) {
	geo := nortest.TestGeometry(t)
	config := blockdev.DefaultConfig(geo)
	config.BlockSize = 8192
	config.BlockCount = 0

	adapter, flash := newAdapter(t, config)
	require.NoError(t, adapter.Erase(3))
	assert.Equal(
		t,
		[]eraseCall{{0x6000, geometry.Subsector}, {0x7000, geometry.Subsector}},
		flash.erases)
}

func TestBlockSizeMustBeSubsectorMultiple(t *testing.T) {
	dev, _ := nortest.NewDevice(t)
	config := blockdev.DefaultConfig(dev.Geometry())
	config.BlockSize = 2048

	_, err := blockdev.New(dev, config, nil)
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "subsector size")
}

func TestConfigValidationReportsEverything(t *testing.T) {
	geo := nortest.TestGeometry(t)
	config := blockdev.Config{
		BlockSize:     4096,
		ReadSize:      0,
		ProgSize:      3,
		BlockCount:    1000,
		CacheSize:     256,
		LookaheadSize: 12,
		BlockCycles:   0,
	}

	_, err := config.Validate(geo)
	require.ErrorIs(t, err, norblock.ErrInvalidArgument)
	for _, fragment := range []string{"read size", "program size 3", "don't fit", "lookahead", "block cycles"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestBadBlockEraseRefused(t *testing.T) {
	dev, chip := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nil)
	require.NoError(t, err)

	dev.MarkBad(0x7000, 1)
	assert.ErrorIs(t, adapter.Erase(7), norblock.ErrBadBlock)
	assert.Equal(t, 0, chip.EraseCount())
}

func TestEraseFailureSurfaced(t *testing.T) {
	dev, chip := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nil)
	require.NoError(t, err)

	chip.FailEraseAt(0x9000)
	assert.ErrorIs(t, adapter.Erase(9), norblock.ErrEraseFailed)
	assert.Equal(t, 1, chip.EraseCount())
}

func TestProgramFailureNamesBlock(t *testing.T) {
	dev, chip := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nil)
	require.NoError(t, err)

	chip.FailProgramAt(0x2010)
	err = adapter.Program(2, 0, make([]byte, 32))
	assert.ErrorIs(t, err, norblock.ErrProgramFailed)
	assert.Contains(t, err.Error(), "block 2")
	assert.Equal(t, 1, strings.Count(err.Error(), "Program failed"), err.Error())
}

func TestProgramRefusalIsNotProgramFailure(t *testing.T) {
	dev, _ := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nil)
	require.NoError(t, err)

	dev.MarkBad(0x6000, 1)
	err = adapter.Program(6, 0, []byte{0})
	assert.ErrorIs(t, err, norblock.ErrBadBlock)
	assert.False(t, errors.Is(err, norblock.ErrProgramFailed), err.Error())

	require.NoError(t, dev.BeginErase(0, geometry.Subsector))
	err = adapter.Program(5, 0, []byte{0})
	assert.ErrorIs(t, err, norblock.ErrBusy)
	assert.False(t, errors.Is(err, norblock.ErrProgramFailed), err.Error())

	require.NoError(t, dev.WaitErase(context.Background()))
}

func TestSyncNeverFails(t *testing.T) {
	adapter, _ := newAdapter(t, blockdev.DefaultConfig(nortest.TestGeometry(t)))
	assert.NoError(t, adapter.Sync())
}
