package volume_test

import (
	"testing"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/blockdev"
	"github.com/dargueta/norblock/mount"
	nortest "github.com/dargueta/norblock/testing"
	"github.com/dargueta/norblock/transport/memflash"
	"github.com/dargueta/norblock/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T) (*blockdev.Adapter, *memflash.Chip) {
	dev, chip := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nortest.Logger(t))
	require.NoError(t, err)
	return adapter, chip
}

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, 36, volume.HeaderSize)
}

func TestMountBlankChipFails(t *testing.T) {
	adapter, _ := newAdapter(t)
	vol := volume.New(adapter.Config(), "test")

	err := vol.Mount(adapter)
	assert.ErrorIs(t, err, norblock.ErrFileSystemCorrupted)
	assert.Contains(t, err.Error(), "blank")
	assert.False(t, vol.Mounted())
}

func TestFormatThenMount(t *testing.T) {
	adapter, _ := newAdapter(t)
	vol := volume.New(adapter.Config(), "scratch")

	require.NoError(t, vol.Format(adapter))
	require.NoError(t, vol.Mount(adapter))
	assert.True(t, vol.Mounted())
	assert.Equal(t, "scratch", vol.Label())
	assert.EqualValues(t, 1, vol.Generation())

	require.NoError(t, vol.Format(adapter))
	require.NoError(t, vol.Mount(adapter))
	assert.EqualValues(t, 2, vol.Generation())
}

func TestLongLabelTruncated(t *testing.T) {
	adapter, _ := newAdapter(t)
	vol := volume.New(adapter.Config(), "a label that is far too long")
	require.NoError(t, vol.Format(adapter))
	require.NoError(t, vol.Mount(adapter))
	assert.Equal(t, "a label that is ", vol.Label())
}

func TestCorruptHeaderRejected(t *testing.T) {
	adapter, chip := newAdapter(t)
	vol := volume.New(adapter.Config(), "x")
	require.NoError(t, vol.Format(adapter))

	// Clear a bit in the block size. Programming can only clear bits, so this
	// is exactly the kind of damage flash produces.
	image := chip.Image()
	image[7] &= 0xef
	require.NoError(t, chip.LoadImage(image))

	err := vol.Mount(adapter)
	assert.ErrorIs(t, err, norblock.ErrFileSystemCorrupted)
	assert.Contains(t, err.Error(), "checksum")
}

func TestForeignDataRejected(t *testing.T) {
	adapter, _ := newAdapter(t)
	require.NoError(t, adapter.Program(0, 0, []byte("FAT16   ")))

	err := volume.New(adapter.Config(), "").Mount(adapter)
	assert.ErrorIs(t, err, norblock.ErrFileSystemCorrupted)
	assert.Contains(t, err.Error(), "magic")
}

func TestLayoutMismatchRejected(t *testing.T) {
	adapter, _ := newAdapter(t)
	require.NoError(t, volume.New(adapter.Config(), "").Format(adapter))

	config := adapter.Config()
	config.BlockCount = 128
	err := volume.New(config, "").Mount(adapter)
	assert.ErrorIs(t, err, norblock.ErrFileSystemCorrupted)
}

func TestRecoveryFlowOnBlankChip(t *testing.T) {
	adapter, chip := newAdapter(t)
	vol := volume.New(adapter.Config(), "boot")

	result, err := mount.Mount(vol, adapter, nortest.Logger(t))
	require.NoError(t, err)
	assert.True(t, result.Formatted)
	assert.True(t, vol.Mounted())
	assert.Equal(t, 1, chip.EraseCount())

	// The second boot finds the file system and doesn't touch the chip.
	result, err = mount.Mount(volume.New(adapter.Config(), "boot"), adapter, nil)
	require.NoError(t, err)
	assert.False(t, result.Formatted)
	assert.Equal(t, 1, chip.EraseCount())
}

func TestRecoveryFlowGivesUpOnBadBlock(t *testing.T) {
	dev, chip := nortest.NewDevice(t)
	adapter, err := blockdev.New(dev, blockdev.DefaultConfig(dev.Geometry()), nil)
	require.NoError(t, err)
	dev.MarkBad(0, 1)

	_, err = mount.Mount(volume.New(adapter.Config(), ""), adapter, nil)
	assert.ErrorIs(t, err, norblock.ErrUnrecoverableFilesystem)
	assert.ErrorIs(t, err, norblock.ErrBadBlock)
	assert.Equal(t, 0, chip.EraseCount())
}
