package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/config"
	"github.com/dargueta/norblock/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.Validate(cfg))

	assert.Equal(t, "mx66uw1g45g", cfg.Device.Geometry)
	assert.Equal(t, transport.ModeOPIDTR, cfg.Mode())
	assert.EqualValues(t, 0xa0000000, cfg.Device.BaseAddress)
	assert.Equal(t, 5*time.Second, cfg.Policy().Timeout)

	geo := cfg.Geometry()
	assert.Equal(t, geo.SubsectorSize, cfg.FileSystem.BlockSize)
	assert.Equal(t, geo.SubsectorCount, cfg.FileSystem.BlockCount)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestParseFullDocument(t *testing.T) {
	document := `
device:
  geometry: w25q128jv
  mode: spi
  base_address: 0x90000000
  erase_timeout_ms: 2000
  poll_initial_us: 50
  poll_max_us: 5000
filesystem:
  block_size: 8192
  read_size: 16
  prog_size: 16
  block_count: 100
  cache_size: 64
  lookahead_size: 32
  block_cycles: -1
`
	cfg, err := config.Parse([]byte(document))
	require.NoError(t, err)

	assert.Equal(t, transport.ModeSPI, cfg.Mode())
	assert.EqualValues(t, 16*1024*1024, cfg.Geometry().TotalSize)

	options := cfg.DeviceOptions(nil)
	assert.EqualValues(t, 0x90000000, options.MapBase)
	assert.Equal(t, 2*time.Second, options.Policy.Timeout)
	assert.Equal(t, 50*time.Microsecond, options.Policy.InitialBackoff)
	assert.Equal(t, 5*time.Millisecond, options.Policy.MaxBackoff)

	assert.EqualValues(t, 8192, cfg.FileSystem.BlockSize)
	assert.EqualValues(t, 100, cfg.FileSystem.BlockCount)
	assert.EqualValues(t, -1, cfg.FileSystem.BlockCycles)
}

func TestPartialFileSystemGetsDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("filesystem:\n  block_size: 65536\n"))
	require.NoError(t, err)

	assert.EqualValues(t, 65536, cfg.FileSystem.BlockSize)
	assert.EqualValues(t, 2048, cfg.FileSystem.BlockCount)
	assert.EqualValues(t, 256, cfg.FileSystem.ReadSize)
	assert.EqualValues(t, 500, cfg.FileSystem.BlockCycles)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "device:\n  speed: 9\n",
		"unknown chip":      "device:\n  geometry: nope\n",
		"bad mode":          "device:\n  mode: spi-dtr\n",
		"negative timeout":  "device:\n  erase_timeout_ms: -1\n",
		"inverted backoff":  "device:\n  poll_initial_us: 100\n  poll_max_us: 10\n",
		"partial subsector": "filesystem:\n  block_size: 1024\n",
		"too many blocks":   "device:\n  geometry: test1m\nfilesystem:\n  block_count: 257\n",
		"window overflows":  "device:\n  geometry: test1m\n  base_address: 0xfff80000\n",
		"malformed":         "device: [",
	}

	for name, document := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(document))
			assert.Error(t, err)
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, &config.Config{}, cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  geometry: test1m\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test1m", cfg.Device.Geometry)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInvalidArgumentKind(t *testing.T) {
	_, err := config.Parse([]byte("device:\n  erase_timeout_ms: -5\n"))
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
}

func TestMappedWindowMustFitAddressSpace(t *testing.T) {
	_, err := config.Parse([]byte("device:\n  geometry: test1m\n  base_address: 0xfff80000\n"))
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)

	// Ending exactly at the top of the address space is fine.
	cfg, err := config.Parse([]byte("device:\n  geometry: test1m\n  base_address: 0xfff00000\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 0xfff00000, cfg.Device.BaseAddress)
}

func TestUnknownGeometryKind(t *testing.T) {
	_, err := config.Parse([]byte("device:\n  geometry: nope\n"))
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
}
