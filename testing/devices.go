package testing

import (
	"testing"

	"github.com/dargueta/norblock/device"
	"github.com/dargueta/norblock/transport"
	"github.com/dargueta/norblock/transport/memflash"
	"github.com/stretchr/testify/require"
)

// OpenDevice opens `chip` with the test geometry in the given mode, using
// [FastPolicy] and a logger attached to the test. The device is closed when the
// test ends if it's still open by then.
func OpenDevice(t *testing.T, chip *memflash.Chip, mode transport.TransferConfig) *device.Device {
	dev, err := device.Open(
		chip,
		device.Options{
			Expected: TestGeometry(t),
			Mode:     mode,
			Policy:   FastPolicy,
			Logger:   Logger(t),
		})
	require.NoError(t, err, "failed to open simulated device")

	t.Cleanup(func() {
		// Tests that leave an erase outstanding on purpose get ErrBusy here.
		_ = dev.Close()
	})
	return dev
}

// NewDevice creates a blank simulated chip and opens it in OPI DTR mode.
func NewDevice(t *testing.T) (*device.Device, *memflash.Chip) {
	chip := NewChip(t)
	return OpenDevice(t, chip, transport.ModeOPIDTR), chip
}
