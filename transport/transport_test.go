package transport_test

import (
	"errors"
	"testing"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransferConfig(t *testing.T) {
	cases := map[string]transport.TransferConfig{
		"spi":       transport.ModeSPI,
		"SPI":       transport.ModeSPI,
		"spi-str":   transport.ModeSPI,
		"opi-str":   transport.ModeOPISTR,
		" OPI-DTR ": transport.ModeOPIDTR,
	}

	for name, expected := range cases {
		mode, err := transport.ParseTransferConfig(name)
		require.NoErrorf(t, err, "failed to parse %q", name)
		assert.Equalf(t, expected, mode, "wrong mode for %q", name)
		assert.NoError(t, mode.Validate())
	}
}

func TestParseTransferConfigRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "qspi", "spi-dtr", "2"} {
		_, err := transport.ParseTransferConfig(name)
		assert.ErrorIsf(t, err, norblock.ErrInvalidArgument, "%q should've been rejected", name)
	}
}

func TestTransferConfigNamesRoundTrip(t *testing.T) {
	for _, mode := range transport.Modes {
		parsed, err := transport.ParseTransferConfig(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
}

func TestSPIDoubleRateIsInvalid(t *testing.T) {
	mode := transport.TransferConfig{Interface: transport.SPI, Rate: transport.DTR}
	assert.ErrorIs(t, mode.Validate(), norblock.ErrInvalidArgument)
	assert.Equal(t, "SPI/DTR", mode.String())
}

func TestStatusMessages(t *testing.T) {
	assert.Equal(t, "Component failure", transport.StatusComponentFailure.Error())
	assert.Equal(t, "status -42 not recognized", transport.Status(-42).Error())
	assert.True(t, transport.StatusBusy.Known())
	assert.False(t, transport.Status(-42).Known())
}

func TestStatusErrorUnwrapsToCode(t *testing.T) {
	err := transport.NewWithMessage(transport.StatusWrongParam, "address 0x10 out of range")
	assert.Equal(t, "Wrong parameter: address 0x10 out of range", err.Error())
	assert.True(t, errors.Is(err, transport.StatusWrongParam))
	assert.False(t, errors.Is(err, transport.StatusBusy))
}

func TestChipIDString(t *testing.T) {
	assert.Equal(t, "c2813b", transport.ChipID{0xc2, 0x81, 0x3b}.String())
}
