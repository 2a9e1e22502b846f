// Package config loads the settings for a flash session from YAML: which chip
// is expected, how to talk to it, and how the file system lays itself out on
// it.
package config

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/blockdev"
	"github.com/dargueta/norblock/device"
	"github.com/dargueta/norblock/erase"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/transport"
	"gopkg.in/yaml.v3"
)

// Defaults used by Normalize for fields left empty.
const (
	DefaultGeometry = "mx66uw1g45g"
	DefaultMode     = "opi-dtr"
)

type Config struct {
	Device     DeviceConfig    `yaml:"device"`
	FileSystem blockdev.Config `yaml:"filesystem"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	// Geometry is the slug of a predefined chip.
	Geometry string `yaml:"geometry"`
	// Mode is one of spi, opi-str, or opi-dtr.
	Mode        string `yaml:"mode"`
	BaseAddress uint32 `yaml:"base_address"`

	EraseTimeoutMs int `yaml:"erase_timeout_ms"`
	PollInitialUs  int `yaml:"poll_initial_us"`
	PollMaxUs      int `yaml:"poll_max_us"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// Parse decodes YAML, validates it, and normalizes it. Unknown keys are
// rejected so typos don't silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, norblock.ErrInvalidArgument.WithMessage("malformed configuration").Wrap(err)
	}

	err = Validate(cfg)
	if err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Load reads the configuration file at `path`. See [Parse].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// The accessors below assume the configuration has been validated and
// normalized.

func (c *Config) Geometry() geometry.Descriptor {
	geo, err := geometry.Predefined(c.Device.Geometry)
	if err != nil {
		panic(err)
	}
	return geo
}

func (c *Config) Mode() transport.TransferConfig {
	mode, err := transport.ParseTransferConfig(c.Device.Mode)
	if err != nil {
		panic(err)
	}
	return mode
}

func (c *Config) Policy() erase.Policy {
	return erase.Policy{
		Timeout:        time.Duration(c.Device.EraseTimeoutMs) * time.Millisecond,
		InitialBackoff: time.Duration(c.Device.PollInitialUs) * time.Microsecond,
		MaxBackoff:     time.Duration(c.Device.PollMaxUs) * time.Microsecond,
	}
}

// DeviceOptions builds the options for opening the configured device.
func (c *Config) DeviceOptions(logger *log.Logger) device.Options {
	return device.Options{
		Expected: c.Geometry(),
		Mode:     c.Mode(),
		MapBase:  c.Device.BaseAddress,
		Policy:   c.Policy(),
		Logger:   logger,
	}
}
