package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dargueta/norblock/blockdev"
	"github.com/dargueta/norblock/config"
	"github.com/dargueta/norblock/device"
	"github.com/dargueta/norblock/flashimage"
	"github.com/dargueta/norblock/mount"
	"github.com/dargueta/norblock/transport/memflash"
	"github.com/dargueta/norblock/volume"
	"github.com/urfave/cli/v2"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// mountImage loads a flash image into a simulated chip, runs the mount
// recovery flow on it, and writes the chip back out. A missing image is
// treated as a blank chip.
func mountImage(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected 1 argument, got %d", context.NArg())
	}
	imagePath := context.Args().First()

	cfg, err := loadConfig(context.String("config"))
	if err != nil {
		return err
	}
	geo := cfg.Geometry()
	logger := newLogger(context)

	chip := memflash.New(geo, memflash.Options{})
	image, err := flashimage.LoadFile(imagePath, int(geo.TotalSize))
	if err == nil {
		err = chip.LoadImage(image)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(context.App.Writer, "%s doesn't exist, starting with a blank chip\n", imagePath)
	} else {
		return err
	}

	dev, err := device.Open(chip, cfg.DeviceOptions(logger))
	if err != nil {
		return err
	}

	adapter, err := blockdev.New(dev, cfg.FileSystem, logger)
	if err != nil {
		dev.Close()
		return err
	}
	for _, warning := range adapter.Warnings() {
		fmt.Fprintf(context.App.ErrWriter, "%s %s\n", failedText("warning:"), warning)
	}

	vol := volume.New(adapter.Config(), context.String("label"))
	result, mountErr := mount.Mount(vol, adapter, logger)

	err = dev.Close()
	if err != nil {
		return err
	}
	if mountErr != nil {
		return mountErr
	}

	if result.Formatted {
		fmt.Fprintf(context.App.Writer, "Formatted: %s\n", result.FirstMountError)
	}
	fmt.Fprintf(
		context.App.Writer,
		"Mounted %q: generation %d, %d blocks of %d bytes %s\n",
		vol.Label(),
		vol.Generation(),
		adapter.Config().BlockCount,
		adapter.Config().BlockSize,
		okText("OK"))

	return flashimage.SaveFile(imagePath, chip.Image())
}
