package main

import (
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "norctl",
		Usage: "Exercise and manage NOR flash block devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every flash operation to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "geometries",
				Usage:  "List the predefined chip geometries",
				Action: listGeometries,
			},
			{
				Name:   "selftest",
				Usage:  "Run the erase/program/suspend/memory-mapped sequence on a simulated chip",
				Action: runSelfTestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Value: "all",
						Usage: "transfer mode: spi, opi-str, opi-dtr, or all",
					},
					&cli.StringFlag{
						Name:  "geometry",
						Value: "mx66uw1g45g",
						Usage: "predefined chip to simulate",
					},
				},
			},
			{
				Name:      "mount",
				Usage:     "Mount a flash image, formatting it if needed, and save it back",
				Action:    mountImage,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "YAML session configuration",
					},
					&cli.StringFlag{
						Name:  "label",
						Value: "norctl",
						Usage: "volume label used if the image has to be formatted",
					},
				},
			},
			{
				Name:      "unpack",
				Usage:     "Expand a compressed flash image to a raw file",
				Action:    unpackImage,
				ArgsUsage: "IMAGE_FILE  RAW_FILE",
			},
			{
				Name:      "pack",
				Usage:     "Compress a raw flash dump into an image",
				Action:    packImage,
				ArgsUsage: "RAW_FILE  IMAGE_FILE",
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// newLogger returns a logger for the flash core, silent unless --verbose was
// given.
func newLogger(context *cli.Context) *log.Logger {
	if context.Bool("verbose") {
		return log.New(os.Stderr, "", log.Lmicroseconds)
	}
	return log.New(io.Discard, "", 0)
}
