package main

import (
	"fmt"
	"os"

	"github.com/dargueta/norblock/flashimage"
	"github.com/urfave/cli/v2"
)

func twoPaths(context *cli.Context) (string, string, error) {
	if context.NArg() != 2 {
		return "", "", fmt.Errorf("expected 2 arguments, got %d", context.NArg())
	}
	return context.Args().Get(0), context.Args().Get(1), nil
}

func unpackImage(context *cli.Context) error {
	sourcePath, outputPath, err := twoPaths(context)
	if err != nil {
		return err
	}

	image, err := flashimage.LoadFile(sourcePath, 0)
	if err != nil {
		return fmt.Errorf("failed to read image `%s`: %w", sourcePath, err)
	}

	err = os.WriteFile(outputPath, image, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write `%s`: %w", outputPath, err)
	}

	fmt.Fprintf(context.App.Writer, "Expanded image to %d bytes.\n", len(image))
	return nil
}

func packImage(context *cli.Context) error {
	sourcePath, outputPath, err := twoPaths(context)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read `%s`: %w", sourcePath, err)
	}

	err = flashimage.SaveFile(outputPath, raw)
	if err != nil {
		return fmt.Errorf("failed to write image `%s`: %w", outputPath, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "Compressed %d bytes to %d.\n", len(raw), info.Size())
	return nil
}
