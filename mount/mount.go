// Package mount brings a file system online, formatting the device once if it
// can't be mounted as-is.
package mount

import (
	"io"
	"log"

	"github.com/dargueta/norblock"
)

// Result describes what it took to mount the file system.
type Result struct {
	// Formatted is true if the first mount failed and the device was
	// formatted.
	Formatted bool
	// FirstMountError is why the first mount failed, if it did.
	FirstMountError error
}

// Mount mounts `fs` on `device`. If that fails, which is expected on a chip
// that's never been formatted, the device is formatted and mounted once more.
//
// There's never a third attempt. If formatting fails or the second mount
// fails, the error matches [norblock.ErrUnrecoverableFilesystem] and wraps the
// cause. Cycling format and mount on a failing device would only wear out the
// same erase blocks over and over.
func Mount(fs norblock.FileSystem, device norblock.BlockDevice, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	firstErr := fs.Mount(device)
	if firstErr == nil {
		return Result{}, nil
	}

	result := Result{FirstMountError: firstErr}
	logger.Printf("mount: first mount failed, formatting: %s", firstErr)

	err := fs.Format(device)
	if err != nil {
		logger.Printf("mount: format failed: %s", err)
		return result, norblock.ErrUnrecoverableFilesystem.WithMessage("format failed").Wrap(err)
	}
	result.Formatted = true

	err = fs.Mount(device)
	if err != nil {
		logger.Printf("mount: mount after format failed: %s", err)
		return result, norblock.ErrUnrecoverableFilesystem.WithMessage(
			"mount failed after format").Wrap(err)
	}

	logger.Print("mount: mounted freshly formatted file system")
	return result, nil
}
