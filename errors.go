package norblock

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every layer of the flash core. Use
// [errors.Is] against the exported sentinels to classify a failure; the
// message carries the details (block number, address, state).
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseError string

const rootError = baseError("")

// Fatal at initialization: the chip isn't the one every address computation
// assumes.
var ErrGeometryMismatch = rootError.WithMessage("Flash geometry mismatch")

// A caller asked the erase state machine for a transition it doesn't allow.
// This is a contract violation on the caller's side.
var ErrInvalidStateTransition = rootError.WithMessage("Invalid erase state transition")

// Hardware failures. These are surfaced to the file system and never retried.
var ErrProgramFailed = rootError.WithMessage("Program failed")
var ErrEraseFailed = rootError.WithMessage("Erase failed")
var ErrReadFailed = rootError.WithMessage("Read failed")

// Recoverable: retry once the outstanding erase or program settles.
var ErrMapUnavailable = rootError.WithMessage("Memory-mapped mode unavailable")

// Fatal after one format and remount attempt.
var ErrUnrecoverableFilesystem = rootError.WithMessage("Unrecoverable file system")

var ErrTimeout = rootError.WithMessage("Timed out waiting for flash")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrOutOfRange = rootError.WithMessage("Address out of range")
var ErrBusy = rootError.WithMessage("Device or resource busy")
var ErrBadBlock = rootError.WithMessage("Block marked bad")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrNotInitialized = rootError.WithMessage("Device not initialized")

func (e baseError) Error() string {
	return string(e)
}

func (e baseError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
