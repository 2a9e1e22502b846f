// This is the status-code vocabulary spoken by flash transport drivers. The
// values follow the conventions of vendor board-support packages: zero is
// success, and failures are small negative integers.

package transport

import (
	"fmt"
)

// Status is a driver status code. It implements `error` so drivers can return
// a Status directly; StatusOK should never be returned as an error.
type Status int

var statusMessagesByCode map[Status]string

const (
	StatusOK                  Status = 0
	StatusNoInit              Status = -1
	StatusWrongParam          Status = -2
	StatusBusy                Status = -3
	StatusPeripheralFailure   Status = -4
	StatusComponentFailure    Status = -5
	StatusUnknownFailure      Status = -6
	StatusUnknownComponent    Status = -7
	StatusBusError            Status = -8
	StatusClockFailure        Status = -9
	StatusMSPFailure          Status = -10
	StatusFeatureNotSupported Status = -11
)

func init() {
	statusMessagesByCode = make(map[Status]string, 12)
	statusMessagesByCode[StatusOK] = "No error"
	statusMessagesByCode[StatusNoInit] = "Driver not initialized"
	statusMessagesByCode[StatusWrongParam] = "Wrong parameter"
	statusMessagesByCode[StatusBusy] = "Device busy"
	statusMessagesByCode[StatusPeripheralFailure] = "Peripheral failure"
	statusMessagesByCode[StatusComponentFailure] = "Component failure"
	statusMessagesByCode[StatusUnknownFailure] = "Unknown failure"
	statusMessagesByCode[StatusUnknownComponent] = "Unknown component"
	statusMessagesByCode[StatusBusError] = "Bus error"
	statusMessagesByCode[StatusClockFailure] = "Clock failure"
	statusMessagesByCode[StatusMSPFailure] = "MSP failure"
	statusMessagesByCode[StatusFeatureNotSupported] = "Feature not supported"
}

// StrStatus returns a human-readable description of a status code.
func StrStatus(code Status) string {
	message, ok := statusMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("status %d not recognized", int(code))
}

// Error implements the `error` interface.
func (s Status) Error() string {
	return StrStatus(s)
}

// Known reports whether the code is one of the defined statuses.
func (s Status) Known() bool {
	_, ok := statusMessagesByCode[s]
	return ok
}

// StatusError is a status code with a message giving more detail about what
// the driver was doing when it failed.
type StatusError struct {
	Status  Status
	message string
}

// NewWithMessage creates a [StatusError] with a custom message appended to
// the default description of the code.
func NewWithMessage(code Status, message string) StatusError {
	return StatusError{
		Status:  code,
		message: fmt.Sprintf("%s: %s", StrStatus(code), message),
	}
}

func (e StatusError) Error() string {
	return e.message
}

// Unwrap returns the bare status code so callers can use [errors.Is] with a
// Status as the target.
func (e StatusError) Unwrap() error {
	return e.Status
}
