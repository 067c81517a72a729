package serialport

import "github.com/pkg/errors"

// Link-level failures. The protocol packages re-export these under their
// own names so callers can match them without importing this package.
var (
	// ErrReadTimeout is returned when no byte arrives before the read deadline.
	ErrReadTimeout = errors.New("read timed out")
	// ErrOpenSerialDev is returned when the serial device can't be opened or configured.
	ErrOpenSerialDev = errors.New("unable to open serial device")
	// ErrCloseSerialDev is returned when closing the serial device fails.
	ErrCloseSerialDev = errors.New("unable to close serial device")
	// ErrWriteSerialDev is returned when a write to the device fails or is short.
	ErrWriteSerialDev = errors.New("unable to write to serial device")
	// ErrReadSerialDev is returned when a read from the device fails.
	ErrReadSerialDev = errors.New("unable to read from serial device")
)
