// Package serialport is the byte-level transport shared by the Consult,
// romulator and wideband engines.
package serialport

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of a serial port the link needs. go.bug.st/serial
// ports satisfy it, as does FakePort.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long Read waits for data. A timed out Read
	// returns 0 bytes and a nil error.
	SetReadTimeout(t time.Duration) error
	// ResetInputBuffer drops any received but unread bytes.
	ResetInputBuffer() error
}

// Opener opens the named device with the given mode.
type Opener func(device string, mode *serial.Mode) (Port, error)

// DefaultOpener opens a real serial device.
func DefaultOpener(device string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StaticOpener always hands out p, regardless of the device name. It's used
// to attach simulators in place of hardware.
func StaticOpener(p Port) Opener {
	return func(string, *serial.Mode) (Port, error) {
		return p, nil
	}
}

// Mode returns an 8N1 serial mode at the given baud rate.
func Mode(baudRate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialPort describes a serial port on the host.
type SerialPort struct {
	PortName    string
	Description string
	IsUSB       bool
}

// AvailablePorts returns all available serial ports on the current host.
func AvailablePorts() ([]SerialPort, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating serial ports")
	}

	ports := make([]SerialPort, len(list))
	for i, p := range list {
		ports[i] = SerialPort{
			PortName:    p.Name,
			Description: p.Product,
			IsUSB:       p.IsUSB,
		}
	}

	return ports, nil
}
