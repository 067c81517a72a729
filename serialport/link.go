package serialport

import (
	"sync/atomic"
	"time"

	"github.com/gavinwade12/consult/internal/syncutil"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultReadTimeout is used by RecvByte when the link was opened without
// an explicit timeout.
const DefaultReadTimeout = time.Second

// Link owns one serial port and serializes command/response cycles on it.
// Only one goroutine may read at a time; engines take the exchange lock
// with Lock or Exchange before transmitting.
type Link struct {
	mu syncutil.Mutex

	device  string
	port    Port
	logger  Logger
	timeout time.Duration
	closed  atomic.Bool

	buf [1]byte
}

// NewLink wraps an already opened port.
func NewLink(device string, port Port, timeout time.Duration, l Logger) *Link {
	if l == nil {
		l = NopLogger
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Link{
		device:  device,
		port:    port,
		logger:  l,
		timeout: timeout,
	}
}

// Open opens device with mode through opener (DefaultOpener when nil) and
// drops anything already sitting in the input buffer.
func Open(device string, mode *serial.Mode, opener Opener, timeout time.Duration, l Logger) (*Link, error) {
	if opener == nil {
		opener = DefaultOpener
	}
	if l == nil {
		l = NopLogger
	}

	l.Debugf("opening serial port %s", device)
	p, err := opener(device, mode)
	if err != nil {
		return nil, errors.Wrapf(ErrOpenSerialDev, "opening serial port '%s': %v", device, err)
	}

	link := NewLink(device, p, timeout, l)
	if err = p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, errors.Wrapf(ErrOpenSerialDev, "resetting input buffer: %v", err)
	}

	return link, nil
}

// Device returns the device path the link was opened with.
func (l *Link) Device() string {
	return l.device
}

// Port returns the underlying port, for callers integrating the link into
// their own event loop.
func (l *Link) Port() Port {
	return l.port
}

// Timeout returns the link's default read timeout.
func (l *Link) Timeout() time.Duration {
	return l.timeout
}

// Lock takes exclusive use of the link for a command/response cycle.
func (l *Link) Lock() {
	l.mu.Lock()
}

// Unlock releases the link.
func (l *Link) Unlock() {
	l.mu.Unlock()
}

// Exchange runs fn while holding the link.
func (l *Link) Exchange(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// ReadByteWithTimeout waits up to d for a single byte. The wait is measured
// against the wall clock, so ErrReadTimeout is never returned before d has
// passed even if the port wakes up early.
func (l *Link) ReadByteWithTimeout(d time.Duration) (byte, error) {
	if l.closed.Load() {
		return 0, errors.Wrap(ErrReadSerialDev, "link is closed")
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, errors.WithStack(ErrReadTimeout)
		}
		if err := l.port.SetReadTimeout(remaining); err != nil {
			return 0, errors.Wrapf(ErrReadSerialDev, "setting read timeout: %v", err)
		}

		n, err := l.port.Read(l.buf[:])
		if err != nil {
			return 0, errors.Wrapf(ErrReadSerialDev, "reading byte: %v", err)
		}
		if n == 1 {
			return l.buf[0], nil
		}
	}
}

// RecvByte reads a single byte using the link's default timeout.
func (l *Link) RecvByte() (byte, error) {
	return l.ReadByteWithTimeout(l.timeout)
}

// ReadFull reads len(b) bytes, each within d of the previous one.
func (l *Link) ReadFull(b []byte, d time.Duration) (int, error) {
	for i := range b {
		c, err := l.ReadByteWithTimeout(d)
		if err != nil {
			return i, err
		}
		b[i] = c
	}
	return len(b), nil
}

// SendByte writes a single byte.
func (l *Link) SendByte(b byte) error {
	return l.Send([]byte{b})
}

// Send writes b in full.
func (l *Link) Send(b []byte) error {
	if l.closed.Load() {
		return errors.Wrap(ErrWriteSerialDev, "link is closed")
	}

	LogBytes(l.logger, b, "sending: ")
	n, err := l.port.Write(b)
	if err != nil {
		return errors.Wrapf(ErrWriteSerialDev, "writing %d bytes: %v", len(b), err)
	}
	if n != len(b) {
		return errors.Wrapf(ErrWriteSerialDev, "only wrote %d bytes (wanted %d)", n, len(b))
	}
	return nil
}

// Flush drops any pending input.
func (l *Link) Flush() error {
	if err := l.port.ResetInputBuffer(); err != nil {
		return errors.Wrapf(ErrReadSerialDev, "resetting input buffer: %v", err)
	}
	return nil
}

// Drain reads and discards bytes until the line has been quiet for d.
// It returns the number of bytes discarded.
func (l *Link) Drain(d time.Duration) int {
	count := 0
	for {
		if _, err := l.ReadByteWithTimeout(d); err != nil {
			return count
		}
		count++
	}
}

// Closed reports whether Close has been called.
func (l *Link) Closed() bool {
	return l.closed.Load()
}

// Close closes the port. Closing an already closed link is a no-op.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Debugf("closing serial port %s", l.device)
	if err := l.port.Close(); err != nil {
		return errors.Wrapf(ErrCloseSerialDev, "closing '%s': %v", l.device, err)
	}
	return nil
}
