// Package romulator drives a ROM emulator that stands in for the ECU's
// program chip, uploading and reading back 32 KiB firmware images.
package romulator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gavinwade12/consult/internal/syncutil"
	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
)

const (
	// ConnectionBaudRate is the baud rate (bits/s) used for the serial connection.
	ConnectionBaudRate int = 115200
	// ConnectionReadTimeout is how long the device has to answer a command.
	ConnectionReadTimeout time.Duration = time.Second

	// ROMSize is the size of a full image.
	ROMSize = 32768
	// BlockSize is the largest single transfer.
	BlockSize = 256

	hiddenWriteRetries = 5
)

// Wire bytes.
const (
	CommandVersion     byte = 'V'
	CommandWrite       byte = 'W'
	CommandRead        byte = 'R'
	CommandHiddenWrite byte = 'H'

	AckOK   byte = 'O'
	AckFail byte = 'F'
)

// VersionPrefix starts the device's reply to CommandVersion; the version
// byte follows.
var VersionPrefix = []byte{'R', 'U'}

// Romulator is a handle on one ROM emulator.
type Romulator struct {
	device  string
	logger  serialport.Logger
	opener  serialport.Opener
	timeout time.Duration

	mu      syncutil.Mutex
	link    *serialport.Link
	ready   atomic.Bool
	version byte
}

// Option configures a Romulator.
type Option func(*Romulator)

// WithOpener replaces the serial device opener.
func WithOpener(o serialport.Opener) Option {
	return func(r *Romulator) {
		r.opener = o
	}
}

// WithReadTimeout overrides ConnectionReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Romulator) {
		r.timeout = d
	}
}

// New returns an unopened Romulator on device.
func New(device string, l serialport.Logger, opts ...Option) *Romulator {
	if l == nil {
		l = serialport.NopLogger
	}
	r := &Romulator{
		device:  device,
		logger:  l,
		opener:  serialport.DefaultOpener,
		timeout: ConnectionReadTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Checksum is the low byte of the sum of the address, length byte and payload.
func Checksum(addr uint16, n int, payload []byte) byte {
	sum := byte(addr>>8) + byte(addr) + lengthByte(n)
	for _, b := range payload {
		sum += b
	}
	return sum
}

// lengthByte encodes n on the wire, where 0 stands for BlockSize.
func lengthByte(n int) byte {
	return byte(n % BlockSize)
}

// Init opens the device and asks it to identify itself. Ready reports true
// only after Init has succeeded.
func (r *Romulator) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	link, err := serialport.Open(r.device, serialport.Mode(ConnectionBaudRate), r.opener, r.timeout, r.logger)
	if err != nil {
		return errors.Wrap(ErrInitFail, err.Error())
	}

	v, err := r.identify(link)
	if err != nil {
		link.Close()
		return err
	}

	r.link = link
	r.version = v
	r.ready.Store(true)
	r.logger.Debugf("romulator version %d ready", v)
	return nil
}

func (r *Romulator) identify(link *serialport.Link) (byte, error) {
	if err := link.SendByte(CommandVersion); err != nil {
		return 0, errors.Wrap(ErrInitFail, err.Error())
	}

	reply := make([]byte, len(VersionPrefix)+1)
	if _, err := link.ReadFull(reply, r.timeout); err != nil {
		return 0, errors.Wrapf(ErrInitFail, "reading version: %v", err)
	}
	for i, b := range VersionPrefix {
		if reply[i] != b {
			return 0, errors.Wrapf(ErrInitFail, "unexpected version reply 0x%x", reply)
		}
	}
	return reply[len(VersionPrefix)], nil
}

// Ready reports whether Init has succeeded.
func (r *Romulator) Ready() bool {
	return r.ready.Load()
}

// Version returns the firmware version reported during Init.
func (r *Romulator) Version() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Port returns the open serial port, or nil before Init.
func (r *Romulator) Port() serialport.Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.link == nil {
		return nil
	}
	return r.link.Port()
}

// Close closes the device. Closing a closed Romulator does nothing.
func (r *Romulator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready.Store(false)
	if r.link == nil {
		return nil
	}
	link := r.link
	r.link = nil
	return errors.Wrap(link.Close(), "closing romulator link")
}

func (r *Romulator) activeLink(ctx context.Context) (*serialport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready.Load() || r.link == nil {
		return nil, errors.Wrap(ErrInitFail, "romulator not initialised")
	}
	return r.link, nil
}

func checkRange(addr uint16, n int) error {
	if n <= 0 || n > BlockSize {
		return errors.Wrapf(ErrDataLen, "block length %d, want 1 to %d", n, BlockSize)
	}
	if int(addr)+n > ROMSize {
		return errors.Wrapf(ErrDataLen, "0x%04x+%d runs past the end of the image", addr, n)
	}
	return nil
}

func (r *Romulator) readByte(link *serialport.Link, what string) (byte, error) {
	b, err := link.ReadByteWithTimeout(r.timeout)
	if err != nil {
		if errors.Is(err, serialport.ErrReadTimeout) {
			return 0, errors.Wrapf(ErrTimeout, "waiting for %s", what)
		}
		return 0, errors.Wrapf(ErrCommandFail, "waiting for %s: %v", what, err)
	}
	return b, nil
}

// WriteBuffer writes buf at addr and checks the device's checksum. On a
// mismatch the whole block must be sent again.
func (r *Romulator) WriteBuffer(ctx context.Context, addr uint16, buf []byte) error {
	if err := checkRange(addr, len(buf)); err != nil {
		return err
	}
	link, err := r.activeLink(ctx)
	if err != nil {
		return err
	}

	link.Lock()
	defer link.Unlock()
	link.Flush()

	msg := make([]byte, 0, 4+len(buf))
	msg = append(msg, CommandWrite, byte(addr>>8), byte(addr), lengthByte(len(buf)))
	msg = append(msg, buf...)
	if err = link.Send(msg); err != nil {
		return errors.Wrap(ErrCommandFail, err.Error())
	}

	got, err := r.readByte(link, "write checksum")
	if err != nil {
		return err
	}
	if want := Checksum(addr, len(buf), buf); got != want {
		return errors.Wrapf(ErrBadChecksum, "block 0x%04x: device 0x%02x, local 0x%02x", addr, got, want)
	}
	return nil
}

// ReadBuffer reads n bytes at addr.
func (r *Romulator) ReadBuffer(ctx context.Context, addr uint16, n int) ([]byte, error) {
	if err := checkRange(addr, n); err != nil {
		return nil, err
	}
	link, err := r.activeLink(ctx)
	if err != nil {
		return nil, err
	}

	link.Lock()
	defer link.Unlock()
	link.Flush()

	if err = link.Send([]byte{CommandRead, byte(addr >> 8), byte(addr), lengthByte(n)}); err != nil {
		return nil, errors.Wrap(ErrCommandFail, err.Error())
	}

	buf := make([]byte, n)
	if got, err := link.ReadFull(buf, r.timeout); err != nil {
		if errors.Is(err, serialport.ErrReadTimeout) {
			return nil, errors.Wrapf(ErrTimeout, "block 0x%04x cut short at %d of %d bytes", addr, got, n)
		}
		return nil, errors.Wrap(ErrCommandFail, err.Error())
	}

	got, err := r.readByte(link, "read checksum")
	if err != nil {
		return nil, err
	}
	if want := Checksum(addr, n, buf); got != want {
		return nil, errors.Wrapf(ErrBadChecksum, "block 0x%04x: device 0x%02x, local 0x%02x", addr, got, want)
	}
	return buf, nil
}

// HiddenWrite writes a single byte without the ECU seeing a glitch.
func (r *Romulator) HiddenWrite(ctx context.Context, addr uint16, data byte) error {
	if err := checkRange(addr, 1); err != nil {
		return err
	}
	link, err := r.activeLink(ctx)
	if err != nil {
		return err
	}

	return link.Exchange(func() error {
		link.Flush()
		if err := link.Send([]byte{CommandHiddenWrite, byte(addr >> 8), byte(addr), data}); err != nil {
			return errors.Wrap(ErrCommandFail, err.Error())
		}

		ack, err := r.readByte(link, "hidden write ack")
		if err != nil {
			return err
		}
		if ack != AckOK {
			return errors.Wrapf(ErrCommandFail, "hidden write to 0x%04x on %s answered 0x%02x", addr, link.Device(), ack)
		}
		return nil
	})
}

// HiddenWriteWithRetry tries HiddenWrite a fixed number of times before
// giving up with ErrCommandFail.
func (r *Romulator) HiddenWriteWithRetry(ctx context.Context, addr uint16, data byte) error {
	var err error
	for i := 1; i <= hiddenWriteRetries; i++ {
		err = r.HiddenWrite(ctx, addr, data)
		if err == nil {
			return nil
		}
		switch CodeOf(err) {
		case CodeDataLen, CodeInitFail, CodeUnknown:
			return err
		}
		r.logger.Debugf("hidden write attempt %d of %d failed: %v", i, hiddenWriteRetries, err)
	}
	return errors.Wrapf(ErrCommandFail, "hidden write to 0x%04x failed %d times: %v", addr, hiddenWriteRetries, err)
}
