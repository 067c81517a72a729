// Package consult talks to Nissan ECUs over the Consult diagnostic link.
package consult

import (
	"context"
	"time"

	"github.com/gavinwade12/consult/internal/syncutil"
	"github.com/gavinwade12/consult/serialport"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

const (
	// ConnectionBaudRate is the baud rate (bits/s) used for the serial connection.
	ConnectionBaudRate int = 9600
	// ConnectionReadTimeout is how long a single byte read waits before
	// giving up.
	ConnectionReadTimeout time.Duration = time.Second
)

// Connection is a handle on one ECU. It's created by NewConnection, opened
// by Init and released by Close. Every command/response cycle holds the
// underlying link exclusively, so foreground calls and a running monitor
// session can share a Connection.
type Connection struct {
	device  string
	logger  serialport.Logger
	opener  serialport.Opener
	clock   clockwork.Clock
	timeout time.Duration

	mu          syncutil.Mutex
	link        *serialport.Link
	initialised bool
	monitor     *monitorSession
	monitorErr  error
}

// Option configures a Connection.
type Option func(*Connection)

// WithOpener replaces the serial device opener, typically with a simulator.
func WithOpener(o serialport.Opener) Option {
	return func(c *Connection) {
		c.opener = o
	}
}

// WithClock sets the clock used to timestamp monitor snapshots.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) {
		c.clock = clock
	}
}

// WithReadTimeout overrides ConnectionReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.timeout = d
	}
}

// NewConnection returns an unopened Connection to the ECU on device.
func NewConnection(device string, l serialport.Logger, opts ...Option) *Connection {
	if l == nil {
		l = serialport.NopLogger
	}
	c := &Connection{
		device:  device,
		logger:  l,
		opener:  serialport.DefaultOpener,
		clock:   clockwork.NewRealClock(),
		timeout: ConnectionReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Device returns the device path the Connection was created for.
func (c *Connection) Device() string {
	return c.device
}

// Initialised reports whether Init has succeeded and Close hasn't been called since.
func (c *Connection) Initialised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialised
}

// Init opens the serial device and performs the wake-up handshake, trying up
// to tries times. Calling Init on an initialised Connection does nothing.
func (c *Connection) Init(ctx context.Context, tries int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialised {
		return nil
	}
	if tries < 1 {
		tries = 1
	}

	link, err := serialport.Open(c.device, serialport.Mode(ConnectionBaudRate), c.opener, c.timeout, c.logger)
	if err != nil {
		return errors.Wrap(err, "opening ECU link")
	}

	for i := 1; i <= tries; i++ {
		if err = ctx.Err(); err != nil {
			link.Close()
			return err
		}

		c.logger.Debugf("ECU init attempt %d of %d", i, tries)
		err = c.handshake(link)
		if err == nil {
			c.link = link
			c.initialised = true
			c.logger.Debug("ECU initialised")
			return nil
		}
		if errors.Is(err, ErrWriteSerialDev) {
			link.Close()
			return errors.Wrap(err, "sending init sequence")
		}

		c.logger.Debugf("ECU init attempt %d failed: %v", i, err)
		link.Flush()
	}

	link.Close()
	return errors.Wrapf(ErrNotInitialised, "no init response after %d tries: %v", tries, err)
}

func (c *Connection) handshake(link *serialport.Link) error {
	if err := link.Send(InitSequence); err != nil {
		return err
	}

	deadline := time.Now().Add(c.timeout)
	for {
		b, err := link.ReadByteWithTimeout(time.Until(deadline))
		if err != nil {
			return err
		}
		if b == InitResponse {
			return nil
		}
		c.logger.Debugf("ignoring 0x%02x while waiting for init response", b)
	}
}

// Close stops any monitor session and closes the serial device. Closing a
// closed or never opened Connection does nothing.
func (c *Connection) Close() error {
	if err := c.StopMonitor(); err != nil {
		c.logger.Debugf("stopping monitor before close: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil {
		return nil
	}
	link := c.link
	c.link = nil
	c.initialised = false

	if err := link.Close(); err != nil {
		return errors.Wrap(err, "closing ECU link")
	}
	return nil
}

// Port returns the open serial port, or nil before Init.
func (c *Connection) Port() serialport.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	return c.link.Port()
}

// activeLink returns the link of an initialised Connection.
func (c *Connection) activeLink() (*serialport.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialised || c.link == nil {
		return nil, errors.WithStack(ErrNotInitialised)
	}
	return c.link, nil
}

// ProcessData discards whatever the ECU has sent unprompted, for callers
// that poll the port from their own event loop. It returns the number of
// bytes consumed and fails with ErrBusy while a monitor session owns the
// stream.
func (c *Connection) ProcessData() (int, error) {
	link, err := c.activeLink()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	busy := c.monitor != nil
	c.mu.Unlock()
	if busy {
		return 0, errors.WithStack(ErrBusy)
	}

	link.Lock()
	defer link.Unlock()
	n := link.Drain(10 * time.Millisecond)
	if n > 0 {
		c.logger.Debugf("discarded %d unsolicited bytes", n)
	}
	return n, nil
}

// ReadFaultCodes reads the ECU's self-diagnostic table. At most
// MaxFaultCodes entries are returned; the table ends early at the
// no-malfunction code.
func (c *Connection) ReadFaultCodes(ctx context.Context) ([]FaultCode, error) {
	payload, err := c.exchange(ctx, request{commands: []command{{code: CommandReadFaultCodes}}})
	if err != nil {
		return nil, errors.Wrap(err, "reading fault codes")
	}
	if len(payload)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidResponse, "fault code reply has odd length %d", len(payload))
	}

	codes := make([]FaultCode, 0, len(payload)/2)
	for i := 0; i+1 < len(payload) && len(codes) < MaxFaultCodes; i += 2 {
		if payload[i] == FaultCodeNoMalfunction {
			break
		}
		codes = append(codes, FaultCode{Code: payload[i], Starts: payload[i+1]})
	}
	return codes, nil
}

// ResetFaultCodes clears the ECU's self-diagnostic table. Clearing an empty
// table succeeds. The reset is sent once and never retried.
func (c *Connection) ResetFaultCodes(ctx context.Context) error {
	_, err := c.exchange(ctx, request{commands: []command{{code: CommandResetFaultCodes}}})
	return errors.Wrap(err, "resetting fault codes")
}

// ReadPartNumber reads the ECU's identification block.
func (c *Connection) ReadPartNumber(ctx context.Context) ([]byte, error) {
	payload, err := c.exchange(ctx, request{
		commands: []command{{code: CommandReadPartNumber}},
		length:   PartNumberLength,
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading part number")
	}
	return payload, nil
}

// ReadROMByte reads one byte of the ECU's program memory.
func (c *Connection) ReadROMByte(ctx context.Context, addr uint16) (byte, error) {
	payload, err := c.exchange(ctx, request{
		commands: []command{{code: CommandReadROMByte, args: []byte{byte(addr >> 8), byte(addr)}}},
		length:   1,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "reading ROM byte 0x%04x", addr)
	}
	return payload[0], nil
}

// ReadRegisters reads the given registers in one exchange and returns their
// raw values in the same order.
func (c *Connection) ReadRegisters(ctx context.Context, regs ...Register) ([]byte, error) {
	if len(regs) == 0 || len(regs) > MaxRegistersPerExchange {
		return nil, errors.Wrapf(ErrDataLen, "can't read %d registers at once", len(regs))
	}

	cmds := make([]command, len(regs))
	for i, r := range regs {
		if r == RegisterNull {
			return nil, errors.Wrap(ErrParamInvalid, "reading the null register")
		}
		cmds[i] = command{code: CommandReadRegister, args: []byte{byte(r)}}
	}

	payload, err := c.exchange(ctx, request{commands: cmds, length: len(regs)})
	if err != nil {
		return nil, errors.Wrap(err, "reading registers")
	}
	return payload, nil
}
