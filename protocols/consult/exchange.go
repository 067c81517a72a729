package consult

import (
	"context"
	"time"

	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
)

// command is one command byte with its arguments.
type command struct {
	code Command
	args []byte
}

// request is everything sent in one exchange. length is the payload length
// the reply must have; zero accepts any length.
type request struct {
	commands []command
	length   int
}

// bytes returns the request as sent on the wire, terminated by CommandTerm.
func (r request) bytes() []byte {
	b := make([]byte, 0, len(r.commands)*3+1)
	for _, c := range r.commands {
		b = append(b, byte(c.code))
		b = append(b, c.args...)
	}
	return append(b, byte(CommandTerm))
}

// echo returns what the ECU sends back before its first frame.
func (r request) echo() []byte {
	b := make([]byte, 0, len(r.commands)*3)
	for _, c := range r.commands {
		b = append(b, c.code.echo())
		b = append(b, c.args...)
	}
	return b
}

type exchangeState int

const (
	stateIdle exchangeState = iota
	stateCommandSent
	stateAwaitStartByte
	stateReceiving
	stateComplete
	stateFailed
)

func (s exchangeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCommandSent:
		return "command sent"
	case stateAwaitStartByte:
		return "awaiting start byte"
	case stateReceiving:
		return "receiving"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// exchange runs one command/response cycle while holding the link: send
// the request, check the echo, read one frame and stop the stream.
func (c *Connection) exchange(ctx context.Context, r request) ([]byte, error) {
	link, err := c.activeLink()
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	link.Lock()
	defer link.Unlock()

	x := &exchanger{link: link, logger: c.logger, timeout: c.timeout}
	payload, err := x.run(r)
	if x.received {
		// The ECU keeps streaming frames until told to stop.
		if serr := x.stopStream(); serr != nil {
			c.logger.Debugf("stopping stream: %v", serr)
		}
	}
	return payload, err
}

type exchanger struct {
	link     *serialport.Link
	logger   serialport.Logger
	timeout  time.Duration
	state    exchangeState
	received bool
}

func (x *exchanger) transition(s exchangeState) {
	x.logger.Debugf("exchange: %s -> %s", x.state, s)
	x.state = s
}

func (x *exchanger) fail(err error) ([]byte, error) {
	x.transition(stateFailed)
	return nil, err
}

func (x *exchanger) read() (byte, error) {
	b, err := x.link.ReadByteWithTimeout(x.timeout)
	if err == nil {
		x.received = true
	}
	return b, err
}

func (x *exchanger) run(r request) ([]byte, error) {
	x.state = stateIdle
	x.link.Flush()

	if err := x.link.Send(r.bytes()); err != nil {
		return x.fail(err)
	}
	x.transition(stateCommandSent)

	for i, want := range r.echo() {
		b, err := x.read()
		if err != nil {
			if !x.received {
				return x.fail(errors.Wrap(ErrNoResponse, err.Error()))
			}
			return x.fail(errors.Wrapf(ErrNoStartByte, "echo cut short after %d bytes", i))
		}
		if b != want {
			return x.fail(errors.Wrapf(ErrInvalidResponse, "echo byte %d was 0x%02x, want 0x%02x", i, b, want))
		}
	}
	x.transition(stateAwaitStartByte)

	for skipped := 0; ; skipped++ {
		if skipped == maxBytesBeforeStartByte {
			return x.fail(errors.Wrapf(ErrNoStartByte, "skipped %d bytes", skipped))
		}
		b, err := x.read()
		if err != nil {
			if !x.received {
				return x.fail(errors.Wrap(ErrNoResponse, err.Error()))
			}
			return x.fail(errors.Wrap(ErrNoStartByte, err.Error()))
		}
		if b == FrameStartByte {
			break
		}
		x.logger.Debugf("skipping 0x%02x while waiting for start byte", b)
	}
	x.transition(stateReceiving)

	n, err := x.read()
	if err != nil {
		return x.fail(errors.Wrap(ErrReadSerialDev, "reading frame length"))
	}
	if r.length > 0 && int(n) != r.length {
		return x.fail(errors.Wrapf(ErrInvalidResponse, "frame has %d bytes, want %d", n, r.length))
	}

	payload := make([]byte, n)
	if got, err := x.link.ReadFull(payload, x.timeout); err != nil {
		return x.fail(errors.Wrapf(ErrReadSerialDev, "frame cut short at %d of %d bytes", got, n))
	}
	serialport.LogBytes(x.logger, payload, "received: ")

	x.transition(stateComplete)
	return payload, nil
}

// stopStream sends CommandStopStream and waits for the ECU to acknowledge
// it, discarding any frames still in flight.
func (x *exchanger) stopStream() error {
	if err := x.link.SendByte(byte(CommandStopStream)); err != nil {
		return err
	}
	return awaitStreamStop(x.link, x.timeout)
}

func awaitStreamStop(link *serialport.Link, timeout time.Duration) error {
	for i := 0; i < maxBytesBeforeStreamStop; i++ {
		b, err := link.ReadByteWithTimeout(timeout)
		if err != nil {
			return errors.Wrap(err, "waiting for stream stop")
		}
		if b == CommandStopStreamAck {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidResponse, "stream didn't stop")
}
