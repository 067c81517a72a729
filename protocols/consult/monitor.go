package consult

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	// MaxMonitorParameters is the most parameters one session can poll.
	MaxMonitorParameters = 20
	// MaxConsecutiveErrors is how many cycles in a row may fail before the
	// session gives up.
	MaxConsecutiveErrors = 5

	snapshotBuffer = 10
)

// Value is one converted parameter reading.
type Value struct {
	Parameter *Parameter
	Value     float64
}

// Snapshot is one complete monitor cycle. Values are in the order the
// parameters were requested.
type Snapshot struct {
	Values []Value
	Time   time.Time
}

// MonitorCallback receives each snapshot of a session, in cycle order and
// never concurrently. It must not call StopMonitor.
type MonitorCallback func(s Snapshot)

type monitorSession struct {
	params    []*Parameter
	stop      atomic.Bool
	snapshots chan Snapshot
	polled    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	mu  sync.Mutex
	err error
}

func (s *monitorSession) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *monitorSession) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartMonitor starts polling ids in the background, calling cb with
// every complete snapshot. Everything is validated before the ECU is
// touched. ctx bounds the session's lifetime; StopMonitor ends it early.
func (c *Connection) StartMonitor(ctx context.Context, ids []ParameterID, cb MonitorCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialised {
		return errors.WithStack(ErrNotInitialised)
	}
	if len(ids) == 0 || len(ids) > MaxMonitorParameters {
		return errors.Wrapf(ErrParamInvalid, "%d parameters requested, want 1 to %d", len(ids), MaxMonitorParameters)
	}
	if cb == nil {
		return errors.Wrap(ErrParamInvalid, "no monitor callback")
	}

	params := make([]*Parameter, len(ids))
	for i, id := range ids {
		p, ok := ParameterByID(id)
		if !ok {
			return errors.Wrapf(ErrParamInvalid, "unknown parameter id %d", id)
		}
		params[i] = p
	}

	if c.monitor != nil {
		return errors.Wrap(ErrStateInvalid, "a monitor session is already running")
	}

	s := &monitorSession{
		params:    params,
		snapshots: make(chan Snapshot, snapshotBuffer),
		polled:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.monitor = s
	c.monitorErr = nil

	c.logger.Debugf("starting monitor for %d parameters", len(params))
	go c.poll(ctx, s)
	go dispatch(s, cb)
	return nil
}

// poll runs monitor cycles until the session is stopped or fails.
func (c *Connection) poll(ctx context.Context, s *monitorSession) {
	defer close(s.polled)
	defer close(s.snapshots)

	failures := 0
	for !s.stop.Load() {
		if err := ctx.Err(); err != nil {
			s.setErr(err)
			return
		}

		snap, err := c.cycle(ctx, s.params)
		if err != nil {
			if !transient(err) {
				c.logger.Debugf("monitor stopping: %v", err)
				s.setErr(err)
				return
			}

			failures++
			c.logger.Debugf("monitor cycle failed (%d in a row): %v", failures, err)
			if failures >= MaxConsecutiveErrors {
				s.setErr(errors.Wrapf(err, "%d consecutive monitor cycles failed", failures))
				return
			}
			continue
		}
		failures = 0

		select {
		case s.snapshots <- snap:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}

// cycle reads every parameter once, one exchange per parameter. Any failure
// discards the whole cycle.
func (c *Connection) cycle(ctx context.Context, params []*Parameter) (Snapshot, error) {
	values := make([]Value, len(params))
	for i, p := range params {
		raw, err := c.ReadRegisters(ctx, p.Registers()...)
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "reading %s", p.Name)
		}
		values[i] = Value{Parameter: p, Value: p.Value(raw)}
	}
	return Snapshot{Values: values, Time: c.clock.Now()}, nil
}

func dispatch(s *monitorSession, cb MonitorCallback) {
	defer close(s.done)
	for snap := range s.snapshots {
		cb(snap)
	}
}

// StopMonitor ends the running monitor session, waits for its last
// callback to return and tells the ECU to stop streaming. Without a
// session it does nothing.
func (c *Connection) StopMonitor() error {
	c.mu.Lock()
	s := c.monitor
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	s.stop.Store(true)
	<-s.polled
	<-s.done

	var err error
	s.stopOnce.Do(func() {
		err = c.sendStopStream()
		c.mu.Lock()
		if c.monitor == s {
			c.monitor = nil
			c.monitorErr = s.getErr()
		}
		c.mu.Unlock()
		c.logger.Debug("monitor stopped")
	})
	return err
}

func (c *Connection) sendStopStream() error {
	link, err := c.activeLink()
	if err != nil {
		return nil
	}

	link.Lock()
	defer link.Unlock()
	if err = link.SendByte(byte(CommandStopStream)); err != nil {
		return errors.Wrap(err, "sending stop stream")
	}
	if err = awaitStreamStop(link, c.timeout); err != nil {
		c.logger.Debugf("no stream stop acknowledgement: %v", err)
	}
	return nil
}

// MonitorRunning reports whether a session has been started and not yet
// stopped. A session that ended on its own still counts until StopMonitor.
func (c *Connection) MonitorRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor != nil
}

// MonitorDone returns a channel closed once the current session's loop has
// exited and its last callback has returned. Without a session the channel
// is already closed.
func (c *Connection) MonitorDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitor == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.monitor.done
}

// MonitorErr returns the error that ended the current or most recently
// stopped session, or nil if it hasn't failed.
func (c *Connection) MonitorErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitor != nil {
		return c.monitor.getErr()
	}
	return c.monitorErr
}
