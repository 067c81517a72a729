// Package wbo2 reads air/fuel ratios from an Innovate LC-1 wideband
// controller, which streams MTS frames without being asked.
package wbo2

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gavinwade12/consult/internal/syncutil"
	"github.com/gavinwade12/consult/serialport"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

const (
	// ConnectionBaudRate is the baud rate (bits/s) used for the serial connection.
	ConnectionBaudRate int = 19200
	// ConnectionReadTimeout is how long the stream may stay quiet before a
	// read gives up.
	ConnectionReadTimeout time.Duration = time.Second
	// MaxConsecutiveErrors is how many unreadable frames in a row end a
	// monitor session.
	MaxConsecutiveErrors = 5

	maxFrameBytes = 2 + 2*MaxFrameWords
	maxScanBytes  = 2 * maxFrameBytes
)

// Sample is the reading carried by one frame.
type Sample struct {
	Function Function
	AFR      float32
	Lambda   float32
	Time     time.Time
}

// Valid reports whether the sample holds a lambda reading rather than a
// status report.
func (s Sample) Valid() bool {
	return s.Function == FunctionLambda
}

// MonitorCallback receives the AFR of every frame that carries one, in
// stream order and never concurrently. It must not call StopMonitor.
type MonitorCallback func(afr float32)

// Sensor is a handle on one wideband controller.
type Sensor struct {
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
	last        Sample

	// decoder is only touched with the link locked.
	decoder Decoder
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithOpener replaces the serial device opener.
func WithOpener(o serialport.Opener) Option {
	return func(s *Sensor) {
		s.opener = o
	}
}

// WithClock sets the clock used to timestamp samples.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Sensor) {
		s.clock = clock
	}
}

// WithReadTimeout overrides ConnectionReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Sensor) {
		s.timeout = d
	}
}

// NewSensor returns an unopened Sensor on device.
func NewSensor(device string, l serialport.Logger, opts ...Option) *Sensor {
	if l == nil {
		l = serialport.NopLogger
	}
	s := &Sensor{
		device:  device,
		logger:  l,
		opener:  serialport.DefaultOpener,
		clock:   clockwork.NewRealClock(),
		timeout: ConnectionReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens the device and waits for the controller's first frame, trying
// up to tries times. Calling Init on an initialised Sensor does nothing.
func (s *Sensor) Init(ctx context.Context, tries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialised {
		return nil
	}
	if tries < 1 {
		tries = 1
	}

	link, err := serialport.Open(s.device, serialport.Mode(ConnectionBaudRate), s.opener, s.timeout, s.logger)
	if err != nil {
		return errors.Wrap(err, "opening WBO2 link")
	}

	for i := 1; i <= tries; i++ {
		if err = ctx.Err(); err != nil {
			link.Close()
			return err
		}

		s.logger.Debugf("WBO2 init attempt %d of %d", i, tries)
		link.Lock()
		s.decoder.Reset()
		var sample Sample
		sample, err = s.readSample(link)
		link.Unlock()
		if err == nil {
			s.link = link
			s.initialised = true
			s.last = sample
			s.logger.Debugf("WBO2 initialised, controller %s", sample.Function)
			return nil
		}
		if !transient(err) {
			link.Close()
			return errors.Wrap(err, "waiting for first frame")
		}
		s.logger.Debugf("WBO2 init attempt %d failed: %v", i, err)
	}

	link.Close()
	return errors.Wrapf(ErrNotInitialised, "no frame after %d tries: %v", tries, err)
}

// readSample reads until one frame completes. Corrupt frames are skipped
// within a bounded number of bytes.
func (s *Sensor) readSample(link *serialport.Link) (Sample, error) {
	var lastErr error
	for got := 0; got < maxScanBytes; got++ {
		b, err := link.RecvByte()
		if err != nil {
			if !errors.Is(err, ErrReadTimeout) {
				return Sample{}, err
			}
			if got == 0 {
				return Sample{}, errors.Wrap(ErrNoResponse, "waiting for WBO2 data")
			}
			return Sample{}, errors.Wrapf(err, "stream stalled after %d bytes", got)
		}

		f, err := s.decoder.DecodeByte(b)
		if err != nil {
			s.logger.Debugf("dropping frame: %v", err)
			lastErr = err
			continue
		}
		if f == nil {
			continue
		}

		sample := Sample{Time: s.clock.Now()}
		if p, ok := f.Reading(); ok {
			sample.AFR = p.AFR()
			sample.Lambda = p.Lambda()
		} else if fn, ok := f.Status(); ok {
			sample.Function = fn
		} else {
			// aux inputs only
			continue
		}
		return sample, nil
	}

	if lastErr == nil {
		lastErr = ErrInvalidResponse
	}
	return Sample{}, errors.Wrapf(lastErr, "no frame in %d bytes", maxScanBytes)
}

func (s *Sensor) activeLink() (*serialport.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialised || s.link == nil {
		return nil, errors.WithStack(ErrNotInitialised)
	}
	return s.link, nil
}

func (s *Sensor) next(link *serialport.Link) (Sample, error) {
	link.Lock()
	sample, err := s.readSample(link)
	link.Unlock()
	if err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	s.last = sample
	s.mu.Unlock()
	return sample, nil
}

// ProcessData reads the next frame for callers running their own event
// loop instead of a monitor session. Status frames are returned too; check
// Sample.Valid.
func (s *Sensor) ProcessData() (Sample, error) {
	link, err := s.activeLink()
	if err != nil {
		return Sample{}, err
	}
	if s.MonitorRunning() {
		return Sample{}, errors.Wrap(ErrStateInvalid, "a monitor session owns the stream")
	}
	return s.next(link)
}

// Last returns the most recent sample seen by Init, ProcessData or a
// monitor session.
func (s *Sensor) Last() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.initialised
}

// Initialised reports whether Init has succeeded and Close hasn't been called since.
func (s *Sensor) Initialised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialised
}

// Port returns the open serial port, or nil before Init.
func (s *Sensor) Port() serialport.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	return s.link.Port()
}

// Close stops any monitor session and closes the device. Closing a closed
// Sensor does nothing.
func (s *Sensor) Close() error {
	s.StopMonitor()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialised = false
	if s.link == nil {
		return nil
	}
	link := s.link
	s.link = nil
	return errors.Wrap(link.Close(), "closing WBO2 link")
}

type monitorSession struct {
	stop atomic.Bool
	done chan struct{}
	err  error
}

// StartMonitor reads the stream in the background, calling cb with every
// AFR reading. The cadence is the controller's own output rate. ctx bounds
// the session's lifetime; StopMonitor ends it early.
func (s *Sensor) StartMonitor(ctx context.Context, cb MonitorCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialised {
		return errors.WithStack(ErrNotInitialised)
	}
	if cb == nil {
		return errors.Wrap(ErrParamInvalid, "no monitor callback")
	}
	if s.monitor != nil {
		return errors.Wrap(ErrStateInvalid, "a monitor session is already running")
	}

	m := &monitorSession{done: make(chan struct{})}
	s.monitor = m
	s.monitorErr = nil

	s.logger.Debug("starting WBO2 monitor")
	go s.stream(ctx, s.link, m, cb)
	return nil
}

func (s *Sensor) stream(ctx context.Context, link *serialport.Link, m *monitorSession, cb MonitorCallback) {
	defer close(m.done)

	failures := 0
	for !m.stop.Load() {
		if err := ctx.Err(); err != nil {
			m.err = err
			return
		}

		sample, err := s.next(link)
		if err != nil {
			if !transient(err) {
				s.logger.Debugf("WBO2 monitor stopping: %v", err)
				m.err = err
				return
			}
			failures++
			s.logger.Debugf("WBO2 read failed (%d in a row): %v", failures, err)
			if failures >= MaxConsecutiveErrors {
				m.err = errors.Wrapf(err, "%d consecutive WBO2 reads failed", failures)
				return
			}
			continue
		}
		failures = 0

		if sample.Valid() {
			cb(sample.AFR)
		}
	}
}

// StopMonitor ends the running session and waits for its last callback to
// return. A read already in flight finishes or times out first. Without a
// session it does nothing.
func (s *Sensor) StopMonitor() error {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return nil
	}

	m.stop.Store(true)
	<-m.done

	s.mu.Lock()
	if s.monitor == m {
		s.monitor = nil
		s.monitorErr = m.err
	}
	s.mu.Unlock()
	s.logger.Debug("WBO2 monitor stopped")
	return nil
}

// MonitorRunning reports whether a session has been started and not yet
// stopped.
func (s *Sensor) MonitorRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor != nil
}

// MonitorDone returns a channel closed once the current session's loop has
// exited. Without a session the channel is already closed.
func (s *Sensor) MonitorDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.monitor.done
}

// MonitorErr returns the error that ended the most recently stopped
// session. It's only meaningful once MonitorDone is closed.
func (s *Sensor) MonitorErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil {
		select {
		case <-s.monitor.done:
			return s.monitor.err
		default:
			return nil
		}
	}
	return s.monitorErr
}
