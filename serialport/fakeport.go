package serialport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPortClosed is returned by FakePort once it has been closed.
var ErrPortClosed = errors.New("port closed")

// FakePort is an in-memory Port. Bytes queued with Feed are handed to Read;
// everything written is recorded and passed to OnWrite, which simulators use
// to queue their replies. Read timeouts behave like go.bug.st/serial: a
// negative timeout blocks, zero polls, and an expired wait returns 0, nil.
type FakePort struct {
	// OnWrite, when set, is called with each written chunk after it has been
	// recorded. It runs on the writing goroutine without the port's lock held.
	OnWrite func(p []byte)

	mu      sync.Mutex
	rx      []byte
	written []byte
	timeout time.Duration
	closed  bool
	notify  chan struct{}
}

// NewFakePort returns an empty, blocking FakePort.
func NewFakePort() *FakePort {
	return &FakePort{
		timeout: -1,
		notify:  make(chan struct{}, 1),
	}
}

// Feed queues b to be read.
func (p *FakePort) Feed(b ...byte) {
	p.mu.Lock()
	p.rx = append(p.rx, b...)
	p.mu.Unlock()
	p.wake()
}

func (p *FakePort) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, unread bytes.
func (p *FakePort) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

// Written returns a copy of everything written so far.
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// ResetWritten forgets the recorded writes.
func (p *FakePort) ResetWritten() {
	p.mu.Lock()
	p.written = nil
	p.mu.Unlock()
}

// Read implements Port.
func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		if len(p.rx) > 0 {
			n := copy(b, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		if timeout == 0 {
			return 0, nil
		}

		select {
		case <-p.notify:
		case <-expired:
			return 0, nil
		}
	}
}

// Write implements Port.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	p.written = append(p.written, b...)
	onWrite := p.OnWrite
	p.mu.Unlock()

	if onWrite != nil {
		onWrite(append([]byte(nil), b...))
	}
	return len(b), nil
}

// SetReadTimeout implements Port.
func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

// ResetInputBuffer implements Port.
func (p *FakePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.rx = nil
	p.mu.Unlock()
	return nil
}

// Close implements Port.
func (p *FakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()
	return nil
}

// Closed reports whether Close has been called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
