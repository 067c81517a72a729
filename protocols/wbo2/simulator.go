package wbo2

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gavinwade12/consult/serialport"
)

// SimulatorInterval is the LC-1's own output period.
const SimulatorInterval = 82 * time.Millisecond

// Simulator streams LC-1 frames into a FakePort.
type Simulator struct {
	port *serialport.FakePort

	mu       sync.Mutex
	afr      float32
	stoich   float32
	function Function
	status   uint16
	jitter   float32
	noise    int
	truncate int
	frames   int
	interval time.Duration
	rng      *rand.Rand
}

// NewSimulator returns a Simulator reading a stoichiometric mixture.
func NewSimulator() *Simulator {
	return &Simulator{
		port:     serialport.NewFakePort(),
		afr:      StoichGasoline,
		stoich:   StoichGasoline,
		function: FunctionLambda,
		interval: SimulatorInterval,
		rng:      rand.New(rand.NewSource(1)),
	}
}

// Port returns the port the Simulator streams into.
func (s *Simulator) Port() *serialport.FakePort {
	return s.port
}

// Opener returns an Opener handing out the Simulator's port.
func (s *Simulator) Opener() serialport.Opener {
	return serialport.StaticOpener(s.port)
}

// SetAFR sets the air/fuel ratio reported in each frame.
func (s *Simulator) SetAFR(afr float32) {
	s.mu.Lock()
	s.afr = afr
	s.function = FunctionLambda
	s.mu.Unlock()
}

// SetStatus switches the controller to a status-only function, such as
// FunctionWarmingUp, with value in the lambda field.
func (s *Simulator) SetStatus(fn Function, value uint16) {
	s.mu.Lock()
	s.function = fn
	s.status = value
	s.mu.Unlock()
}

// SetJitter adds up to ±j to every reported AFR.
func (s *Simulator) SetJitter(j float32) {
	s.mu.Lock()
	s.jitter = j
	s.mu.Unlock()
}

// SetInterval changes the output period used by Run.
func (s *Simulator) SetInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// InjectNoise prefixes the next frame with n bytes of line noise.
func (s *Simulator) InjectNoise(n int) {
	s.mu.Lock()
	s.noise = n
	s.mu.Unlock()
}

// TruncateFrames cuts the next n frames short.
func (s *Simulator) TruncateFrames(n int) {
	s.mu.Lock()
	s.truncate = n
	s.mu.Unlock()
}

// Frames returns how many frames have been sent.
func (s *Simulator) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Emit sends one frame.
func (s *Simulator) Emit() {
	s.mu.Lock()
	var out []byte
	for ; s.noise > 0; s.noise-- {
		// data bytes never have the top bit set, headers always do
		out = append(out, byte(s.rng.Intn(0x80)))
	}

	var p Packet
	if s.function == FunctionLambda {
		afr := s.afr
		if s.jitter > 0 {
			afr += (s.rng.Float32()*2 - 1) * s.jitter
		}
		p = NewLambdaPacket(afr, s.stoich)
	} else {
		p = Packet{
			Function:   s.function,
			Multiplier: byte(s.stoich*10 + 0.5),
			Raw:        s.status,
		}
	}
	frame := EncodeFrame(Frame{Packets: []Packet{p}})
	if s.truncate > 0 {
		s.truncate--
		frame = frame[:len(frame)-1]
	}
	out = append(out, frame...)
	s.frames++
	s.mu.Unlock()

	s.port.Feed(out...)
}

// Run emits a frame every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Emit()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
