package romulator

import (
	"sync"

	"github.com/gavinwade12/consult/serialport"
)

// Simulator is an in-memory ROM emulator on a FakePort.
type Simulator struct {
	port *serialport.FakePort

	mu            sync.Mutex
	pending       []byte
	mem           [ROMSize]byte
	version       byte
	silent        bool
	corruptWrites int
	corruptReads  int
	failHidden    int
	hiddenWrites  int
	blockWrites   int
}

// NewSimulator returns a Simulator holding an erased (0xFF) image.
func NewSimulator() *Simulator {
	s := &Simulator{
		port:    serialport.NewFakePort(),
		version: 2,
	}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	s.port.OnWrite = s.receive
	return s
}

// Port returns the port the Simulator answers on.
func (s *Simulator) Port() *serialport.FakePort {
	return s.port
}

// Opener returns an Opener handing out the Simulator's port.
func (s *Simulator) Opener() serialport.Opener {
	return serialport.StaticOpener(s.port)
}

// Memory returns a copy of the emulated image.
func (s *Simulator) Memory() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.mem[:]...)
}

// Load replaces the emulated image.
func (s *Simulator) Load(img []byte) {
	s.mu.Lock()
	copy(s.mem[:], img)
	s.mu.Unlock()
}

// SetSilent stops the Simulator from answering anything.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// CorruptWrites garbles a byte of the next n incoming block writes, as line
// noise would.
func (s *Simulator) CorruptWrites(n int) {
	s.mu.Lock()
	s.corruptWrites = n
	s.mu.Unlock()
}

// CorruptReads garbles a byte of the next n outgoing block reads.
func (s *Simulator) CorruptReads(n int) {
	s.mu.Lock()
	s.corruptReads = n
	s.mu.Unlock()
}

// FailHiddenWrites rejects the next n hidden writes.
func (s *Simulator) FailHiddenWrites(n int) {
	s.mu.Lock()
	s.failHidden = n
	s.mu.Unlock()
}

// HiddenWrites returns how many hidden writes have been received.
func (s *Simulator) HiddenWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hiddenWrites
}

// BlockWrites returns how many block writes have been received.
func (s *Simulator) BlockWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockWrites
}

func (s *Simulator) receive(p []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, p...)
	var reply []byte
	for {
		r, used := s.next()
		if used == 0 {
			break
		}
		s.pending = s.pending[used:]
		reply = append(reply, r...)
	}
	silent := s.silent
	s.mu.Unlock()

	if len(reply) > 0 && !silent {
		s.port.Feed(reply...)
	}
}

func blockLen(b byte) int {
	if b == 0 {
		return BlockSize
	}
	return int(b)
}

// next handles the first complete command in pending, returning the reply
// and how many bytes it consumed. Zero means more bytes are needed.
func (s *Simulator) next() ([]byte, int) {
	p := s.pending
	if len(p) == 0 {
		return nil, 0
	}

	switch p[0] {
	case CommandVersion:
		return append(append([]byte(nil), VersionPrefix...), s.version), 1
	case CommandWrite:
		if len(p) < 4 {
			return nil, 0
		}
		addr, n := uint16(p[1])<<8|uint16(p[2]), blockLen(p[3])
		if len(p) < 4+n {
			return nil, 0
		}
		data := append([]byte(nil), p[4:4+n]...)
		if s.corruptWrites > 0 {
			s.corruptWrites--
			data[0] ^= 0x5A
		}
		for i, b := range data {
			s.mem[(int(addr)+i)%ROMSize] = b
		}
		s.blockWrites++
		return []byte{Checksum(addr, n, data)}, 4 + n
	case CommandRead:
		if len(p) < 4 {
			return nil, 0
		}
		addr, n := uint16(p[1])<<8|uint16(p[2]), blockLen(p[3])
		data := make([]byte, n)
		for i := range data {
			data[i] = s.mem[(int(addr)+i)%ROMSize]
		}
		sum := Checksum(addr, n, data)
		if s.corruptReads > 0 {
			s.corruptReads--
			data[n-1] ^= 0x5A
		}
		return append(data, sum), 4
	case CommandHiddenWrite:
		if len(p) < 4 {
			return nil, 0
		}
		s.hiddenWrites++
		if s.failHidden > 0 {
			s.failHidden--
			return []byte{AckFail}, 4
		}
		s.mem[(int(p[1])<<8|int(p[2]))%ROMSize] = p[3]
		return []byte{AckOK}, 4
	}
	// Unknown byte, skip it.
	return nil, 1
}
