package consult

import (
	"bytes"
	"math/rand"
	"sync"

	"github.com/gavinwade12/consult/serialport"
)

// Fault is a misbehaviour the Simulator can be told to show.
type Fault int

const (
	// FaultNone answers normally.
	FaultNone Fault = iota
	// FaultSilent sends nothing back.
	FaultSilent
	// FaultNoStartByte echoes the command but never sends a frame.
	FaultNoStartByte
	// FaultBadEcho sends a wrong echo.
	FaultBadEcho
	// FaultShortFrame cuts the frame payload short.
	FaultShortFrame
	// FaultWrongLength sends a frame one byte longer than asked for.
	FaultWrongLength
)

// Simulator is an in-memory ECU speaking Consult on a FakePort. It's used
// by the tests and by the CLI's demo mode.
type Simulator struct {
	port *serialport.FakePort

	mu          sync.Mutex
	pending     []byte
	registers   [256]byte
	rom         map[uint16]byte
	faultCodes  []FaultCode
	partNumber  []byte
	jitter      bool
	fault       Fault
	faultCount  int
	silentInit  int
	requests    int
	resets      int
	activeTests []ActiveTestCall
}

// ActiveTestCall records an active test the Simulator received.
type ActiveTestCall struct {
	Test ActiveTest
	Data byte
}

// NewSimulator returns a Simulator of a warm, idling engine.
func NewSimulator() *Simulator {
	s := &Simulator{
		port:       serialport.NewFakePort(),
		rom:        make(map[uint16]byte),
		partNumber: []byte("23710-30P00 VG30DETT."),
	}
	s.partNumber = append(s.partNumber, make([]byte, PartNumberLength-len(s.partNumber))...)

	s.registers[RegisterCASPositionLSB] = 64      // 800 rpm
	s.registers[RegisterCASReferenceLSB] = 100    // 800 rpm
	s.registers[RegisterMAFVoltageLSB] = 0xF0     // 1200 mV
	s.registers[RegisterRHMAFVoltageLSB] = 0xF0   // 1200 mV
	s.registers[RegisterCoolantTemp] = 140        // 90 C
	s.registers[RegisterLHO2SensorVoltage] = 45   // 450 mV
	s.registers[RegisterRHO2SensorVoltage] = 45   // 450 mV
	s.registers[RegisterBatteryVoltage] = 175     // 14 V
	s.registers[RegisterThrottlePositionVoltage] = 25
	s.registers[RegisterFuelTemp] = 80
	s.registers[RegisterIntakeAirTemp] = 75
	s.registers[RegisterLHInjectionTimeLSB] = 250 // 2.5 ms
	s.registers[RegisterRHInjectionTimeLSB] = 250
	s.registers[RegisterIgnitionTiming] = 95 // 15 BTDC
	s.registers[RegisterIdleAirValvePercent] = 60
	s.registers[RegisterLHAirFuelAlpha] = 100
	s.registers[RegisterRHAirFuelAlpha] = 100
	s.registers[RegisterLHAirFuelAlphaSelfLearn] = 100
	s.registers[RegisterRHAirFuelAlphaSelfLearn] = 100

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

// SetRegister sets a telemetry register.
func (s *Simulator) SetRegister(r Register, v byte) {
	s.mu.Lock()
	s.registers[r] = v
	s.mu.Unlock()
}

// SetROM sets a byte of program memory. Unset bytes read as their address
// folded into a byte.
func (s *Simulator) SetROM(addr uint16, v byte) {
	s.mu.Lock()
	s.rom[addr] = v
	s.mu.Unlock()
}

// SetFaultCodes replaces the fault table.
func (s *Simulator) SetFaultCodes(codes ...FaultCode) {
	s.mu.Lock()
	s.faultCodes = append([]FaultCode(nil), codes...)
	s.mu.Unlock()
}

// SetJitter makes register reads wander a little around their set values.
func (s *Simulator) SetJitter(on bool) {
	s.mu.Lock()
	s.jitter = on
	s.mu.Unlock()
}

// InjectFault makes the next n requests misbehave; a negative n means
// until further notice.
func (s *Simulator) InjectFault(f Fault, n int) {
	s.mu.Lock()
	s.fault = f
	s.faultCount = n
	s.mu.Unlock()
}

// IgnoreInits makes the Simulator ignore the next n init sequences.
func (s *Simulator) IgnoreInits(n int) {
	s.mu.Lock()
	s.silentInit = n
	s.mu.Unlock()
}

// Requests returns how many terminated requests have been received.
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Resets returns how many fault code resets have been received.
func (s *Simulator) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// ActiveTests returns the active tests received so far.
func (s *Simulator) ActiveTests() []ActiveTestCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActiveTestCall(nil), s.activeTests...)
}

func (s *Simulator) receive(p []byte) {
	s.mu.Lock()
	var reply []byte
	for _, b := range p {
		reply = append(reply, s.handle(b)...)
	}
	s.mu.Unlock()

	if len(reply) > 0 {
		s.port.Feed(reply...)
	}
}

func (s *Simulator) handle(b byte) []byte {
	s.pending = append(s.pending, b)

	switch {
	case bytes.HasSuffix(s.pending, InitSequence):
		s.pending = nil
		if s.silentInit > 0 {
			s.silentInit--
			return nil
		}
		return []byte{InitResponse}
	case len(s.pending) == 1 && b == byte(CommandStopStream):
		s.pending = nil
		return []byte{CommandStopStreamAck}
	case b == byte(CommandTerm) && complete(s.pending[:len(s.pending)-1]):
		req := s.pending[:len(s.pending)-1]
		s.pending = nil
		s.requests++
		return s.respond(req)
	}
	return nil
}

// complete reports whether req holds whole commands, so that a CommandTerm
// byte after it ends the request rather than being an argument.
func complete(req []byte) bool {
	if len(req) == 0 {
		return false
	}
	switch Command(req[0]) {
	case CommandReadROMByte, CommandActiveTest:
		return len(req) == 3
	case CommandReadRegister:
		return len(req)%2 == 0
	}
	return len(req) == 1
}

func (s *Simulator) nextFault() Fault {
	if s.faultCount == 0 {
		return FaultNone
	}
	if s.faultCount > 0 {
		s.faultCount--
	}
	return s.fault
}

func (s *Simulator) respond(req []byte) []byte {
	echo, payload, ok := s.execute(req)
	if !ok {
		return nil
	}

	switch s.nextFault() {
	case FaultSilent:
		return nil
	case FaultNoStartByte:
		return echo
	case FaultBadEcho:
		echo[0] ^= 0x01
	case FaultShortFrame:
		frame := append(echo, FrameStartByte, byte(len(payload)+1))
		return append(frame, payload...)
	case FaultWrongLength:
		payload = append(payload, 0x00)
	}

	frame := append(echo, FrameStartByte, byte(len(payload)))
	return append(frame, payload...)
}

// execute decodes req and returns its echo and reply payload.
func (s *Simulator) execute(req []byte) ([]byte, []byte, bool) {
	if len(req) == 0 {
		return nil, nil, false
	}

	var echo, payload []byte
	switch Command(req[0]) {
	case CommandReadFaultCodes:
		echo = []byte{CommandReadFaultCodes.echo()}
		for _, fc := range s.faultCodes {
			payload = append(payload, fc.Code, fc.Starts)
		}
		if len(payload) == 0 {
			payload = []byte{FaultCodeNoMalfunction, 0xFF}
		}
	case CommandResetFaultCodes:
		echo = []byte{CommandResetFaultCodes.echo()}
		s.faultCodes = nil
		s.resets++
	case CommandReadPartNumber:
		echo = []byte{CommandReadPartNumber.echo()}
		payload = append(payload, s.partNumber...)
	case CommandReadROMByte:
		if len(req) != 3 {
			return nil, nil, false
		}
		addr := uint16(req[1])<<8 | uint16(req[2])
		echo = []byte{CommandReadROMByte.echo(), req[1], req[2]}
		v, ok := s.rom[addr]
		if !ok {
			v = byte(addr) ^ byte(addr>>8)
		}
		payload = []byte{v}
	case CommandReadRegister:
		if len(req)%2 != 0 {
			return nil, nil, false
		}
		for i := 0; i < len(req); i += 2 {
			if Command(req[i]) != CommandReadRegister {
				return nil, nil, false
			}
			echo = append(echo, CommandReadRegister.echo(), req[i+1])
			payload = append(payload, s.register(Register(req[i+1])))
		}
	case CommandActiveTest:
		if len(req) != 3 {
			return nil, nil, false
		}
		echo = []byte{CommandActiveTest.echo(), req[1], req[2]}
		s.activeTests = append(s.activeTests, ActiveTestCall{Test: ActiveTest(req[1]), Data: req[2]})
	default:
		return nil, nil, false
	}
	return echo, payload, true
}

func (s *Simulator) register(r Register) byte {
	v := s.registers[r]
	if s.jitter && v > 2 && v < 0xFD {
		v = byte(int(v) + rand.Intn(5) - 2)
	}
	return v
}
