package wbo2

import (
	"math"

	"github.com/pkg/errors"
)

// Function is the state an LC-1 reports in each packet.
type Function byte

// LC-1 packet functions. Only FunctionLambda carries a usable reading.
const (
	FunctionLambda Function = iota
	FunctionO2Level
	FunctionFreeAirCalibration
	FunctionNeedsCalibration
	FunctionWarmingUp
	FunctionHeaterCalibration
	FunctionError
	FunctionReserved
)

var functionNames = map[Function]string{
	FunctionLambda:             "lambda",
	FunctionO2Level:            "O2 level",
	FunctionFreeAirCalibration: "free air calibration",
	FunctionNeedsCalibration:   "needs calibration",
	FunctionWarmingUp:          "warming up",
	FunctionHeaterCalibration:  "heater calibration",
	FunctionError:              "error",
	FunctionReserved:           "reserved",
}

func (f Function) String() string {
	if s, ok := functionNames[f]; ok {
		return s
	}
	return "unknown"
}

const (
	headerMask   uint16 = 0xA280
	packetMask   uint16 = 0xE280
	packetMarker uint16 = 0x4200

	// StoichGasoline is the AFR multiplier of a controller set up for petrol.
	StoichGasoline float32 = 14.7

	// MaxFrameWords is the most words a header can announce.
	MaxFrameWords = 0xFF
	maxLambdaRaw  = 0x1FFF
)

// Packet is one LC-1 sub-packet.
type Packet struct {
	Function Function
	// Multiplier is the stoichiometric AFR in tenths (147 for petrol).
	Multiplier byte
	// Raw is the 13-bit lambda field. Outside FunctionLambda it holds the
	// function's own value, such as warm-up progress or an error code.
	Raw uint16
}

// NewLambdaPacket builds the packet an LC-1 sends while reading afr with
// the given stoichiometric ratio.
func NewLambdaPacket(afr, stoich float32) Packet {
	raw := math.Round(float64(afr/stoich)*1000) - 500
	raw = math.Max(0, math.Min(raw, maxLambdaRaw))
	return Packet{
		Function:   FunctionLambda,
		Multiplier: byte(math.Round(float64(stoich) * 10)),
		Raw:        uint16(raw),
	}
}

// Lambda returns the packet's lambda reading.
func (p Packet) Lambda() float32 {
	return (float32(p.Raw) + 500) / 1000
}

// AFR returns the packet's air/fuel ratio.
func (p Packet) AFR() float32 {
	return p.Lambda() * float32(p.Multiplier) / 10
}

// Frame is one decoded MTS packet: the LC-1 sub-packets it carried and any
// auxiliary input words.
type Frame struct {
	Packets []Packet
	Aux     []uint16
}

// Reading returns the first packet in FunctionLambda. ok is false when the
// controller only reported status.
func (f *Frame) Reading() (p Packet, ok bool) {
	for _, p = range f.Packets {
		if p.Function == FunctionLambda {
			return p, true
		}
	}
	return Packet{}, false
}

// AFR returns the air/fuel ratio of the frame's reading.
func (f *Frame) AFR() (float32, bool) {
	p, ok := f.Reading()
	if !ok {
		return 0, false
	}
	return p.AFR(), true
}

// Status returns the function of the frame's first packet.
func (f *Frame) Status() (Function, bool) {
	if len(f.Packets) == 0 {
		return 0, false
	}
	return f.Packets[0].Function, true
}

func isPacketWord(w uint16) bool {
	return w&packetMask == packetMarker
}

func parseFrame(words []uint16) (*Frame, error) {
	f := &Frame{}
	for i := 0; i < len(words); i++ {
		w := words[i]
		if !isPacketWord(w) {
			f.Aux = append(f.Aux, ((w>>1)&0x380)|(w&0x7F))
			continue
		}
		if i+1 >= len(words) {
			return nil, errors.Wrap(ErrInvalidResponse, "LC-1 packet missing its lambda word")
		}
		l := words[i+1]
		f.Packets = append(f.Packets, Packet{
			Function:   Function((w >> 10) & 0x7),
			Multiplier: byte(((w >> 1) & 0x80) | (w & 0x7F)),
			Raw:        ((l >> 1) & 0x1F80) | (l & 0x7F),
		})
		i++
	}
	return f, nil
}

// EncodeFrame returns the wire form of f.
func EncodeFrame(f Frame) []byte {
	n := 2*len(f.Packets) + len(f.Aux)
	words := make([]uint16, 0, n+1)
	words = append(words, headerMask|uint16(n&0x80)<<1|uint16(n&0x7F))
	for _, p := range f.Packets {
		m := uint16(p.Multiplier)
		words = append(words,
			packetMarker|uint16(p.Function&0x7)<<10|(m&0x80)<<1|m&0x7F,
			(p.Raw&0x1F80)<<1|p.Raw&0x7F)
	}
	for _, a := range f.Aux {
		words = append(words, (a&0x380)<<1|a&0x7F)
	}

	b := make([]byte, 0, 2*len(words))
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return b
}

type decodeState int

const (
	stateHunting decodeState = iota
	stateHeader
	stateBody
)

// Decoder pulls frames out of the byte stream. Header bytes are the only
// ones with the top bit set, so it resynchronises on the next header after
// any corruption.
type Decoder struct {
	state decodeState
	hi    byte
	words int
	body  []byte
}

// Reset drops any partly decoded frame.
func (d *Decoder) Reset() {
	d.state = stateHunting
	d.body = d.body[:0]
}

// DecodeByte feeds one byte and returns the frame it completes, if any.
// Bytes skipped while hunting for a header are not errors; a frame broken
// off part way is reported with ErrInvalidResponse.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateHeader:
		if b&0x80 == 0 {
			d.Reset()
			return nil, errors.Wrapf(ErrInvalidResponse, "bad header 0x%02x%02x", d.hi, b)
		}
		d.words = int(d.hi&0x01)<<7 | int(b&0x7F)
		if d.words == 0 {
			d.Reset()
			return nil, errors.Wrap(ErrInvalidResponse, "empty frame")
		}
		d.state = stateBody
		d.body = d.body[:0]
		return nil, nil

	case stateBody:
		if b&0x80 != 0 {
			got := len(d.body)
			d.Reset()
			d.hunt(b)
			return nil, errors.Wrapf(ErrInvalidResponse, "frame cut short at %d of %d bytes", got, 2*d.words)
		}
		d.body = append(d.body, b)
		if len(d.body) < 2*d.words {
			return nil, nil
		}

		words := make([]uint16, d.words)
		for i := range words {
			words[i] = uint16(d.body[2*i])<<8 | uint16(d.body[2*i+1])
		}
		d.Reset()
		return parseFrame(words)
	}

	d.hunt(b)
	return nil, nil
}

func (d *Decoder) hunt(b byte) {
	if uint16(b)<<8&headerMask == headerMask&0xFF00 {
		d.hi = b
		d.state = stateHeader
	}
}
