// Package conv converts raw ECU register and ROM map bytes to engineering
// units and back. Everything here is pure and safe for concurrent use.
package conv

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Flag marks how a raw map cell should be treated when it's rebuilt from a
// user-entered value.
type Flag byte

const (
	FlagNone Flag = 0
	// FlagBit8Present means the cell already uses its top bit, so the byte is
	// handled as a signed two's-complement quantity.
	FlagBit8Present Flag = 1 << 0
	// FlagOverflow means the cell's value doesn't fit the map's byte width.
	FlagOverflow Flag = 1 << 1
)

var (
	// ErrOutOfRange is returned when a value can't be represented in the
	// target register or map cell.
	ErrOutOfRange = errors.New("value out of range")
	// ErrInvalidValue is returned when user text isn't a number.
	ErrInvalidValue = errors.New("invalid value")
	// ErrDimension is returned when a map block doesn't match its shape.
	ErrDimension = errors.New("map dimensions do not match block")
)

// Linear is a register scaling of the form value = raw*Scale + Offset over a
// Width-byte raw value.
type Linear struct {
	Scale  float64
	Offset float64
	Width  int
}

// Max returns the largest raw value the register can hold.
func (l Linear) Max() uint16 {
	if l.Width == 2 {
		return 0xFFFF
	}
	return 0xFF
}

// To converts a raw register value to engineering units.
func (l Linear) To(raw uint16) float64 {
	return float64(raw)*l.Scale + l.Offset
}

// From converts an engineering value to the nearest raw register value.
func (l Linear) From(v float64) (uint16, error) {
	if l.Scale == 0 {
		return 0, errors.Wrap(ErrOutOfRange, "conversion has no scale")
	}

	r := math.Round((v - l.Offset) / l.Scale)
	if math.IsNaN(r) || r < 0 || r > float64(l.Max()) {
		return 0, errors.Wrapf(ErrOutOfRange, "%g is outside %g..%g", v, l.Min(), l.Limit())
	}
	return uint16(r), nil
}

// Valid reports whether v is representable.
func (l Linear) Valid(v float64) bool {
	_, err := l.From(v)
	return err == nil
}

// Min returns the smallest engineering value the register can express.
func (l Linear) Min() float64 {
	return math.Min(l.To(0), l.To(l.Max()))
}

// Limit returns the largest engineering value the register can express.
func (l Linear) Limit() float64 {
	return math.Max(l.To(0), l.To(l.Max()))
}

// Resolution is the engineering value of one raw step.
func (l Linear) Resolution() float64 {
	return math.Abs(l.Scale)
}

// Parse reads a user-entered number.
func Parse(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidValue, "parsing '%s'", text)
	}
	return v, nil
}

// toByte rounds r into a map byte. Signed cells round symmetrically about
// zero and may go negative; unsigned cells may not.
func toByte(r float64, flags Flag) (byte, error) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, errors.WithStack(ErrOutOfRange)
	}

	if flags&FlagBit8Present != 0 {
		s := math.Round(r)
		if s < math.MinInt8 || s > math.MaxInt8 {
			return 0, errors.Wrapf(ErrOutOfRange, "%g doesn't fit a signed byte", s)
		}
		return byte(int8(s)), nil
	}

	u := math.Floor(r + 0.5)
	if u < 0 || u > math.MaxUint8 {
		return 0, errors.Wrapf(ErrOutOfRange, "%g doesn't fit a byte", u)
	}
	return byte(u), nil
}

// ConvertToTiming converts an ignition timing map byte to degrees BTDC.
func ConvertToTiming(val byte) float64 {
	return 110 - float64(val)
}

// ConvertFromTiming converts degrees BTDC to a timing map byte.
func ConvertFromTiming(val string, flags Flag) (byte, error) {
	v, err := Parse(val)
	if err != nil {
		return 0, err
	}
	return toByte(110-v, flags)
}

// afrScale is the raw value at which the fuel map requests stoichiometric.
const afrScale = 14.7 * 128

// ConvertToAFR converts a fuel map byte to an air/fuel ratio. Zero has no
// ratio and converts to zero.
func ConvertToAFR(val byte) float64 {
	if val == 0 {
		return 0
	}
	return afrScale / float64(val)
}

// ConvertFromAFR converts an air/fuel ratio to a fuel map byte.
func ConvertFromAFR(val string, flags Flag) (byte, error) {
	v, err := Parse(val)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "AFR must be positive, got %g", v)
	}
	return toByte(afrScale/v, flags)
}

// ConvertToRPM converts a map axis byte to RPM.
func ConvertToRPM(val byte) float64 {
	return float64(val) * 50
}

// ConvertFromRPM converts RPM to a map axis byte.
func ConvertFromRPM(val string, flags Flag) (byte, error) {
	v, err := Parse(val)
	if err != nil {
		return 0, err
	}
	return toByte(v/50, flags)
}

// ConvertToSpeed converts a speed byte to km/h.
func ConvertToSpeed(val byte) float64 {
	return float64(val) * 2
}

// ConvertFromSpeed converts km/h to a speed byte.
func ConvertFromSpeed(val string, flags Flag) (byte, error) {
	v, err := Parse(val)
	if err != nil {
		return 0, err
	}
	return toByte(v/2, flags)
}

// CheckSetFlags inspects a rows x cols map block of byteWidth-byte cells and
// updates flags for each cell: FlagBit8Present when the cell's top bit is
// set, FlagOverflow when the value doesn't fit the width at all. Other flag
// bits are left untouched.
func CheckSetFlags(block []uint16, flags []Flag, byteWidth, rows, cols int) error {
	if byteWidth != 1 && byteWidth != 2 {
		return errors.Wrapf(ErrDimension, "unsupported byte width %d", byteWidth)
	}
	if rows < 0 || cols < 0 {
		return errors.Wrapf(ErrDimension, "%dx%d", rows, cols)
	}
	n := rows * cols
	if len(block) < n || len(flags) < n {
		return errors.Wrapf(ErrDimension, "%dx%d map needs %d cells, have %d values and %d flags",
			rows, cols, n, len(block), len(flags))
	}

	top := uint32(1) << (8*byteWidth - 1)
	max := uint32(1)<<(8*byteWidth) - 1
	for i := 0; i < n; i++ {
		v := uint32(block[i])
		f := flags[i] &^ (FlagBit8Present | FlagOverflow)
		switch {
		case v > max:
			f |= FlagOverflow
		case v&top != 0:
			f |= FlagBit8Present
		}
		flags[i] = f
	}
	return nil
}
