package conv_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/gavinwade12/consult/conv"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var scalings = map[string]conv.Linear{
	"CASPosition":     conv.CASPosition,
	"CASReference":    conv.CASReference,
	"MAFVoltage":      conv.MAFVoltage,
	"CoolantTemp":     conv.CoolantTemp,
	"O2Voltage":       conv.O2Voltage,
	"VehicleSpeed":    conv.VehicleSpeed,
	"BatteryVoltage":  conv.BatteryVoltage,
	"ThrottleVoltage": conv.ThrottleVoltage,
	"FuelTemp":        conv.FuelTemp,
	"IntakeAirTemp":   conv.IntakeAirTemp,
	"ExhaustGasTemp":  conv.ExhaustGasTemp,
	"InjectionTime":   conv.InjectionTime,
	"IgnitionTiming":  conv.IgnitionTiming,
	"IdleAirValve":    conv.IdleAirValve,
	"AirFuelAlpha":    conv.AirFuelAlpha,
	"RawByte":         conv.RawByte,
}

func TestLinearKnownValues(t *testing.T) {
	tests := []struct {
		name string
		l    conv.Linear
		raw  uint16
		want float64
	}{
		{"CAS position 800rpm", conv.CASPosition, 64, 800},
		{"CAS reference", conv.CASReference, 100, 800},
		{"Coolant at 0", conv.CoolantTemp, 0, -50},
		{"Coolant at 90C", conv.CoolantTemp, 140, 90},
		{"Battery 12.8V", conv.BatteryVoltage, 160, 12800},
		{"Injection 2.5ms", conv.InjectionTime, 250, 2.5},
		{"Timing 15 BTDC", conv.IgnitionTiming, 95, 15},
		{"Idle valve 40%", conv.IdleAirValve, 80, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.l.To(tt.raw), 1e-9)

			raw, err := tt.l.From(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, raw)
		})
	}
}

func TestLinearRoundTrip(t *testing.T) {
	for name, l := range scalings {
		l := l
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				v := rapid.Float64Range(l.Min(), l.Limit()).Draw(t, "v")

				raw, err := l.From(v)
				if err != nil {
					t.Fatalf("From(%g): %v", v, err)
				}
				if got := l.To(raw); math.Abs(got-v) > l.Resolution()/2+1e-6 {
					t.Fatalf("To(From(%g)) = %g, more than half a step away", v, got)
				}
			})
		})

		t.Run(name+"Raw", func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				raw := rapid.Uint16Range(0, l.Max()).Draw(t, "raw")

				got, err := l.From(l.To(raw))
				if err != nil {
					t.Fatalf("From(To(%d)): %v", raw, err)
				}
				if got != raw {
					t.Fatalf("From(To(%d)) = %d", raw, got)
				}
			})
		})
	}
}

func TestLinearOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		l    conv.Linear
		v    float64
	}{
		{"Coolant below range", conv.CoolantTemp, -51},
		{"Coolant above range", conv.CoolantTemp, 206},
		{"Speed negative", conv.VehicleSpeed, -2},
		{"Timing too advanced", conv.IgnitionTiming, 111},
		{"NaN", conv.O2Voltage, math.NaN()},
		{"No scale", conv.Linear{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.l.From(tt.v)
			assert.True(t, errors.Is(err, conv.ErrOutOfRange), "got %v", err)
			assert.False(t, tt.l.Valid(tt.v))
		})
	}

	assert.True(t, conv.CoolantTemp.Valid(205))
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestMapConversionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		to   func(byte) float64
		from func(string, conv.Flag) (byte, error)
		min  byte
	}{
		{"Timing", conv.ConvertToTiming, conv.ConvertFromTiming, 0},
		{"AFR", conv.ConvertToAFR, conv.ConvertFromAFR, 1},
		{"RPM", conv.ConvertToRPM, conv.ConvertFromRPM, 0},
		{"Speed", conv.ConvertToSpeed, conv.ConvertFromSpeed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				b := rapid.ByteRange(tt.min, 0xFF).Draw(t, "b")

				got, err := tt.from(format(tt.to(b)), conv.FlagNone)
				if err != nil {
					t.Fatalf("round trip of 0x%02x: %v", b, err)
				}
				if got != b {
					t.Fatalf("round trip of 0x%02x gave 0x%02x", b, got)
				}
			})
		})
	}
}

func TestMapConversions(t *testing.T) {
	tests := []struct {
		name    string
		from    func(string, conv.Flag) (byte, error)
		text    string
		flags   conv.Flag
		want    byte
		wantErr error
	}{
		{"Timing 10 BTDC", conv.ConvertFromTiming, "10", conv.FlagNone, 100, nil},
		{"Timing past range unsigned", conv.ConvertFromTiming, "111", conv.FlagNone, 0, conv.ErrOutOfRange},
		{"Timing past range signed", conv.ConvertFromTiming, "111", conv.FlagBit8Present, 0xFF, nil},
		{"AFR stoich", conv.ConvertFromAFR, "14.7", conv.FlagNone, 128, nil},
		{"AFR zero", conv.ConvertFromAFR, "0", conv.FlagNone, 0, conv.ErrOutOfRange},
		{"RPM 6400", conv.ConvertFromRPM, " 6400 ", conv.FlagNone, 128, nil},
		{"RPM too high", conv.ConvertFromRPM, "13000", conv.FlagNone, 0, conv.ErrOutOfRange},
		{"RPM above signed range", conv.ConvertFromRPM, "6400", conv.FlagBit8Present, 0, conv.ErrOutOfRange},
		{"Speed rounds half up", conv.ConvertFromSpeed, "3", conv.FlagNone, 2, nil},
		{"Speed signed rounds away from zero", conv.ConvertFromSpeed, "-3", conv.FlagBit8Present, 0xFE, nil},
		{"Speed negative unsigned", conv.ConvertFromSpeed, "-2", conv.FlagNone, 0, conv.ErrOutOfRange},
		{"Not a number", conv.ConvertFromSpeed, "fast", conv.FlagNone, 0, conv.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from(tt.text, tt.flags)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Zero(t, conv.ConvertToAFR(0))
	assert.InDelta(t, 14.7, conv.ConvertToAFR(128), 1e-9)
}

func TestCheckSetFlags(t *testing.T) {
	t.Run("SingleByte", func(t *testing.T) {
		block := []uint16{0x10, 0x80, 0x1FF, 0xFF}
		flags := []conv.Flag{conv.FlagOverflow, 0x04, conv.FlagNone, conv.FlagNone}

		require.NoError(t, conv.CheckSetFlags(block, flags, 1, 2, 2))
		assert.Equal(t, []conv.Flag{
			conv.FlagNone,
			conv.FlagBit8Present | 0x04,
			conv.FlagOverflow,
			conv.FlagBit8Present,
		}, flags)
	})

	t.Run("TwoByte", func(t *testing.T) {
		block := []uint16{0x00FF, 0x8000}
		flags := make([]conv.Flag, 2)

		require.NoError(t, conv.CheckSetFlags(block, flags, 2, 1, 2))
		assert.Equal(t, []conv.Flag{conv.FlagNone, conv.FlagBit8Present}, flags)
	})

	t.Run("OnlyTouchesTheMap", func(t *testing.T) {
		block := []uint16{0x80, 0x80, 0x80}
		flags := make([]conv.Flag, 3)

		require.NoError(t, conv.CheckSetFlags(block, flags, 1, 1, 2))
		assert.Equal(t, conv.FlagNone, flags[2])
	})

	t.Run("RejectsBadShapes", func(t *testing.T) {
		block := make([]uint16, 4)
		flags := make([]conv.Flag, 4)

		for _, err := range []error{
			conv.CheckSetFlags(block, flags, 3, 2, 2),
			conv.CheckSetFlags(block, flags, 1, 3, 2),
			conv.CheckSetFlags(block, flags[:2], 1, 2, 2),
			conv.CheckSetFlags(block, flags, 1, -1, 2),
		} {
			assert.True(t, errors.Is(err, conv.ErrDimension), "got %v", err)
		}
	})
}
