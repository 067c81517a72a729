package units

import "github.com/pkg/errors"

// Unit provides common values for units used to describe a parameter's value.
type Unit string

// The valid units.
const (
	// Velocity
	MPH Unit = "mph"
	KMH Unit = "km/h"

	// Rotational Speed
	RPM Unit = "rpm"

	// Timing
	DegreesBTDC Unit = "deg BTDC"

	// Temperature
	F Unit = "F"
	C Unit = "C"

	// Fueling
	AFR    Unit = "AFR"
	Lambda Unit = "Lambda"

	// Electricity
	Volts      Unit = "V"
	Millivolts Unit = "mV"

	// Time
	MS Unit = "ms"

	// Misc
	Percent Unit = "%"
	Raw     Unit = "raw ecu value"
)

// StoichAFR is the stoichiometric air/fuel ratio of gasoline, used to move
// between AFR and lambda.
const StoichAFR = 14.7

// ErrorInvalidConversion is returned when an invalid unit conversion attempt is made.
var ErrorInvalidConversion = errors.New("units are invalid for conversion")

// Convert converts value from one unit to another.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		return value, nil
	}

	cvs := UnitConversions[from]
	if cvs == nil {
		return 0, ErrorInvalidConversion
	}

	cv := cvs[to]
	if cv == nil {
		return 0, ErrorInvalidConversion
	}

	return cv(value), nil
}

// Imperial returns the imperial counterpart of u, or u itself when there
// isn't one.
func Imperial(u Unit) Unit {
	switch u {
	case C:
		return F
	case KMH:
		return MPH
	}
	return u
}

// UnitConversions provides conversion functions for the package-defined Units.
var UnitConversions = map[Unit]map[Unit]func(v float64) float64{
	MPH: {
		KMH: func(v float64) float64 {
			return v * 1.60934
		},
	},
	KMH: {
		MPH: func(v float64) float64 {
			return v * 0.621371
		},
	},
	F: {
		C: func(v float64) float64 {
			return (v - 32) / 9 * 5
		},
	},
	C: {
		F: func(v float64) float64 {
			return (v / 5 * 9) + 32
		},
	},
	Millivolts: {
		Volts: func(v float64) float64 {
			return v / 1000
		},
	},
	Volts: {
		Millivolts: func(v float64) float64 {
			return v * 1000
		},
	},
	AFR: {
		Lambda: func(v float64) float64 {
			return v / StoichAFR
		},
	},
	Lambda: {
		AFR: func(v float64) float64 {
			return v * StoichAFR
		},
	},
}
