package consult

import (
	"context"

	"github.com/pkg/errors"
)

// ActiveTest identifies an actuator test the ECU can run.
type ActiveTest byte

const (
	ActiveTestAdjustCoolantTemp    ActiveTest = 0x80
	ActiveTestAdjustFuelInjection  ActiveTest = 0x81
	ActiveTestAdjustIgnitionTiming ActiveTest = 0x82
	ActiveTestAdjustIACVOpening    ActiveTest = 0x84
	ActiveTestPowerBalance         ActiveTest = 0x88
	ActiveTestFuelPumpRelay        ActiveTest = 0x89
	ActiveTestClearSelfLearn       ActiveTest = 0x8B
)

// Data bytes for the active tests.
const (
	// FuelInjectionNormal is the untrimmed injection time; each step is 1%.
	FuelInjectionNormal byte = 0x64
	// FuelInjectionMax is +100%.
	FuelInjectionMax byte = 0xC8

	// IgnitionTimingNormal is the untrimmed timing; the data byte is a
	// signed offset in degrees.
	IgnitionTimingNormal byte = 0x00
	IgnitionTimingLimit  int  = 20

	// IACVOpenNormal is the untrimmed idle air valve; the data byte is a
	// signed offset in 0.5% steps.
	IACVOpenNormal byte = 0x00
	IACVOpenLimit  int  = 100

	// PowerBalanceFiringNormal fires every cylinder; 1..8 cut that cylinder.
	PowerBalanceFiringNormal byte = 0x00
	PowerBalanceMaxCylinder  byte = 0x08

	FuelPumpRelayOn  byte = 0x00
	FuelPumpRelayOff byte = 0x01

	ClearSelfLearnValue byte = 0x00
)

var activeTestNames = map[ActiveTest]string{
	ActiveTestAdjustCoolantTemp:    "coolant",
	ActiveTestAdjustFuelInjection:  "injection",
	ActiveTestAdjustIgnitionTiming: "timing",
	ActiveTestAdjustIACVOpening:    "iacv",
	ActiveTestPowerBalance:         "power-balance",
	ActiveTestFuelPumpRelay:        "fuel-pump",
	ActiveTestClearSelfLearn:       "clear-self-learn",
}

func (t ActiveTest) String() string {
	if n, ok := activeTestNames[t]; ok {
		return n
	}
	return "unknown"
}

// ActiveTestByName looks up a test by its String name.
func ActiveTestByName(name string) (ActiveTest, bool) {
	for t, n := range activeTestNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// ValidateActiveTest checks data against the legal range of test.
func ValidateActiveTest(test ActiveTest, data byte) error {
	switch test {
	case ActiveTestAdjustCoolantTemp:
		return nil
	case ActiveTestAdjustFuelInjection:
		if data > FuelInjectionMax {
			return errors.Wrapf(ErrParamInvalid, "injection trim 0x%02x is above 0x%02x", data, FuelInjectionMax)
		}
	case ActiveTestAdjustIgnitionTiming:
		if d := int(int8(data)); d < -IgnitionTimingLimit || d > IgnitionTimingLimit {
			return errors.Wrapf(ErrParamInvalid, "timing offset %d is outside ±%d", d, IgnitionTimingLimit)
		}
	case ActiveTestAdjustIACVOpening:
		if d := int(int8(data)); d < -IACVOpenLimit || d > IACVOpenLimit {
			return errors.Wrapf(ErrParamInvalid, "IACV offset %d is outside ±%d", d, IACVOpenLimit)
		}
	case ActiveTestPowerBalance:
		if data > PowerBalanceMaxCylinder {
			return errors.Wrapf(ErrParamInvalid, "no cylinder %d", data)
		}
	case ActiveTestFuelPumpRelay:
		if data != FuelPumpRelayOn && data != FuelPumpRelayOff {
			return errors.Wrapf(ErrParamInvalid, "fuel pump relay data 0x%02x", data)
		}
	case ActiveTestClearSelfLearn:
		if data != ClearSelfLearnValue {
			return errors.Wrapf(ErrParamInvalid, "clear self learn data 0x%02x", data)
		}
	default:
		return errors.Wrapf(ErrParamInvalid, "unknown active test 0x%02x", byte(test))
	}
	return nil
}

// ActiveTest runs test with data. The data is checked against the test's
// legal range before anything is sent, and the command is never retried.
func (c *Connection) ActiveTest(ctx context.Context, test ActiveTest, data byte) error {
	if _, err := c.activeLink(); err != nil {
		return err
	}
	if err := ValidateActiveTest(test, data); err != nil {
		return err
	}

	_, err := c.exchange(ctx, request{commands: []command{{
		code: CommandActiveTest,
		args: []byte{byte(test), data},
	}}})
	return errors.Wrapf(err, "running active test %s", test)
}

// AdjustCoolantTemp makes the ECU see the given raw coolant temperature.
func (c *Connection) AdjustCoolantTemp(ctx context.Context, temp byte) error {
	return c.ActiveTest(ctx, ActiveTestAdjustCoolantTemp, temp)
}

// AdjustFuelInjection trims injection time by percent (-100..100).
func (c *Connection) AdjustFuelInjection(ctx context.Context, percent int) error {
	v := int(FuelInjectionNormal) + percent
	if v < 0 || v > int(FuelInjectionMax) {
		return errors.Wrapf(ErrParamInvalid, "injection trim %d%% is outside ±100%%", percent)
	}
	return c.ActiveTest(ctx, ActiveTestAdjustFuelInjection, byte(v))
}

// AdjustIgnitionTiming offsets ignition timing by degrees (-20..20).
func (c *Connection) AdjustIgnitionTiming(ctx context.Context, degrees int8) error {
	return c.ActiveTest(ctx, ActiveTestAdjustIgnitionTiming, byte(degrees))
}

// AdjustIACVOpening offsets the idle air valve by steps of 0.5% (-100..100).
func (c *Connection) AdjustIACVOpening(ctx context.Context, steps int8) error {
	return c.ActiveTest(ctx, ActiveTestAdjustIACVOpening, byte(steps))
}

// PowerBalance cuts the given cylinder (1..8), or restores normal firing with 0.
func (c *Connection) PowerBalance(ctx context.Context, cylinder byte) error {
	return c.ActiveTest(ctx, ActiveTestPowerBalance, cylinder)
}

// FuelPumpRelay switches the fuel pump relay.
func (c *Connection) FuelPumpRelay(ctx context.Context, on bool) error {
	data := FuelPumpRelayOff
	if on {
		data = FuelPumpRelayOn
	}
	return c.ActiveTest(ctx, ActiveTestFuelPumpRelay, data)
}

// ClearSelfLearn wipes the ECU's learned fuel trims.
func (c *Connection) ClearSelfLearn(ctx context.Context) error {
	return c.ActiveTest(ctx, ActiveTestClearSelfLearn, ClearSelfLearnValue)
}
