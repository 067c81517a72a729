package consult

import (
	"github.com/gavinwade12/consult/conv"
	"github.com/gavinwade12/consult/units"
)

// ParameterID identifies a monitor parameter.
type ParameterID int

// The monitor parameters, in table order.
const (
	ParamNull ParameterID = iota
	ParamCASPosition
	ParamCASReference
	ParamMAFVoltage
	ParamRHMAFVoltage
	ParamCoolantTemp
	ParamLHO2Voltage
	ParamRHO2Voltage
	ParamSpeed
	ParamBatteryVoltage
	ParamTPSVoltage
	ParamFuelTemp
	ParamIntakeAirTemp
	ParamExhaustGasTemp
	ParamLHInjectionTime
	ParamIgnitionTiming
	ParamIdleAirValve
	ParamLHAirFuelAlpha
	ParamRHAirFuelAlpha
	ParamLHAirFuelAlphaSelfLearn
	ParamRHAirFuelAlphaSelfLearn
	ParamRHInjectionTime
	ParamWasteGateSolenoid
	ParamTurboBoostSensorVoltage
	ParamEngineMountOnOff
	ParamPositionCounter
	ParamPurgeVolumeControlValve
	ParamTankFuelTemp
	ParamFPCMDRVoltage
	ParamFuelGaugeVoltage
	ParamFrontO2HeaterB1
	ParamFrontO2HeaterB2
	ParamIgnitionSwitch
	ParamCalculatedLoadValue
	ParamBaseFuelSchedule
	ParamRearO2SensorVoltageB1
	ParamRearO2SensorVoltageB2
	ParamAbsThrottlePosition
	ParamMAFGramsPerSecond
)

// Parameter is a value the ECU can report from its telemetry table. Two
// byte parameters combine MSB and LSB; single byte ones have an LSB of
// RegisterNull.
type Parameter struct {
	ID          ParameterID
	MSB         Register
	LSB         Register
	Conversion  conv.Linear
	Description string
	ShortDesc   string
	// Name is used to select the parameter on the command line.
	Name string
	Unit units.Unit
}

// Registers returns the registers that hold the parameter's raw value.
func (p *Parameter) Registers() []Register {
	if p.LSB == RegisterNull {
		return []Register{p.MSB}
	}
	return []Register{p.MSB, p.LSB}
}

// Value converts the raw register bytes, in Registers order.
func (p *Parameter) Value(raw []byte) float64 {
	var v uint16
	for _, b := range raw {
		v = v<<8 | uint16(b)
	}
	return p.Conversion.To(v)
}

// ParameterByID returns the parameter with the given id.
func ParameterByID(id ParameterID) (*Parameter, bool) {
	for i := range AvailableParameters {
		if AvailableParameters[i].ID == id {
			return &AvailableParameters[i], true
		}
	}
	return nil, false
}

// ParameterByName returns the parameter with the given command-line name.
func ParameterByName(name string) (*Parameter, bool) {
	for i := range AvailableParameters {
		if AvailableParameters[i].Name == name {
			return &AvailableParameters[i], true
		}
	}
	return nil, false
}

// AvailableParameters is every parameter the ECU can be monitored for. It
// must not be modified.
var AvailableParameters = []Parameter{
	{
		ID:          ParamCASPosition,
		MSB:         RegisterCASPositionMSB,
		LSB:         RegisterCASPositionLSB,
		Conversion:  conv.CASPosition,
		Description: "Engine speed from the CAS position signal",
		ShortDesc:   "CAS Pos",
		Name:        "cas-pos",
		Unit:        units.RPM,
	},
	{
		ID:          ParamCASReference,
		MSB:         RegisterCASReferenceMSB,
		LSB:         RegisterCASReferenceLSB,
		Conversion:  conv.CASReference,
		Description: "Engine speed from the CAS reference signal",
		ShortDesc:   "CAS Ref",
		Name:        "cas-ref",
		Unit:        units.RPM,
	},
	{
		ID:          ParamMAFVoltage,
		MSB:         RegisterMAFVoltageMSB,
		LSB:         RegisterMAFVoltageLSB,
		Conversion:  conv.MAFVoltage,
		Description: "Mass air flow sensor voltage",
		ShortDesc:   "MAF",
		Name:        "maf",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamRHMAFVoltage,
		MSB:         RegisterRHMAFVoltageMSB,
		LSB:         RegisterRHMAFVoltageLSB,
		Conversion:  conv.MAFVoltage,
		Description: "Right hand mass air flow sensor voltage",
		ShortDesc:   "RH MAF",
		Name:        "rh-maf",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamCoolantTemp,
		MSB:         RegisterCoolantTemp,
		LSB:         RegisterNull,
		Conversion:  conv.CoolantTemp,
		Description: "Engine coolant temperature",
		ShortDesc:   "Coolant",
		Name:        "coolant",
		Unit:        units.C,
	},
	{
		ID:          ParamLHO2Voltage,
		MSB:         RegisterLHO2SensorVoltage,
		LSB:         RegisterNull,
		Conversion:  conv.O2Voltage,
		Description: "Left hand oxygen sensor voltage",
		ShortDesc:   "LH O2",
		Name:        "lh-o2",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamRHO2Voltage,
		MSB:         RegisterRHO2SensorVoltage,
		LSB:         RegisterNull,
		Conversion:  conv.O2Voltage,
		Description: "Right hand oxygen sensor voltage",
		ShortDesc:   "RH O2",
		Name:        "rh-o2",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamSpeed,
		MSB:         RegisterVehicleSpeed,
		LSB:         RegisterNull,
		Conversion:  conv.VehicleSpeed,
		Description: "Vehicle speed",
		ShortDesc:   "Speed",
		Name:        "speed",
		Unit:        units.KMH,
	},
	{
		ID:          ParamBatteryVoltage,
		MSB:         RegisterBatteryVoltage,
		LSB:         RegisterNull,
		Conversion:  conv.BatteryVoltage,
		Description: "Battery voltage",
		ShortDesc:   "Battery",
		Name:        "battery",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamTPSVoltage,
		MSB:         RegisterThrottlePositionVoltage,
		LSB:         RegisterNull,
		Conversion:  conv.ThrottleVoltage,
		Description: "Throttle position sensor voltage",
		ShortDesc:   "TPS",
		Name:        "tps",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamFuelTemp,
		MSB:         RegisterFuelTemp,
		LSB:         RegisterNull,
		Conversion:  conv.FuelTemp,
		Description: "Fuel temperature",
		ShortDesc:   "Fuel Temp",
		Name:        "fuel-temp",
		Unit:        units.C,
	},
	{
		ID:          ParamIntakeAirTemp,
		MSB:         RegisterIntakeAirTemp,
		LSB:         RegisterNull,
		Conversion:  conv.IntakeAirTemp,
		Description: "Intake air temperature",
		ShortDesc:   "IAT",
		Name:        "iat",
		Unit:        units.C,
	},
	{
		ID:          ParamExhaustGasTemp,
		MSB:         RegisterExhaustGasTemp,
		LSB:         RegisterNull,
		Conversion:  conv.ExhaustGasTemp,
		Description: "Exhaust gas temperature sensor voltage",
		ShortDesc:   "EGT",
		Name:        "egt",
		Unit:        units.Millivolts,
	},
	{
		ID:          ParamLHInjectionTime,
		MSB:         RegisterLHInjectionTimeMSB,
		LSB:         RegisterLHInjectionTimeLSB,
		Conversion:  conv.InjectionTime,
		Description: "Left hand bank injector pulse width",
		ShortDesc:   "LH Inj",
		Name:        "lh-inj",
		Unit:        units.MS,
	},
	{
		ID:          ParamIgnitionTiming,
		MSB:         RegisterIgnitionTiming,
		LSB:         RegisterNull,
		Conversion:  conv.IgnitionTiming,
		Description: "Ignition timing",
		ShortDesc:   "Timing",
		Name:        "timing",
		Unit:        units.DegreesBTDC,
	},
	{
		ID:          ParamIdleAirValve,
		MSB:         RegisterIdleAirValvePercent,
		LSB:         RegisterNull,
		Conversion:  conv.IdleAirValve,
		Description: "Idle air control valve opening",
		ShortDesc:   "IACV",
		Name:        "iacv",
		Unit:        units.Percent,
	},
	{
		ID:          ParamLHAirFuelAlpha,
		MSB:         RegisterLHAirFuelAlpha,
		LSB:         RegisterNull,
		Conversion:  conv.AirFuelAlpha,
		Description: "Left hand bank air/fuel alpha",
		ShortDesc:   "LH Alpha",
		Name:        "lh-alpha",
		Unit:        units.Percent,
	},
	{
		ID:          ParamRHAirFuelAlpha,
		MSB:         RegisterRHAirFuelAlpha,
		LSB:         RegisterNull,
		Conversion:  conv.AirFuelAlpha,
		Description: "Right hand bank air/fuel alpha",
		ShortDesc:   "RH Alpha",
		Name:        "rh-alpha",
		Unit:        units.Percent,
	},
	{
		ID:          ParamLHAirFuelAlphaSelfLearn,
		MSB:         RegisterLHAirFuelAlphaSelfLearn,
		LSB:         RegisterNull,
		Conversion:  conv.AirFuelAlpha,
		Description: "Left hand bank self-learned air/fuel alpha",
		ShortDesc:   "LH Alpha SL",
		Name:        "lh-alpha-sl",
		Unit:        units.Percent,
	},
	{
		ID:          ParamRHAirFuelAlphaSelfLearn,
		MSB:         RegisterRHAirFuelAlphaSelfLearn,
		LSB:         RegisterNull,
		Conversion:  conv.AirFuelAlpha,
		Description: "Right hand bank self-learned air/fuel alpha",
		ShortDesc:   "RH Alpha SL",
		Name:        "rh-alpha-sl",
		Unit:        units.Percent,
	},
	{
		ID:          ParamRHInjectionTime,
		MSB:         RegisterRHInjectionTimeMSB,
		LSB:         RegisterRHInjectionTimeLSB,
		Conversion:  conv.InjectionTime,
		Description: "Right hand bank injector pulse width",
		ShortDesc:   "RH Inj",
		Name:        "rh-inj",
		Unit:        units.MS,
	},

	// No conversions are known for these; they're reported as raw bytes.
	rawParameter(ParamWasteGateSolenoid, RegisterWasteGateSolenoidPercent, "Waste gate solenoid", "WG Sol", "wastegate"),
	rawParameter(ParamTurboBoostSensorVoltage, RegisterTurboBoostSensorVoltage, "Turbo boost sensor voltage", "Boost", "boost"),
	rawParameter(ParamEngineMountOnOff, RegisterEngineMountOnOff, "Engine mount switch", "Eng Mount", "engine-mount"),
	rawParameter(ParamPositionCounter, RegisterPositionCounter, "Position counter", "Pos Cnt", "position-counter"),
	rawParameter(ParamPurgeVolumeControlValve, RegisterPurgeVolumeControlValve, "Purge volume control valve", "Purge", "purge"),
	rawParameter(ParamTankFuelTemp, RegisterTankFuelTemp, "Tank fuel temperature", "Tank Temp", "tank-temp"),
	rawParameter(ParamFPCMDRVoltage, RegisterFPCMDRVoltage, "Fuel pump control module drive voltage", "FPCM", "fpcm"),
	rawParameter(ParamFuelGaugeVoltage, RegisterFuelGaugeVoltage, "Fuel gauge voltage", "Fuel Gauge", "fuel-gauge"),
	rawParameter(ParamFrontO2HeaterB1, RegisterFrontO2HeaterB1, "Front O2 heater, bank 1", "O2 Htr B1", "o2-heater-b1"),
	rawParameter(ParamFrontO2HeaterB2, RegisterFrontO2HeaterB2, "Front O2 heater, bank 2", "O2 Htr B2", "o2-heater-b2"),
	rawParameter(ParamIgnitionSwitch, RegisterIgnitionSwitch, "Ignition switch", "Ign Sw", "ign-switch"),
	rawParameter(ParamCalculatedLoadValue, RegisterCalculatedLoadValue, "Calculated load value", "Load", "load"),
	rawParameter(ParamBaseFuelSchedule, RegisterBaseFuelSchedule, "Base fuel schedule", "B Fuel", "base-fuel"),
	rawParameter(ParamRearO2SensorVoltageB1, RegisterRearO2SensorVoltageB1, "Rear O2 sensor voltage, bank 1", "Rr O2 B1", "rear-o2-b1"),
	rawParameter(ParamRearO2SensorVoltageB2, RegisterRearO2SensorVoltageB2, "Rear O2 sensor voltage, bank 2", "Rr O2 B2", "rear-o2-b2"),
	rawParameter(ParamAbsThrottlePosition, RegisterAbsThrottlePosition, "Absolute throttle position", "Abs TPS", "abs-tps"),
	rawParameter(ParamMAFGramsPerSecond, RegisterMAFGramsPerSecond, "Mass air flow", "MAF g/s", "maf-gs"),
}

func rawParameter(id ParameterID, reg Register, desc, short, name string) Parameter {
	return Parameter{
		ID:          id,
		MSB:         reg,
		LSB:         RegisterNull,
		Conversion:  conv.RawByte,
		Description: desc,
		ShortDesc:   short,
		Name:        name,
		Unit:        units.Raw,
	}
}
