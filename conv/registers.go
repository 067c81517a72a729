package conv

// Register scalings for the Consult telemetry table.
var (
	CASPosition     = Linear{Scale: 12.5, Width: 2}  // rpm
	CASReference    = Linear{Scale: 8, Width: 2}     // rpm
	MAFVoltage      = Linear{Scale: 5, Width: 2}     // mV
	CoolantTemp     = Linear{Scale: 1, Offset: -50}  // C
	O2Voltage       = Linear{Scale: 10}              // mV
	VehicleSpeed    = Linear{Scale: 2}               // km/h
	BatteryVoltage  = Linear{Scale: 80}              // mV
	ThrottleVoltage = Linear{Scale: 20}              // mV
	FuelTemp        = Linear{Scale: 1, Offset: -50}  // C
	IntakeAirTemp   = Linear{Scale: 1, Offset: -50}  // C
	ExhaustGasTemp  = Linear{Scale: 20}              // mV
	InjectionTime   = Linear{Scale: 0.01, Width: 2}  // ms
	IgnitionTiming  = Linear{Scale: -1, Offset: 110} // deg BTDC
	IdleAirValve    = Linear{Scale: 0.5}             // %
	AirFuelAlpha    = Linear{Scale: 1}               // %

	// RawByte passes a register through untouched. Registers whose scaling
	// isn't known use it rather than a guessed conversion.
	RawByte = Linear{Scale: 1}
)
