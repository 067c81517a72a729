package consult

// Command is a Consult command byte.
type Command byte

const (
	CommandReadFaultCodes    Command = 0xD1
	CommandResetFaultCodes   Command = 0xC1
	CommandReadPartNumber    Command = 0xD0
	CommandReadROMByte       Command = 0xC9
	CommandReadRegister      Command = 0x5A
	CommandActiveTest        Command = 0x0A
	CommandTerm              Command = 0xF0
	CommandStopStream        Command = 0x30
	CommandStopStreamAck     byte    = 0xCF
	InitResponse             byte    = 0x10
	FrameStartByte           byte    = 0xFF
	FaultCodeNoMalfunction   byte    = 0x55
	PartNumberLength         int     = 22
	MaxFaultCodes            int     = 20
	MaxRegistersPerExchange  int     = 2 * MaxMonitorParameters
	maxBytesBeforeStartByte  int     = 16
	maxBytesBeforeStreamStop int     = 512
)

// InitSequence is sent to wake the ECU; it answers with InitResponse.
var InitSequence = []byte{0xFF, 0xFF, 0xEF}

// echo returns the byte the ECU sends back for c.
func (c Command) echo() byte {
	return byte(c) ^ 0xFF
}

// Register is an address in the ECU's telemetry table.
type Register byte

// Registers with known conversions.
const (
	RegisterCASPositionMSB          Register = 0x00
	RegisterCASPositionLSB          Register = 0x01
	RegisterCASReferenceMSB         Register = 0x02
	RegisterCASReferenceLSB         Register = 0x03
	RegisterMAFVoltageMSB           Register = 0x04
	RegisterMAFVoltageLSB           Register = 0x05
	RegisterRHMAFVoltageMSB         Register = 0x06
	RegisterRHMAFVoltageLSB         Register = 0x07
	RegisterCoolantTemp             Register = 0x08
	RegisterLHO2SensorVoltage       Register = 0x09
	RegisterRHO2SensorVoltage       Register = 0x0A
	RegisterVehicleSpeed            Register = 0x0B
	RegisterBatteryVoltage          Register = 0x0C
	RegisterThrottlePositionVoltage Register = 0x0D
	RegisterFuelTemp                Register = 0x0F
	RegisterIntakeAirTemp           Register = 0x11
	RegisterExhaustGasTemp          Register = 0x12
	RegisterLHInjectionTimeMSB      Register = 0x14
	RegisterLHInjectionTimeLSB      Register = 0x15
	RegisterIgnitionTiming          Register = 0x16
	RegisterIdleAirValvePercent     Register = 0x17
	RegisterLHAirFuelAlpha          Register = 0x1A
	RegisterRHAirFuelAlpha          Register = 0x1B
	RegisterLHAirFuelAlphaSelfLearn Register = 0x1C
	RegisterRHAirFuelAlphaSelfLearn Register = 0x1D
	RegisterRHInjectionTimeMSB      Register = 0x22
	RegisterRHInjectionTimeLSB      Register = 0x23
)

// Registers without known conversions.
const (
	RegisterPurgeVolumeControlValve  Register = 0x25
	RegisterTankFuelTemp             Register = 0x26
	RegisterFPCMDRVoltage            Register = 0x27
	RegisterWasteGateSolenoidPercent Register = 0x28
	RegisterTurboBoostSensorVoltage  Register = 0x29
	RegisterEngineMountOnOff         Register = 0x2A
	RegisterPositionCounter          Register = 0x2E
	RegisterFuelGaugeVoltage         Register = 0x2F
	RegisterFrontO2HeaterB1          Register = 0x30
	RegisterFrontO2HeaterB2          Register = 0x31
	RegisterIgnitionSwitch           Register = 0x32
	RegisterCalculatedLoadValue      Register = 0x33
	RegisterBaseFuelSchedule         Register = 0x34
	RegisterRearO2SensorVoltageB1    Register = 0x35
	RegisterRearO2SensorVoltageB2    Register = 0x36
	RegisterAbsThrottlePosition      Register = 0x37
	RegisterMAFGramsPerSecond        Register = 0x38

	// RegisterNull marks the absent half of a single-byte parameter.
	RegisterNull Register = 0xFF
)

// FaultCode is one entry of the ECU's self-diagnostic table.
type FaultCode struct {
	Code   byte
	Starts byte
}
