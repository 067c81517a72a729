package main

import (
	"context"

	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/gavinwade12/consult/protocols/romulator"
	"github.com/gavinwade12/consult/protocols/wbo2"
	"github.com/pkg/errors"
)

const demoDevice = "demo"

func requirePort(port, name string) (string, error) {
	if demo {
		return demoDevice, nil
	}
	if port == "" {
		return "", errors.Errorf("the %s setting is required", name)
	}
	return port, nil
}

// openECU returns an initialised Connection. Close it when done.
func openECU(ctx context.Context) (*consult.Connection, error) {
	port, err := requirePort(ecuPort, ecuPortSettingName)
	if err != nil {
		return nil, err
	}

	var opts []consult.Option
	if demo {
		sim := consult.NewSimulator()
		sim.SetJitter(true)
		sim.SetFaultCodes(consult.FaultCode{Code: 0x21, Starts: 3}, consult.FaultCode{Code: 0x45, Starts: 12})
		opts = append(opts, consult.WithOpener(sim.Opener()))
	}

	conn := consult.NewConnection(port, deviceLogger(port), opts...)
	if err = conn.Init(ctx, initTries); err != nil {
		return nil, errors.Wrapf(err, "initialising ECU on %s", port)
	}
	return conn, nil
}

// openRomulator returns an initialised Romulator. Close it when done.
func openRomulator(ctx context.Context) (*romulator.Romulator, error) {
	port, err := requirePort(romulatorPort, romulatorPortSettingName)
	if err != nil {
		return nil, err
	}

	var opts []romulator.Option
	if demo {
		opts = append(opts, romulator.WithOpener(romulator.NewSimulator().Opener()))
	}

	r := romulator.New(port, deviceLogger(port), opts...)
	if err = r.Init(ctx); err != nil {
		return nil, errors.Wrapf(err, "initialising romulator on %s", port)
	}
	return r, nil
}

// openWBO2 returns an initialised Sensor. In demo mode the simulated
// controller streams until ctx is done. Close the sensor when done.
func openWBO2(ctx context.Context) (*wbo2.Sensor, error) {
	port, err := requirePort(wbo2Port, wbo2PortSettingName)
	if err != nil {
		return nil, err
	}

	var opts []wbo2.Option
	if demo {
		sim := wbo2.NewSimulator()
		sim.SetAFR(13.8)
		sim.SetJitter(0.6)
		go sim.Run(ctx)
		opts = append(opts, wbo2.WithOpener(sim.Opener()))
	}

	s := wbo2.NewSensor(port, deviceLogger(port), opts...)
	if err = s.Init(ctx, initTries); err != nil {
		return nil, errors.Wrapf(err, "initialising WBO2 on %s", port)
	}
	return s, nil
}
