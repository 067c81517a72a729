package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintFaultCodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printFaultCodes(&buf, nil))
	assert.Equal(t, "no malfunction\n", buf.String())

	buf.Reset()
	require.NoError(t, printFaultCodes(&buf, []consult.FaultCode{{Code: 0x21, Starts: 3}, {Code: 0x45, Starts: 12}}))
	out := buf.String()
	assert.Contains(t, out, "21")
	assert.Contains(t, out, "45")
	assert.Contains(t, out, "12")
}

func TestListParameters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listParameters(&buf))
	for _, name := range defaultMonitorParams {
		assert.Contains(t, buf.String(), name)
	}
}

func TestRunActiveTest(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends", func(t *testing.T) {
		conn, sim := newTestECU(t)
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestFuelPumpRelay, "off"))
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestAdjustFuelInjection, "-10"))
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestAdjustIgnitionTiming, "-1"))
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestAdjustIACVOpening, "4"))
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestPowerBalance, "0x03"))
		require.NoError(t, runActiveTest(ctx, conn, consult.ActiveTestClearSelfLearn, ""))

		assert.Equal(t, []consult.ActiveTestCall{
			{Test: consult.ActiveTestFuelPumpRelay, Data: consult.FuelPumpRelayOff},
			{Test: consult.ActiveTestAdjustFuelInjection, Data: 0x5A},
			{Test: consult.ActiveTestAdjustIgnitionTiming, Data: 0xFF},
			{Test: consult.ActiveTestAdjustIACVOpening, Data: 0x04},
			{Test: consult.ActiveTestPowerBalance, Data: 0x03},
			{Test: consult.ActiveTestClearSelfLearn, Data: consult.ClearSelfLearnValue},
		}, sim.ActiveTests())
	})

	t.Run("Rejects", func(t *testing.T) {
		conn, sim := newTestECU(t)
		tests := []struct {
			name  string
			test  consult.ActiveTest
			value string
		}{
			{"FuelPumpValue", consult.ActiveTestFuelPumpRelay, "maybe"},
			{"MissingValue", consult.ActiveTestAdjustCoolantTemp, ""},
			{"NotANumber", consult.ActiveTestAdjustFuelInjection, "lots"},
			{"TimingRange", consult.ActiveTestAdjustIgnitionTiming, "21"},
			{"IACVRange", consult.ActiveTestAdjustIACVOpening, "-101"},
			{"InjectionRange", consult.ActiveTestAdjustFuelInjection, "101"},
			{"ByteRange", consult.ActiveTestPowerBalance, "256"},
			{"NoCylinder", consult.ActiveTestPowerBalance, "9"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := runActiveTest(ctx, conn, tt.test, tt.value)
				assert.True(t, errors.Is(err, consult.ErrParamInvalid), "got: %v", err)
			})
		}
		assert.Empty(t, sim.ActiveTests())
	})
}
