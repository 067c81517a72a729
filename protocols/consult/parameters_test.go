package consult_test

import (
	"testing"

	"github.com/gavinwade12/consult/conv"
	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/gavinwade12/consult/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableParameters(t *testing.T) {
	require.Len(t, consult.AvailableParameters, 38)

	names := make(map[string]bool)
	for i, p := range consult.AvailableParameters {
		assert.Equal(t, consult.ParameterID(i+1), p.ID, "parameters are in id order")
		assert.False(t, names[p.Name], "duplicate name %s", p.Name)
		names[p.Name] = true

		assert.NotEqual(t, consult.RegisterNull, p.MSB)
		assert.NotEmpty(t, p.Description)
		assert.NotEmpty(t, p.ShortDesc)

		if p.MSB >= consult.RegisterPurgeVolumeControlValve {
			assert.Equal(t, conv.RawByte, p.Conversion, "%s has no known conversion", p.Name)
			assert.Equal(t, units.Raw, p.Unit)
		}
	}
}

func TestParameterLookup(t *testing.T) {
	p, ok := consult.ParameterByName("coolant")
	require.True(t, ok)
	assert.Equal(t, consult.ParamCoolantTemp, p.ID)

	byID, ok := consult.ParameterByID(consult.ParamCoolantTemp)
	require.True(t, ok)
	assert.Same(t, p, byID)

	_, ok = consult.ParameterByID(consult.ParamNull)
	assert.False(t, ok)
	_, ok = consult.ParameterByName("boost-pressure")
	assert.False(t, ok)
}

func TestParameterValue(t *testing.T) {
	tests := []struct {
		id   consult.ParameterID
		raw  []byte
		want float64
	}{
		{consult.ParamCASPosition, []byte{0x00, 0x40}, 800},
		{consult.ParamCASPosition, []byte{0x02, 0x00}, 6400},
		{consult.ParamCoolantTemp, []byte{140}, 90},
		{consult.ParamLHInjectionTime, []byte{0x01, 0x00}, 2.56},
		{consult.ParamIgnitionTiming, []byte{95}, 15},
		{consult.ParamMAFGramsPerSecond, []byte{0x7B}, 0x7B},
	}
	for _, tt := range tests {
		p, ok := consult.ParameterByID(tt.id)
		require.True(t, ok)
		assert.InDelta(t, tt.want, p.Value(tt.raw), 1e-9, p.Name)
		assert.Len(t, p.Registers(), len(tt.raw), p.Name)
	}
}
