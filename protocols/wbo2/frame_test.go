package wbo2_test

import (
	"testing"

	"github.com/gavinwade12/consult/protocols/wbo2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decodeAll(d *wbo2.Decoder, b []byte) ([]*wbo2.Frame, []error) {
	var frames []*wbo2.Frame
	var errs []error
	for _, c := range b {
		f, err := d.DecodeByte(c)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestEncodeFrame(t *testing.T) {
	p := wbo2.NewLambdaPacket(14.7, wbo2.StoichGasoline)
	assert.Equal(t, wbo2.Packet{Function: wbo2.FunctionLambda, Multiplier: 147, Raw: 500}, p)

	b := wbo2.EncodeFrame(wbo2.Frame{Packets: []wbo2.Packet{p}})
	assert.Equal(t, []byte{0xA2, 0x82, 0x43, 0x13, 0x03, 0x74}, b)
}

func TestDecodeLambda(t *testing.T) {
	var d wbo2.Decoder
	frames, errs := decodeAll(&d, []byte{0xA2, 0x82, 0x43, 0x13, 0x03, 0x74})
	require.Empty(t, errs)
	require.Len(t, frames, 1)

	p, ok := frames[0].Reading()
	require.True(t, ok)
	assert.InDelta(t, 1.0, p.Lambda(), 1e-6)
	afr, ok := frames[0].AFR()
	require.True(t, ok)
	assert.InDelta(t, 14.7, afr, 1e-4)
}

func TestDecodeRich(t *testing.T) {
	var d wbo2.Decoder
	b := wbo2.EncodeFrame(wbo2.Frame{Packets: []wbo2.Packet{wbo2.NewLambdaPacket(11.5, wbo2.StoichGasoline)}})
	frames, errs := decodeAll(&d, b)
	require.Empty(t, errs)
	require.Len(t, frames, 1)

	afr, ok := frames[0].AFR()
	require.True(t, ok)
	assert.InDelta(t, 11.5, afr, 0.015)
}

func TestDecodeStatus(t *testing.T) {
	var d wbo2.Decoder
	b := wbo2.EncodeFrame(wbo2.Frame{Packets: []wbo2.Packet{{
		Function:   wbo2.FunctionWarmingUp,
		Multiplier: 147,
		Raw:        35,
	}}})
	frames, errs := decodeAll(&d, b)
	require.Empty(t, errs)
	require.Len(t, frames, 1)

	_, ok := frames[0].AFR()
	assert.False(t, ok)
	fn, ok := frames[0].Status()
	require.True(t, ok)
	assert.Equal(t, wbo2.FunctionWarmingUp, fn)
	assert.Equal(t, "warming up", fn.String())
	assert.Equal(t, uint16(35), frames[0].Packets[0].Raw)
}

func TestDecodeAux(t *testing.T) {
	var d wbo2.Decoder
	in := wbo2.Frame{
		Packets: []wbo2.Packet{wbo2.NewLambdaPacket(14.7, wbo2.StoichGasoline)},
		Aux:     []uint16{0, 0x3FF, 0x155},
	}
	frames, errs := decodeAll(&d, wbo2.EncodeFrame(in))
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, in, *frames[0])
}

func TestDecodeResync(t *testing.T) {
	good := wbo2.EncodeFrame(wbo2.Frame{Packets: []wbo2.Packet{wbo2.NewLambdaPacket(13, wbo2.StoichGasoline)}})

	tests := []struct {
		name   string
		prefix []byte
		errs   int
	}{
		{"Noise", []byte{0x01, 0x55, 0x7F, 0x00}, 0},
		{"CutShort", good[:4], 1},
		{"BadHeader", []byte{0xA2, 0x02}, 1},
		{"EmptyFrame", []byte{0xA2, 0x80}, 1},
		{"HeaderOnly", good[:2], 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d wbo2.Decoder
			frames, errs := decodeAll(&d, append(append([]byte(nil), tt.prefix...), good...))
			require.Len(t, errs, tt.errs)
			for _, err := range errs {
				assert.True(t, errors.Is(err, wbo2.ErrInvalidResponse))
				assert.Equal(t, wbo2.CodeInvalidResponse, wbo2.CodeOf(err))
			}
			require.Len(t, frames, 1)
			afr, ok := frames[0].AFR()
			require.True(t, ok)
			assert.InDelta(t, 13, afr, 0.015)
		})
	}
}

func TestDecodeAfterNoise(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		noise := rapid.SliceOf(rapid.ByteRange(0, 0x7F)).Draw(t, "noise")
		n := rapid.IntRange(1, 3).Draw(t, "packets")
		in := wbo2.Frame{}
		for i := 0; i < n; i++ {
			in.Packets = append(in.Packets, wbo2.Packet{
				Function:   wbo2.Function(rapid.IntRange(0, 7).Draw(t, "function")),
				Multiplier: rapid.Byte().Draw(t, "multiplier"),
				Raw:        rapid.Uint16Range(0, 0x1FFF).Draw(t, "raw"),
			})
		}
		if aux := rapid.SliceOfN(rapid.Uint16Range(0, 0x3FF), 0, 4).Draw(t, "aux"); len(aux) > 0 {
			in.Aux = aux
		}

		var d wbo2.Decoder
		frames, errs := decodeAll(&d, append(noise, wbo2.EncodeFrame(in)...))
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if len(frames) != 1 {
			t.Fatalf("want 1 frame, got %d", len(frames))
		}
		assert.Equal(t, in, *frames[0])
	})
}
