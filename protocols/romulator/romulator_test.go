package romulator_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/gavinwade12/consult/protocols/romulator"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 50 * time.Millisecond

func newTestRomulator(t *testing.T) (*romulator.Romulator, *romulator.Simulator) {
	t.Helper()
	sim := romulator.NewSimulator()
	r := romulator.New("/dev/romu", nil, romulator.WithOpener(sim.Opener()),
		romulator.WithReadTimeout(testTimeout))
	require.NoError(t, r.Init(context.Background()))
	t.Cleanup(func() { r.Close() })
	sim.Port().ResetWritten()
	return r, sim
}

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()
	assert.True(t, errors.Is(err, target), "want %v. got: %v.", target, err)
}

func testImage(seed int64) []byte {
	img := make([]byte, romulator.ROMSize)
	rand.New(rand.NewSource(seed)).Read(img)
	return img
}

func TestInit(t *testing.T) {
	t.Run("Identifies", func(t *testing.T) {
		r, _ := newTestRomulator(t)
		assert.True(t, r.Ready())
		assert.Equal(t, byte(2), r.Version())
		assert.NotNil(t, r.Port())
	})

	t.Run("FailsWhenSilent", func(t *testing.T) {
		sim := romulator.NewSimulator()
		sim.SetSilent(true)
		r := romulator.New("/dev/romu", nil, romulator.WithOpener(sim.Opener()),
			romulator.WithReadTimeout(testTimeout))

		err := r.Init(context.Background())
		assertErrIs(t, err, romulator.ErrInitFail)
		assert.Equal(t, romulator.CodeInitFail, romulator.CodeOf(err))
		assert.False(t, r.Ready())
		assert.True(t, sim.Port().Closed())
	})

	t.Run("TransfersNeedInit", func(t *testing.T) {
		sim := romulator.NewSimulator()
		r := romulator.New("/dev/romu", nil, romulator.WithOpener(sim.Opener()))
		ctx := context.Background()

		assertErrIs(t, r.WriteBuffer(ctx, 0, []byte{1}), romulator.ErrInitFail)
		_, err := r.ReadBuffer(ctx, 0, 1)
		assertErrIs(t, err, romulator.ErrInitFail)
		assertErrIs(t, r.HiddenWrite(ctx, 0, 1), romulator.ErrInitFail)
		assert.Empty(t, sim.Port().Written())
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
		assert.False(t, r.Ready())
		assert.True(t, sim.Port().Closed())
	})
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x12+0x34+0x03+0x01+0x02+0x03), romulator.Checksum(0x1234, 3, []byte{1, 2, 3}))
	// a full block encodes its length as zero
	assert.Equal(t, romulator.Checksum(0x0100, 256, nil), byte(0x01))
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	r, sim := newTestRomulator(t)

	for _, n := range []int{1, 17, romulator.BlockSize} {
		block := testImage(int64(n))[:n]
		addr := uint16(0x7F00)

		require.NoError(t, r.WriteBuffer(ctx, addr, block))
		got, err := r.ReadBuffer(ctx, addr, n)
		require.NoError(t, err)
		assert.Equal(t, block, got)
		assert.Equal(t, block, sim.Memory()[addr:int(addr)+n])
	}
}

func TestCorruptionIsDetected(t *testing.T) {
	ctx := context.Background()

	t.Run("OnWrite", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.CorruptWrites(1)

		err := r.WriteBuffer(ctx, 0x0200, []byte{1, 2, 3, 4})
		assertErrIs(t, err, romulator.ErrBadChecksum)
		assert.Equal(t, romulator.CodeBadChecksum, romulator.CodeOf(err))

		require.NoError(t, r.WriteBuffer(ctx, 0x0200, []byte{1, 2, 3, 4}))
		assert.Equal(t, []byte{1, 2, 3, 4}, sim.Memory()[0x0200:0x0204])
	})

	t.Run("OnRead", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		require.NoError(t, r.WriteBuffer(ctx, 0, []byte{9, 8, 7}))
		sim.CorruptReads(1)

		_, err := r.ReadBuffer(ctx, 0, 3)
		assertErrIs(t, err, romulator.ErrBadChecksum)

		got, err := r.ReadBuffer(ctx, 0, 3)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8, 7}, got)
	})
}

func TestDataLen(t *testing.T) {
	ctx := context.Background()
	r, sim := newTestRomulator(t)

	assertErrIs(t, r.WriteBuffer(ctx, 0, nil), romulator.ErrDataLen)
	assertErrIs(t, r.WriteBuffer(ctx, 0, make([]byte, romulator.BlockSize+1)), romulator.ErrDataLen)
	assertErrIs(t, r.WriteBuffer(ctx, 0x7F80, make([]byte, romulator.BlockSize)), romulator.ErrDataLen)
	_, err := r.ReadBuffer(ctx, 0, 0)
	assertErrIs(t, err, romulator.ErrDataLen)
	_, err = r.ReadBuffer(ctx, 0x8000, 1)
	assertErrIs(t, err, romulator.ErrDataLen)
	assertErrIs(t, r.HiddenWriteWithRetry(ctx, 0x8000, 1), romulator.ErrDataLen)

	assert.Empty(t, sim.Port().Written())
}

func TestTimeout(t *testing.T) {
	r, sim := newTestRomulator(t)
	sim.SetSilent(true)

	start := time.Now()
	_, err := r.ReadBuffer(context.Background(), 0, 16)
	assertErrIs(t, err, romulator.ErrTimeout)
	assert.Equal(t, romulator.CodeTimeout, romulator.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), testTimeout)
}

func TestHiddenWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("Writes", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		require.NoError(t, r.HiddenWrite(ctx, 0x1000, 0x42))
		assert.Equal(t, byte(0x42), sim.Memory()[0x1000])
	})

	t.Run("Rejected", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.FailHiddenWrites(1)
		assertErrIs(t, r.HiddenWrite(ctx, 0x1000, 0x42), romulator.ErrCommandFail)
	})

	t.Run("RetrySucceeds", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.FailHiddenWrites(3)

		require.NoError(t, r.HiddenWriteWithRetry(ctx, 0x1000, 0x42))
		assert.Equal(t, 4, sim.HiddenWrites())
		assert.Equal(t, byte(0x42), sim.Memory()[0x1000])
	})

	t.Run("RetryIsBounded", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.FailHiddenWrites(100)

		err := r.HiddenWriteWithRetry(ctx, 0x1000, 0x42)
		assertErrIs(t, err, romulator.ErrCommandFail)
		assert.Equal(t, romulator.CodeCommandFail, romulator.CodeOf(err))
		assert.Equal(t, 5, sim.HiddenWrites())
	})
}

func TestImageTransfer(t *testing.T) {
	ctx := context.Background()
	img := testImage(1)

	t.Run("WriteReadVerify", func(t *testing.T) {
		r, sim := newTestRomulator(t)

		var last int
		require.NoError(t, r.WriteImage(ctx, img, func(done, total int) {
			assert.Equal(t, romulator.ROMSize, total)
			last = done
		}))
		assert.Equal(t, romulator.ROMSize, last)
		assert.Equal(t, img, sim.Memory())

		got, err := r.ReadImage(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, img, got)

		bad, err := r.VerifyImage(ctx, img, nil)
		require.NoError(t, err)
		assert.Empty(t, bad)
	})

	t.Run("RetriesCorruptedBlocks", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.CorruptWrites(2)

		require.NoError(t, r.WriteImage(ctx, img, nil))
		assert.Equal(t, img, sim.Memory())
		assert.Equal(t, romulator.ROMSize/romulator.BlockSize+2, sim.BlockWrites())
	})

	t.Run("GivesUpOnPersistentCorruption", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.CorruptWrites(romulator.BlockRetries)

		err := r.WriteImage(ctx, img, nil)
		assertErrIs(t, err, romulator.ErrBadChecksum)
		assert.Equal(t, romulator.BlockRetries, sim.BlockWrites())
	})

	t.Run("VerifyFindsDifferences", func(t *testing.T) {
		r, sim := newTestRomulator(t)
		sim.Load(img)
		require.NoError(t, r.HiddenWrite(ctx, 0x0305, img[0x0305]^0xFF))

		bad, err := r.VerifyImage(ctx, img, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0x0300}, bad)
	})

	t.Run("RejectsWrongSize", func(t *testing.T) {
		r, _ := newTestRomulator(t)
		assertErrIs(t, r.WriteImage(ctx, img[:100], nil), romulator.ErrDataLen)
	})
}

func TestErrStr(t *testing.T) {
	tests := []struct {
		code romulator.Code
		want string
	}{
		{romulator.CodeOK, "OK"},
		{romulator.CodeTimeout, "Romulator timeout"},
		{romulator.CodeCommandFail, "Romulator command failed"},
		{romulator.CodeBadChecksum, "Romulator bad checksum"},
		{romulator.CodeInitFail, "Romulator init failed"},
		{romulator.CodeDataLen, "Invalid data length"},
		{romulator.Code(42), "Unknown error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, romulator.ErrStr(tt.code))
		assert.Equal(t, tt.want, tt.code.String())
	}

	assert.Equal(t, romulator.CodeOK, romulator.CodeOf(nil))
	assert.Equal(t, romulator.CodeUnknown, romulator.CodeOf(errors.New("other")))
	assert.Equal(t, romulator.CodeBadChecksum, romulator.CodeOf(errors.Wrap(romulator.ErrBadChecksum, "block 2")))
}
