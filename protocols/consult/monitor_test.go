package consult_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu        sync.Mutex
	snapshots []consult.Snapshot
	inFlight  atomic.Int32
	overlap   atomic.Bool
}

func (r *recorder) record(s consult.Snapshot) {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recorder) all() []consult.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]consult.Snapshot(nil), r.snapshots...)
}

func TestMonitorDeliversOrderedSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conn, _ := newTestConnection(t, consult.WithClock(clockwork.NewFakeClockAt(at)))

	ids := []consult.ParameterID{consult.ParamCoolantTemp, consult.ParamCASPosition, consult.ParamBatteryVoltage}
	rec := &recorder{}
	require.NoError(t, conn.StartMonitor(context.Background(), ids, rec.record))
	assert.True(t, conn.MonitorRunning())

	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.StopMonitor())
	assert.False(t, conn.MonitorRunning())
	assert.NoError(t, conn.MonitorErr())

	stopped := rec.count()
	for _, s := range rec.all() {
		require.Len(t, s.Values, len(ids))
		for i, v := range s.Values {
			assert.Equal(t, ids[i], v.Parameter.ID)
		}
		assert.InDelta(t, 90, s.Values[0].Value, 1e-9)
		assert.InDelta(t, 800, s.Values[1].Value, 1e-9)
		assert.InDelta(t, 14000, s.Values[2].Value, 1e-9)
		assert.Equal(t, at, s.Time)
	}
	assert.False(t, rec.overlap.Load(), "callbacks ran concurrently")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, rec.count(), "no callbacks after StopMonitor")
}

func TestStartMonitorValidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	noop := func(consult.Snapshot) {}

	tooMany := make([]consult.ParameterID, consult.MaxMonitorParameters+1)
	for i := range tooMany {
		tooMany[i] = consult.ParamCoolantTemp
	}

	tests := []struct {
		name string
		ids  []consult.ParameterID
		cb   consult.MonitorCallback
	}{
		{"TooManyParameters", tooMany, noop},
		{"NoParameters", nil, noop},
		{"UnknownParameter", []consult.ParameterID{consult.ParamCoolantTemp, 99}, noop},
		{"NullParameter", []consult.ParameterID{consult.ParamNull}, noop},
		{"NoCallback", []consult.ParameterID{consult.ParamCoolantTemp}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, sim := newTestConnection(t)

			err := conn.StartMonitor(ctx, tt.ids, tt.cb)
			assertErrIs(t, err, consult.ErrParamInvalid)
			assert.Equal(t, consult.CodeParamInvalid, consult.CodeOf(err))
			assert.False(t, conn.MonitorRunning())
			assert.Empty(t, sim.Port().Written())
		})
	}

	t.Run("TwentyIsAllowed", func(t *testing.T) {
		conn, _ := newTestConnection(t)

		require.NoError(t, conn.StartMonitor(ctx, tooMany[:consult.MaxMonitorParameters], noop))
		require.NoError(t, conn.StopMonitor())
	})
}

func TestStartMonitorTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	conn, _ := newTestConnection(t)
	ids := []consult.ParameterID{consult.ParamSpeed}

	require.NoError(t, conn.StartMonitor(ctx, ids, func(consult.Snapshot) {}))
	err := conn.StartMonitor(ctx, ids, func(consult.Snapshot) {})
	assertErrIs(t, err, consult.ErrStateInvalid)

	require.NoError(t, conn.StopMonitor())
	require.NoError(t, conn.StartMonitor(ctx, ids, func(consult.Snapshot) {}))
	require.NoError(t, conn.StopMonitor())
}

func TestStopMonitorWithoutSession(t *testing.T) {
	conn, sim := newTestConnection(t)

	assert.NoError(t, conn.StopMonitor())
	assert.NoError(t, conn.StopMonitor())
	assert.Empty(t, sim.Port().Written())

	select {
	case <-conn.MonitorDone():
	default:
		t.Fatal("MonitorDone should be closed without a session")
	}
}

func TestMonitorSkipsFailedCycles(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn, sim := newTestConnection(t)
	sim.InjectFault(consult.FaultNoStartByte, 2)

	ids := []consult.ParameterID{consult.ParamCoolantTemp, consult.ParamIgnitionTiming}
	rec := &recorder{}
	require.NoError(t, conn.StartMonitor(context.Background(), ids, rec.record))

	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.StopMonitor())
	assert.NoError(t, conn.MonitorErr())

	for _, s := range rec.all() {
		assert.Len(t, s.Values, len(ids), "partial snapshot delivered")
	}
}

func TestMonitorEndsAfterConsecutiveErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn, sim := newTestConnection(t)
	sim.InjectFault(consult.FaultSilent, -1)

	rec := &recorder{}
	require.NoError(t, conn.StartMonitor(context.Background(), []consult.ParameterID{consult.ParamSpeed}, rec.record))

	select {
	case <-conn.MonitorDone():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor didn't give up")
	}
	assertErrIs(t, conn.MonitorErr(), consult.ErrNoResponse)
	assert.Zero(t, rec.count())
	assert.Equal(t, consult.MaxConsecutiveErrors, sim.Requests())

	assert.True(t, conn.MonitorRunning(), "session holds until stopped")
	require.NoError(t, conn.StopMonitor())
	assertErrIs(t, conn.MonitorErr(), consult.ErrNoResponse)
}

func TestMonitorEndsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn, _ := newTestConnection(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, conn.StartMonitor(ctx, []consult.ParameterID{consult.ParamSpeed}, func(consult.Snapshot) {}))
	cancel()

	select {
	case <-conn.MonitorDone():
	case <-time.After(time.Second):
		t.Fatal("monitor ignored the canceled context")
	}
	assertErrIs(t, conn.MonitorErr(), context.Canceled)
	require.NoError(t, conn.StopMonitor())
}

func TestForegroundCallsDuringMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	conn, sim := newTestConnection(t)
	sim.SetFaultCodes(consult.FaultCode{Code: 0x21, Starts: 3})

	rec := &recorder{}
	require.NoError(t, conn.StartMonitor(ctx, []consult.ParameterID{consult.ParamCASPosition}, rec.record))

	for i := 0; i < 5; i++ {
		codes, err := conn.ReadFaultCodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []consult.FaultCode{{Code: 0x21, Starts: 3}}, codes)
	}

	_, err := conn.ProcessData()
	assertErrIs(t, err, consult.ErrBusy)

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.StopMonitor())
	assert.NoError(t, conn.MonitorErr())
}

func TestCloseStopsMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn, _ := newTestConnection(t)

	require.NoError(t, conn.StartMonitor(context.Background(), []consult.ParameterID{consult.ParamSpeed}, func(consult.Snapshot) {}))
	require.NoError(t, conn.Close())
	assert.False(t, conn.MonitorRunning())
	assert.False(t, conn.Initialised())
}
