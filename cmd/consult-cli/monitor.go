package main

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"

	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/gavinwade12/consult/protocols/wbo2"
	"github.com/gavinwade12/consult/units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var defaultMonitorParams = []string{"cas-pos", "coolant", "battery", "tps", "timing", "lh-inj"}

var monitorParams []string
var monitorCSVFile string
var monitorWBO2 bool
var monitorCycles int
var monitorImperial bool

func init() {
	monitorCmd.Flags().StringSliceVar(&monitorParams, "params", nil, "parameters to monitor (see the params command). Defaults to "+monitorParamsSettingName+" from the config")
	monitorCmd.Flags().StringVar(&monitorCSVFile, "csv", "", "write the snapshots to this CSV file instead of stdout")
	monitorCmd.Flags().BoolVar(&monitorWBO2, "wbo2", false, "add the wideband AFR to every snapshot")
	monitorCmd.Flags().IntVar(&monitorCycles, "cycles", 0, "stop after this many snapshots (0 runs until interrupted)")
	monitorCmd.Flags().BoolVar(&monitorImperial, "imperial", false, "show temperatures and speeds in imperial units")

	rootCmd.AddCommand(monitorCmd)
}

// resolveParameters maps command-line names to parameter ids.
func resolveParameters(names []string) ([]*consult.Parameter, error) {
	if len(names) == 0 {
		return nil, errors.New("no parameters to monitor")
	}
	if len(names) > consult.MaxMonitorParameters {
		return nil, errors.Errorf("%d parameters requested, at most %d can be monitored", len(names), consult.MaxMonitorParameters)
	}

	params := make([]*consult.Parameter, len(names))
	for i, n := range names {
		p, ok := consult.ParameterByName(n)
		if !ok {
			return nil, errors.Errorf("unknown parameter '%s'", n)
		}
		params[i] = p
	}
	return params, nil
}

func displayUnit(u units.Unit, imperial bool) units.Unit {
	if imperial {
		return units.Imperial(u)
	}
	return u
}

// snapshotWriter turns snapshots into CSV rows.
type snapshotWriter struct {
	w        *csv.Writer
	params   []*consult.Parameter
	imperial bool
	withAFR  bool
}

func newSnapshotWriter(w io.Writer, params []*consult.Parameter, imperial, withAFR bool) *snapshotWriter {
	return &snapshotWriter{
		w:        csv.NewWriter(w),
		params:   params,
		imperial: imperial,
		withAFR:  withAFR,
	}
}

func (sw *snapshotWriter) header() error {
	row := []string{"time"}
	for _, p := range sw.params {
		row = append(row, p.ShortDesc+" ("+string(displayUnit(p.Unit, sw.imperial))+")")
	}
	if sw.withAFR {
		row = append(row, "WBO2 ("+string(units.AFR)+")")
	}
	return sw.w.Write(row)
}

// write records s. afr is only used when the writer was built withAFR; a
// NaN afr means no reading has arrived yet.
func (sw *snapshotWriter) write(s consult.Snapshot, afr float32) error {
	row := []string{s.Time.Format("15:04:05.000")}
	for _, v := range s.Values {
		value := v.Value
		if to := displayUnit(v.Parameter.Unit, sw.imperial); to != v.Parameter.Unit {
			converted, err := units.Convert(value, v.Parameter.Unit, to)
			if err != nil {
				return errors.Wrapf(err, "converting %s", v.Parameter.Name)
			}
			value = converted
		}
		row = append(row, strconv.FormatFloat(value, 'f', 2, 64))
	}
	if sw.withAFR {
		if math.IsNaN(float64(afr)) {
			row = append(row, "")
		} else {
			row = append(row, strconv.FormatFloat(float64(afr), 'f', 2, 32))
		}
	}
	if err := sw.w.Write(row); err != nil {
		return err
	}
	sw.w.Flush()
	return sw.w.Error()
}

// sessionErr drops the error a session ends with when it was cancelled.
func sessionErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var monitorCmd = &cobra.Command{
	Use:          "monitor",
	Short:        "Monitor live ECU parameters, optionally alongside the wideband AFR",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := monitorParams
		if len(names) == 0 {
			names = viper.GetStringSlice(monitorParamsSettingName)
		}
		if len(names) == 0 {
			names = defaultMonitorParams
		}
		params, err := resolveParameters(names)
		if err != nil {
			return err
		}
		ids := make([]consult.ParameterID, len(params))
		for i, p := range params {
			ids[i] = p.ID
		}

		out := cmd.OutOrStdout()
		if monitorCSVFile != "" {
			f, err := appFs.Create(monitorCSVFile)
			if err != nil {
				return errors.Wrap(err, "creating CSV file")
			}
			defer f.Close()
			out = f
		}
		sw := newSnapshotWriter(out, params, monitorImperial, monitorWBO2)
		if err = sw.header(); err != nil {
			return errors.Wrap(err, "writing CSV header")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		conn, err := openECU(ctx)
		if err != nil {
			return err
		}
		defer func() {
			checkOK(conn.Close(), "closing ECU connection")
		}()

		var sensor *wbo2.Sensor
		if monitorWBO2 {
			if sensor, err = openWBO2(ctx); err != nil {
				return err
			}
			defer func() {
				checkOK(sensor.Close(), "closing WBO2")
			}()
		}

		return runMonitor(ctx, cancel, conn, sensor, ids, sw, monitorCycles)
	},
}

// runMonitor runs the ECU session, and the WBO2 session when sensor isn't
// nil, until ctx is done, either session fails or cycles snapshots have
// been written.
func runMonitor(ctx context.Context, cancel context.CancelFunc, conn *consult.Connection, sensor *wbo2.Sensor,
	ids []consult.ParameterID, sw *snapshotWriter, cycles int) error {
	var afr atomic.Uint32
	afr.Store(math.Float32bits(float32(math.NaN())))

	snapshots := make(chan consult.Snapshot, consult.MaxMonitorParameters)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(snapshots)
		err := conn.StartMonitor(gctx, ids, func(s consult.Snapshot) {
			select {
			case snapshots <- s:
			case <-gctx.Done():
			}
		})
		if err != nil {
			return errors.Wrap(err, "starting ECU monitor")
		}

		select {
		case <-conn.MonitorDone():
		case <-gctx.Done():
		}
		checkOK(conn.StopMonitor(), "stopping ECU monitor")
		return errors.Wrap(sessionErr(conn.MonitorErr()), "ECU monitor")
	})

	if sensor != nil {
		g.Go(func() error {
			err := sensor.StartMonitor(gctx, func(v float32) {
				afr.Store(math.Float32bits(v))
			})
			if err != nil {
				return errors.Wrap(err, "starting WBO2 monitor")
			}

			select {
			case <-sensor.MonitorDone():
			case <-gctx.Done():
			}
			checkOK(sensor.StopMonitor(), "stopping WBO2 monitor")
			return errors.Wrap(sessionErr(sensor.MonitorErr()), "WBO2 monitor")
		})
	}

	g.Go(func() error {
		written := 0
		for s := range snapshots {
			if cycles > 0 && written >= cycles {
				continue
			}
			if err := sw.write(s, math.Float32frombits(afr.Load())); err != nil {
				return errors.Wrap(err, "writing snapshot")
			}
			written++
			if cycles > 0 && written >= cycles {
				cancel()
			}
		}
		return nil
	})

	return g.Wait()
}
