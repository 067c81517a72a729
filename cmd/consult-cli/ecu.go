package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func init() {
	faultsCmd.AddCommand(readFaultsCmd)
	faultsCmd.AddCommand(clearFaultsCmd)

	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(faultsCmd)
	rootCmd.AddCommand(partNumberCmd)
	rootCmd.AddCommand(romByteCmd)
	rootCmd.AddCommand(activeTestCmd)
}

// commandContext is cancelled on interrupt or after deviceTimeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), deviceTimeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	return ctx, func() {
		stop()
		cancel()
	}
}

// withECU runs fn against an initialised ECU and closes it afterwards.
func withECU(fn func(ctx context.Context, conn *consult.Connection) error) error {
	ctx, cancel := commandContext()
	defer cancel()

	conn, err := openECU(ctx)
	if err != nil {
		return err
	}
	defer func() {
		checkOK(conn.Close(), "closing ECU connection")
	}()

	return fn(ctx, conn)
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List the parameters that can be monitored",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listParameters(cmd.OutOrStdout())
	},
}

func listParameters(w io.Writer) error {
	data := pterm.TableData{{"Name", "Short", "Unit", "Registers", "Description"}}
	for _, p := range consult.AvailableParameters {
		regs := make([]string, 0, 2)
		for _, r := range p.Registers() {
			regs = append(regs, fmt.Sprintf("0x%02x", byte(r)))
		}
		data = append(data, []string{p.Name, p.ShortDesc, string(p.Unit), strings.Join(regs, ","), p.Description})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Read or clear the stored fault codes",
}

var readFaultsCmd = &cobra.Command{
	Use:          "read",
	Short:        "Read the stored fault codes",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withECU(func(ctx context.Context, conn *consult.Connection) error {
			codes, err := conn.ReadFaultCodes(ctx)
			if err != nil {
				return errors.Wrap(err, "reading fault codes")
			}
			return printFaultCodes(cmd.OutOrStdout(), codes)
		})
	},
}

func printFaultCodes(w io.Writer, codes []consult.FaultCode) error {
	if len(codes) == 0 {
		fmt.Fprintln(w, "no malfunction")
		return nil
	}

	data := pterm.TableData{{"Code", "Starts since"}}
	for _, c := range codes {
		data = append(data, []string{fmt.Sprintf("%02X", c.Code), strconv.Itoa(int(c.Starts))})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

var clearFaultsCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Clear the stored fault codes",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withECU(func(ctx context.Context, conn *consult.Connection) error {
			if err := conn.ResetFaultCodes(ctx); err != nil {
				return errors.Wrap(err, "clearing fault codes")
			}
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "fault codes cleared")
			}
			return nil
		})
	},
}

var partNumberCmd = &cobra.Command{
	Use:          "partnumber",
	Short:        "Read the ECU part number",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withECU(func(ctx context.Context, conn *consult.Connection) error {
			pn, err := conn.ReadPartNumber(ctx)
			if err != nil {
				return errors.Wrap(err, "reading part number")
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(pn), "\x00 "))
			return nil
		})
	},
}

// parseAddress accepts decimal or 0x-prefixed hex.
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing address '%s'", s)
	}
	return uint16(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing byte '%s'", s)
	}
	return byte(v), nil
}

var romByteCmd = &cobra.Command{
	Use:          "rom-byte <addr>",
	Short:        "Read one byte of the ECU's ROM",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		return withECU(func(ctx context.Context, conn *consult.Connection) error {
			b, err := conn.ReadROMByte(ctx, addr)
			if err != nil {
				return errors.Wrapf(err, "reading ROM byte 0x%04x", addr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%04x: 0x%02x\n", addr, b)
			return nil
		})
	},
}

var activeTestCmd = &cobra.Command{
	Use:   "atest <test> <value>",
	Short: "Run an active test: coolant, injection, timing, iacv, power-balance, fuel-pump or clear-self-learn",
	Long: `Run an active test. The value is the raw data byte, except for:
  injection   percent trim, -100 to 100
  timing      degrees, -20 to 20
  iacv        steps, -100 to 100
  fuel-pump   on or off`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		test, ok := consult.ActiveTestByName(args[0])
		if !ok {
			return errors.Errorf("unknown active test '%s'", args[0])
		}
		value := ""
		if len(args) > 1 {
			value = args[1]
		}

		return withECU(func(ctx context.Context, conn *consult.Connection) error {
			if err := runActiveTest(ctx, conn, test, value); err != nil {
				return errors.Wrapf(err, "running active test %s", test)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "active test %s sent\n", test)
			}
			return nil
		})
	},
}

func runActiveTest(ctx context.Context, conn *consult.Connection, test consult.ActiveTest, value string) error {
	switch test {
	case consult.ActiveTestClearSelfLearn:
		return conn.ClearSelfLearn(ctx)
	case consult.ActiveTestFuelPumpRelay:
		switch value {
		case "on":
			return conn.FuelPumpRelay(ctx, true)
		case "off":
			return conn.FuelPumpRelay(ctx, false)
		}
		return errors.Wrapf(consult.ErrParamInvalid, "fuel pump relay must be on or off, got '%s'", value)
	}

	if value == "" {
		return errors.Wrap(consult.ErrParamInvalid, "a value is required")
	}
	switch test {
	case consult.ActiveTestAdjustFuelInjection, consult.ActiveTestAdjustIgnitionTiming, consult.ActiveTestAdjustIACVOpening:
		v, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(consult.ErrParamInvalid, "parsing '%s': %v", value, err)
		}
		switch test {
		case consult.ActiveTestAdjustFuelInjection:
			return conn.AdjustFuelInjection(ctx, v)
		case consult.ActiveTestAdjustIgnitionTiming:
			if v < -consult.IgnitionTimingLimit || v > consult.IgnitionTimingLimit {
				return errors.Wrapf(consult.ErrParamInvalid, "timing offset %d out of range", v)
			}
			return conn.AdjustIgnitionTiming(ctx, int8(v))
		default:
			if v < -consult.IACVOpenLimit || v > consult.IACVOpenLimit {
				return errors.Wrapf(consult.ErrParamInvalid, "IACV offset %d out of range", v)
			}
			return conn.AdjustIACVOpening(ctx, int8(v))
		}
	}

	b, err := parseByte(value)
	if err != nil {
		return errors.Wrap(consult.ErrParamInvalid, err.Error())
	}
	return conn.ActiveTest(ctx, test, b)
}
