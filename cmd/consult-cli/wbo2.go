package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gavinwade12/consult/protocols/wbo2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var wbo2Samples int

func init() {
	wbo2Cmd.Flags().IntVar(&wbo2Samples, "samples", 0, "stop after this many readings (0 runs until interrupted)")

	rootCmd.AddCommand(wbo2Cmd)
}

var wbo2Cmd = &cobra.Command{
	Use:          "wbo2",
	Short:        "Print the wideband controller's air/fuel ratio stream",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sensor, err := openWBO2(ctx)
		if err != nil {
			return err
		}
		defer func() {
			checkOK(sensor.Close(), "closing WBO2")
		}()

		out := cmd.OutOrStdout()
		for n := 0; wbo2Samples == 0 || n < wbo2Samples; {
			if ctx.Err() != nil {
				return nil
			}

			sample, err := sensor.ProcessData()
			if err != nil {
				switch wbo2.CodeOf(err) {
				case wbo2.CodeReadTimeout, wbo2.CodeNoResponse, wbo2.CodeInvalidResponse:
					checkOK(err, "reading WBO2")
					continue
				}
				return errors.Wrap(err, "reading WBO2")
			}

			stamp := sample.Time.Format("15:04:05.000")
			if !sample.Valid() {
				fmt.Fprintf(out, "%s %s\n", stamp, sample.Function)
				continue
			}
			fmt.Fprintf(out, "%s %.2f AFR (lambda %.3f)\n", stamp, sample.AFR, sample.Lambda)
			n++
		}
		return nil
	},
}
