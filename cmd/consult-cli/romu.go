package main

import (
	"context"
	"fmt"

	"github.com/gavinwade12/consult/protocols/romulator"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// appFs holds ROM images and CSV logs.
var appFs = afero.NewOsFs()

func init() {
	romuCmd.AddCommand(romuWriteCmd)
	romuCmd.AddCommand(romuReadCmd)
	romuCmd.AddCommand(romuVerifyCmd)
	romuCmd.AddCommand(romuPokeCmd)

	rootCmd.AddCommand(romuCmd)
}

var romuCmd = &cobra.Command{
	Use:   "romu",
	Short: "Upload, download and patch images on the ROM emulator",
}

func loadImage(fs afero.Fs, path string) ([]byte, error) {
	img, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "reading image file")
	}
	if len(img) != romulator.ROMSize {
		return nil, errors.Wrapf(romulator.ErrDataLen, "%s is %d bytes, want %d", path, len(img), romulator.ROMSize)
	}
	return img, nil
}

func saveImage(fs afero.Fs, path string, img []byte) error {
	return errors.Wrap(afero.WriteFile(fs, path, img, 0o644), "writing image file")
}

// progressBar shows the transfer unless output is quiet.
func progressBar(title string) (romulator.Progress, func()) {
	if quiet {
		return nil, func() {}
	}
	bar, err := pterm.DefaultProgressbar.WithTotal(romulator.ROMSize).WithTitle(title).Start()
	if err != nil {
		return nil, func() {}
	}
	progress := func(done, total int) {
		bar.Add(done - bar.Current)
	}
	return progress, func() { bar.Stop() }
}

// withRomulator runs fn against an initialised ROM emulator and closes it
// afterwards.
func withRomulator(fn func(ctx context.Context, r *romulator.Romulator) error) error {
	ctx, cancel := commandContext()
	defer cancel()

	r, err := openRomulator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		checkOK(r.Close(), "closing romulator")
	}()

	return fn(ctx, r)
}

func uploadImage(ctx context.Context, fs afero.Fs, r *romulator.Romulator, path string, progress romulator.Progress) error {
	img, err := loadImage(fs, path)
	if err != nil {
		return err
	}
	return r.WriteImage(ctx, img, progress)
}

func downloadImage(ctx context.Context, fs afero.Fs, r *romulator.Romulator, path string, progress romulator.Progress) error {
	img, err := r.ReadImage(ctx, progress)
	if err != nil {
		return err
	}
	return saveImage(fs, path, img)
}

func verifyImage(ctx context.Context, fs afero.Fs, r *romulator.Romulator, path string, progress romulator.Progress) ([]uint16, error) {
	img, err := loadImage(fs, path)
	if err != nil {
		return nil, err
	}
	return r.VerifyImage(ctx, img, progress)
}

var romuWriteCmd = &cobra.Command{
	Use:          "write <file>",
	Short:        "Upload a 32 KiB image",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRomulator(func(ctx context.Context, r *romulator.Romulator) error {
			progress, done := progressBar("Uploading")
			defer done()
			return uploadImage(ctx, appFs, r, args[0], progress)
		})
	},
}

var romuReadCmd = &cobra.Command{
	Use:          "read <file>",
	Short:        "Download the emulator's image",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRomulator(func(ctx context.Context, r *romulator.Romulator) error {
			progress, done := progressBar("Downloading")
			defer done()
			return downloadImage(ctx, appFs, r, args[0], progress)
		})
	},
}

var romuVerifyCmd = &cobra.Command{
	Use:          "verify <file>",
	Short:        "Compare the emulator's image against a file",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRomulator(func(ctx context.Context, r *romulator.Romulator) error {
			progress, done := progressBar("Verifying")
			bad, err := verifyImage(ctx, appFs, r, args[0], progress)
			done()
			if err != nil {
				return err
			}

			if len(bad) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "image matches")
				return nil
			}
			for _, addr := range bad {
				fmt.Fprintf(cmd.OutOrStdout(), "block 0x%04x differs\n", addr)
			}
			return errors.Errorf("%d blocks differ", len(bad))
		})
	},
}

var romuPokeCmd = &cobra.Command{
	Use:          "poke <addr> <byte>",
	Short:        "Change one byte while the ECU is running",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		b, err := parseByte(args[1])
		if err != nil {
			return err
		}

		return withRomulator(func(ctx context.Context, r *romulator.Romulator) error {
			if err := r.HiddenWriteWithRetry(ctx, addr, b); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "0x%04x = 0x%02x\n", addr, b)
			}
			return nil
		})
	},
}
