package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gavinwade12/consult/conv"
	"github.com/gavinwade12/consult/protocols/consult"
	"github.com/gavinwade12/consult/units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var convSigned bool

func init() {
	convFromCmd.Flags().BoolVar(&convSigned, "signed", false, "treat the map cell as a signed byte")

	convCmd.AddCommand(convToCmd)
	convCmd.AddCommand(convFromCmd)
	rootCmd.AddCommand(convCmd)
}

// mapConversion converts one ROM map cell type.
type mapConversion struct {
	to   func(byte) float64
	from func(string, conv.Flag) (byte, error)
	unit units.Unit
}

var mapConversions = map[string]mapConversion{
	"map-timing": {conv.ConvertToTiming, conv.ConvertFromTiming, units.DegreesBTDC},
	"map-afr":    {conv.ConvertToAFR, conv.ConvertFromAFR, units.AFR},
	"map-rpm":    {conv.ConvertToRPM, conv.ConvertFromRPM, units.RPM},
	"map-speed":  {conv.ConvertToSpeed, conv.ConvertFromSpeed, units.KMH},
}

func conversionKinds() string {
	kinds := make([]string, 0, len(mapConversions)+len(consult.AvailableParameters))
	for k := range mapConversions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, p := range consult.AvailableParameters {
		kinds = append(kinds, p.Name)
	}
	return strings.Join(kinds, ", ")
}

// convertTo turns a raw value of kind into text with its unit.
func convertTo(kind, raw string) (string, error) {
	r, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return "", errors.Wrapf(conv.ErrInvalidValue, "parsing raw value '%s'", raw)
	}

	if mc, ok := mapConversions[kind]; ok {
		if r > 0xFF {
			return "", errors.Wrapf(conv.ErrOutOfRange, "map cells are one byte, got %d", r)
		}
		return fmt.Sprintf("%.2f %s", mc.to(byte(r)), mc.unit), nil
	}

	p, ok := consult.ParameterByName(kind)
	if !ok {
		return "", errors.Errorf("unknown conversion '%s'", kind)
	}
	if uint16(r) > p.Conversion.Max() {
		return "", errors.Wrapf(conv.ErrOutOfRange, "%s holds at most %d", kind, p.Conversion.Max())
	}
	return fmt.Sprintf("%.2f %s", p.Conversion.To(uint16(r)), p.Unit), nil
}

// convertFrom turns a user value of kind into its raw form.
func convertFrom(kind, value string, flags conv.Flag) (string, error) {
	if mc, ok := mapConversions[kind]; ok {
		b, err := mc.from(value, flags)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%02x", b), nil
	}

	p, ok := consult.ParameterByName(kind)
	if !ok {
		return "", errors.Errorf("unknown conversion '%s'", kind)
	}
	v, err := conv.Parse(value)
	if err != nil {
		return "", err
	}
	raw, err := p.Conversion.From(v)
	if err != nil {
		return "", err
	}
	if p.Conversion.Width == 2 {
		return fmt.Sprintf("0x%04x", raw), nil
	}
	return fmt.Sprintf("0x%02x", raw), nil
}

var convCmd = &cobra.Command{
	Use:   "conv",
	Short: "Convert between raw ECU values and engineering units",
}

var convToCmd = &cobra.Command{
	Use:          "to <kind> <raw>",
	Short:        "Convert a raw value to engineering units",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := convertTo(args[0], args[1])
		if err != nil {
			return errors.Wrapf(err, "kinds are: %s", conversionKinds())
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	},
}

var convFromCmd = &cobra.Command{
	Use:          "from <kind> <value>",
	Short:        "Convert an engineering value to its raw form",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := conv.FlagNone
		if convSigned {
			flags |= conv.FlagBit8Present
		}

		s, err := convertFrom(args[0], args[1], flags)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	},
}
