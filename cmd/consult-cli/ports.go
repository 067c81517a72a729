package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var portDevice string

func init() {
	selectPortCmd.Flags().StringVar(&portDevice, "device", "ecu", "which device the port is for: ecu, romulator or wbo2")

	portsCmd.AddCommand(listPortsCmd)
	portsCmd.AddCommand(selectPortCmd)

	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage the available ports",
}

var listPortsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available ports on the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.AvailablePorts()
		if err != nil {
			return err
		}

		return listPorts(cmd.OutOrStdout(), ports)
	},
}

func listPorts(w io.Writer, ports []serialport.SerialPort) error {
	data := pterm.TableData{{"#", "Port", "Product", "USB", "Assigned"}}
	for i, p := range ports {
		data = append(data, []string{
			strconv.Itoa(i), p.PortName, p.Description, strconv.FormatBool(p.IsUSB), assignedTo(p.PortName),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func assignedTo(port string) string {
	var devices []string
	for _, d := range []struct{ name, port string }{
		{"ecu", ecuPort},
		{"romulator", romulatorPort},
		{"wbo2", wbo2Port},
	} {
		if d.port == port {
			devices = append(devices, d.name)
		}
	}
	return strings.Join(devices, ",")
}

func portSettingFor(device string) (string, error) {
	switch device {
	case "ecu":
		return ecuPortSettingName, nil
	case "romulator":
		return romulatorPortSettingName, nil
	case "wbo2":
		return wbo2PortSettingName, nil
	}
	return "", errors.Errorf("unknown device '%s'", device)
}

var selectPortCmd = &cobra.Command{
	Use:          "set",
	Short:        "Set the port a device uses in the config file",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, err := portSettingFor(portDevice)
		if err != nil {
			return err
		}

		ports, err := serialport.AvailablePorts()
		if err != nil {
			return err
		}
		if err = listPorts(cmd.OutOrStdout(), ports); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), "Port (index): ")

		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return err
		}

		i, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil {
			return errors.Wrap(err, "parsing input as integer")
		}

		if i < 0 || i >= len(ports) {
			return errors.New("invalid selection")
		}

		portName := ports[i].PortName
		viper.Set(setting, portName)
		fmt.Fprintf(cmd.OutOrStdout(), "Selected '%s' for %s\n", portName, portDevice)

		return viper.WriteConfig()
	},
}
