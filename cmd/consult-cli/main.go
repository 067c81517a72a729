package main

import (
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config keys. Flags share the names so presetRequiredFlags can fill them.
const (
	ecuPortSettingName       = "ecu-port"
	romulatorPortSettingName = "romulator-port"
	wbo2PortSettingName      = "wbo2-port"
	initTriesSettingName     = "init-tries"
	monitorParamsSettingName = "monitor.parameters"
)

const defaultInitTries = 5

var configFile string
var ecuPort string
var romulatorPort string
var wbo2Port string
var initTries int
var logFile string
var demo bool
var quiet bool
var verbose bool

func init() {
	cobra.OnInitialize(func() {
		assertOK(initConfig(), "loading config")
		presetRequiredFlags(rootCmd)
		postInitCommands(rootCmd.Commands())
		initLogging()
	})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.consult.yaml)")
	rootCmd.PersistentFlags().StringVar(&ecuPort, ecuPortSettingName, "", "serial port the Consult cable is on. Example: /dev/ttyUSB0")
	rootCmd.PersistentFlags().StringVar(&romulatorPort, romulatorPortSettingName, "", "serial port the ROM emulator is on")
	rootCmd.PersistentFlags().StringVar(&wbo2Port, wbo2PortSettingName, "", "serial port the wideband controller is on")
	rootCmd.PersistentFlags().IntVar(&initTries, initTriesSettingName, defaultInitTries, "how many times to try each device's init handshake")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write the log to a rotating file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&demo, "demo", false, "talk to simulated devices instead of serial ports")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "quiet all log output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "provide verbose output")
}

func main() {
	assertOK(rootCmd.Execute(), "command failed")
}

var rootCmd = &cobra.Command{
	Use:           "consult-cli",
	Short:         "A CLI for interfacing with a Nissan ECU over Consult, a ROM emulator and a wideband O2 controller.",
	SilenceErrors: true,
}

// initConfig loads the config file, creating it on first run. Settings can
// also come from CONSULT_* environment variables, e.g. CONSULT_ECU_PORT.
func initConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "finding home directory")
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".consult")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault(initTriesSettingName, defaultInitTries)
	viper.SetEnvPrefix("consult")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
		return errors.Wrap(err, "reading config file")
	}

	if configFile != "" {
		err = viper.WriteConfigAs(configFile)
	} else {
		err = viper.SafeWriteConfig()
	}
	return errors.Wrap(err, "creating config file")
}

func postInitCommands(commands []*cobra.Command) {
	for _, cmd := range commands {
		presetRequiredFlags(cmd)
		if cmd.HasSubCommands() {
			postInitCommands(cmd.Commands())
		}
	}
}

func presetRequiredFlags(cmd *cobra.Command) {
	viper.BindPFlags(cmd.Flags())
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) && viper.GetString(f.Name) != "" {
			cmd.Flags().Set(f.Name, viper.GetString(f.Name))
		}
	})
}

// deviceTimeout bounds how long a one-shot command may take.
const deviceTimeout = 30 * time.Second
