// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/gree/gree"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-gree",
	Short: "A command-line client for Gree Wi-Fi air conditioners",
	Long: `edgeo-gree talks to Gree (and compatible) air conditioners over the local
network using their UDP protocol.

It discovers appliances, binds to one, reads and changes its properties,
watches it for changes and bridges it to an MQTT broker.

Examples:
  # Discover appliances on the local network
  edgeo-gree scan

  # Show the current properties of an appliance
  edgeo-gree status -H 192.168.1.42

  # Turn cooling on at 24 degrees
  edgeo-gree set -H 192.168.1.42 power=on mode=cool temperature=24

  # Print every change
  edgeo-gree watch -H 192.168.1.42

  # Mirror the appliance onto MQTT
  edgeo-gree bridge -H 192.168.1.42 --broker tcp://localhost:1883`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetString("log-format"), viper.GetBool("verbose"))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-gree.yaml)")
	flags.StringP("host", "H", gree.DefaultHost, "Appliance IP address (the broadcast address reaches the first one to answer)")
	flags.IntP("port", "p", gree.DefaultPort, "Appliance UDP port")
	flags.DurationP("timeout", "t", 3*time.Second, "Connect timeout before discovery starts over")
	flags.Duration("poll-interval", 3*time.Second, "Status polling interval")
	flags.Duration("poll-timeout", time.Second, "Wait for a status or command reply")
	flags.Int("encryption", int(gree.EncryptionNegotiate), "Encryption version (1 = negotiate, 2 = current cipher only)")
	flags.StringP("output", "o", "table", "Output format (table, json, csv, raw)")
	flags.BoolP("verbose", "v", false, "Enable verbose output")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("local", "", "Local address to bind to (e.g., 0.0.0.0:7000)")

	for _, name := range []string{
		"host", "port", "timeout", "poll-interval", "poll-timeout",
		"encryption", "output", "verbose", "log-format", "local",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-gree")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GREE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func newLogger(format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// clientOptions builds client options from flags, environment and config file.
func clientOptions() []gree.Option {
	opts := []gree.Option{
		gree.WithHost(viper.GetString("host")),
		gree.WithPort(viper.GetInt("port")),
		gree.WithConnectTimeout(viper.GetDuration("timeout")),
		gree.WithPollingInterval(viper.GetDuration("poll-interval")),
		gree.WithPollingTimeout(viper.GetDuration("poll-timeout")),
		gree.WithEncryptionVersion(gree.EncryptionVersion(viper.GetInt("encryption"))),
		gree.WithLogger(logger),
	}

	if local := viper.GetString("local"); local != "" {
		opts = append(opts, gree.WithLocalAddress(local))
	}

	return opts
}

// createClient creates a Gree client with current configuration
func createClient(extra ...gree.Option) (*gree.Client, error) {
	return gree.NewClient(append(clientOptions(), extra...)...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-gree version %s\n", version)
	},
}
