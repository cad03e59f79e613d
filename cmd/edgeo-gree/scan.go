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
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/gree/gree"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for appliances on the network",
	Long: `Scan broadcasts a discovery request and lists every appliance that answers.

Examples:
  # Discover appliances on the default broadcast address
  edgeo-gree scan

  # Scan another subnet with an extended timeout
  edgeo-gree scan -H 10.0.0.255 --scan-timeout 10s`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 5*time.Second, "Discovery timeout")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	fmt.Fprintln(os.Stderr, "Scanning for Gree appliances...")

	devices, err := gree.Discover(ctx, clientOptions()...)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	f := NewFormatter(viper.GetString("output"))
	switch f.format {
	case FormatJSON, FormatRaw:
		return f.PrintJSON(devices)
	case FormatCSV:
		return f.PrintCSV(deviceHeaders, deviceRows(devices))
	default:
		f.Println()
		f.PrintTable(deviceHeaders, deviceRows(devices))
		f.Printf("\nFound %d device(s)\n", len(devices))
		return nil
	}
}

var deviceHeaders = []string{"DEVICE ID", "ADDRESS", "NAME", "MODEL", "BRAND", "VERSION", "LOCK"}

func deviceRows(devices []gree.DiscoveredDevice) [][]string {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{
			dev.ID,
			dev.Address,
			dev.Name,
			dev.Model,
			dev.Brand,
			dev.Version,
			strconv.Itoa(dev.Lock),
		})
	}
	return rows
}
