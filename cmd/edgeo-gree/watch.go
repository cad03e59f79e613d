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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo/drivers/gree/gree"
)

var (
	watchMetricsAddr string
	watchAll         bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch an appliance for changes",
	Long: `Watch binds to the appliance, polls its status and prints every change
until interrupted.

Examples:
  # Print changes every 3 seconds
  edgeo-gree watch -H 192.168.1.42

  # Poll faster and print the complete state on every change
  edgeo-gree watch -H 192.168.1.42 --poll-interval 1s --all

  # Expose Prometheus metrics while watching
  edgeo-gree watch -H 192.168.1.42 --metrics-addr :9108`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "Print all properties instead of the changed ones")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := createClient(gree.WithPolling(true))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, viper.GetDuration("timeout")*4)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	info := client.DeviceInfo()
	reg, collector := newRegistry(info.ID, client)
	dev := newRecordingDevice(client, info.ID, collector)

	fmt.Fprintf(os.Stderr, "Watching %s (%s)\n", info.ID, info.Name)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	g, gCtx := errgroup.WithContext(ctx)
	if watchMetricsAddr != "" {
		serveMetrics(gCtx, g, watchMetricsAddr, reg)
	}
	g.Go(func() error {
		return dev.forward(gCtx)
	})
	g.Go(func() error {
		for ev := range dev.Events() {
			outputWatchEvent(ev)
		}
		return nil
	})

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "\nStopping watch...")
	return err
}

func outputWatchEvent(ev gree.Event) {
	props := ev.Changed
	if watchAll && ev.Properties != nil {
		props = ev.Properties
	}
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}

	switch viper.GetString("output") {
	case "json":
		line := map[string]any{
			"time":  ev.Time.Format(time.RFC3339Nano),
			"event": ev.Type.String(),
		}
		if len(props) > 0 {
			line["properties"] = props
		}
		if detail != "" {
			line["error"] = detail
		}
		data, _ := json.Marshal(line)
		fmt.Println(string(data))
	case "csv":
		if len(props) == 0 {
			fmt.Printf("%s,%s,,%s\n", ev.Time.Format(time.RFC3339Nano), ev.Type, detail)
			return
		}
		for _, name := range propertyOrder(props) {
			fmt.Printf("%s,%s,%s,%v\n", ev.Time.Format(time.RFC3339Nano), ev.Type, name, props[name])
		}
	default:
		changeMarker := " "
		if ev.Type == gree.EventUpdate || ev.Type == gree.EventSuccess {
			changeMarker = "*"
		}
		fmt.Printf("[%s]%s %-13s %s\n",
			ev.Time.Format("15:04:05.000"),
			changeMarker,
			ev.Type,
			formatWatchDetail(props, detail),
		)
	}
}

func formatWatchDetail(props gree.Properties, detail string) string {
	if detail != "" {
		return detail
	}
	parts := make([]string, 0, len(props))
	for _, name := range propertyOrder(props) {
		parts = append(parts, fmt.Sprintf("%s=%v", name, props[name]))
	}
	return strings.Join(parts, " ")
}
