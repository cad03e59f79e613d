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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/gree/gree"
)

var statusWait time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the properties of an appliance",
	Long: `Status binds to the appliance, waits for its first status reply and prints
every reported property.

Examples:
  edgeo-gree status -H 192.168.1.42
  edgeo-gree status -H 192.168.1.42 -o json`,

	RunE: runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusWait, "wait", 10*time.Second, "Maximum time to connect and receive the status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := createClient(gree.WithPolling(false))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), statusWait)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	props, err := waitForStatus(ctx, client)
	if err != nil {
		return err
	}

	f := NewFormatter(viper.GetString("output"))
	if f.format == FormatTable {
		info := client.DeviceInfo()
		f.Printf("Device %s (%s, firmware %s)\n\n", info.ID, info.Name, info.Version)
	}
	return f.PrintProperties(props)
}

// waitForStatus returns the properties of the first status reply.
func waitForStatus(ctx context.Context, client *gree.Client) (gree.Properties, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for status: %w", ctx.Err())
		case ev, ok := <-client.Events():
			if !ok {
				return nil, gree.ErrClientClosed
			}
			switch ev.Type {
			case gree.EventUpdate:
				return ev.Properties, nil
			case gree.EventNoResponse:
				return nil, fmt.Errorf("appliance did not answer the status request")
			case gree.EventError:
				logger.Debug("session error", "error", ev.Err)
			}
		}
	}
}
