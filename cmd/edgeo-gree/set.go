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
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/gree/gree"
)

var (
	setWait    time.Duration
	setConfirm bool
)

var setCmd = &cobra.Command{
	Use:   "set property=value...",
	Short: "Change appliance properties",
	Long: `Set sends one command changing every given property.

Values are either symbolic (on, off, cool, heat, auto, high, ...) or numbers.
Run "edgeo-gree set --list" to print the accepted values.

Examples:
  # Turn on and cool to 24 degrees
  edgeo-gree set -H 192.168.1.42 power=on mode=cool temperature=24

  # Set the fan speed without waiting for the confirmation
  edgeo-gree set -H 192.168.1.42 fanSpeed=high --confirm=false`,

	RunE: runSet,
}

var setList bool

func init() {
	setCmd.Flags().DurationVar(&setWait, "wait", 10*time.Second, "Maximum time to connect and get the confirmation")
	setCmd.Flags().BoolVar(&setConfirm, "confirm", true, "Wait for the appliance to confirm the command")
	setCmd.Flags().BoolVar(&setList, "list", false, "List properties and their values")
}

func runSet(cmd *cobra.Command, args []string) error {
	if setList {
		printPropertyList()
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("at least one property=value is required")
	}

	props, err := parseAssignments(args)
	if err != nil {
		return err
	}
	// Validate before touching the network.
	if _, err := gree.ToWire(props); err != nil {
		return err
	}

	client, err := createClient(gree.WithPolling(false))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), setWait)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.SetProperties(ctx, props); err != nil {
		return fmt.Errorf("set properties: %w", err)
	}
	if !setConfirm {
		fmt.Println("Command sent")
		return nil
	}

	confirmed, err := waitForConfirmation(ctx, client)
	if err != nil {
		return err
	}
	fmt.Println("Command confirmed:")
	NewFormatter("table").PrintKeyValue(confirmed, propertyOrder(confirmed))
	return nil
}

// waitForConfirmation returns the properties confirmed by the appliance.
func waitForConfirmation(ctx context.Context, client *gree.Client) (gree.Properties, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for confirmation: %w", ctx.Err())
		case ev, ok := <-client.Events():
			if !ok {
				return nil, gree.ErrClientClosed
			}
			switch ev.Type {
			case gree.EventSuccess:
				return ev.Changed, nil
			case gree.EventError:
				if gree.IsTimeout(ev.Err) {
					return nil, ev.Err
				}
				logger.Debug("session error", "error", ev.Err)
			}
		}
	}
}

// parseAssignments turns name=value arguments into properties.
func parseAssignments(args []string) (gree.Properties, error) {
	props := make(gree.Properties, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, want property=value", arg)
		}
		props[name] = parseValue(raw)
	}
	return props, nil
}

func parseValue(s string) any {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	if (strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2) ||
		(strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") && len(s) >= 2) {
		return s[1 : len(s)-1]
	}

	if i, err := strconv.Atoi(s); err == nil {
		return i
	}

	return s
}

func printPropertyList() {
	f := NewFormatter("table")
	rows := make([][]string, 0, len(gree.PropertyNames()))
	for _, name := range gree.PropertyNames() {
		code, _ := gree.WireCode(name)
		values := strings.Join(gree.PropertyValues(name), ", ")
		if values == "" {
			values = "<number>"
		}
		access := "rw"
		if gree.IsReadOnlyProperty(name) {
			access = "ro"
		}
		rows = append(rows, []string{name, code, access, values})
	}
	f.PrintTable([]string{"PROPERTY", "CODE", "ACCESS", "VALUES"}, rows)
}
