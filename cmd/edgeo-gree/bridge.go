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
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo/drivers/gree/gree"
	"github.com/edgeo/drivers/gree/internal/mqttbridge"
)

var (
	bridgeBroker      string
	bridgeUsername    string
	bridgePassword    string
	bridgeClientID    string
	bridgeTopicPrefix string
	bridgeDevice      string
	bridgeMetricsAddr string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge an appliance to an MQTT broker",
	Long: `Bridge keeps a session with the appliance and mirrors it on MQTT.

Topics below <prefix>/<device>/:
  availability        online or offline (retained)
  state               all properties as JSON (retained)
  <property>          one property value (retained)
  error               rejected set requests and session errors
  set                 JSON object of properties to change
  <property>/set      a single value

Examples:
  edgeo-gree bridge -H 192.168.1.42 --broker tcp://localhost:1883
  edgeo-gree bridge -H 192.168.1.42 --device living-room --metrics-addr :9108`,

	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeBroker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	bridgeCmd.Flags().StringVar(&bridgeUsername, "username", "", "MQTT username")
	bridgeCmd.Flags().StringVar(&bridgePassword, "password", "", "MQTT password")
	bridgeCmd.Flags().StringVar(&bridgeClientID, "client-id", "", "MQTT client ID (default edgeo-gree-<device>)")
	bridgeCmd.Flags().StringVar(&bridgeTopicPrefix, "topic-prefix", mqttbridge.DefaultTopicPrefix, "Topic prefix")
	bridgeCmd.Flags().StringVar(&bridgeDevice, "device", "", "Device name in topics (default the appliance ID)")
	bridgeCmd.Flags().StringVar(&bridgeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	for _, name := range []string{"broker", "username", "password"} {
		if err := viper.BindPFlag("mqtt."+name, bridgeCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
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

	deviceID := client.DeviceID()
	name := bridgeDevice
	if name == "" {
		name = deviceID
	}
	clientID := bridgeClientID
	if clientID == "" {
		clientID = "edgeo-gree-" + name
	}

	reg, collector := newRegistry(deviceID, client)
	dev := newRecordingDevice(client, deviceID, collector)

	broker, err := mqttbridge.DialPaho(mqttbridge.PahoConfig{
		Broker:    viper.GetString("mqtt.broker"),
		ClientID:  clientID,
		Username:  viper.GetString("mqtt.username"),
		Password:  viper.GetString("mqtt.password"),
		WillTopic: bridgeTopicPrefix + "/" + name + "/availability",
		Timeout:   viper.GetDuration("timeout"),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer broker.Close()

	bridge, err := mqttbridge.New(broker, dev, mqttbridge.Config{
		TopicPrefix: bridgeTopicPrefix,
		DeviceName:  name,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("bridge started", "device", deviceID, "topic", bridge.Topic(""))

	g, gCtx := errgroup.WithContext(ctx)
	if bridgeMetricsAddr != "" {
		serveMetrics(gCtx, g, bridgeMetricsAddr, reg)
	}
	g.Go(func() error {
		return dev.forward(gCtx)
	})
	g.Go(func() error {
		err := bridge.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	logger.Info("bridge stopped")
	return err
}
