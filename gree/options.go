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

package gree

import (
	"fmt"
	"log/slog"
	"time"
)

// clientOptions holds configuration for the Gree client
type clientOptions struct {
	// Network configuration
	host         string
	port         int
	localAddress string

	// Handshake
	connectTimeout   time.Duration
	bindRetryTimeout time.Duration
	encryption       EncryptionVersion
	autoConnect      bool

	// Polling
	poll            bool
	pollingInterval time.Duration
	pollingTimeout  time.Duration

	eventBuffer int
	transport   TransportFactory

	// Logging
	logger *slog.Logger
}

// defaultOptions returns the default client options
func defaultOptions() *clientOptions {
	return &clientOptions{
		host:             DefaultHost,
		port:             DefaultPort,
		connectTimeout:   3 * time.Second,
		bindRetryTimeout: 500 * time.Millisecond,
		encryption:       EncryptionNegotiate,
		poll:             true,
		pollingInterval:  3 * time.Second,
		pollingTimeout:   time.Second,
		eventBuffer:      64,
		transport:        udpTransport,
		logger:           slog.Default(),
	}
}

func (o *clientOptions) validate() error {
	switch {
	case o.host == "":
		return fmt.Errorf("gree: host is required")
	case o.port <= 0 || o.port > 65535:
		return fmt.Errorf("gree: invalid port %d", o.port)
	case o.connectTimeout <= 0:
		return fmt.Errorf("gree: connect timeout must be positive")
	case o.bindRetryTimeout <= 0:
		return fmt.Errorf("gree: bind retry timeout must be positive")
	case o.pollingInterval <= 0 || o.pollingTimeout <= 0:
		return fmt.Errorf("gree: polling interval and timeout must be positive")
	case o.eventBuffer < 0:
		return fmt.Errorf("gree: event buffer must not be negative")
	case o.transport == nil:
		return fmt.Errorf("gree: transport factory is required")
	}
	return nil
}

// Option is a functional option for configuring the client
type Option func(*clientOptions)

// WithHost sets the appliance address. The default is the broadcast address
// 192.168.1.255.
func WithHost(host string) Option {
	return func(o *clientOptions) {
		o.host = host
	}
}

// WithPort sets the appliance UDP port
func WithPort(port int) Option {
	return func(o *clientOptions) {
		o.port = port
	}
}

// WithLocalAddress sets the local address to bind to
func WithLocalAddress(addr string) Option {
	return func(o *clientOptions) {
		o.localAddress = addr
	}
}

// WithConnectTimeout sets how long discovery and binding may take before the
// session starts over.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithBindRetryTimeout sets the wait for a bind confirmation before the bind
// request is repeated with the next cipher.
func WithBindRetryTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.bindRetryTimeout = d
	}
}

// WithEncryptionVersion selects the cipher the first bind request uses
func WithEncryptionVersion(v EncryptionVersion) Option {
	return func(o *clientOptions) {
		o.encryption = v
	}
}

// WithAutoConnect starts connecting as soon as the client is created
func WithAutoConnect(enable bool) Option {
	return func(o *clientOptions) {
		o.autoConnect = enable
	}
}

// WithPolling enables or disables periodic status requests
func WithPolling(enable bool) Option {
	return func(o *clientOptions) {
		o.poll = enable
	}
}

// WithPollingInterval sets the status polling interval
func WithPollingInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pollingInterval = d
	}
}

// WithPollingTimeout sets how long to wait for a status or command response
func WithPollingTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pollingTimeout = d
	}
}

// WithEventBuffer sets the capacity of the event channel
func WithEventBuffer(n int) Option {
	return func(o *clientOptions) {
		o.eventBuffer = n
	}
}

// WithTransport replaces the UDP transport
func WithTransport(f TransportFactory) Option {
	return func(o *clientOptions) {
		o.transport = f
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}
