package gree

import (
	"context"
	"errors"
	"log/slog"
	"net"
)

// DiscoveredDevice is an appliance that answered a discovery broadcast.
type DiscoveredDevice struct {
	DeviceInfo
	// Address is the source IP of the reply, empty if unknown.
	Address string `json:"address"`
}

// Discover sends one discovery request to the configured host (the
// broadcast address by default) and collects replies until ctx is done.
// Replies are deduplicated by device ID. Reaching the ctx deadline is the
// normal way to end a scan and is not reported as an error.
func Discover(ctx context.Context, opts ...Option) ([]DiscoveredDevice, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	logger := options.logger

	tr, err := options.transport(ctx, options.localAddress)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	if err := tr.Send(ctx, scanRequest, options.host, options.port); err != nil {
		return nil, sendError(err)
	}

	// Discovery replies always use the legacy default key.
	enc := NewEncryptionLayer(EncryptionNegotiate)
	seen := make(map[string]bool)
	var found []DiscoveredDevice

	for ctx.Err() == nil {
		data, addr, err := tr.ReceiveWithTimeout(receivePollInterval)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if tr.IsClosed() {
				break
			}
			logger.Debug("receive error", slog.String("error", err.Error()))
			continue
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			logger.Debug("discarding datagram", slog.String("error", err.Error()))
			continue
		}
		msg, err := enc.Decrypt(env.Pack, env.Tag)
		if err != nil {
			logger.Debug("discarding datagram", slog.String("error", err.Error()))
			continue
		}
		if msg.T != MessageDev {
			continue
		}

		info := deviceInfoFromMessage(msg)
		if seen[info.ID] {
			continue
		}
		seen[info.ID] = true

		d := DiscoveredDevice{DeviceInfo: info}
		if addr != nil {
			d.Address = addr.IP.String()
		}
		logger.Debug("device discovered",
			slog.String("device_id", info.ID),
			slog.String("address", d.Address),
		)
		found = append(found, d)
	}

	return found, nil
}
