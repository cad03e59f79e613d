package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo/drivers/gree/gree"
	greemetrics "github.com/edgeo/drivers/gree/internal/metrics"
)

// metricsPath is where the Prometheus handler is mounted.
const metricsPath = "/metrics"

// newRegistry registers the event collector and the client counters of
// device on a fresh registry.
func newRegistry(device string, client *gree.Client) (*prometheus.Registry, *greemetrics.Collector) {
	reg := prometheus.NewRegistry()
	collector := greemetrics.NewCollector(reg)
	reg.MustRegister(greemetrics.NewClientCollector(device, client.Metrics()))
	collector.SetState(device, client.State())
	return reg, collector
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveMetrics runs the metrics server in g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry) {
	srv := newMetricsServer(addr, reg)

	g.Go(func() error {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		logger.Info("metrics server listening", "addr", addr, "path", metricsPath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve on %s: %w", addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// recordingDevice feeds every client event to the collector before handing
// it on through its own channel.
type recordingDevice struct {
	*gree.Client
	device    string
	collector *greemetrics.Collector
	events    chan gree.Event
}

func newRecordingDevice(client *gree.Client, device string, collector *greemetrics.Collector) *recordingDevice {
	return &recordingDevice{
		Client:    client,
		device:    device,
		collector: collector,
		events:    make(chan gree.Event, 64),
	}
}

// Events returns the forwarded event channel.
func (d *recordingDevice) Events() <-chan gree.Event {
	return d.events
}

// forward copies client events until ctx is done or the client closes its
// channel. The forwarded channel is closed on return.
func (d *recordingDevice) forward(ctx context.Context) error {
	defer close(d.events)

	src := d.Client.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src:
			if !ok {
				return nil
			}
			d.collector.RecordEvent(d.device, ev)
			select {
			case d.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
