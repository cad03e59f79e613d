// Package greemetrics exports Gree client activity to Prometheus.
package greemetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo/drivers/gree/gree"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "edgeo"
	subsystem = "gree"
)

// Label names for Gree metrics.
const (
	labelDevice   = "device"
	labelState    = "state"
	labelEvent    = "event"
	labelProperty = "property"
)

var states = []gree.State{
	gree.StateIdle,
	gree.StateDiscovering,
	gree.StateHandshaking,
	gree.StateBound,
	gree.StateDisconnected,
}

// -------------------------------------------------------------------------
// Collector
// -------------------------------------------------------------------------

// Collector holds the session-level Gree metrics fed from client events.
type Collector struct {
	// State is 1 for the current session state of a device, 0 otherwise.
	State *prometheus.GaugeVec

	// Events counts session events by type.
	Events *prometheus.CounterVec

	// Properties holds the last reported value of every property. Symbolic
	// values are exported as their wire index.
	Properties *prometheus.GaugeVec
}

// NewCollector creates a Collector registered against reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state",
			Help:      "Current session state (1 for the active state).",
		}, []string{labelDevice, labelState}),

		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Total session events by type.",
		}, []string{labelDevice, labelEvent}),

		Properties: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "property_value",
			Help:      "Last reported property value; symbolic values use their wire index.",
		}, []string{labelDevice, labelProperty}),
	}

	reg.MustRegister(c.State, c.Events, c.Properties)
	return c
}

// SetState marks state as the active session state of device.
func (c *Collector) SetState(device string, state gree.State) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		c.State.WithLabelValues(device, s.String()).Set(v)
	}
}

// RecordEvent counts ev and applies the properties it carries. A
// no-response event drops every property of the device.
func (c *Collector) RecordEvent(device string, ev gree.Event) {
	c.Events.WithLabelValues(device, ev.Type.String()).Inc()

	switch ev.Type {
	case gree.EventConnected:
		c.SetState(device, gree.StateBound)
	case gree.EventDisconnected:
		c.SetState(device, gree.StateDisconnected)
		c.ClearProperties(device)
	case gree.EventUpdate, gree.EventSuccess:
		c.SetProperties(device, ev.Changed)
	case gree.EventNoResponse:
		c.ClearProperties(device)
	}
}

// SetProperties updates the property gauges. Values without a numeric form
// are skipped.
func (c *Collector) SetProperties(device string, props gree.Properties) {
	for name, v := range props {
		if f, ok := PropertyValue(name, v); ok {
			c.Properties.WithLabelValues(device, name).Set(f)
		}
	}
}

// ClearProperties removes every property gauge of device.
func (c *Collector) ClearProperties(device string) {
	c.Properties.DeletePartialMatch(prometheus.Labels{labelDevice: device})
}

// PropertyValue converts a friendly property value to a gauge value.
func PropertyValue(name string, v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case string:
		for i, s := range gree.PropertyValues(name) {
			if s == x {
				return float64(i), true
			}
		}
	}
	return 0, false
}
