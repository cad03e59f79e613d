package gree

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo/drivers/gree/gree/internal/transport"
)

// Transport is the datagram channel of one connect cycle.
type Transport interface {
	// Send submits one datagram to host:port.
	Send(ctx context.Context, data []byte, host string, port int) error
	// ReceiveWithTimeout waits for one datagram. Timeouts are reported as a
	// net.Error whose Timeout method returns true.
	ReceiveWithTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error)
	Close() error
	IsClosed() bool
}

// TransportFactory opens a transport bound to localAddr (empty for an
// ephemeral port). It is called once per connect cycle.
type TransportFactory func(ctx context.Context, localAddr string) (Transport, error)

func udpTransport(ctx context.Context, localAddr string) (Transport, error) {
	t := transport.NewUDPTransport(localAddr)
	if err := t.Open(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Client controls one Gree appliance.
//
// All session state lives in a single goroutine started by NewClient; the
// methods below hand work to it and wait for the outcome.
type Client struct {
	opts    *clientOptions
	sess    *session
	state   atomic.Int32
	metrics *Metrics

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new client. Nothing is sent until Connect is called,
// unless WithAutoConnect is set.
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = defaultOptions().logger
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		opts:    options,
		metrics: NewMetrics(),
		done:    make(chan struct{}),
	}
	c.sess = newSession(options, c.metrics, &c.state)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.done)
		c.sess.run(ctx)
	}()

	if options.autoConnect {
		if err := c.do(func(s *session) { s.connect(ctx, nil) }); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// do runs op on the session goroutine.
func (c *Client) do(op func(*session)) error {
	select {
	case c.sess.ops <- op:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// Connect discovers and binds the appliance. It returns once the session is
// bound, when Disconnect cancels the attempt (ErrConnectCancelled), when the
// first discovery request cannot be sent, or when ctx is done. In the last
// two cases the session keeps retrying in the background.
func (c *Client) Connect(ctx context.Context) error {
	res := make(chan error, 1)
	if err := c.do(func(s *session) { s.connect(ctx, res) }); err != nil {
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

// Disconnect cancels all timers, closes the transport and emits
// EventDisconnected. It returns ErrNotConnected when no transport is held.
func (c *Client) Disconnect(ctx context.Context) error {
	res := make(chan error, 1)
	if err := c.do(func(s *session) { res <- s.disconnect() }); err != nil {
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

// Close disconnects if needed and stops the session goroutine. The event
// channel is closed afterwards.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

// SetProperties sends one command changing several properties at once.
//
// Properties are validated before anything is sent; a read-only property
// fails with ErrReadOnlyProperty. Commands are sent one at a time: the call
// returns once its command was submitted, the confirmation arrives later as
// EventSuccess.
func (c *Client) SetProperties(ctx context.Context, props Properties) error {
	wire, err := ToWire(props)
	if err != nil {
		return err
	}
	if len(wire) == 0 {
		return nil
	}

	cmd := newCommand(wire)
	if err := c.do(func(s *session) { s.enqueue(cmd) }); err != nil {
		return err
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		cmd.cancelled.Store(true)
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

// SetProperty sets a single property
func (c *Client) SetProperty(ctx context.Context, property string, value any) error {
	return c.SetProperties(ctx, Properties{property: value})
}

// Properties returns the last known properties. The map is empty until the
// first status reply and after a status request went unanswered.
func (c *Client) Properties() Properties {
	res := make(chan Properties, 1)
	if err := c.do(func(s *session) { res <- s.snapshot() }); err != nil {
		return Properties{}
	}
	return <-res
}

// DeviceID returns the appliance identifier learned during discovery
func (c *Client) DeviceID() string {
	return c.DeviceInfo().ID
}

// DeviceInfo returns the discovery reply of the appliance
func (c *Client) DeviceInfo() DeviceInfo {
	res := make(chan DeviceInfo, 1)
	if err := c.do(func(s *session) { res <- s.device }); err != nil {
		return DeviceInfo{}
	}
	return <-res
}

// State returns the current session state
func (c *Client) State() State {
	return State(c.state.Load())
}

// Events returns the session event channel. Events are dropped when the
// channel is full.
func (c *Client) Events() <-chan Event {
	return c.sess.events
}

// Metrics returns the client metrics
func (c *Client) Metrics() *Metrics {
	return c.metrics
}
