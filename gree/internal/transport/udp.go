// Package transport provides the datagram channel used to talk to the appliance
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// maxDatagram bounds a single read. Status replies stay well below it.
const maxDatagram = 4096

// ErrNotOpen is returned by operations on a transport that was never opened.
var ErrNotOpen = errors.New("transport not open")

// UDPTransport is an ephemeral udp4 socket able to send broadcasts
type UDPTransport struct {
	localAddr    string
	conn         *net.UDPConn
	mu           sync.RWMutex
	writeTimeout time.Duration
	closed       bool
}

// NewUDPTransport creates a new UDP transport. An empty localAddr binds an
// ephemeral port on all interfaces.
func NewUDPTransport(localAddr string) *UDPTransport {
	return &UDPTransport{
		localAddr:    localAddr,
		writeTimeout: 3 * time.Second,
	}
}

// SetWriteTimeout sets the write timeout used when the send context has no
// deadline
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open opens the UDP socket. The standard library enables SO_BROADCAST on
// datagram sockets, so broadcasts need no extra setup.
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.closed {
		return nil
	}

	var addr *net.UDPAddr
	if t.localAddr != "" {
		var err error
		addr, err = net.ResolveUDPAddr("udp4", t.localAddr)
		if err != nil {
			return fmt.Errorf("resolve local address: %w", err)
		}
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}

	t.conn = conn
	t.closed = false
	return nil
}

// Close closes the UDP socket. Pending reads return net.ErrClosed.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local address
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Send sends data to host:port
func (t *UDPTransport) Send(ctx context.Context, data []byte, host string, port int) error {
	t.mu.RLock()
	conn := t.conn
	closed := t.closed
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil || closed {
		return ErrNotOpen
	}

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}
	return nil
}

// ReceiveWithTimeout waits up to timeout for one datagram. A timeout is
// reported as an error whose Timeout method returns true.
func (t *UDPTransport) ReceiveWithTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return nil, nil, ErrNotOpen
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// IsClosed returns true if the transport is closed
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
