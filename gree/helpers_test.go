package gree_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/edgeo/drivers/gree/gree"
)

// -------------------------------------------------------------------------
// Fake transport
// -------------------------------------------------------------------------

const (
	deviceMAC = "-CLIENT-ID-"
	deviceKey = "---BINDED-KEY---"
)

// fakeTransport captures sent datagrams and replays injected ones.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(_ context.Context, data []byte, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReceiveWithTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-f.inbox:
		return data, nil, nil
	case <-f.closed:
		return nil, nil, net.ErrClosed
	case <-timer.C:
		return nil, nil, os.ErrDeadlineExceeded
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) deliver(data []byte) {
	f.inbox <- data
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastSent(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// fakeNet hands out one fakeTransport per connect cycle.
type fakeNet struct {
	mu         sync.Mutex
	transports []*fakeTransport
	sendErr    error
}

func (n *fakeNet) factory(_ context.Context, _ string) (gree.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tr := newFakeTransport()
	tr.sendErr = n.sendErr
	n.transports = append(n.transports, tr)
	return tr, nil
}

func (n *fakeNet) current(t *testing.T) *fakeTransport {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.transports) == 0 {
		t.Fatal("no transport opened")
	}
	return n.transports[len(n.transports)-1]
}

// -------------------------------------------------------------------------
// Appliance messages
// -------------------------------------------------------------------------

func mustECB(t *testing.T, key string) gree.Cipher {
	t.Helper()
	c, err := gree.NewECBCipher(key)
	if err != nil {
		t.Fatalf("NewECBCipher: %v", err)
	}
	return c
}

func mustGCM(t *testing.T, key string) gree.Cipher {
	t.Helper()
	c, err := gree.NewGCMCipher(key)
	if err != nil {
		t.Fatalf("NewGCMCipher: %v", err)
	}
	return c
}

// seal builds an appliance envelope around msg encrypted with c.
func seal(t *testing.T, c gree.Cipher, msg any) []byte {
	t.Helper()
	plain, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ct, tag, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env := gree.Envelope{
		CID:  deviceMAC,
		T:    gree.MessagePack,
		Pack: base64.StdEncoding.EncodeToString(ct),
	}
	if len(tag) > 0 {
		env.Tag = base64.StdEncoding.EncodeToString(tag)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

// open decrypts a datagram sent by the client.
func open(t *testing.T, raw []byte, c gree.Cipher) (gree.Envelope, gree.Message) {
	t.Helper()
	var env gree.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope %q: %v", raw, err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Pack)
	if err != nil {
		t.Fatalf("decode pack: %v", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	plain, err := c.Decrypt(ct, tag)
	if err != nil {
		t.Fatalf("decrypt with %s/%q: %v", c.Kind(), c.Key(), err)
	}
	var msg gree.Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return env, msg
}

func devReply() map[string]any {
	return map[string]any{
		"t":       "dev",
		"cid":     deviceMAC,
		"bc":      "gree",
		"brand":   "gree",
		"catalog": "gree",
		"mac":     deviceMAC,
		"mid":     "10002",
		"model":   "gree",
		"name":    "2g8201b5",
		"series":  "gree",
		"vender":  "1",
		"ver":     "V1.1.13",
		"lock":    0,
	}
}

func bindOK(key string) map[string]any {
	return map[string]any{"t": "bindok", "mac": deviceMAC, "key": key, "r": 200}
}

func dat(cols []string, values []int) map[string]any {
	return map[string]any{"t": "dat", "mac": deviceMAC, "r": 200, "cols": cols, "dat": values}
}

func res(opt []string, field string, values []int) map[string]any {
	return map[string]any{"t": "res", "mac": deviceMAC, "r": 200, "opt": opt, field: values}
}

// -------------------------------------------------------------------------
// Client helpers
// -------------------------------------------------------------------------

func newTestClient(t *testing.T, n *fakeNet, opts ...gree.Option) *gree.Client {
	t.Helper()
	base := []gree.Option{
		gree.WithTransport(n.factory),
		gree.WithLogger(newDiscardLogger()),
	}
	c, err := gree.NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// connect runs a handshake answered on the first bind with the legacy cipher
// and returns the transport and the session cipher.
func connect(t *testing.T, c *gree.Client, n *fakeNet) (*fakeTransport, gree.Cipher) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()
	synctest.Wait()

	tr := n.current(t)
	legacy := mustECB(t, gree.DefaultLegacyKey)
	tr.deliver(seal(t, legacy, devReply()))
	synctest.Wait()
	tr.deliver(seal(t, legacy, bindOK(deviceKey)))
	synctest.Wait()

	if err := <-errCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectEvent(t, c, gree.EventConnected)
	return tr, mustECB(t, deviceKey)
}

func expectEvent(t *testing.T, c *gree.Client, want gree.EventType) gree.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		if ev.Type != want {
			t.Fatalf("event = %s (err=%v), want %s", ev.Type, ev.Err, want)
		}
		return ev
	default:
		t.Fatalf("no event, want %s", want)
	}
	return gree.Event{}
}

func expectNoEvent(t *testing.T, c *gree.Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s (err=%v)", ev.Type, ev.Err)
	default:
	}
}
