package gree_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/edgeo/drivers/gree/gree"
)

// TestConnectEscalatesCipher drives a handshake against an appliance that
// only answers bind requests encrypted with the current cipher.
func TestConnectEscalatesCipher(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Connect(context.Background()) }()
		synctest.Wait()

		if got := c.State(); got != gree.StateDiscovering {
			t.Fatalf("state = %s, want discovering", got)
		}
		tr := n.current(t)
		if got := string(tr.lastSent(t)); got != `{"t":"scan"}` {
			t.Fatalf("scan = %s", got)
		}

		tr.deliver(seal(t, mustECB(t, gree.DefaultLegacyKey), devReply()))
		synctest.Wait()

		env, msg := open(t, tr.lastSent(t), mustECB(t, gree.DefaultLegacyKey))
		if env.I != 1 || env.CID != "app" || env.Tag != "" {
			t.Errorf("bind 1 envelope = %+v", env)
		}
		if msg.T != gree.MessageBind || msg.MAC != deviceMAC {
			t.Errorf("bind 1 = %+v", msg)
		}
		if c.DeviceID() != deviceMAC {
			t.Errorf("DeviceID = %q", c.DeviceID())
		}

		// No retry before the bind-retry timeout.
		time.Sleep(400 * time.Millisecond)
		synctest.Wait()
		if got := tr.sentCount(); got != 2 {
			t.Fatalf("sent %d datagrams before retry, want 2", got)
		}

		time.Sleep(200 * time.Millisecond)
		synctest.Wait()
		if got := tr.sentCount(); got != 3 {
			t.Fatalf("sent %d datagrams after retry, want 3", got)
		}
		env, msg = open(t, tr.lastSent(t), mustGCM(t, gree.DefaultCurrentKey))
		if env.Tag == "" || msg.T != gree.MessageBind {
			t.Fatalf("bind 2 envelope = %+v msg = %+v", env, msg)
		}

		tr.deliver(seal(t, mustGCM(t, gree.DefaultCurrentKey), bindOK(deviceKey)))
		synctest.Wait()

		if err := <-errCh; err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if got := c.State(); got != gree.StateBound {
			t.Fatalf("state = %s, want bound", got)
		}
		expectEvent(t, c, gree.EventConnected)

		_, msg = open(t, tr.lastSent(t), mustGCM(t, deviceKey))
		if msg.T != gree.MessageStatus || len(msg.Cols) != len(gree.PropertyNames()) {
			t.Errorf("status request = %+v", msg)
		}

		snap := c.Metrics().Snapshot()
		if snap.BindRequests != 2 || snap.CipherEscalations != 1 || snap.ConnectSuccesses != 1 {
			t.Errorf("metrics = %+v", snap)
		}
	})
}

func TestConnectWhileBoundReturnsImmediately(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, _ := connect(t, c, n)
		sent := tr.sentCount()

		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("second Connect: %v", err)
		}
		synctest.Wait()
		if tr.sentCount() != sent {
			t.Error("second Connect sent datagrams")
		}
		expectNoEvent(t, c)
	})
}

func TestHandshakeTimeoutRescans(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n)
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Connect(ctx) }()
		synctest.Wait()
		tr := n.current(t)

		time.Sleep(3 * time.Second)
		synctest.Wait()

		ev := expectEvent(t, c, gree.EventError)
		if !errors.Is(ev.Err, gree.ErrHandshakeTimeout) || !gree.IsTimeout(ev.Err) {
			t.Errorf("event err = %v, want ErrHandshakeTimeout", ev.Err)
		}
		if got := tr.sentCount(); got != 2 {
			t.Errorf("sent %d scans, want 2", got)
		}
		if got := c.State(); got != gree.StateDiscovering {
			t.Errorf("state = %s, want discovering", got)
		}

		// The rescan resets the cipher: a legacy discovery reply is accepted.
		tr.deliver(seal(t, mustECB(t, gree.DefaultLegacyKey), devReply()))
		synctest.Wait()
		if got := c.State(); got != gree.StateHandshaking {
			t.Errorf("state = %s, want handshaking", got)
		}

		cancel()
		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("Connect = %v, want context.Canceled", err)
		}
	})
}

// TestHandshakeTimeoutFromHandshaking covers an appliance that never
// confirms the bind.
func TestHandshakeTimeoutFromHandshaking(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n)
		defer c.Close()

		go func() { _ = c.Connect(context.Background()) }()
		synctest.Wait()
		tr := n.current(t)
		tr.deliver(seal(t, mustECB(t, gree.DefaultLegacyKey), devReply()))
		synctest.Wait()

		// Bind at 0, retries at 500ms and 1s, then silence until 3s.
		time.Sleep(2 * time.Second)
		synctest.Wait()
		if got := tr.sentCount(); got != 4 {
			t.Fatalf("sent %d datagrams, want scan + 3 binds", got)
		}

		time.Sleep(time.Second)
		synctest.Wait()
		if got := c.State(); got != gree.StateDiscovering {
			t.Errorf("state = %s, want discovering", got)
		}
		if got := string(tr.lastSent(t)); got != `{"t":"scan"}` {
			t.Errorf("last datagram = %s, want scan", got)
		}
		ev := expectEvent(t, c, gree.EventError)
		if !errors.Is(ev.Err, gree.ErrHandshakeTimeout) {
			t.Errorf("event err = %v", ev.Err)
		}
	})
}

func TestDisconnectDuringConnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n)
		defer c.Close()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Connect(context.Background()) }()
		synctest.Wait()
		tr := n.current(t)

		if err := c.Disconnect(context.Background()); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		if err := <-errCh; !errors.Is(err, gree.ErrConnectCancelled) {
			t.Fatalf("Connect = %v, want ErrConnectCancelled", err)
		}
		if !tr.IsClosed() {
			t.Error("transport not closed")
		}
		if got := c.State(); got != gree.StateDisconnected {
			t.Errorf("state = %s, want disconnected", got)
		}
		expectEvent(t, c, gree.EventDisconnected)

		sent := tr.sentCount()
		time.Sleep(10 * time.Second)
		synctest.Wait()
		if tr.sentCount() != sent {
			t.Error("datagrams sent after disconnect")
		}
		expectNoEvent(t, c)
		if got := c.Metrics().Snapshot().HandshakeTimeouts; got != 0 {
			t.Errorf("HandshakeTimeouts = %d, want 0", got)
		}
	})
}

func TestDisconnectWithoutTransport(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := newTestClient(t, &fakeNet{})
		defer c.Close()

		if err := c.Disconnect(context.Background()); !errors.Is(err, gree.ErrNotConnected) {
			t.Errorf("Disconnect = %v, want ErrNotConnected", err)
		}
	})
}

func TestReconnectAfterDisconnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		first, session := connect(t, c, n)
		if err := c.Disconnect(context.Background()); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		expectEvent(t, c, gree.EventDisconnected)

		// A late datagram from the old cycle is dropped.
		first.deliver(seal(t, session, dat([]string{"Pow"}, []int{1})))
		synctest.Wait()

		second, _ := connect(t, c, n)
		if first == second {
			t.Fatal("transport reused across cycles")
		}
		if got := c.Metrics().Snapshot().ConnectAttempts; got != 2 {
			t.Errorf("ConnectAttempts = %d, want 2", got)
		}
	})
}

func TestStatusUpdates(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, session := connect(t, c, n)

		tr.deliver(seal(t, session, dat([]string{"Pow", "SetTem", "TemSen"}, []int{0, 20, 62})))
		synctest.Wait()
		ev := expectEvent(t, c, gree.EventUpdate)
		if len(ev.Changed) != 3 || ev.Changed[gree.PropertyCurrentTemperature] != 22 {
			t.Errorf("changed = %v", ev.Changed)
		}

		tr.deliver(seal(t, session, dat([]string{"Pow", "SetTem", "TemSen"}, []int{1, 25, 62})))
		synctest.Wait()
		ev = expectEvent(t, c, gree.EventUpdate)
		if len(ev.Changed) != 2 || ev.Changed[gree.PropertyPower] != "on" || ev.Changed[gree.PropertyTemperature] != 25 {
			t.Errorf("changed = %v", ev.Changed)
		}
		if ev.Properties[gree.PropertyCurrentTemperature] != 22 {
			t.Errorf("properties = %v", ev.Properties)
		}

		// An identical reply changes nothing.
		tr.deliver(seal(t, session, dat([]string{"Pow", "SetTem", "TemSen"}, []int{1, 25, 62})))
		synctest.Wait()
		expectNoEvent(t, c)

		props := c.Properties()
		if props[gree.PropertyPower] != "on" || props[gree.PropertyTemperature] != 25 {
			t.Errorf("Properties = %v", props)
		}
	})
}

func TestPollTimeoutClearsProperties(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n,
			gree.WithPollingInterval(3*time.Second),
			gree.WithPollingTimeout(time.Second),
		)
		defer c.Close()

		tr, session := connect(t, c, n)
		statusBase := tr.sentCount()

		tr.deliver(seal(t, session, dat([]string{"Pow"}, []int{1})))
		synctest.Wait()
		expectEvent(t, c, gree.EventUpdate)

		// Poll at 3s, unanswered at 4s.
		time.Sleep(3 * time.Second)
		synctest.Wait()
		if got := tr.sentCount() - statusBase; got != 1 {
			t.Fatalf("sent %d polls, want 1", got)
		}
		time.Sleep(1100 * time.Millisecond)
		synctest.Wait()
		expectEvent(t, c, gree.EventNoResponse)
		if props := c.Properties(); len(props) != 0 {
			t.Errorf("Properties = %v, want empty", props)
		}
		if got := c.State(); got != gree.StateBound {
			t.Errorf("state = %s, want bound", got)
		}

		// Polling continues.
		time.Sleep(2 * time.Second)
		synctest.Wait()
		if got := tr.sentCount() - statusBase; got != 2 {
			t.Errorf("sent %d polls, want 2", got)
		}
		_, msg := open(t, tr.lastSent(t), session)
		if msg.T != gree.MessageStatus {
			t.Errorf("last datagram = %+v", msg)
		}
	})
}

func TestPollTimeoutLongerThanInterval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n,
			gree.WithPollingInterval(time.Second),
			gree.WithPollingTimeout(2*time.Second),
		)
		defer c.Close()

		tr, session := connect(t, c, n)
		tr.deliver(seal(t, session, dat([]string{"Pow"}, []int{1})))
		synctest.Wait()
		expectEvent(t, c, gree.EventUpdate)

		// Polls at 1s, 2s and 3s go unanswered. The request sent at 1s
		// times out at 3s even though later polls were sent meanwhile.
		time.Sleep(3500 * time.Millisecond)
		synctest.Wait()
		expectEvent(t, c, gree.EventNoResponse)
		if props := c.Properties(); len(props) != 0 {
			t.Errorf("Properties = %v, want empty", props)
		}
		if got := c.Metrics().Snapshot().PollTimeouts; got != 1 {
			t.Errorf("PollTimeouts = %d, want 1", got)
		}

		// An answer after the timeout repopulates the snapshot.
		tr.deliver(seal(t, session, dat([]string{"Pow"}, []int{1})))
		synctest.Wait()
		expectEvent(t, c, gree.EventUpdate)
		if got := c.Properties()[gree.PropertyPower]; got != "on" {
			t.Errorf("power = %v, want on", got)
		}
	})
}

func TestSetPropertiesSuccess(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, session := connect(t, c, n)
		tr.deliver(seal(t, session, dat([]string{"Pow"}, []int{1})))
		synctest.Wait()
		expectEvent(t, c, gree.EventUpdate)

		err := c.SetProperties(context.Background(), gree.Properties{
			gree.PropertyMode:        "cool",
			gree.PropertyTemperature: 25,
		})
		if err != nil {
			t.Fatalf("SetProperties: %v", err)
		}

		env, msg := open(t, tr.lastSent(t), session)
		if env.I != 0 || msg.T != gree.MessageCmd {
			t.Fatalf("command = %+v %+v", env, msg)
		}
		if len(msg.Opt) != 2 || msg.Opt[0] != "Mod" || msg.Opt[1] != "SetTem" || msg.P[0] != 1 || msg.P[1] != 25 {
			t.Errorf("command opt=%v p=%v", msg.Opt, msg.P)
		}

		tr.deliver(seal(t, session, res([]string{"Mod", "SetTem"}, "val", []int{1, 25})))
		synctest.Wait()
		ev := expectEvent(t, c, gree.EventSuccess)
		if ev.Changed[gree.PropertyMode] != "cool" || ev.Changed[gree.PropertyTemperature] != 25 {
			t.Errorf("changed = %v", ev.Changed)
		}
		if ev.Properties[gree.PropertyPower] != "on" {
			t.Errorf("properties = %v", ev.Properties)
		}
		if got := c.Metrics().Snapshot().CommandsConfirmed; got != 1 {
			t.Errorf("CommandsConfirmed = %d", got)
		}
	})
}

func TestSetPropertiesResultInP(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, session := connect(t, c, n)
		if err := c.SetProperty(context.Background(), gree.PropertyPower, "on"); err != nil {
			t.Fatalf("SetProperty: %v", err)
		}

		tr.deliver(seal(t, session, res([]string{"Pow"}, "p", []int{1})))
		synctest.Wait()
		ev := expectEvent(t, c, gree.EventSuccess)
		if ev.Changed[gree.PropertyPower] != "on" {
			t.Errorf("changed = %v", ev.Changed)
		}
	})
}

func TestSetPropertiesSingleFlight(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, session := connect(t, c, n)
		if err := c.SetProperty(context.Background(), gree.PropertyPower, "on"); err != nil {
			t.Fatalf("SetProperty: %v", err)
		}
		sent := tr.sentCount()

		second := make(chan error, 1)
		go func() { second <- c.SetProperty(context.Background(), gree.PropertyLights, "off") }()
		synctest.Wait()
		if tr.sentCount() != sent {
			t.Fatal("second command sent before the first was confirmed")
		}

		tr.deliver(seal(t, session, res([]string{"Pow"}, "val", []int{1})))
		synctest.Wait()
		if err := <-second; err != nil {
			t.Fatalf("second SetProperty: %v", err)
		}
		_, msg := open(t, tr.lastSent(t), session)
		if len(msg.Opt) != 1 || msg.Opt[0] != "Lig" {
			t.Errorf("second command = %+v", msg)
		}
		expectEvent(t, c, gree.EventSuccess)
	})
}

func TestSetPropertiesTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false), gree.WithPollingTimeout(time.Second))
		defer c.Close()

		tr, session := connect(t, c, n)
		// Answer the status request so only the command can time out.
		tr.deliver(seal(t, session, dat([]string{"Pow"}, []int{0})))
		synctest.Wait()
		expectEvent(t, c, gree.EventUpdate)

		if err := c.SetProperty(context.Background(), gree.PropertyPower, "on"); err != nil {
			t.Fatalf("SetProperty: %v", err)
		}
		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()

		ev := expectEvent(t, c, gree.EventError)
		if !errors.Is(ev.Err, gree.ErrCommandTimeout) {
			t.Errorf("event err = %v, want ErrCommandTimeout", ev.Err)
		}
		if got := c.State(); got != gree.StateBound {
			t.Errorf("state = %s, want bound", got)
		}
	})
}

func TestSetPropertiesErrors(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n)
		defer c.Close()

		ctx := context.Background()
		if err := c.SetProperty(ctx, gree.PropertyPower, "on"); !errors.Is(err, gree.ErrNotConnected) {
			t.Errorf("not connected: err = %v", err)
		}
		if err := c.SetProperty(ctx, gree.PropertyCurrentTemperature, 21); !errors.Is(err, gree.ErrReadOnlyProperty) {
			t.Errorf("read-only: err = %v", err)
		}
		if err := c.SetProperty(ctx, gree.PropertyMode, "party"); !errors.Is(err, gree.ErrInvalidValue) {
			t.Errorf("invalid value: err = %v", err)
		}
		if err := c.SetProperties(ctx, gree.Properties{}); err != nil {
			t.Errorf("empty: err = %v", err)
		}
	})
}

func TestReadOnlyRejectedWhileBound(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, _ := connect(t, c, n)
		sent := tr.sentCount()

		err := c.SetProperties(context.Background(), gree.Properties{
			gree.PropertyPower:              "on",
			gree.PropertyCurrentTemperature: 20,
		})
		if !errors.Is(err, gree.ErrReadOnlyProperty) {
			t.Fatalf("err = %v, want ErrReadOnlyProperty", err)
		}
		synctest.Wait()
		if tr.sentCount() != sent {
			t.Error("command sent despite read-only property")
		}
	})
}

func TestDiscardedDatagrams(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))
		defer c.Close()

		tr, session := connect(t, c, n)

		tests := []struct {
			name string
			data []byte
			want error
		}{
			{"not json", []byte("garbage"), gree.ErrMessageDecode},
			{"no pack", []byte(`{"t":"pack"}`), gree.ErrMessageDecode},
			{"wrong key", seal(t, mustECB(t, gree.DefaultLegacyKey), dat([]string{"Pow"}, []int{1})), gree.ErrMessageDecrypt},
			{"unexpected bindok", seal(t, session, map[string]any{"t": "bindok", "key": deviceKey}), gree.ErrUnrecognizedMessage},
			{"unknown type", seal(t, session, map[string]any{"t": "hello"}), gree.ErrUnrecognizedMessage},
		}

		for _, tt := range tests {
			tr.deliver(tt.data)
			synctest.Wait()
			ev := expectEvent(t, c, gree.EventError)
			if !errors.Is(ev.Err, tt.want) {
				t.Errorf("%s: err = %v, want %v", tt.name, ev.Err, tt.want)
			}
			if got := c.State(); got != gree.StateBound {
				t.Errorf("%s: state = %s", tt.name, got)
			}
		}

		// A discovery reply outside discovery is ignored.
		tr.deliver(seal(t, session, devReply()))
		synctest.Wait()
		expectNoEvent(t, c)
	})
}

func TestFirstScanSendFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{sendErr: errors.New("network is unreachable")}
		c := newTestClient(t, n)
		defer c.Close()

		err := c.Connect(context.Background())
		if !errors.Is(err, gree.ErrSendFailed) {
			t.Fatalf("Connect = %v, want ErrSendFailed", err)
		}
		expectEvent(t, c, gree.EventError)

		// The session keeps retrying and recovers once sends succeed.
		tr := n.current(t)
		tr.setSendErr(nil)
		time.Sleep(3 * time.Second)
		synctest.Wait()
		if got := tr.sentCount(); got != 1 {
			t.Errorf("sent %d scans after recovery, want 1", got)
		}
		if got := c.State(); got != gree.StateDiscovering {
			t.Errorf("state = %s, want discovering", got)
		}
	})
}

func TestCloseClosesEvents(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithPolling(false))

		tr, _ := connect(t, c, n)
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if !tr.IsClosed() {
			t.Error("transport not closed")
		}

		ev, ok := <-c.Events()
		if !ok || ev.Type != gree.EventDisconnected {
			t.Errorf("event = %v, %v; want disconnected", ev.Type, ok)
		}
		if _, ok := <-c.Events(); ok {
			t.Error("events channel not closed")
		}
		if err := c.Connect(context.Background()); !errors.Is(err, gree.ErrClientClosed) {
			t.Errorf("Connect after Close = %v", err)
		}
	})
}

func TestAutoConnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		c := newTestClient(t, n, gree.WithAutoConnect(true))
		defer c.Close()

		synctest.Wait()
		if got := c.State(); got != gree.StateDiscovering {
			t.Fatalf("state = %s, want discovering", got)
		}
		if got := string(n.current(t).lastSent(t)); got != `{"t":"scan"}` {
			t.Errorf("first datagram = %s", got)
		}
	})
}

func TestNewClientValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := gree.NewClient(gree.WithPort(0)); err == nil {
		t.Error("port 0 accepted")
	}
	if _, err := gree.NewClient(gree.WithPollingInterval(0)); err == nil {
		t.Error("zero polling interval accepted")
	}
}
