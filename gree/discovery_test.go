package gree_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/edgeo/drivers/gree/gree"
)

func TestDiscover(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		type result struct {
			devices []gree.DiscoveredDevice
			err     error
		}
		done := make(chan result, 1)
		go func() {
			devices, err := gree.Discover(ctx,
				gree.WithTransport(n.factory),
				gree.WithLogger(newDiscardLogger()),
			)
			done <- result{devices, err}
		}()
		synctest.Wait()

		tr := n.current(t)
		if got := string(tr.lastSent(t)); got != `{"t":"scan"}` {
			t.Fatalf("scan = %s", got)
		}

		legacy := mustECB(t, gree.DefaultLegacyKey)
		other := devReply()
		other["cid"] = "c8f742a1b2c3"
		other["mac"] = "c8f742a1b2c3"
		other["name"] = "bedroom"

		tr.deliver(seal(t, legacy, devReply()))
		tr.deliver([]byte("garbage"))
		tr.deliver(seal(t, legacy, devReply()))
		tr.deliver(seal(t, legacy, other))
		tr.deliver(seal(t, legacy, bindOK(deviceKey)))

		r := <-done
		if r.err != nil {
			t.Fatalf("Discover: %v", r.err)
		}
		if len(r.devices) != 2 {
			t.Fatalf("found %d devices, want 2: %+v", len(r.devices), r.devices)
		}
		if r.devices[0].ID != deviceMAC || r.devices[0].Version != "V1.1.13" {
			t.Errorf("first device = %+v", r.devices[0])
		}
		if r.devices[1].ID != "c8f742a1b2c3" || r.devices[1].Name != "bedroom" {
			t.Errorf("second device = %+v", r.devices[1])
		}
		if !tr.IsClosed() {
			t.Error("transport not closed")
		}
	})
}

func TestDiscoverSendFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		n := &fakeNet{sendErr: errors.New("no route to host")}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := gree.Discover(ctx, gree.WithTransport(n.factory), gree.WithLogger(newDiscardLogger()))
		if !errors.Is(err, gree.ErrSendFailed) {
			t.Errorf("Discover = %v, want ErrSendFailed", err)
		}
	})
}
