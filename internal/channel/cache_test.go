package channel

import (
	"testing"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

func mustAddr(s string) address.Address { return address.MustNew(s) }

func TestChannelCacheViews(t *testing.T) {
	c := NewChannelCache()
	self := mustAddr("0xself")
	peerA := mustAddr("0xaaa")
	peerB := mustAddr("0xbbb")

	out := []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open, Balance: balance.Zero("wxHOPR")},
		{ID: "2", Source: self, Destination: peerB, Status: PendingToClose, Balance: balance.Zero("wxHOPR")},
	}
	in := []Channel{
		{ID: "3", Source: peerA, Destination: self, Status: Open, Balance: balance.Zero("wxHOPR")},
	}
	c.SetSnapshot(out, in)

	if got := c.OutgoingOpen(); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("expected 1 open outgoing channel, got %+v", got)
	}
	if got := c.IncomingOpen(); len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("expected 1 open incoming channel, got %+v", got)
	}
	if got := c.OutgoingPending(); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("expected 1 pending outgoing channel, got %+v", got)
	}
	if got := c.OutgoingNotClosed(); len(got) != 2 {
		t.Fatalf("expected 2 not-closed outgoing channels, got %+v", got)
	}
	m := c.AddressToOpenChannel()
	if ch, ok := m[peerA]; !ok || ch.ID != "1" {
		t.Fatalf("expected address-to-open-channel map to contain peerA -> channel 1, got %+v", m)
	}
}

func TestChannelCacheInvalidatesOnNewSnapshot(t *testing.T) {
	c := NewChannelCache()
	self := mustAddr("0xself")
	peerA := mustAddr("0xaaa")

	c.SetSnapshot([]Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open},
	}, nil)
	if len(c.OutgoingOpen()) != 1 {
		t.Fatal("expected 1 open channel in first snapshot")
	}

	c.SetSnapshot(nil, nil)
	if len(c.OutgoingOpen()) != 0 {
		t.Fatal("expected cache to reflect new empty snapshot, not the stale one")
	}
}
