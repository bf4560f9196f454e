package cache

import (
	"testing"

	"ctorchestrator/internal/address"
)

func mustAddr(s string) address.Address { return address.MustNew(s) }

func TestPeerCacheReachableDestinations(t *testing.T) {
	c := NewPeerCache()
	a := mustAddr("0xaaa")
	b := mustAddr("0xbbb")
	d := mustAddr("0xddd")

	c.SetPeers(address.NewSet(a, b))
	c.SetSessionDestinations(address.NewSet(a, d))

	reachable := c.ReachableDestinations()
	if !reachable.Contains(a) {
		t.Fatal("expected a reachable")
	}
	if reachable.Contains(d) {
		t.Fatal("d is not a known peer, should not be reachable")
	}
	if reachable.Contains(b) {
		t.Fatal("b has no session, should not be reachable")
	}
}
