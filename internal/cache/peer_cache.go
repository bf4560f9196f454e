package cache

import (
	"sync"

	"ctorchestrator/internal/address"
)

const (
	keyPeerAddresses         = "peer_addresses"
	keyReachableDestinations = "reachable_destinations"
)

// PeerCache memoizes the peer-address set and the reachable-destinations
// set (session destinations ∩ peer addresses). Peers is written only by the
// peers mixin; SessionDestinations is written only by the session mixin —
// either write invalidates both memoized views, since reachable_destinations
// depends on both inputs.
type PeerCache struct {
	mu                  sync.Mutex
	peers               address.Set
	sessionDestinations address.Set
	v                   *views
}

// NewPeerCache returns an empty PeerCache.
func NewPeerCache() *PeerCache {
	return &PeerCache{v: newViews(), peers: address.NewSet(), sessionDestinations: address.NewSet()}
}

// SetPeers replaces the known peer-address set and invalidates derived
// views.
func (c *PeerCache) SetPeers(peers address.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = peers
	c.v.invalidate()
}

// SetSessionDestinations replaces the set of destinations with a live
// session and invalidates derived views.
func (c *PeerCache) SetSessionDestinations(dests address.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionDestinations = dests
	c.v.invalidate()
}

// PeerAddresses returns the memoized peer-address set.
func (c *PeerCache) PeerAddresses() address.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return get(c.v, keyPeerAddresses, func() address.Set {
		return c.peers
	})
}

// ReachableDestinations returns the memoized intersection of session
// destinations and known peer addresses.
func (c *PeerCache) ReachableDestinations() address.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return get(c.v, keyReachableDestinations, func() address.Set {
		out := address.NewSet()
		for a := range c.sessionDestinations {
			if c.peers.Contains(a) {
				out.Add(a)
			}
		}
		return out
	})
}
