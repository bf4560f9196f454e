package channel

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"ctorchestrator/internal/address"
)

const (
	keyOutgoingOpen      = "outgoing_open"
	keyIncomingOpen      = "incoming_open"
	keyOutgoingPending   = "outgoing_pending"
	keyOutgoingNotClosed = "outgoing_not_closed"
	keyAddressToOpenChan = "address_to_open_channel"
)

// channelCacheViews is a small fixed-key memoization table. Rather than
// evicting individual entries, every invalidation calls Purge — the atomic
// invalidate-all semantics the derived views require, since a single
// snapshot write can affect all five channel views at once.
type channelCacheViews struct {
	cache *lru.Cache[string, any]
}

func newChannelCacheViews() *channelCacheViews {
	// Five channel views is the most this will ever hold; size is
	// generous headroom, not a working-set bound.
	c, err := lru.New[string, any](16)
	if err != nil {
		panic(err) // unreachable: constant positive size
	}
	return &channelCacheViews{cache: c}
}

func channelCacheGet[T any](v *channelCacheViews, key string, compute func() T) T {
	if val, ok := v.cache.Get(key); ok {
		return val.(T)
	}
	computed := compute()
	v.cache.Add(key, computed)
	return computed
}

func (v *channelCacheViews) invalidate() {
	v.cache.Purge()
}

// ChannelCache holds a Node's current channel snapshot (split into incoming
// and outgoing by the caller) and memoizes the five derived views named in
// §4.5. SetSnapshot invalidates every view atomically; readers recompute
// lazily on next access.
type ChannelCache struct {
	mu       sync.Mutex
	outgoing []Channel
	incoming []Channel
	v        *channelCacheViews
}

// NewChannelCache returns an empty ChannelCache.
func NewChannelCache() *ChannelCache {
	return &ChannelCache{v: newChannelCacheViews()}
}

// SetSnapshot replaces the outgoing/incoming channel lists and invalidates
// every memoized view in the same critical section — no await may occur
// between the assignment and the invalidation.
func (c *ChannelCache) SetSnapshot(outgoing, incoming []Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outgoing = outgoing
	c.incoming = incoming
	c.v.invalidate()
}

// Outgoing returns the current outgoing channel snapshot.
func (c *ChannelCache) Outgoing() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing
}

// Incoming returns the current incoming channel snapshot.
func (c *ChannelCache) Incoming() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// OutgoingOpen returns the memoized list of open outgoing channels.
func (c *ChannelCache) OutgoingOpen() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCacheGet(c.v, keyOutgoingOpen, func() []Channel {
		return filterStatus(c.outgoing, Open)
	})
}

// IncomingOpen returns the memoized list of open incoming channels.
func (c *ChannelCache) IncomingOpen() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCacheGet(c.v, keyIncomingOpen, func() []Channel {
		return filterStatus(c.incoming, Open)
	})
}

// OutgoingPending returns the memoized list of outgoing channels pending
// closure.
func (c *ChannelCache) OutgoingPending() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCacheGet(c.v, keyOutgoingPending, func() []Channel {
		return filterStatus(c.outgoing, PendingToClose)
	})
}

// OutgoingNotClosed returns the memoized list of outgoing channels that are
// not Closed (Open or PendingToClose).
func (c *ChannelCache) OutgoingNotClosed() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCacheGet(c.v, keyOutgoingNotClosed, func() []Channel {
		var out []Channel
		for _, ch := range c.outgoing {
			if ch.Status != Closed {
				out = append(out, ch)
			}
		}
		return out
	})
}

// AddressToOpenChannel returns the memoized map from destination address to
// its one open outgoing channel.
func (c *ChannelCache) AddressToOpenChannel() map[address.Address]Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channelCacheGet(c.v, keyAddressToOpenChan, func() map[address.Address]Channel {
		m := make(map[address.Address]Channel)
		for _, ch := range c.outgoing {
			if ch.Status == Open {
				m[ch.Destination] = ch
			}
		}
		return m
	})
}

func filterStatus(chs []Channel, status Status) []Channel {
	var out []Channel
	for _, ch := range chs {
		if ch.Status == status {
			out = append(out, ch)
		}
	}
	return out
}
