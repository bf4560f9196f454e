// Package cache implements the invalidating memoization of filtered views
// over peers and channels (C5). Each Node owns one ChannelCache and one
// PeerCache; both guarantee that any write to the underlying snapshot
// invalidates every derived view atomically, before any await — no cache
// read may observe a view computed from a stale snapshot.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// views is a small fixed-key memoization table. Rather than evicting
// individual entries, every invalidation calls Purge — the atomic
// invalidate-all semantics the derived views require, since a single
// snapshot write can affect all five channel views (or both peer views) at
// once.
type views struct {
	cache *lru.Cache[string, any]
}

func newViews() *views {
	// Five channel views or two peer views is the most this will ever
	// hold; size is generous headroom, not a working-set bound.
	c, err := lru.New[string, any](16)
	if err != nil {
		panic(err) // unreachable: constant positive size
	}
	return &views{cache: c}
}

// get returns the memoized value for key, computing and storing it via
// compute on a miss.
func get[T any](v *views, key string, compute func() T) T {
	if val, ok := v.cache.Get(key); ok {
		return val.(T)
	}
	computed := compute()
	v.cache.Add(key, computed)
	return computed
}

// invalidate purges every memoized view, atomically with respect to the
// caller's mutex (callers hold their own lock around snapshot write +
// invalidate).
func (v *views) invalidate() {
	v.cache.Purge()
}
