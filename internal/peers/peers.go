// Package peers implements the peers-mixin pull of C8: reconciling the
// node's visible-peer list against the currently tracked Peer set, starting
// and stopping each Peer's emission loop, and maintaining the peer-history
// first-seen map the channel mixin's CloseOld step reads (§4.6, §4.8).
package peers

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/cache"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/peer"
)

var (
	gaugePeersCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_peers_count",
		Help: "Node peers",
	}, []string{"address"})
	gaugeUniquePeers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_unique_peers",
		Help: "Unique peers",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(gaugePeersCount, gaugeUniquePeers)
}

// ConnectedPeer is one entry of the node API's connected-peers response.
type ConnectedPeer struct {
	Address   string
	Multiaddr string
}

// API is the subset of the node REST client the peers manager needs.
type API interface {
	Peers(ctx context.Context, quality float64) ([]ConnectedPeer, error)
}

// Manager owns the node's peer set exclusively (§3 "Ownership"): reads
// elsewhere in the node must go through PeerAddresses/Snapshot, never
// mutate the set directly.
type Manager struct {
	api           API
	cache         *cache.PeerCache
	loop          *asyncloop.Loop
	queue         *msgqueue.Queue
	quality       float64
	emission      peer.EmissionParams
	self          address.Address
	log           *logrus.Entry

	mu      sync.Mutex
	peers   map[address.Address]*peer.Peer
	history map[address.Address]time.Time
}

// New creates a peers Manager.
func New(api API, c *cache.PeerCache, loop *asyncloop.Loop, queue *msgqueue.Queue, quality float64, emission peer.EmissionParams, self address.Address, log *logrus.Logger) *Manager {
	return &Manager{
		api:      api,
		cache:    c,
		loop:     loop,
		queue:    queue,
		quality:  quality,
		emission: emission,
		self:     self,
		log:      log.WithField("component", "peers"),
		peers:    make(map[address.Address]*peer.Peer),
		history:  make(map[address.Address]time.Time),
	}
}

// Snapshot returns the currently tracked peers, keyed by address.
func (m *Manager) Snapshot() map[address.Address]*peer.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[address.Address]*peer.Peer, len(m.peers))
	for k, v := range m.peers {
		out[k] = v
	}
	return out
}

// Get returns the Peer tracked for addr, if any.
func (m *Manager) Get(addr address.Address) (*peer.Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[addr]
	return p, ok
}

// History returns a copy of the peer-history first-seen map (§4.6 step 6,
// §4.8), read by the channel manager's CloseOld reconciliation.
func (m *Manager) History() map[address.Address]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[address.Address]time.Time, len(m.history))
	for k, v := range m.history {
		out[k] = v
	}
	return out
}

// Retrieve pulls the connected-peer list, reconciles the tracked Peer set
// against it, and updates the peer-address cache (§4.8 "Retrieve peers").
func (m *Manager) Retrieve(ctx context.Context) error {
	connected, err := m.api.Peers(ctx, m.quality)
	if err != nil {
		m.log.WithError(err).Warn("failed to retrieve peers")
		return err
	}
	if len(connected) == 0 {
		m.log.Warn("no results while retrieving peers")
		return nil
	}

	visible := address.NewSet()
	for _, c := range connected {
		a, parseErr := address.New(c.Address)
		if parseErr != nil {
			continue
		}
		visible.Add(a)
	}

	now := time.Now()
	counts := map[string]int{"new": 0, "known": 0, "unreachable": 0}

	m.mu.Lock()
	for a := range visible {
		if _, seen := m.history[a]; !seen {
			m.history[a] = now
		}
	}

	for a, p := range m.peers {
		if visible.Contains(a) {
			if p.YearlyMessageCount() == nil {
				zero := 0.0
				p.SetYearlyMessageCount(&zero)
				if m.emission.Enabled {
					p.Start(m.loop, m.queue, m.emission)
				}
			}
			counts["known"]++
			continue
		}
		p.SetYearlyMessageCount(nil)
		p.Stop()
		counts["unreachable"]++
	}

	for _, a := range visible.Slice() {
		if _, ok := m.peers[a]; ok {
			continue
		}
		np := peer.New(a)
		if m.emission.Enabled {
			np.Start(m.loop, m.queue, m.emission)
		}
		m.peers[a] = np
		counts["new"]++
	}

	total := len(m.peers)
	m.mu.Unlock()

	m.cache.SetPeers(visible)

	gaugePeersCount.WithLabelValues(m.self.String()).Set(float64(total))
	for k, v := range counts {
		gaugeUniquePeers.WithLabelValues(k).Set(float64(v))
	}
	m.log.WithFields(logrus.Fields{
		"new": counts["new"], "known": counts["known"], "unreachable": counts["unreachable"],
	}).Info("retrieved visible peers")
	return nil
}
