package channel

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

var (
	gaugeChannels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_channels",
		Help: "Node channels",
	}, []string{"direction"})
	gaugeChannelFunds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct_channel_funds",
		Help: "Total funds in out. channels",
	})
	gaugeTopologySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct_topology_size",
		Help: "Size of the topology",
	})
)

func init() {
	prometheus.MustRegister(gaugeChannels, gaugeChannelFunds, gaugeTopologySize)
}

// API is the subset of the node REST client the channel manager needs.
type API interface {
	Channels(ctx context.Context) (all, outgoing, incoming []Channel, err error)
	OpenChannel(ctx context.Context, destination address.Address, amount balance.Balance) (string, error)
	FundChannel(ctx context.Context, channelID string, amount balance.Balance) error
	CloseChannel(ctx context.Context, channelID string) error
}

// Params configures the channel manager, mirroring §6.4's channel.* keys.
type Params struct {
	MinBalance    balance.Balance
	FundingAmount balance.Balance
	MaxAge        time.Duration
}

// Manager drives open/fund/close transitions for the payment channels owned
// by a node (C6). Exactly one Manager exists per Node.
type Manager struct {
	api    API
	cache  *ChannelCache
	params Params
	self   address.Address
	log    *logrus.Entry
}

// New creates a channel Manager for the node at self, using api for I/O.
func New(api API, self address.Address, params Params, log *logrus.Logger) *Manager {
	return &Manager{
		api:    api,
		cache:  NewChannelCache(),
		params: params,
		self:   self,
		log:    log.WithField("component", "channel"),
	}
}

// Cache exposes the manager's channel cache for readers outside the
// reconciliation loop (e.g. the economic engine's split_stake lookup).
func (m *Manager) Cache() *ChannelCache { return m.cache }

// RetrieveChannels pulls the full channel topology, splits it into
// incoming/outgoing relative to self, and installs the new snapshot —
// invalidating every derived cache atomically (§4.6 step 1).
func (m *Manager) RetrieveChannels(ctx context.Context) error {
	all, _, _, err := m.api.Channels(ctx)
	if err != nil {
		m.log.WithError(err).Warn("failed to retrieve channels")
		return err
	}

	var outgoing, incoming []Channel
	for _, c := range all {
		if c.Status == Closed {
			continue
		}
		switch {
		case c.Source.Equal(m.self):
			outgoing = append(outgoing, c)
		case c.Destination.Equal(m.self):
			incoming = append(incoming, c)
		}
	}

	m.cache.SetSnapshot(outgoing, incoming)

	gaugeChannels.WithLabelValues("outgoing").Set(float64(len(outgoing)))
	gaugeChannels.WithLabelValues("incoming").Set(float64(len(incoming)))
	gaugeTopologySize.Set(float64(len(all)))

	var total balance.Balance
	total = balance.Zero(m.fundingUnit())
	for _, c := range outgoing {
		if sum, addErr := total.Add(c.Balance); addErr == nil {
			total = sum
		}
	}
	gaugeChannelFunds.Set(total.Float64())

	m.log.WithFields(logrus.Fields{"incoming": len(incoming), "outgoing": len(outgoing)}).
		Info("scanned channels linked to the node")
	return nil
}

func (m *Manager) fundingUnit() string {
	if m.params.FundingAmount.Unit() != "" {
		return m.params.FundingAmount.Unit()
	}
	return "wxHOPR"
}

// OpenChannels spawns an open-channel request for every peer address that
// is not the destination of a not-closed outgoing channel (§4.6 step 2).
// Each request is fire-and-forget per tick.
func (m *Manager) OpenChannels(ctx context.Context, peers address.Set, spawn func(name string, fn func(context.Context) error)) {
	withChannel := address.NewSet()
	for _, c := range m.cache.OutgoingNotClosed() {
		withChannel.Add(c.Destination)
	}

	for _, p := range peers.Slice() {
		if withChannel.Contains(p) {
			continue
		}
		dest := p
		spawn("open_channel", func(ctx context.Context) error {
			_, err := m.api.OpenChannel(ctx, dest, m.params.FundingAmount)
			if err != nil {
				m.log.WithField("destination", dest.String()).WithError(err).Warn("open channel failed")
			}
			return nil
		})
	}
}

// FundChannels funds every open outgoing channel whose balance is at or
// below MinBalance, provided the destination is still a known peer (§4.6
// step 3).
func (m *Manager) FundChannels(ctx context.Context, peers address.Set, spawn func(name string, fn func(context.Context) error)) {
	for _, c := range m.cache.OutgoingOpen() {
		cmp, err := c.Balance.Cmp(m.params.MinBalance)
		if err != nil || cmp > 0 {
			continue
		}
		if !peers.Contains(c.Destination) {
			continue
		}
		ch := c
		spawn("fund_channel", func(ctx context.Context) error {
			if err := m.api.FundChannel(ctx, ch.ID, m.params.FundingAmount); err != nil {
				m.log.WithField("channel", ch.ID).WithError(err).Warn("fund channel failed")
			}
			return nil
		})
	}
}

// ClosePending issues a close on every outgoing channel in PendingToClose
// (§4.6 step 4).
func (m *Manager) ClosePending(ctx context.Context, spawn func(name string, fn func(context.Context) error)) {
	for _, c := range m.cache.OutgoingPending() {
		ch := c
		spawn("close_pending_channel", func(ctx context.Context) error {
			if err := m.api.CloseChannel(ctx, ch.ID); err != nil {
				m.log.WithField("channel", ch.ID).WithError(err).Warn("close pending channel failed")
			}
			return nil
		})
	}
}

// CloseIncoming issues a close on every open incoming channel (§4.6 step
// 5).
func (m *Manager) CloseIncoming(ctx context.Context, spawn func(name string, fn func(context.Context) error)) {
	for _, c := range m.cache.IncomingOpen() {
		ch := c
		spawn("close_incoming_channel", func(ctx context.Context) error {
			if err := m.api.CloseChannel(ctx, ch.ID); err != nil {
				m.log.WithField("channel", ch.ID).WithError(err).Warn("close incoming channel failed")
			}
			return nil
		})
	}
}

// CloseOld closes any open outgoing channel whose destination has been
// present in history — the peers mixin's first-seen map — for more than
// MaxAge (§4.6 step 6). Destinations absent from history are left alone.
func (m *Manager) CloseOld(ctx context.Context, history map[address.Address]time.Time, now time.Time, spawn func(name string, fn func(context.Context) error)) {
	addressToChannel := m.cache.AddressToOpenChannel()

	for addr, ch := range addressToChannel {
		ts, seen := history[addr]
		if !seen {
			continue
		}
		if now.Sub(ts) < m.params.MaxAge {
			continue
		}
		channelID := ch.ID
		spawn("close_old_channel", func(ctx context.Context) error {
			if err := m.api.CloseChannel(ctx, channelID); err != nil {
				m.log.WithField("channel", channelID).WithError(err).Warn("close old channel failed")
			}
			return nil
		})
	}
}
