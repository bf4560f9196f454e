package restapi

import (
	"context"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/channel"
	"ctorchestrator/internal/peers"
	"ctorchestrator/internal/session"
	"ctorchestrator/internal/state"
)

// ChannelAdapter satisfies internal/channel.API by converting the wire
// Channels response into domain channel.Channel values.
type ChannelAdapter struct{ *Client }

// Channels fetches the full topology and returns it split by direction,
// parsed into the domain Channel type.
func (a ChannelAdapter) Channels(ctx context.Context) (all, outgoing, incoming []channel.Channel, err error) {
	wire, err := a.Client.Channels(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, c := range wire.All {
		dc, convErr := c.ToDomain()
		if convErr != nil {
			continue
		}
		all = append(all, dc)
	}
	return all, nil, nil, nil
}

// OpenChannel delegates to the underlying client.
func (a ChannelAdapter) OpenChannel(ctx context.Context, destination address.Address, amount balance.Balance) (string, error) {
	return a.Client.OpenChannel(ctx, destination, amount)
}

// FundChannel delegates to the underlying client.
func (a ChannelAdapter) FundChannel(ctx context.Context, channelID string, amount balance.Balance) error {
	return a.Client.FundChannel(ctx, channelID, amount)
}

// CloseChannel delegates to the underlying client.
func (a ChannelAdapter) CloseChannel(ctx context.Context, channelID string) error {
	return a.Client.CloseChannel(ctx, channelID)
}

// SessionAdapter satisfies internal/session.API, dialing a live socket for
// every session the node API reports as opened.
type SessionAdapter struct{ *Client }

// OpenUDPSession requests a new session and dials its listener socket.
func (a SessionAdapter) OpenUDPSession(ctx context.Context, destination, relayer, listenHost string) (*session.Descriptor, error) {
	sess, err := a.Client.OpenUDPSession(ctx, destination, relayer, listenHost)
	if err != nil {
		return nil, err
	}
	return session.NewDescriptor(sess.IP, sess.Port, sess.Protocol, sess.Target, sess.MTU, sess.SurbSize)
}

// CloseSession closes s at the node API.
func (a SessionAdapter) CloseSession(ctx context.Context, s *session.Descriptor) error {
	return a.Client.CloseSession(ctx, Session{
		IP: s.IP, Port: s.Port, Protocol: s.Protocol, Target: s.Target, MTU: s.MTU, SurbSize: s.SurbSize,
	})
}

// ListActiveUDPPorts lists the ports of every session currently reported
// open by the node API.
func (a SessionAdapter) ListActiveUDPPorts(ctx context.Context) ([]int, error) {
	sessions, err := a.Client.ListUDPSessions(ctx)
	if err != nil {
		return nil, err
	}
	ports := make([]int, len(sessions))
	for i, s := range sessions {
		ports[i] = s.Port
	}
	return ports, nil
}

// PeersAdapter satisfies internal/peers.API.
type PeersAdapter struct{ *Client }

// Peers fetches the connected-peer list at the given quality threshold.
func (a PeersAdapter) Peers(ctx context.Context, quality float64) ([]peers.ConnectedPeer, error) {
	wire, err := a.Client.Peers(ctx, quality, "connected")
	if err != nil {
		return nil, err
	}
	out := make([]peers.ConnectedPeer, len(wire))
	for i, p := range wire {
		out[i] = peers.ConnectedPeer{Address: p.Address, Multiaddr: p.Multiaddr}
	}
	return out, nil
}

// StateAdapter satisfies internal/state.API.
type StateAdapter struct{ *Client }

// Address delegates to the underlying client.
func (a StateAdapter) Address(ctx context.Context) (address.Address, error) {
	return a.Client.Address(ctx)
}

// Balances delegates to the underlying client, reshaping into
// internal/state's Balances type.
func (a StateAdapter) Balances(ctx context.Context) (state.Balances, error) {
	b, err := a.Client.Balances(ctx)
	if err != nil {
		return state.Balances{}, err
	}
	return state.Balances{Hopr: b.Hopr, Native: b.Native, SafeHopr: b.SafeHopr, SafeNative: b.SafeNative}, nil
}

// TicketPrice delegates to the underlying client, unwrapping the balance.
func (a StateAdapter) TicketPrice(ctx context.Context) (balance.Balance, error) {
	tp, err := a.Client.TicketPrice(ctx)
	if err != nil {
		return balance.Balance{}, err
	}
	return tp.Value, nil
}

// Healthyz delegates to the underlying client.
func (a StateAdapter) Healthyz(ctx context.Context) bool {
	return a.Client.Healthyz(ctx)
}
