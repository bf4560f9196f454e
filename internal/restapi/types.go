// Package restapi is the consumed HTTP client for a single relay node's REST
// API (§6.1): accounts, channels, peers, UDP sessions, ticket price and
// health. It is the out-of-scope "named interface" collaborator the core
// engine depends on through the per-manager Client interfaces (see
// internal/channel, internal/session, internal/peers, internal/state).
package restapi

import (
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/channel"
)

// Addresses is the response of GET /account/addresses.
type Addresses struct {
	Native string `json:"native"`
}

// Balances is the response of GET /account/balances.
type Balances struct {
	Hopr       balance.Balance
	Native     balance.Balance
	SafeHopr   balance.Balance
	SafeNative balance.Balance
}

// balancesWire is the raw JSON shape; Balance strings are parsed into
// balance.Balance on decode.
type balancesWire struct {
	Hopr       string `json:"hopr"`
	Native     string `json:"native"`
	SafeHopr   string `json:"safeHopr"`
	SafeNative string `json:"safeNative"`
}

// Channel mirrors a single entry of GET /channels' "all" array.
type Channel struct {
	ID          string `json:"channelId"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Balance     string `json:"balance"`
}

// Channels is the response of GET /channels.
type Channels struct {
	All      []Channel `json:"all"`
	Incoming []Channel `json:"incoming"`
	Outgoing []Channel `json:"outgoing"`
}

// ToDomain converts a wire Channel into the domain channel.Channel, parsing
// status and balance. Unknown status strings default to Closed, matching a
// fail-safe interpretation (an unrecognized channel is treated as not
// requiring action).
func (c Channel) ToDomain() (channel.Channel, error) {
	bal, err := balance.Parse(c.Balance)
	if err != nil {
		return channel.Channel{}, err
	}
	src, err := parseAddr(c.Source)
	if err != nil {
		return channel.Channel{}, err
	}
	dst, err := parseAddr(c.Destination)
	if err != nil {
		return channel.Channel{}, err
	}
	return channel.Channel{
		ID:          c.ID,
		Source:      src,
		Destination: dst,
		Status:      parseStatus(c.Status),
		Balance:     bal,
	}, nil
}

func parseStatus(s string) channel.Status {
	switch s {
	case "Open":
		return channel.Open
	case "PendingToClose":
		return channel.PendingToClose
	default:
		return channel.Closed
	}
}

// ConnectedPeer is one entry of GET /node/peers' requested status array.
type ConnectedPeer struct {
	Address   string `json:"address"`
	Multiaddr string `json:"multiaddr"`
}

// Session is a UDP session listener descriptor (§3 "Session").
type Session struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Target   string `json:"target"`
	MTU      int    `json:"hoprMtu"`
	SurbSize int    `json:"surbLen"`
}

// Payload returns the usable bytes per datagram after accounting for the
// SURB overhead.
func (s Session) Payload() int { return s.MTU - s.SurbSize }

// Path renders the DELETE /session/{protocol}/{ip}/{port} path segment.
func (s Session) Path() string {
	return "/session/" + s.Protocol + "/" + s.IP + "/" + itoa(s.Port)
}

// SessionFailure is the error-shaped response POST /session/udp may return
// instead of a Session.
type SessionFailure struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// TicketPrice is the response of GET /node/configuration or
// GET /network/price.
type TicketPrice struct {
	Value balance.Balance
}
