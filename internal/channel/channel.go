// Package channel models payment channels and drives their open/fund/close
// reconciliation (C6), the Go port of the original's ChannelMixin.
package channel

import (
	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

// Status is a payment channel's lifecycle state.
type Status int

const (
	Open Status = iota
	PendingToClose
	Closed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "Open"
	case PendingToClose:
		return "PendingToClose"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Channel is a directed payment channel between Source and Destination.
// Invariant: at most one Open outgoing channel exists per (source,
// destination) pair — enforced by the reconciliation logic in Manager, not
// by this type.
type Channel struct {
	ID          string
	Source      address.Address
	Destination address.Address
	Status      Status
	Balance     balance.Balance
}
