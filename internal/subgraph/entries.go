package subgraph

import (
	"encoding/json"
	"fmt"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/peer"
)

// safeWire mirrors a single `registeredNodesInSafeRegistry` subgraph entry.
type safeWire struct {
	ID      string `json:"id"`
	Balance struct {
		WxHoprBalance string `json:"wxHoprBalance"`
	} `json:"balance"`
	Allowance struct {
		WxHoprAllowance string `json:"wxHoprAllowance"`
	} `json:"allowance"`
	Owners []struct {
		Owner struct {
			ID string `json:"id"`
		} `json:"owner"`
	} `json:"owners"`
}

func (w safeWire) toDomain() (peer.Safe, error) {
	addr, err := address.New(w.ID)
	if err != nil {
		return peer.Safe{}, err
	}
	bal, err := parseOrZero(w.Balance.WxHoprBalance)
	if err != nil {
		return peer.Safe{}, err
	}
	allow, err := parseOrZero(w.Allowance.WxHoprAllowance)
	if err != nil {
		return peer.Safe{}, err
	}
	var owners []address.Address
	for _, o := range w.Owners {
		if o.Owner.ID == "" {
			continue
		}
		oa, oerr := address.New(o.Owner.ID)
		if oerr != nil {
			continue
		}
		owners = append(owners, oa)
	}
	return peer.Safe{
		Address:           addr,
		Balance:           bal,
		Allowance:         allow,
		Owners:            owners,
		AdditionalBalance: balance.Zero("wxHOPR"),
	}, nil
}

func parseOrZero(amount string) (balance.Balance, error) {
	if amount == "" {
		return balance.Zero("wxHOPR"), nil
	}
	return balance.Parse(amount + " wxHOPR")
}

// RegisteredNode is one entry of the Safes subgraph's
// `registeredNodesInSafeRegistry` array: a peer node address linked to its
// Safe (§3 "Safe", "Peer").
type RegisteredNode struct {
	Address address.Address
	Safe    peer.Safe
}

// ParseRegisteredNodes decodes the accumulated elements of the Safes
// query's `registeredNodesInSafeRegistry` array into RegisteredNode
// entries (mirrors `Node.fromSubgraphResult`).
func ParseRegisteredNodes(entries []json.RawMessage) ([]RegisteredNode, error) {
	var out []RegisteredNode
	for _, raw := range entries {
		var entry struct {
			Node struct {
				ID string `json:"id"`
			} `json:"node"`
			Safe safeWire `json:"safe"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("subgraph: decode registered node entry: %w", err)
		}
		addr, err := address.New(entry.Node.ID)
		if err != nil {
			continue
		}
		safe, err := entry.Safe.toDomain()
		if err != nil {
			continue
		}
		out = append(out, RegisteredNode{Address: addr, Safe: safe})
	}
	return out, nil
}

// RewardAccount is one entry of the Rewards subgraph query: a node address
// and its already-redeemed ticket value, used by the Legacy economic
// model's `c` coefficient shift (§4.9).
type RewardAccount struct {
	Address       address.Address
	RedeemedValue float64
}

// ParseRewardAccounts decodes the Rewards-query result pages.
func ParseRewardAccounts(pages []json.RawMessage) ([]RewardAccount, error) {
	var out []RewardAccount
	for _, raw := range pages {
		var entry struct {
			ID            string `json:"id"`
			RedeemedValue string `json:"redeemedValue"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("subgraph: decode reward account: %w", err)
		}
		addr, err := address.New(entry.ID)
		if err != nil {
			continue
		}
		var redeemed float64
		fmt.Sscanf(entry.RedeemedValue, "%f", &redeemed)
		out = append(out, RewardAccount{Address: addr, RedeemedValue: redeemed})
	}
	return out, nil
}
