package config

import (
	"gopkg.in/yaml.v3"
)

// Default returns a configuration skeleton with every recognized key
// present, ready to be filled in for a deployment.
func Default() map[string]any {
	return map[string]any{
		"environment": "production",
		"flags": map[string]any{
			"node": map[string]any{
				"healthcheck":               15,
				"retrieve_peers":            30,
				"retrieve_channels":         60,
				"retrieve_balances":         300,
				"retrieve_ticket_price":     300,
				"open_channels":             600,
				"fund_channels":             600,
				"close_old_channels":        600,
				"close_pending_channels":    600,
				"close_incoming_channels":   600,
				"retrieve_safes_subgraph":   900,
				"retrieve_rewards_subgraph": 900,
				"allocations":               3600,
				"eoa_balances":              3600,
				"apply_economic_model":      600,
				"maintain_sessions":         30,
			},
			"peer": map[string]any{
				"message_relay_request": 1,
			},
		},
		"economic_model": map[string]any{
			"min_safe_allowance": 0.0001,
			"nft_threshold":      30000,
			"legacy": map[string]any{
				"proportion": 1.0,
				"apr":        12.5,
				"coefficients": map[string]any{
					"a": 1.0,
					"b": 1.4,
					"c": 75000,
					"l": 10000,
				},
			},
			"sigmoid": map[string]any{
				"proportion":         0.0,
				"max_apr":            15.0,
				"offset":             0.0,
				"network_capacity":   1000,
				"total_token_supply": 450000000,
				"buckets": map[string]any{
					"network_capacity": map[string]any{
						"flatness":   1.0,
						"skewness":   1.4,
						"upperbound": 1.0,
						"offset":     0.0,
					},
					"economic_security": map[string]any{
						"flatness":   1.0,
						"skewness":   1.4,
						"upperbound": 1.0,
						"offset":     0.0,
					},
				},
			},
		},
		"peer": map[string]any{
			"sleep_mean_time": 60,
			"sleep_std_time":  5,
			"quality":         0.5,
		},
		"channel": map[string]any{
			"min_balance":     "0.05 wxHOPR",
			"funding_amount":  "0.2 wxHOPR",
			"max_age_seconds": 86400,
		},
		"rpc": map[string]any{
			"gnosis":  "",
			"mainnet": "",
		},
		"subgraph": map[string]any{
			"type":    "auto",
			"user_id": "",
			"api_key": "None",
			"safes_balance": map[string]any{
				"query_id": "",
				"slug":     "safes-balance",
			},
			"rewards": map[string]any{
				"query_id": "",
				"slug":     "rewards",
			},
		},
		"nft_holders": map[string]any{
			"filepath": "./nft_holders.txt",
		},
		"investors": map[string]any{
			"addresses": []string{},
			"schedule":  "",
		},
		"sessions": map[string]any{
			"open_base_delay_seconds": 2,
			"open_max_delay_seconds":  60,
			"destination_count":       1,
		},
		"metrics_addr": ":8080",
	}
}

// Generate renders the default skeleton as YAML.
func Generate() ([]byte, error) {
	return yaml.Marshal(Default())
}
