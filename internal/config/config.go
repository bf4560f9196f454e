// Package config loads the orchestrator's YAML configuration and its
// environment overrides (§6.4). The file is read with viper so an
// environment-specific overlay can be merged on top of the defaults; a
// .env file (godotenv) and process environment supply the secrets the YAML
// must not carry: the subgraph API key and the per-node bearer tokens.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Flags holds the per-task cadences: a positive number of seconds enables
// the task at that delay, zero or a missing key disables it.
type Flags struct {
	Node map[string]float64 `mapstructure:"node"`
	Peer map[string]float64 `mapstructure:"peer"`
}

// LegacyCoefficients mirrors economic_model.legacy.coefficients.
type LegacyCoefficients struct {
	A float64 `mapstructure:"a"`
	B float64 `mapstructure:"b"`
	C float64 `mapstructure:"c"`
	L float64 `mapstructure:"l"`
}

// Legacy mirrors economic_model.legacy.
type Legacy struct {
	Proportion   float64            `mapstructure:"proportion"`
	APR          float64            `mapstructure:"apr"`
	Coefficients LegacyCoefficients `mapstructure:"coefficients"`
}

// Bucket mirrors one economic_model.sigmoid.buckets entry.
type Bucket struct {
	Flatness   float64 `mapstructure:"flatness"`
	Skewness   float64 `mapstructure:"skewness"`
	Upperbound float64 `mapstructure:"upperbound"`
	Offset     float64 `mapstructure:"offset"`
}

// SigmoidBuckets names the two buckets of §4.9's Sigmoid model.
type SigmoidBuckets struct {
	NetworkCapacity  Bucket `mapstructure:"network_capacity"`
	EconomicSecurity Bucket `mapstructure:"economic_security"`
}

// Sigmoid mirrors economic_model.sigmoid.
type Sigmoid struct {
	Proportion       float64        `mapstructure:"proportion"`
	MaxAPR           float64        `mapstructure:"max_apr"`
	Offset           float64        `mapstructure:"offset"`
	NetworkCapacity  float64        `mapstructure:"network_capacity"`
	TotalTokenSupply float64        `mapstructure:"total_token_supply"`
	Buckets          SigmoidBuckets `mapstructure:"buckets"`
}

// EconomicModel mirrors the economic_model block.
type EconomicModel struct {
	MinSafeAllowance float64 `mapstructure:"min_safe_allowance"`
	NFTThreshold     float64 `mapstructure:"nft_threshold"`
	Legacy           Legacy  `mapstructure:"legacy"`
	Sigmoid          Sigmoid `mapstructure:"sigmoid"`
}

// Peer mirrors the peer block: the Normal-distributed idle sleep used when
// a peer has no message_delay (§4.11).
type Peer struct {
	SleepMeanTime float64 `mapstructure:"sleep_mean_time"`
	SleepStdTime  float64 `mapstructure:"sleep_std_time"`
	Quality       float64 `mapstructure:"quality"`
}

// Channel mirrors the channel block. Balances stay in their string form
// here; parsing happens when the node parameters are assembled, so a bad
// amount is reported as a configuration error at startup.
type Channel struct {
	MinBalance    string `mapstructure:"min_balance"`
	FundingAmount string `mapstructure:"funding_amount"`
	MaxAgeSeconds int    `mapstructure:"max_age_seconds"`
}

// RPC mirrors the rpc block.
type RPC struct {
	Gnosis  string `mapstructure:"gnosis"`
	Mainnet string `mapstructure:"mainnet"`
}

// SubgraphEndpoint mirrors one subgraph deployment entry.
type SubgraphEndpoint struct {
	QueryID string         `mapstructure:"query_id"`
	Slug    string         `mapstructure:"slug"`
	Inputs  map[string]any `mapstructure:"inputs"`
}

// Subgraph mirrors the subgraph block. APIKey is overridable through the
// SUBGRAPH_API_KEY environment variable.
type Subgraph struct {
	Type         string           `mapstructure:"type"`
	UserID       string           `mapstructure:"user_id"`
	APIKey       string           `mapstructure:"api_key"`
	SafesBalance SubgraphEndpoint `mapstructure:"safes_balance"`
	Rewards      SubgraphEndpoint `mapstructure:"rewards"`
}

// NFTHolders mirrors the nft_holders block.
type NFTHolders struct {
	Filepath string `mapstructure:"filepath"`
}

// Investors mirrors the investors block: allocation-contract addresses and
// the vesting schedule string encoded into the claim-status eth_call.
type Investors struct {
	Addresses []string `mapstructure:"addresses"`
	Schedule  string   `mapstructure:"schedule"`
}

// Sessions mirrors the sessions block: the rate-limiter gate on
// session-open attempts (§4.4) and the destination spread divisor.
type Sessions struct {
	OpenBaseDelaySeconds float64 `mapstructure:"open_base_delay_seconds"`
	OpenMaxDelaySeconds  float64 `mapstructure:"open_max_delay_seconds"`
	DestinationCount     int     `mapstructure:"destination_count"`
}

// Config is the full recognized configuration surface (§6.4).
type Config struct {
	Environment   string        `mapstructure:"environment"`
	Flags         Flags         `mapstructure:"flags"`
	EconomicModel EconomicModel `mapstructure:"economic_model"`
	Peer          Peer          `mapstructure:"peer"`
	Channel       Channel       `mapstructure:"channel"`
	Investors     Investors     `mapstructure:"investors"`
	NFTHolders    NFTHolders    `mapstructure:"nft_holders"`
	RPC           RPC           `mapstructure:"rpc"`
	Subgraph      Subgraph      `mapstructure:"subgraph"`
	Sessions      Sessions      `mapstructure:"sessions"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
}

// NodeCredentials is one relay node's REST endpoint and bearer token, drawn
// from the NODE_ADDRESS_n / NODE_KEY_n environment variables.
type NodeCredentials struct {
	URL   string
	Token string
}

// Load reads the configuration file at path, merges an environment overlay
// named env (if non-empty) from the same directory, applies .env and
// process-environment overrides, and validates the result.
func Load(path, env string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		v.SetConfigFile(filepath.Join(filepath.Dir(path), env+".yaml"))
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A .env file next to the process, if present, feeds the secret
	// overrides; its absence is not an error.
	_ = godotenv.Load()

	if key := os.Getenv("SUBGRAPH_API_KEY"); key != "" {
		cfg.Subgraph.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the startup-fatal checks of §7: a missing required
// field stops the process before any task is scheduled.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("config: environment is required")
	}
	if c.Channel.MinBalance == "" || c.Channel.FundingAmount == "" {
		return fmt.Errorf("config: channel.min_balance and channel.funding_amount are required")
	}
	if c.Channel.MaxAgeSeconds <= 0 {
		return fmt.Errorf("config: channel.max_age_seconds must be positive")
	}
	if c.EconomicModel.Legacy.Coefficients.B == 0 {
		return fmt.Errorf("config: economic_model.legacy.coefficients.b must be non-zero")
	}
	if c.Subgraph.SafesBalance.QueryID != "" && c.Subgraph.APIKey == "" {
		return fmt.Errorf("config: subgraph.api_key (or SUBGRAPH_API_KEY) is required when a subgraph is configured")
	}
	return nil
}

// NodesFromEnv enumerates NODE_ADDRESS_1/NODE_KEY_1, NODE_ADDRESS_2/... and
// returns one credential pair per configured node. Enumeration stops at the
// first missing index; a URL without a matching key is an error.
func NodesFromEnv() ([]NodeCredentials, error) {
	var out []NodeCredentials
	for i := 1; ; i++ {
		url := os.Getenv(fmt.Sprintf("NODE_ADDRESS_%d", i))
		if url == "" {
			break
		}
		key := os.Getenv(fmt.Sprintf("NODE_KEY_%d", i))
		if key == "" {
			return nil, fmt.Errorf("config: NODE_ADDRESS_%d is set but NODE_KEY_%d is missing", i, i)
		}
		out = append(out, NodeCredentials{URL: url, Token: key})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no nodes configured (NODE_ADDRESS_1 not set)")
	}
	return out, nil
}

// SessionBaseDelay returns the rate limiter's base delay, defaulting to 2s.
func (c *Config) SessionBaseDelay() time.Duration {
	if c.Sessions.OpenBaseDelaySeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Sessions.OpenBaseDelaySeconds * float64(time.Second))
}

// SessionMaxDelay returns the rate limiter's delay cap, defaulting to 60s.
func (c *Config) SessionMaxDelay() time.Duration {
	if c.Sessions.OpenMaxDelaySeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Sessions.OpenMaxDelaySeconds * float64(time.Second))
}
