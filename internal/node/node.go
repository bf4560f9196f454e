// Package node composes every per-relay-node manager into one orchestration
// loop (C10): channel, session, peers, state, subgraph, RPC, NFT and
// economic components, each registered as an explicit keepalive task
// instead of the original's reflection-based enumeration (§4.10, §9 Design
// Note "Mixin composition").
package node

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/cache"
	"ctorchestrator/internal/channel"
	"ctorchestrator/internal/economic"
	"ctorchestrator/internal/lockedvar"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/nft"
	"ctorchestrator/internal/peer"
	"ctorchestrator/internal/peers"
	"ctorchestrator/internal/ratelimit"
	"ctorchestrator/internal/restapi"
	"ctorchestrator/internal/rpcquery"
	"ctorchestrator/internal/session"
	"ctorchestrator/internal/state"
	"ctorchestrator/internal/subgraph"
)

var gaugeEOABalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ct_eoa_balance",
	Help: "Token balance of an investor EOA",
}, []string{"address", "token"})

func init() {
	prometheus.MustRegister(gaugeEOABalance)
}

// TaskDelays configures the cadence of each keepalive task by name, mirroring
// §6.4's per-task configuration keys (e.g. "flags.peer.message_relay_request").
type TaskDelays map[string]time.Duration

const defaultDelay = 30 * time.Second

// enabled returns the configured cadence for name. A nil TaskDelays enables
// every task at the default cadence; a non-nil map disables tasks whose key
// is absent or non-positive, mirroring the flag-guard semantics of the
// original's configuration (absent or false = disabled).
func (d TaskDelays) enabled(name string) (time.Duration, bool) {
	if d == nil {
		return defaultDelay, true
	}
	v, ok := d[name]
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// InvestorParams carries the investor addresses and vesting schedule used by
// the allocations keepalive task (SPEC_FULL.md §12 "Investor allocation
// schedule parsing").
type InvestorParams struct {
	Addresses []address.Address
	Schedule  string
}

// SubgraphEndpoint bundles one subgraph deployment's query and rotation URL.
type SubgraphEndpoint struct {
	URL        subgraph.URL
	Query      string
	DefaultKey string
}

// Params bundles every external configuration needed to construct a Node.
type Params struct {
	RESTBaseURL string
	RESTToken   string

	SessionQuality          float64
	SessionBaseDelay        time.Duration
	SessionMaxDelay         time.Duration
	SessionDestinationCount int // blue+green destinations, §4.9 divisor

	Emission peer.EmissionParams
	Channel  channel.Params
	Economic economic.Engine

	NFTHoldersPath string
	Investors      InvestorParams
	RPCGnosisURL   string
	RPCMainnetURL  string

	SafesSubgraph   SubgraphEndpoint
	RewardsSubgraph SubgraphEndpoint

	MessagePartitions int
	Delays            TaskDelays
}

// Node composes every manager for one relay node's orchestration loop
// (C10). Constructed once per node; Run blocks until the loop is cancelled.
type Node struct {
	log    *logrus.Logger
	loop   *asyncloop.Loop
	queue  *msgqueue.Queue
	params Params

	rest *restapi.Client

	peerCache *cache.PeerCache

	channelMgr *channel.Manager
	sessionMgr *session.Manager
	peersMgr   *peers.Manager
	stateMgr   *state.Manager

	nftHolders *nft.Holders
	gnosisRPC  *rpcquery.Client
	mainnetRPC *rpcquery.Client

	safesSubgraph   *subgraph.Provider
	rewardsSubgraph *subgraph.Provider

	self address.Address

	// rewards is written by the rewards-subgraph keepalive task and read
	// by apply_economic_model, so it lives behind a locked cell (§4.2).
	rewards *lockedvar.MapVar[address.Address, float64]
}

// New constructs a Node's stateless components. Components that need the
// node's own address (channel, session, peers managers) are built in Run,
// after RetrieveAddress succeeds, matching §4.10 "On start it retrieves its
// own address[, then constructs the rest]".
func New(params Params, log *logrus.Logger) *Node {
	rest := restapi.New(params.RESTBaseURL, params.RESTToken, log)
	partitions := params.MessagePartitions
	if partitions <= 0 {
		partitions = 5
	}

	n := &Node{
		log:       log,
		loop:      asyncloop.New(context.Background(), log),
		queue:     msgqueue.New(partitions, 64),
		params:    params,
		rest:      rest,
		peerCache: cache.NewPeerCache(),
		stateMgr:  state.New(restapi.StateAdapter{Client: rest}, log),
		rewards:   lockedvar.NewMap[address.Address, float64]("peer_rewards", nil),
	}

	if params.RPCGnosisURL != "" {
		n.gnosisRPC = rpcquery.New(params.RPCGnosisURL, log)
	}
	if params.RPCMainnetURL != "" {
		n.mainnetRPC = rpcquery.New(params.RPCMainnetURL, log)
	}
	if params.SafesSubgraph.Query != "" {
		n.safesSubgraph = subgraph.New(params.SafesSubgraph.URL, params.SafesSubgraph.Query, params.SafesSubgraph.DefaultKey, log)
	}
	if params.RewardsSubgraph.Query != "" {
		n.rewardsSubgraph = subgraph.New(params.RewardsSubgraph.URL, params.RewardsSubgraph.Query, params.RewardsSubgraph.DefaultKey, log)
	}
	return n
}

// Run retrieves the node's own address, finishes constructing the
// address-dependent managers, loads the NFT holder list once, registers
// every keepalive task, and blocks until the loop is cancelled (SIGINT,
// SIGTERM, or an external Stop) and all tracked tasks have exited.
func (n *Node) Run() error {
	return n.loop.Run(n.start, n.teardown)
}

func (n *Node) start(ctx context.Context) error {
	addr, err := n.stateMgr.RetrieveAddress(ctx)
	if err != nil {
		return err
	}
	n.self = addr

	n.channelMgr = channel.New(restapi.ChannelAdapter{Client: n.rest}, addr, n.params.Channel, n.log)
	limiter := ratelimit.New(n.params.SessionBaseDelay, n.params.SessionMaxDelay)
	n.sessionMgr = session.New(restapi.SessionAdapter{Client: n.rest}, limiter, n.loop, n.queue, addr, n.log)
	n.peersMgr = peers.New(restapi.PeersAdapter{Client: n.rest}, n.peerCache, n.loop, n.queue, n.params.SessionQuality, n.params.Emission, addr, n.log)

	if n.params.NFTHoldersPath != "" {
		holders, loadErr := nft.Load(n.params.NFTHoldersPath, n.log)
		if loadErr != nil {
			n.log.WithError(loadErr).Warn("failed to load NFT holder list; proceeding with an empty set")
		} else {
			n.nftHolders = holders
		}
	}

	n.registerTasks()

	return n.loop.Gather()
}

func (n *Node) teardown() {
	n.log.Info("node shutting down")
}

// Stop cancels the node's loop, signalling every tracked and detached task
// to exit.
func (n *Node) Stop() { n.loop.Stop() }

// keepalive wraps fn as a named, independently-cadenced tracked task: each
// iteration runs fn, logs any error, then sleeps delay (or exits promptly on
// cancellation) — the explicit equivalent of the original's
// `@keepalive`/`@flagguard`/`@formalin` decorator stack (§9 Design Note).
func (n *Node) keepalive(name string, fn func(ctx context.Context) error) {
	delay, ok := n.params.Delays.enabled(name)
	if !ok {
		n.log.WithField("task", name).Debug("task disabled by configuration")
		return
	}
	n.loop.Spawn(name, func(ctx context.Context) error {
		for {
			if err := fn(ctx); err != nil {
				n.log.WithField("task", name).WithError(err).Debug("keepalive task reported an error")
			}
			if !sleepCtx(ctx, delay) {
				return nil
			}
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (n *Node) spawnFireAndForget(name string, fn func(ctx context.Context) error) {
	n.loop.SpawnDetached(name, fn)
}

// registerTasks schedules every periodic pull and reconciliation step this
// node runs, replacing the original's reflection-based keepalive
// enumeration with an explicit list (§4.10, §9).
func (n *Node) registerTasks() {
	n.keepalive("retrieve_channels", func(ctx context.Context) error {
		return n.channelMgr.RetrieveChannels(ctx)
	})
	n.keepalive("open_channels", func(ctx context.Context) error {
		n.channelMgr.OpenChannels(ctx, n.peerCache.PeerAddresses(), n.spawnFireAndForget)
		return nil
	})
	n.keepalive("fund_channels", func(ctx context.Context) error {
		n.channelMgr.FundChannels(ctx, n.peerCache.PeerAddresses(), n.spawnFireAndForget)
		return nil
	})
	n.keepalive("close_pending_channels", func(ctx context.Context) error {
		n.channelMgr.ClosePending(ctx, n.spawnFireAndForget)
		return nil
	})
	n.keepalive("close_incoming_channels", func(ctx context.Context) error {
		n.channelMgr.CloseIncoming(ctx, n.spawnFireAndForget)
		return nil
	})
	n.keepalive("close_old_channels", func(ctx context.Context) error {
		n.channelMgr.CloseOld(ctx, n.peersMgr.History(), time.Now(), n.spawnFireAndForget)
		return nil
	})

	n.keepalive("retrieve_peers", func(ctx context.Context) error {
		return n.peersMgr.Retrieve(ctx)
	})

	n.keepalive("retrieve_balances", func(ctx context.Context) error {
		_, err := n.stateMgr.RetrieveBalances(ctx)
		return err
	})
	n.keepalive("retrieve_ticket_price", func(ctx context.Context) error {
		return n.stateMgr.RetrieveTicketPrice(ctx)
	})
	n.keepalive("healthcheck", func(ctx context.Context) error {
		return n.stateMgr.Healthcheck(ctx)
	})

	if n.safesSubgraph != nil {
		n.keepalive("retrieve_safes_subgraph", func(ctx context.Context) error {
			if n.safesSubgraph.Mode() == subgraph.ModeNone {
				n.safesSubgraph.Rotate(ctx, nil)
			}
			pages, err := n.safesSubgraph.Get(ctx, nil)
			if err != nil {
				return err
			}
			nodes, err := subgraph.ParseRegisteredNodes(pages)
			if err != nil {
				return err
			}
			n.applyRegisteredNodes(nodes)
			return nil
		})
	}

	if n.rewardsSubgraph != nil {
		n.keepalive("retrieve_rewards_subgraph", func(ctx context.Context) error {
			if n.rewardsSubgraph.Mode() == subgraph.ModeNone {
				n.rewardsSubgraph.Rotate(ctx, nil)
			}
			pages, err := n.rewardsSubgraph.Get(ctx, nil)
			if err != nil {
				return err
			}
			accounts, err := subgraph.ParseRewardAccounts(pages)
			if err != nil {
				return err
			}
			redeemed := make(map[address.Address]float64, len(accounts))
			for _, a := range accounts {
				redeemed[a.Address] = a.RedeemedValue
			}
			n.rewards.Set(redeemed)
			return nil
		})
	}

	if len(n.params.Investors.Addresses) > 0 && (n.gnosisRPC != nil || n.mainnetRPC != nil) {
		n.keepalive("allocations", func(ctx context.Context) error {
			return n.retrieveAllocations(ctx)
		})
		n.keepalive("eoa_balances", func(ctx context.Context) error {
			return n.retrieveEOABalances(ctx)
		})
	}

	n.keepalive("apply_economic_model", func(ctx context.Context) error {
		n.applyEconomicModel()
		return nil
	})

	partitions := n.queue.Count()
	for i := 0; i < partitions; i++ {
		partition := i
		n.loop.Spawn("observe_message_queue", func(ctx context.Context) error {
			for {
				n.peerCache.SetSessionDestinations(n.sessionMgr.Destinations())
				if err := n.sessionMgr.ObserveMessageQueueOnce(ctx, partition, n.channelOutgoingDestinations(), n.peerCache.ReachableDestinations()); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					n.log.WithError(err).Debug("observe_message_queue iteration failed")
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		})
	}

	n.keepalive("maintain_sessions", func(ctx context.Context) error {
		err := n.sessionMgr.Maintain(ctx, n.peerCache.PeerAddresses(), time.Now())
		n.peerCache.SetSessionDestinations(n.sessionMgr.Destinations())
		return err
	})
}

func (n *Node) channelOutgoingDestinations() address.Set {
	out := address.NewSet()
	for addr := range n.channelMgr.Cache().AddressToOpenChannel() {
		out.Add(addr)
	}
	return out
}

// applyRegisteredNodes links every peer currently tracked to its safe from
// the subgraph's registered-node list, and recomputes safe_address_count
// (the number of distinct peers sharing a safe) across the full peer set
// (SPEC_FULL.md §12 "allowManyNodePerSafe").
func (n *Node) applyRegisteredNodes(nodes []subgraph.RegisteredNode) {
	safeByAddr := make(map[address.Address]peer.Safe, len(nodes))
	for _, rn := range nodes {
		safeByAddr[rn.Address] = rn.Safe
	}

	countBySafe := make(map[address.Address]int)
	for _, rn := range nodes {
		countBySafe[rn.Safe.Address]++
	}

	for addr, p := range n.peersMgr.Snapshot() {
		safe, ok := safeByAddr[addr]
		if !ok {
			continue
		}
		s := safe
		p.SetSafe(&s)
		p.SetSafeAddressCount(countBySafe[safe.Address])
	}
}

func (n *Node) retrieveAllocations(ctx context.Context) error {
	snapshot := n.peersMgr.Snapshot()
	for _, addr := range n.params.Investors.Addresses {
		var total rpcquery.Allocation
		if n.gnosisRPC != nil {
			if a, err := n.gnosisRPC.Allocations(ctx, gnosisDistributorContract, addr, n.params.Investors.Schedule); err == nil {
				total.Amount += a.Amount
				total.Claimed += a.Claimed
			}
		}
		if n.mainnetRPC != nil {
			if a, err := n.mainnetRPC.Allocations(ctx, mainnetDistributorContract, addr, n.params.Investors.Schedule); err == nil {
				total.Amount += a.Amount
				total.Claimed += a.Claimed
			}
		}
		// Investor allocations are additional stake contributed to every
		// peer linked to this investor's safe; in the absence of a direct
		// investor->safe link in this data source, the amount is applied
		// only when the investor address is itself a tracked peer's safe.
		for _, p := range snapshot {
			safe := p.Safe()
			if safe == nil || !safe.Address.Equal(addr) {
				continue
			}
			s := *safe
			s.AdditionalBalance = balance.New(decimal.NewFromFloat(total.Unclaimed()), "wxHOPR")
			p.SetSafe(&s)
		}
	}
	return nil
}

// retrieveEOABalances refreshes the ct_eoa_balance gauge with each investor
// EOA's balance of every configured token contract.
func (n *Node) retrieveEOABalances(ctx context.Context) error {
	type tokenContract struct {
		client   *rpcquery.Client
		contract string
		token    string
	}
	contracts := []tokenContract{
		{n.mainnetRPC, hoprMainnetTokenContract, "HOPR"},
		{n.gnosisRPC, xHoprGnosisTokenContract, "xHOPR"},
		{n.gnosisRPC, wxHoprGnosisTokenContract, "wxHOPR"},
	}

	for _, addr := range n.params.Investors.Addresses {
		for _, tc := range contracts {
			if tc.client == nil {
				continue
			}
			bal, err := tc.client.BalanceOf(ctx, tc.contract, addr, tc.token)
			if err != nil {
				n.log.WithFields(logrus.Fields{"address": addr.String(), "token": tc.token}).
					WithError(err).Debug("eoa balance lookup failed")
				continue
			}
			gaugeEOABalance.WithLabelValues(addr.String(), tc.token).Set(bal.Float64())
		}
	}
	return nil
}

// applyEconomicModel runs the eligibility filter and both reward models over
// every currently tracked peer (C9, §4.9).
func (n *Node) applyEconomicModel() {
	snapshot := n.peersMgr.Snapshot()
	peerList := make([]*peer.Peer, 0, len(snapshot))
	for _, p := range snapshot {
		peerList = append(peerList, p)
	}
	if len(peerList) == 0 {
		n.log.Warn("not enough data to apply economic model")
		return
	}

	ownAddresses := address.NewSet(n.self)
	ticketPrice := n.stateMgr.TicketPrice()
	n.params.Economic.ApplyAll(peerList, ownAddresses, n.nftHolders, ticketPrice, n.rewards.Get(), n.params.SessionDestinationCount)
}

// The token-distributor contract addresses are fixed on-chain constants
// (§6.3), matching the original's per-provider `token_contract`/`contract`
// class attributes.
const (
	hoprMainnetTokenContract   = "0xF5581dFeFD8Fb0e4aeC526bE659CFaB1f8c781dA"
	xHoprGnosisTokenContract   = "0xD057604A14982FE8D88c5fC25Aac3267eA142a08"
	wxHoprGnosisTokenContract  = "0xD4fdec44DB9D44B8f2b6d529620f9C0C7066A2c1"
	gnosisDistributorContract  = "0x987cb736fBfBc4a397Acd06045bf0cD9B9deFe66"
	mainnetDistributorContract = "0xB413a589ec21Cc1FEc27d1175105a47628676552"
)
