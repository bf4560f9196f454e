// Package economic computes each peer's eligibility and yearly message
// budget by applying the Legacy and Sigmoid reward models over staking and
// allocation data (C9, §4.9).
package economic

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/nft"
	"ctorchestrator/internal/peer"
)

var (
	gaugeEligiblePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct_eligible_peers",
		Help: "# of eligible peers for rewards",
	})
	gaugeMessageCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_message_count",
		Help: "messages one should receive / year",
	}, []string{"address", "model"})
	gaugeExpectedRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct_expected_message_rate",
		Help: "Sum of 1/message_delay across eligible peers",
	})
	gaugeBalanceMultiplier = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ct_balance_multiplier",
		Help: "Fixed multiplier correlating on-chain balance units across dashboards",
	})
	gaugePeerStake = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_peer_stake",
		Help: "Stake",
	}, []string{"address", "type"})
	gaugeRedeemedRewards = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_redeemed_rewards",
		Help: "Already-redeemed ticket rewards used to shift the Legacy model",
	}, []string{"address"})
)

func init() {
	prometheus.MustRegister(gaugeEligiblePeers, gaugeMessageCount, gaugeExpectedRate,
		gaugeBalanceMultiplier, gaugePeerStake, gaugeRedeemedRewards)
	// BALANCE_MULTIPLIER is a fixed constant the original exposes once at
	// startup for downstream dashboards; it never changes thereafter.
	gaugeBalanceMultiplier.Set(1.0)
}

// LegacyCoefficients are the (a, b, c, l) constants of the Legacy model's
// piecewise transformed-stake function (§4.9).
type LegacyCoefficients struct {
	A float64
	B float64
	C float64
	L float64
}

// LegacyParams configures the Legacy reward model.
type LegacyParams struct {
	Coefficients LegacyCoefficients
	APR          float64
	Proportion   float64
}

// transformedStake applies the piecewise function:
//
//	l <= x <= c: a*x
//	x > c:       a*c + (x-c)^(1/b)
//	otherwise:   0
func (lp LegacyParams) transformedStake(x float64) float64 {
	c := lp.Coefficients.C
	switch {
	case x >= lp.Coefficients.L && x <= c:
		return lp.Coefficients.A * x
	case x > c:
		return lp.Coefficients.A*c + math.Pow(x-c, 1/lp.Coefficients.B)
	default:
		return 0
	}
}

// yearlyMessageCount computes rewards = apr*f(stake)/100 and yearly =
// rewards/ticketPrice*proportion. The c coefficient is temporarily shifted
// by redeemedRewards for the calculation, matching the original's
// `self.coefficients.c += redeemed_rewards ... c -= redeemed_rewards`
// save/restore (§4.9).
func (lp LegacyParams) yearlyMessageCount(stake, ticketPrice, redeemedRewards float64) float64 {
	shifted := lp
	shifted.Coefficients.C += redeemedRewards

	rewards := lp.APR * shifted.transformedStake(stake) / 100
	if ticketPrice == 0 {
		return 0
	}
	return rewards / ticketPrice * lp.Proportion
}

// BucketParams parameterizes one Sigmoid APR bucket (§4.9).
type BucketParams struct {
	Flatness   float64
	Skewness   float64
	Upperbound float64
	Offset     float64
}

// apr computes log(upperbound/x)^skewness - 1) * flatness + offset, clamped
// to >= 0. Invalid inputs (domain errors, division by zero) collapse to 0
// rather than propagating a NaN/Inf through the pipeline.
func (bp BucketParams) apr(x float64) float64 {
	if x <= 0 {
		return 0
	}
	base := math.Pow(bp.Upperbound/x, bp.Skewness) - 1
	if base <= 0 {
		return 0
	}
	apr := math.Log(base)*bp.Flatness + bp.Offset
	if math.IsNaN(apr) || math.IsInf(apr, 0) {
		return 0
	}
	return math.Max(apr, 0)
}

// SigmoidParams configures the Sigmoid reward model. Buckets is ordered
// (network_capacity, economic_security), matching the xs slice passed to
// APR/YearlyMessageCount.
type SigmoidParams struct {
	Buckets    []BucketParams
	Offset     float64
	MaxAPR     float64
	Proportion float64
}

// APR computes the overall APR as the geometric mean of the per-bucket APRs
// (one xs value per bucket, same order as Buckets) plus Offset, clamped
// above by MaxAPR (§4.9).
func (sp SigmoidParams) APR(xs []float64) float64 {
	if len(sp.Buckets) == 0 || len(xs) != len(sp.Buckets) {
		return 0
	}
	product := 1.0
	for i, b := range sp.Buckets {
		product *= b.apr(xs[i])
	}
	apr := math.Pow(product, 1/float64(len(sp.Buckets))) + sp.Offset
	if math.IsNaN(apr) || math.IsInf(apr, 0) {
		apr = 0
	}
	if sp.MaxAPR > 0 {
		apr = math.Min(apr, sp.MaxAPR)
	}
	return apr
}

// yearlyMessageCount computes apr*stake/100/ticketPrice*proportion (§4.9).
func (sp SigmoidParams) yearlyMessageCount(stake, ticketPrice float64, xs []float64) float64 {
	apr := sp.APR(xs)
	rewards := apr * stake / 100.0
	if ticketPrice == 0 {
		return 0
	}
	return rewards / ticketPrice * sp.Proportion
}

// Engine ties the eligibility filter and both reward models together for a
// node's peer set (C9).
type Engine struct {
	MinSafeAllowance float64
	NFTThreshold     float64
	Legacy           LegacyParams
	Sigmoid          SigmoidParams

	// TotalTokenSupply and NetworkCapacity are the Sigmoid bucket-input
	// normalizers (§4.9's economic_security/network_capacity buckets).
	TotalTokenSupply float64
	NetworkCapacity  float64
}

// IsEligible applies the §4.9 eligibility filter: safe allowance floor,
// exclusion of the node's own addresses, an optional NFT-gated stake
// floor, and the Legacy model's lower bound as the general minimum stake.
func (e Engine) IsEligible(p *peer.Peer, ownAddresses address.Set, holders *nft.Holders) bool {
	safe := p.Safe()
	if safe == nil {
		return false
	}
	if safe.Allowance.Float64() < e.MinSafeAllowance {
		return false
	}
	if _, isOwn := ownAddresses[p.Address]; isOwn {
		return false
	}

	stake, err := p.SplitStake()
	if err != nil {
		return false
	}

	isHolder := holders != nil && holders.IsHolder(safe.Address)
	if e.NFTThreshold > 0 && !isHolder && stake < e.NFTThreshold {
		return false
	}
	if stake < e.Legacy.Coefficients.L {
		return false
	}
	return true
}

// BucketInputs computes the Sigmoid model's (network_capacity,
// economic_security) xs from the current eligible peer set: network
// capacity is the eligible fraction of NetworkCapacity, economic security
// is the eligible stake fraction of TotalTokenSupply (§4.9, mirrors
// economic_system.py).
func (e Engine) BucketInputs(eligibleCount int, eligibleStakeSum float64) (networkCapacity, economicSecurity float64) {
	if e.NetworkCapacity > 0 {
		networkCapacity = float64(eligibleCount) / e.NetworkCapacity
	}
	if e.TotalTokenSupply > 0 {
		economicSecurity = eligibleStakeSum / e.TotalTokenSupply
	}
	return networkCapacity, economicSecurity
}

// Apply computes and records p's split-stake-derived yearly message count
// from both models, or marks it ineligible (nil) if eligible is false. When
// eligible, sessionDestinationCount (the count of distinct blue/green
// session destinations) is added to 1 as the divisor spreading the total
// budget across concurrent destinations, matching
// `message_count / (len(session_destinations) + 1)`.
func (e Engine) Apply(p *peer.Peer, eligible bool, ticketPrice balance.Balance, redeemedRewards float64, networkCapacity, economicSecurity float64, sessionDestinationCount int) {
	addr := p.Address.String()

	if !eligible {
		p.SetYearlyMessageCount(nil)
		gaugeMessageCount.WithLabelValues(addr, "legacy").Set(0)
		gaugeMessageCount.WithLabelValues(addr, "sigmoid").Set(0)
		return
	}

	stake, err := p.SplitStake()
	if err != nil {
		p.SetYearlyMessageCount(nil)
		return
	}
	gaugePeerStake.WithLabelValues(addr, "split").Set(stake)
	gaugeRedeemedRewards.WithLabelValues(addr).Set(redeemedRewards)

	divisor := float64(sessionDestinationCount + 1)
	price := ticketPrice.Float64()

	legacyCount := e.Legacy.yearlyMessageCount(stake, price, redeemedRewards) / divisor
	sigmoidCount := e.Sigmoid.yearlyMessageCount(stake, price, []float64{networkCapacity, economicSecurity}) / divisor

	gaugeMessageCount.WithLabelValues(addr, "legacy").Set(legacyCount)
	gaugeMessageCount.WithLabelValues(addr, "sigmoid").Set(sigmoidCount)

	total := legacyCount + sigmoidCount
	p.SetYearlyMessageCount(&total)
}

// ApplyAll runs the full eligibility-then-reward pipeline over peers,
// re-deriving the Sigmoid bucket inputs from the set of already-eligible
// peers (a single pass: eligibility never depends on another peer's
// result, so order does not matter), and publishes the
// ct_eligible_peers/ct_expected_message_rate summary gauges (§4.9).
func (e Engine) ApplyAll(peers []*peer.Peer, ownAddresses address.Set, holders *nft.Holders, ticketPrice balance.Balance, redeemedRewards map[address.Address]float64, sessionDestinationCount int) {
	eligible := make([]*peer.Peer, 0, len(peers))
	var stakeSum float64
	for _, p := range peers {
		if e.IsEligible(p, ownAddresses, holders) {
			eligible = append(eligible, p)
			if s, err := p.SplitStake(); err == nil {
				stakeSum += s
			}
		}
	}

	networkCapacity, economicSecurity := e.BucketInputs(len(eligible), stakeSum)

	eligibleSet := make(map[address.Address]struct{}, len(eligible))
	for _, p := range eligible {
		eligibleSet[p.Address] = struct{}{}
	}

	for _, p := range peers {
		_, isEligible := eligibleSet[p.Address]
		e.Apply(p, isEligible, ticketPrice, redeemedRewards[p.Address], networkCapacity, economicSecurity, sessionDestinationCount)
	}

	var expectedRate float64
	for _, p := range peers {
		if delay := p.MessageDelay(); delay != nil && *delay > 0 {
			expectedRate += 1 / *delay
		}
	}

	gaugeEligiblePeers.Set(float64(len(eligible)))
	gaugeExpectedRate.Set(expectedRate)
}
