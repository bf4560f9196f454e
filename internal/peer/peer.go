// Package peer models a remote relay peer (C11): its safe linkage, stake,
// eligibility-derived yearly message count, and the per-peer
// message-relay-request emission loop.
package peer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/prometheus/client_golang/prometheus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/msgqueue"
)

// SecondsPerYear is the non-leap-year second count used to convert a yearly
// message count into a per-message delay (§4.9).
const SecondsPerYear = 365 * 24 * 60 * 60

var defaultVersion = version.Must(version.NewVersion("0.0.0"))

var (
	gaugeChannelStake = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_peer_channels_balance",
		Help: "Balance in outgoing channels",
	}, []string{"peer_id"})
	gaugeDelay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_peer_delay",
		Help: "Delay between two messages",
	}, []string{"peer_id"})
	gaugeSafeCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_peer_safe_count",
		Help: "Number of nodes linked to the safes",
	}, []string{"peer_id", "safe"})
)

func init() {
	prometheus.MustRegister(gaugeChannelStake, gaugeDelay, gaugeSafeCount)
}

// Safe is the on-chain multi-party wallet linked to a peer's node (§3).
type Safe struct {
	Address           address.Address
	Balance           balance.Balance
	Allowance         balance.Balance
	Owners            []address.Address
	AdditionalBalance balance.Balance
}

// TotalBalance is Balance + AdditionalBalance (§3).
func (s Safe) TotalBalance() (balance.Balance, error) {
	return s.Balance.Add(s.AdditionalBalance)
}

// EmissionParams configures a peer's idle sleep when it has no
// message_delay (§4.11): a Normal(mean, std) distributed wait, in seconds.
// Enabled reflects the flags.peer.message_relay_request feature flag; when
// false the peers manager never starts emission loops.
type EmissionParams struct {
	Enabled          bool
	SleepMeanSeconds float64
	SleepStdSeconds  float64
}

// Peer models a remote peer reachable through the overlay (§3). Safe,
// ChannelBalance and YearlyMessageCount are written by the economic engine
// and the peers manager; the emission loop only reads them.
type Peer struct {
	Address address.Address

	mu                 sync.Mutex
	version            *version.Version
	safe               *Safe
	channelBalance     balance.Balance
	safeAddressCount   int
	yearlyMessageCount *float64

	running bool
	stopCh  chan struct{}
}

// New creates a Peer for addr with yearly_message_count initialized to 0,
// matching the peers mixin's treatment of a newly seen peer (§4.8).
func New(addr address.Address) *Peer {
	zero := 0.0
	return &Peer{
		Address:            addr,
		version:            defaultVersion,
		safeAddressCount:   1,
		yearlyMessageCount: &zero,
	}
}

// SetVersion parses raw as a semver triple, falling back to 0.0.0 on parse
// failure (§3).
func (p *Peer) SetVersion(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := version.NewVersion(raw)
	if err != nil {
		v = defaultVersion
	}
	p.version = v
}

// Version returns the peer's reported semver triple.
func (p *Peer) Version() *version.Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// SetSafe links a Safe to the peer.
func (p *Peer) SetSafe(s *Safe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.safe = s
}

// Safe returns the peer's linked safe, or nil if none has been resolved
// yet.
func (p *Peer) Safe() *Safe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safe
}

// SetChannelBalance records the balance held in the node's outgoing channel
// to this peer.
func (p *Peer) SetChannelBalance(b balance.Balance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channelBalance = b
	gaugeChannelStake.WithLabelValues(p.Address.String()).Set(b.Float64())
}

// ChannelBalance returns the peer's outgoing channel balance.
func (p *Peer) ChannelBalance() balance.Balance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelBalance
}

// SetSafeAddressCount records how many distinct peer nodes share this
// peer's safe address (§4.9 "safe_address_count").
func (p *Peer) SetSafeAddressCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 {
		n = 1
	}
	p.safeAddressCount = n
	safeAddr := ""
	if p.safe != nil {
		safeAddr = p.safe.Address.String()
	}
	gaugeSafeCount.WithLabelValues(p.Address.String(), safeAddr).Set(float64(n))
}

// SafeAddressCount returns the currently recorded safe address count.
func (p *Peer) SafeAddressCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.safeAddressCount <= 0 {
		return 1
	}
	return p.safeAddressCount
}

// SplitStake computes safe.total_balance/safe_address_count + channel_balance
// (§4.9). Returns an error if no safe has been linked yet.
func (p *Peer) SplitStake() (float64, error) {
	p.mu.Lock()
	safe := p.safe
	count := p.safeAddressCount
	chBal := p.channelBalance
	p.mu.Unlock()

	if safe == nil {
		return 0, errNoSafe
	}
	if count <= 0 {
		count = 1
	}
	total, err := safe.TotalBalance()
	if err != nil {
		return 0, err
	}
	return total.Float64()/float64(count) + chBal.Float64(), nil
}

// SetYearlyMessageCount sets the peer's eligibility-derived yearly message
// count. Passing nil marks the peer ineligible (§3 invariant): its emission
// loop must not produce messages.
func (p *Peer) SetYearlyMessageCount(v *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yearlyMessageCount = v
}

// YearlyMessageCount returns the peer's current yearly message count, or
// nil if the peer is ineligible.
func (p *Peer) YearlyMessageCount() *float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.yearlyMessageCount
}

// MessageDelay returns seconds_per_year / yearly_message_count, or nil when
// the peer has no positive yearly message count (§4.9, testable property
// 5). The result is also published on the ct_peer_delay gauge.
func (p *Peer) MessageDelay() *float64 {
	p.mu.Lock()
	count := p.yearlyMessageCount
	p.mu.Unlock()

	var delay *float64
	if count != nil && *count > 0 {
		d := float64(SecondsPerYear) / *count
		delay = &d
	}
	if delay != nil {
		gaugeDelay.WithLabelValues(p.Address.String()).Set(*delay)
	} else {
		gaugeDelay.WithLabelValues(p.Address.String()).Set(0)
	}
	return delay
}

// IsRunning reports whether the peer's emission task is currently active.
func (p *Peer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins the message-relay-request loop on loop, idempotently
// (§4.11 "Starting the task is idempotent"). Each iteration either enqueues
// a Message Descriptor and sleeps message_delay, or sleeps a
// Normal(mean,std) interval when ineligible.
func (p *Peer) Start(loop *asyncloop.Loop, queue *msgqueue.Queue, params EmissionParams) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	loop.Spawn("message_relay_request:"+p.Address.String(), func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			default:
			}

			var wait time.Duration
			if delay := p.MessageDelay(); delay != nil {
				msg := msgqueue.NewDescriptor(p.Address.String())
				if err := queue.PutRandom(ctx, msg); err != nil {
					return nil
				}
				wait = time.Duration(*delay * float64(time.Second))
			} else {
				wait = time.Duration(sampleNormal(params.SleepMeanSeconds, params.SleepStdSeconds) * float64(time.Second))
				if wait < 0 {
					wait = 0
				}
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-stop:
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	})
}

// Stop ends the emission loop; the task exits at its next iteration
// boundary (§4.11).
func (p *Peer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

func sampleNormal(mean, std float64) float64 {
	return mean + std*rand.NormFloat64()
}
