// Package state implements the state-mixin keepalive pulls of C8: the
// node's own address, balances, ticket price, and health, each refreshed
// independently on its own cadence (§4.8, SPEC_FULL.md §12).
package state

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

var (
	gaugeBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_balance",
		Help: "Node balance",
	}, []string{"address", "token"})
	gaugeHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_node_health",
		Help: "Node health",
	}, []string{"address"})
	gaugeTicketStats = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ct_ticket_stats",
		Help: "Ticket stats",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(gaugeBalance, gaugeHealth, gaugeTicketStats)
}

// Balances mirrors the node API's account-balances response.
type Balances struct {
	Hopr       balance.Balance
	Native     balance.Balance
	SafeHopr   balance.Balance
	SafeNative balance.Balance
}

// API is the subset of the node REST client the state manager needs.
type API interface {
	Address(ctx context.Context) (address.Address, error)
	Balances(ctx context.Context) (Balances, error)
	TicketPrice(ctx context.Context) (balance.Balance, error)
	Healthyz(ctx context.Context) bool
}

// Manager pulls and caches the node's own address, balances, ticket price
// and connectivity status. Each field is single-writer (only this
// manager's keepalive tasks mutate it); readers get a lock-guarded copy.
type Manager struct {
	api API
	log *logrus.Entry

	mu          sync.Mutex
	self        address.Address
	connected   bool
	ticketPrice balance.Balance
}

// New creates a state Manager.
func New(api API, log *logrus.Logger) *Manager {
	return &Manager{api: api, log: log.WithField("component", "state")}
}

// Address returns the most recently retrieved node address.
func (m *Manager) Address() address.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Connected reports whether the node was reachable as of the last
// healthcheck.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// TicketPrice returns the most recently retrieved ticket price.
func (m *Manager) TicketPrice() balance.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticketPrice
}

// RetrieveAddress fetches and caches the node's own native address; it is
// also invoked by Healthcheck, matching the original's
// `_healthcheck`→`retrieve_address` call chain.
func (m *Manager) RetrieveAddress(ctx context.Context) (address.Address, error) {
	addr, err := m.api.Address(ctx)
	if err != nil {
		m.log.WithError(err).Warn("no results while retrieving address")
		return address.Zero, err
	}
	m.mu.Lock()
	m.self = addr
	m.mu.Unlock()
	return addr, nil
}

// RetrieveBalances fetches and publishes the node's hopr/native/safe
// balances as gauges, labeled by token (§4.8 "Retrieve balances").
func (m *Manager) RetrieveBalances(ctx context.Context) (Balances, error) {
	balances, err := m.api.Balances(ctx)
	if err != nil {
		m.log.WithError(err).Warn("no results while retrieving balances")
		return Balances{}, err
	}

	addr := m.Address()
	if !addr.IsZero() {
		gaugeBalance.WithLabelValues(addr.String(), "hopr").Set(balances.Hopr.Float64())
		gaugeBalance.WithLabelValues(addr.String(), "native").Set(balances.Native.Float64())
		gaugeBalance.WithLabelValues(addr.String(), "safeHopr").Set(balances.SafeHopr.Float64())
		gaugeBalance.WithLabelValues(addr.String(), "safeNative").Set(balances.SafeNative.Float64())
	}
	return balances, nil
}

// RetrieveTicketPrice fetches and caches the configured ticket price, used
// by the economic engine to convert reward budgets to message counts
// (§4.8 "Retrieve ticket price").
func (m *Manager) RetrieveTicketPrice(ctx context.Context) error {
	price, err := m.api.TicketPrice(ctx)
	if err != nil {
		m.log.WithError(err).Warn("failed to fetch ticket price")
		return err
	}
	m.mu.Lock()
	m.ticketPrice = price
	m.mu.Unlock()
	gaugeTicketStats.WithLabelValues("price").Set(price.Float64())
	return nil
}

// Healthcheck probes the node's health endpoint and refreshes its own
// address; the node is marked connected iff the probe succeeds and an
// address was retrieved (§4.8 "Retrieve balances / ticket price /
// healthcheck").
func (m *Manager) Healthcheck(ctx context.Context) error {
	healthy := m.api.Healthyz(ctx)

	addr, err := m.RetrieveAddress(ctx)
	if err != nil {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		m.log.Warn("no address found")
		return err
	}

	m.mu.Lock()
	m.connected = healthy
	m.mu.Unlock()

	if !healthy {
		m.log.Warn("node is not reachable")
	}
	gaugeHealth.WithLabelValues(addr.String()).Set(boolToFloat(healthy))
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
