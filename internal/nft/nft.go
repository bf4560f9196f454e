// Package nft loads the configured NFT-holder list used by the economic
// model's eligibility filter (§4.9, §6.4 "nft_holders.filepath").
package nft

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
)

var gaugeHolders = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ct_nft_holders",
	Help: "Number of nr-nft holders",
})

func init() {
	prometheus.MustRegister(gaugeHolders)
}

// Holders is the set of safe addresses known to hold the relevant NFT. It
// is read once at node startup (SPEC_FULL.md §12 "NFT holder list
// reload") — a restart is required to pick up a changed file.
type Holders struct {
	mu sync.RWMutex
	set address.Set
}

// Load reads newline-delimited holder addresses from path.
func Load(path string, log *logrus.Logger) (*Holders, error) {
	entry := log.WithField("component", "nft")

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := address.NewSet()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a, parseErr := address.New(line)
		if parseErr != nil {
			continue
		}
		set.Add(a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(set) == 0 {
		entry.Warn("no NFT holders data found")
	}
	entry.WithField("count", len(set)).Debug("fetched NFT holders")
	gaugeHolders.Set(float64(len(set)))

	return &Holders{set: set}, nil
}

// Empty returns a Holders with no entries, used when nft_holders.filepath
// is not configured.
func Empty() *Holders {
	return &Holders{set: address.NewSet()}
}

// IsHolder reports whether safeAddr is a known NFT holder.
func (h *Holders) IsHolder(safeAddr address.Address) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.set.Contains(safeAddr)
}

// Count returns the number of known holders.
func (h *Holders) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.set)
}
