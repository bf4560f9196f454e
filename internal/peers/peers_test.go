package peers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/cache"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/peer"
)

type fakeAPI struct {
	peers []ConnectedPeer
	err   error
}

func (f *fakeAPI) Peers(ctx context.Context, quality float64) ([]ConnectedPeer, error) {
	return f.peers, f.err
}

func newTestManager(t *testing.T, api API) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	loop := asyncloop.New(context.Background(), log)
	t.Cleanup(loop.Stop)
	return New(api, cache.NewPeerCache(), loop, msgqueue.New(1, 8), 0.5,
		peer.EmissionParams{Enabled: true, SleepMeanSeconds: 1, SleepStdSeconds: 0.1}, address.MustNew("0xself"), log)
}

func TestRetrieveAddsNewPeers(t *testing.T) {
	api := &fakeAPI{peers: []ConnectedPeer{{Address: "0xAAA"}, {Address: "0xBBB"}}}
	m := newTestManager(t, api)

	if err := m.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(snap))
	}
	if !m.cache.PeerAddresses().Contains(address.MustNew("0xaaa")) {
		t.Fatal("expected peer cache to contain 0xaaa")
	}
}

func TestRetrieveMarksUnreachablePeersIneligible(t *testing.T) {
	api := &fakeAPI{peers: []ConnectedPeer{{Address: "0xAAA"}}}
	m := newTestManager(t, api)
	if err := m.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	api.peers = nil
	api.peers = []ConnectedPeer{} // peer list now empty: should be treated as "no results" per upstream guard
	// force a disappearance by simulating a non-empty but different list
	api.peers = []ConnectedPeer{{Address: "0xCCC"}}
	if err := m.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	p, ok := m.Get(address.MustNew("0xaaa"))
	if !ok {
		t.Fatal("expected stale peer to remain tracked")
	}
	if p.YearlyMessageCount() != nil {
		t.Fatal("expected unreachable peer to be marked ineligible")
	}
	if p.IsRunning() {
		t.Fatal("expected unreachable peer's emission loop to be stopped")
	}
}

func TestHistoryKeepsFirstSighting(t *testing.T) {
	api := &fakeAPI{peers: []ConnectedPeer{{Address: "0xAAA"}}}
	m := newTestManager(t, api)

	if err := m.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	first := m.History()[address.MustNew("0xaaa")]

	time.Sleep(5 * time.Millisecond)
	if err := m.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if got := m.History()[address.MustNew("0xaaa")]; !got.Equal(first) {
		t.Fatalf("first-seen timestamp moved on re-sighting: %v != %v", got, first)
	}
}
