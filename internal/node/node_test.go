package node

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/cache"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/peer"
	"ctorchestrator/internal/peers"
	"ctorchestrator/internal/rpcquery"
	"ctorchestrator/internal/subgraph"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTaskDelaysEnabled(t *testing.T) {
	delays := TaskDelays{
		"retrieve_peers": 10 * time.Second,
		"disabled":       0,
	}
	if got, ok := delays.enabled("retrieve_peers"); !ok || got != 10*time.Second {
		t.Errorf("configured delay = %v, ok=%v", got, ok)
	}
	if _, ok := delays.enabled("disabled"); ok {
		t.Error("zero delay should disable the task")
	}
	if _, ok := delays.enabled("unknown"); ok {
		t.Error("missing delay should disable the task")
	}
	var nilDelays TaskDelays
	if got, ok := nilDelays.enabled("anything"); !ok || got != defaultDelay {
		t.Errorf("nil TaskDelays should enable everything at the default cadence, got %v ok=%v", got, ok)
	}
}

type fakePeersAPI struct {
	addrs []string
}

func (f fakePeersAPI) Peers(_ context.Context, _ float64) ([]peers.ConnectedPeer, error) {
	out := make([]peers.ConnectedPeer, 0, len(f.addrs))
	for _, a := range f.addrs {
		out = append(out, peers.ConnectedPeer{Address: a})
	}
	return out, nil
}

func TestApplyRegisteredNodesLinksSafesAndCounts(t *testing.T) {
	log := newLogger()
	loop := asyncloop.New(context.Background(), log)
	defer loop.Stop()

	queue := msgqueue.New(1, 4)
	peerCache := cache.NewPeerCache()
	self := address.MustNew("0xself")
	emission := peer.EmissionParams{Enabled: true, SleepMeanSeconds: 3600, SleepStdSeconds: 0}

	mgr := peers.New(fakePeersAPI{addrs: []string{"0xa", "0xb", "0xc"}}, peerCache, loop, queue, 0.5, emission, self, log)
	if err := mgr.Retrieve(context.Background()); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	safe1 := address.MustNew("0xsafe1")
	safe2 := address.MustNew("0xsafe2")
	mkSafe := func(a address.Address) peer.Safe {
		return peer.Safe{
			Address:           a,
			Balance:           balance.Zero("wxHOPR"),
			Allowance:         balance.Zero("wxHOPR"),
			AdditionalBalance: balance.Zero("wxHOPR"),
		}
	}

	n := &Node{log: log, peersMgr: mgr}
	n.applyRegisteredNodes([]subgraph.RegisteredNode{
		{Address: address.MustNew("0xa"), Safe: mkSafe(safe1)},
		{Address: address.MustNew("0xb"), Safe: mkSafe(safe1)},
		{Address: address.MustNew("0xc"), Safe: mkSafe(safe2)},
	})

	pa, ok := mgr.Get(address.MustNew("0xa"))
	if !ok {
		t.Fatal("peer 0xa not tracked")
	}
	if pa.Safe() == nil || !pa.Safe().Address.Equal(safe1) {
		t.Fatal("peer 0xa not linked to its safe")
	}
	if got := pa.SafeAddressCount(); got != 2 {
		t.Errorf("safe_address_count for shared safe = %d, want 2", got)
	}

	pc, _ := mgr.Get(address.MustNew("0xc"))
	if got := pc.SafeAddressCount(); got != 1 {
		t.Errorf("safe_address_count for exclusive safe = %d, want 1", got)
	}
}

func TestRetrieveEOABalancesRecordsGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// 1000000000000000000 wei == 1 token, for every contract queried.
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x0de0b6b3a7640000"}`))
	}))
	defer srv.Close()

	log := newLogger()
	inv := address.MustNew("0xinvestor")
	n := &Node{
		log:        log,
		params:     Params{Investors: InvestorParams{Addresses: []address.Address{inv}}},
		gnosisRPC:  rpcquery.New(srv.URL, log),
		mainnetRPC: rpcquery.New(srv.URL, log),
	}

	if err := n.retrieveEOABalances(context.Background()); err != nil {
		t.Fatalf("retrieveEOABalances: %v", err)
	}

	for _, token := range []string{"HOPR", "xHOPR", "wxHOPR"} {
		got := promtestutil.ToFloat64(gaugeEOABalance.WithLabelValues(inv.String(), token))
		if got != 1 {
			t.Errorf("ct_eoa_balance{%s} = %v, want 1", token, got)
		}
	}
}

func TestSleepCtxReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatal("sleepCtx returned true on a cancelled context")
	}
}
