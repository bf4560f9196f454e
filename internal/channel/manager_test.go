package channel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

type fakeAPI struct {
	channels   []Channel
	openCalls  []address.Address
	fundCalls  []string
	closeCalls []string
}

func (f *fakeAPI) Channels(ctx context.Context) (all, outgoing, incoming []Channel, err error) {
	return f.channels, nil, nil, nil
}
func (f *fakeAPI) OpenChannel(ctx context.Context, destination address.Address, amount balance.Balance) (string, error) {
	f.openCalls = append(f.openCalls, destination)
	return "new-id", nil
}
func (f *fakeAPI) FundChannel(ctx context.Context, channelID string, amount balance.Balance) error {
	f.fundCalls = append(f.fundCalls, channelID)
	return nil
}
func (f *fakeAPI) CloseChannel(ctx context.Context, channelID string) error {
	f.closeCalls = append(f.closeCalls, channelID)
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func syncSpawn(name string, fn func(context.Context) error) {
	_ = fn(context.Background())
}

func TestRetrieveChannelsSplitsByDirection(t *testing.T) {
	self := address.MustNew("0xself")
	peerA := address.MustNew("0xaaa")
	peerB := address.MustNew("0xbbb")
	fa := &fakeAPI{channels: []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open, Balance: balance.Zero("wxHOPR")},
		{ID: "2", Source: peerB, Destination: self, Status: Open, Balance: balance.Zero("wxHOPR")},
		{ID: "3", Source: peerA, Destination: peerB, Status: Open, Balance: balance.Zero("wxHOPR")},
	}}
	m := New(fa, self, Params{MinBalance: balance.Zero("wxHOPR"), FundingAmount: balance.Zero("wxHOPR"), MaxAge: time.Hour}, testLogger())
	if err := m.RetrieveChannels(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Cache().Outgoing()) != 1 {
		t.Fatalf("expected 1 outgoing channel, got %d", len(m.Cache().Outgoing()))
	}
	if len(m.Cache().Incoming()) != 1 {
		t.Fatalf("expected 1 incoming channel, got %d", len(m.Cache().Incoming()))
	}
}

func TestOpenChannelsSkipsExisting(t *testing.T) {
	self := address.MustNew("0xself")
	peerA := address.MustNew("0xaaa")
	peerB := address.MustNew("0xbbb")
	fa := &fakeAPI{channels: []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open, Balance: balance.Zero("wxHOPR")},
	}}
	m := New(fa, self, Params{MinBalance: balance.Zero("wxHOPR"), FundingAmount: balance.Zero("wxHOPR"), MaxAge: time.Hour}, testLogger())
	m.RetrieveChannels(context.Background())

	m.OpenChannels(context.Background(), address.NewSet(peerA, peerB), syncSpawn)
	if len(fa.openCalls) != 1 || !fa.openCalls[0].Equal(peerB) {
		t.Fatalf("expected open attempted only for peerB, got %+v", fa.openCalls)
	}
}

func TestFundChannelsBelowThreshold(t *testing.T) {
	self := address.MustNew("0xself")
	peerA := address.MustNew("0xaaa")
	low, _ := balance.Parse("1 wxHOPR")
	min, _ := balance.Parse("5 wxHOPR")
	fa := &fakeAPI{channels: []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open, Balance: low},
	}}
	m := New(fa, self, Params{MinBalance: min, FundingAmount: min, MaxAge: time.Hour}, testLogger())
	m.RetrieveChannels(context.Background())
	m.FundChannels(context.Background(), address.NewSet(peerA), syncSpawn)
	if len(fa.fundCalls) != 1 || fa.fundCalls[0] != "1" {
		t.Fatalf("expected channel 1 funded, got %+v", fa.fundCalls)
	}
}

func TestClosePendingAndIncoming(t *testing.T) {
	self := address.MustNew("0xself")
	peerA := address.MustNew("0xaaa")
	fa := &fakeAPI{channels: []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: PendingToClose, Balance: balance.Zero("wxHOPR")},
		{ID: "2", Source: peerA, Destination: self, Status: Open, Balance: balance.Zero("wxHOPR")},
	}}
	m := New(fa, self, Params{MinBalance: balance.Zero("wxHOPR"), FundingAmount: balance.Zero("wxHOPR"), MaxAge: time.Hour}, testLogger())
	m.RetrieveChannels(context.Background())
	m.ClosePending(context.Background(), syncSpawn)
	m.CloseIncoming(context.Background(), syncSpawn)
	if len(fa.closeCalls) != 2 {
		t.Fatalf("expected 2 close calls, got %+v", fa.closeCalls)
	}
}

func TestCloseOldUsesPeerHistoryAge(t *testing.T) {
	self := address.MustNew("0xself")
	peerA := address.MustNew("0xaaa")
	fa := &fakeAPI{channels: []Channel{
		{ID: "1", Source: self, Destination: peerA, Status: Open, Balance: balance.Zero("wxHOPR")},
	}}
	m := New(fa, self, Params{MinBalance: balance.Zero("wxHOPR"), FundingAmount: balance.Zero("wxHOPR"), MaxAge: time.Minute}, testLogger())
	m.RetrieveChannels(context.Background())

	now := time.Now()

	// Destination not in the peer-history yet: left alone.
	m.CloseOld(context.Background(), nil, now, syncSpawn)
	if len(fa.closeCalls) != 0 {
		t.Fatalf("expected no close without history, got %+v", fa.closeCalls)
	}

	// First seen recently: still within max age.
	history := map[address.Address]time.Time{peerA: now}
	m.CloseOld(context.Background(), history, now.Add(30*time.Second), syncSpawn)
	if len(fa.closeCalls) != 0 {
		t.Fatalf("expected no close within max age, got %+v", fa.closeCalls)
	}

	m.CloseOld(context.Background(), history, now.Add(2*time.Minute), syncSpawn)
	if len(fa.closeCalls) != 1 {
		t.Fatalf("expected close after max age elapsed, got %+v", fa.closeCalls)
	}
}
