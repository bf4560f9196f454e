package peer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/msgqueue"
)

func mustBalance(t *testing.T, s string) balance.Balance {
	t.Helper()
	b, err := balance.Parse(s)
	if err != nil {
		t.Fatalf("parse balance %q: %v", s, err)
	}
	return b
}

func TestSplitStakeWithoutSafe(t *testing.T) {
	p := New(address.MustNew("0xabc"))
	if _, err := p.SplitStake(); err == nil {
		t.Fatal("expected error when no safe is linked")
	}
}

func TestSplitStake(t *testing.T) {
	p := New(address.MustNew("0xabc"))
	p.SetSafe(&Safe{
		Address:           address.MustNew("0xsafe"),
		Balance:           mustBalance(t, "10 wxHOPR"),
		AdditionalBalance: mustBalance(t, "0 wxHOPR"),
	})
	p.SetSafeAddressCount(2)
	p.SetChannelBalance(mustBalance(t, "1 wxHOPR"))

	got, err := p.SplitStake()
	if err != nil {
		t.Fatalf("SplitStake: %v", err)
	}
	if want := 10.0/2 + 1.0; got != want {
		t.Fatalf("SplitStake = %v, want %v", got, want)
	}
}

func TestMessageDelayNilWhenIneligible(t *testing.T) {
	p := New(address.MustNew("0xabc"))
	p.SetYearlyMessageCount(nil)
	if d := p.MessageDelay(); d != nil {
		t.Fatalf("expected nil delay for ineligible peer, got %v", *d)
	}
}

func TestMessageDelayPositive(t *testing.T) {
	p := New(address.MustNew("0xabc"))
	count := 3000.0
	p.SetYearlyMessageCount(&count)
	d := p.MessageDelay()
	if d == nil {
		t.Fatal("expected a non-nil delay")
	}
	want := float64(SecondsPerYear) / count
	if *d != want {
		t.Fatalf("delay = %v, want %v", *d, want)
	}
}

func TestStartStopIsIdempotentAndEnqueues(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	loop := asyncloop.New(context.Background(), log)
	q := msgqueue.New(1, 4)

	p := New(address.MustNew("0xabc"))
	count := float64(SecondsPerYear) / 0.01 // tiny delay so it fires almost immediately
	p.SetYearlyMessageCount(&count)

	p.Start(loop, q, EmissionParams{SleepMeanSeconds: 1, SleepStdSeconds: 0.1})
	p.Start(loop, q, EmissionParams{SleepMeanSeconds: 1, SleepStdSeconds: 0.1}) // idempotent

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := q.Get(ctx, 0); err != nil {
		t.Fatalf("expected a message to be enqueued: %v", err)
	}

	p.Stop()
	loop.Stop()
}
