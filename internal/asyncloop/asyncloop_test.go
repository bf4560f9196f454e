package asyncloop

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLoop() *Loop {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(context.Background(), log)
}

func TestSpawnGatherSuccess(t *testing.T) {
	l := newTestLoop()
	ran := make(chan struct{})
	l.Spawn("ok", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	l.cancel()
	if err := l.Gather(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSpawnGatherError(t *testing.T) {
	l := newTestLoop()
	wantErr := errors.New("boom")
	l.Spawn("fails", func(ctx context.Context) error {
		return wantErr
	})
	l.cancel()
	if err := l.Gather(); err == nil {
		t.Fatal("expected an error from Gather")
	}
}

func TestStopCancelsContext(t *testing.T) {
	l := newTestLoop()
	done := make(chan struct{})
	l.Spawn("waits", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return nil
	})
	l.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestSpawnDetachedRunsIndependently(t *testing.T) {
	l := newTestLoop()
	ran := make(chan struct{})
	l.SpawnDetached("batch", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("detached task did not run")
	}
	l.Stop()
}
