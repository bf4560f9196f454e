// Package asyncloop provides the process-wide tracked-task executor that
// every node's periodic pullers and the per-peer emission tasks register
// with. It is the Go analogue of the original system's single-threaded
// asyncio event loop: here the "single executor" becomes a context and a
// tracked task set (an errgroup), with real OS-thread parallelism but the
// same cooperative-cancellation contract — every tracked task must observe
// ctx.Done() and return promptly.
package asyncloop

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Loop owns the tracked task set and the cancellation context shared by
// every component of a running node.
type Loop struct {
	log *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	detached sync.WaitGroup
}

// New creates a Loop whose context is derived from parent. Call Stop (or
// cancel the context yourself) to unwind every tracked task.
func New(parent context.Context, log *logrus.Logger) *Loop {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &Loop{log: log, ctx: ctx, cancel: cancel, group: group}
}

// Context returns the loop's cancellation context. Tracked tasks must select
// on Done() between I/O operations.
func (l *Loop) Context() context.Context { return l.ctx }

// Spawn adds fn to the tracked task set. fn must return promptly once the
// loop's context is cancelled; its return value (nil or error) is collected
// by Gather.
func (l *Loop) Spawn(name string, fn func(ctx context.Context) error) {
	l.group.Go(func() error {
		if err := fn(l.ctx); err != nil && l.ctx.Err() == nil {
			l.log.WithField("task", name).WithError(err).Error("tracked task exited with error")
			return err
		}
		return nil
	})
}

// SpawnDetached runs fn without joining the tracked task set — equivalent to
// the original's add(callback, publish_to_task_set=False): the task is
// fire-and-forget, used for per-message send-batch writes that must not
// block graceful shutdown on their completion, but whose panics must still
// be contained.
func (l *Loop) SpawnDetached(name string, fn func(ctx context.Context) error) {
	l.detached.Add(1)
	go func() {
		defer l.detached.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.WithField("task", name).Errorf("detached task panicked: %v", r)
			}
		}()
		if err := fn(l.ctx); err != nil && l.ctx.Err() == nil {
			l.log.WithField("task", name).WithError(err).Warn("detached task failed")
		}
	}()
}

// Run installs SIGINT/SIGTERM handlers that cancel the loop, invokes start
// until it returns (normally when the context is cancelled and every
// tracked task has exited), then calls stop for teardown. It mirrors the
// original's AsyncLoop.run(process, stop_callback) contract.
func (l *Loop) Run(start func(ctx context.Context) error, stop func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			l.log.Info("received shutdown signal")
			l.cancel()
		case <-l.ctx.Done():
		}
	}()

	err := start(l.ctx)
	stop()
	l.Stop()
	return err
}

// Gather blocks until every tracked task has returned, then returns the
// first non-nil error, if any — the Go analogue of asyncio.gather over the
// task set.
func (l *Loop) Gather() error {
	return l.group.Wait()
}

// Stop cancels the loop's context, signalling every tracked and detached
// task to exit, and waits for detached tasks to finish.
func (l *Loop) Stop() {
	l.cancel()
	l.detached.Wait()
}
