package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/ratelimit"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeAPI struct {
	mu     sync.Mutex
	opens  int
	closed []int
	ports  []int

	// onOpen runs inside OpenUDPSession, before it returns — the hook used
	// to interleave a concurrent insertion during the open await. onClose
	// does the same for CloseSession.
	onOpen  func()
	onClose func()
}

func (f *fakeAPI) OpenUDPSession(_ context.Context, _, relayer, _ string) (*Descriptor, error) {
	if f.onOpen != nil {
		f.onOpen()
	}
	f.mu.Lock()
	f.opens++
	port := 9000 + f.opens
	f.mu.Unlock()
	return NewDescriptor("127.0.0.1", port, "udp", relayer, 462, 62)
}

func (f *fakeAPI) CloseSession(_ context.Context, s *Descriptor) error {
	if f.onClose != nil {
		f.onClose()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, s.Port)
	return nil
}

func (f *fakeAPI) ListActiveUDPPorts(_ context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ports...), nil
}

func newManager(t *testing.T, api *fakeAPI) *Manager {
	t.Helper()
	log := newLogger()
	loop := asyncloop.New(context.Background(), log)
	queue := msgqueue.New(1, 8)
	limiter := ratelimit.New(time.Millisecond, time.Second)
	return New(api, limiter, loop, queue, address.MustNew("0xself"), log)
}

func TestOpenSessionCoalescesConcurrentWinner(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	winner, err := NewDescriptor("127.0.0.1", 7777, "udp", "0xrelayer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}

	// While the loser is awaiting its open call, the winner's session
	// appears in the map — the window §4.7's double-check closes.
	api.onOpen = func() {
		m.mu.Lock()
		m.live["0xrelayer"] = winner
		m.mu.Unlock()
	}

	got, err := m.getOrOpenSession(context.Background(), "0xrelayer", "0xdest")
	if err != nil {
		t.Fatalf("getOrOpenSession: %v", err)
	}
	if got != winner {
		t.Fatalf("expected the winning session to be reused, got port %d", got.Port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.live) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(m.live))
	}
	if m.live["0xrelayer"] != winner {
		t.Fatal("map entry was replaced by the losing session")
	}
}

func TestOpenSessionInsertsWhenUncontended(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	got, err := m.getOrOpenSession(context.Background(), "0xrelayer", "0xdest")
	if err != nil {
		t.Fatalf("getOrOpenSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session")
	}

	again, err := m.getOrOpenSession(context.Background(), "0xrelayer", "0xdest")
	if err != nil {
		t.Fatalf("second getOrOpenSession: %v", err)
	}
	if again != got {
		t.Fatal("expected the existing session to be reused")
	}
	if api.opens != 1 {
		t.Fatalf("expected 1 open call, got %d", api.opens)
	}
}

func TestMaintainGracePeriod(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	sess, err := NewDescriptor("127.0.0.1", 7001, "udp", "0xpeer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	m.live["0xpeer"] = sess
	api.ports = []int{7001}

	t0 := time.Now()
	unreachable := address.NewSet()

	// Vanishes at t=0: grace timer starts, session persists.
	if err := m.Maintain(context.Background(), unreachable, t0); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if m.Count() != 1 {
		t.Fatal("session removed before the grace period elapsed")
	}
	if _, ok := m.grace["0xpeer"]; !ok {
		t.Fatal("grace timer not started")
	}

	// t=59: still inside the grace period.
	if err := m.Maintain(context.Background(), unreachable, t0.Add(59*time.Second)); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if m.Count() != 1 {
		t.Fatal("session removed at t=59")
	}

	// t=61: closed and removed.
	if err := m.Maintain(context.Background(), unreachable, t0.Add(61*time.Second)); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("session not removed after the grace period")
	}
	if len(api.closed) != 1 || api.closed[0] != 7001 {
		t.Fatalf("expected API close for port 7001, got %v", api.closed)
	}
	if _, ok := m.grace["0xpeer"]; ok {
		t.Fatal("grace entry not dropped with the session")
	}
}

func TestMaintainClearsGraceOnReappearance(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	sess, err := NewDescriptor("127.0.0.1", 7002, "udp", "0xpeer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	m.live["0xpeer"] = sess
	api.ports = []int{7002}

	t0 := time.Now()
	if err := m.Maintain(context.Background(), address.NewSet(), t0); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if _, ok := m.grace["0xpeer"]; !ok {
		t.Fatal("grace timer not started")
	}

	// Reappears at t=30: the timer is cleared, the session persists.
	reachable := address.NewSet(address.MustNew("0xpeer"))
	if err := m.Maintain(context.Background(), reachable, t0.Add(30*time.Second)); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if _, ok := m.grace["0xpeer"]; ok {
		t.Fatal("grace timer not cleared on reappearance")
	}
	if m.Count() != 1 {
		t.Fatal("session removed despite reappearance")
	}

	// Much later, still reachable: nothing to remove.
	if err := m.Maintain(context.Background(), reachable, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if m.Count() != 1 {
		t.Fatal("session of a reachable peer removed")
	}
}

func TestMaintainRemovesOrphanedPorts(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	sess, err := NewDescriptor("127.0.0.1", 7003, "udp", "0xpeer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	m.live["0xpeer"] = sess
	api.ports = nil // the node no longer lists this port

	reachable := address.NewSet(address.MustNew("0xpeer"))
	if err := m.Maintain(context.Background(), reachable, time.Now()); err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("orphaned session not removed immediately")
	}
}

func TestMaintainKeepsSessionReplacedDuringCloseIO(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(t, api)

	old, err := NewDescriptor("127.0.0.1", 7004, "udp", "0xpeer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	m.live["0xpeer"] = old
	api.ports = nil // old is orphaned, so Maintain marks it for removal

	replacement, err := NewDescriptor("127.0.0.1", 7005, "udp", "0xpeer", 462, 62)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}

	// During the close I/O another task replaces the session; the final
	// identity check (current port == inspected port) must leave the
	// replacement in the map.
	api.onClose = func() {
		m.mu.Lock()
		m.live["0xpeer"] = replacement
		m.mu.Unlock()
	}

	reachable := address.NewSet(address.MustNew("0xpeer"))
	if err := m.Maintain(context.Background(), reachable, time.Now()); err != nil {
		t.Fatalf("Maintain: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live["0xpeer"] != replacement {
		t.Fatal("replacement session was removed by the stale close")
	}
}
