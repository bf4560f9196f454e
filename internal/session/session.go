// Package session implements the UDP session lifecycle (C7): binding
// messages to sessions, rate-limited opening, and the maintenance sweep
// that enforces the grace-period-based closure contract of §4.7.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/asyncloop"
	"ctorchestrator/internal/msgqueue"
	"ctorchestrator/internal/ratelimit"
)

// GracePeriod is the window a session is retained after its relayer becomes
// unreachable (§4.7, §5).
const GracePeriod = 60 * time.Second

// Descriptor identifies one active UDP session.
type Descriptor struct {
	IP       string
	Port     int
	Protocol string
	Target   string
	MTU      int
	SurbSize int
	conn     net.Conn
}

// Payload returns the usable bytes per datagram.
func (s *Descriptor) Payload() int { return s.MTU - s.SurbSize }

// NewDescriptor builds a live Descriptor bound to a datagram socket dialed
// at ip:port. The §6.1 REST client lives outside this package, so it
// cannot construct a Descriptor directly (conn is package-private); this
// constructor is the adapter boundary.
func NewDescriptor(ip string, port int, protocol, target string, mtu, surbSize int) (*Descriptor, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("session: dial %s:%d: %w", ip, port, err)
	}
	return &Descriptor{
		IP:       ip,
		Port:     port,
		Protocol: protocol,
		Target:   target,
		MTU:      mtu,
		SurbSize: surbSize,
		conn:     conn,
	}, nil
}

// CloseSocket closes the owned datagram socket, if any.
func (s *Descriptor) CloseSocket() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// API is the subset of the node REST client the session manager needs.
type API interface {
	OpenUDPSession(ctx context.Context, destination, relayer, listenHost string) (*Descriptor, error)
	CloseSession(ctx context.Context, s *Descriptor) error
	ListActiveUDPPorts(ctx context.Context) ([]int, error)
}

// Manager binds cover-traffic messages to UDP sessions and runs the
// maintenance sweep. Exactly one Manager exists per Node; the session map
// and grace-period map are touched only here (§5).
type Manager struct {
	api     API
	limiter *ratelimit.Limiter
	loop    *asyncloop.Loop
	queue   *msgqueue.Queue
	self    address.Address
	log     *logrus.Entry

	mu    sync.Mutex
	live  map[string]*Descriptor // relayer -> session
	grace map[string]time.Time   // relayer -> first-unreachable monotonic-ish time
}

// New creates a session Manager.
func New(api API, limiter *ratelimit.Limiter, loop *asyncloop.Loop, queue *msgqueue.Queue, self address.Address, log *logrus.Logger) *Manager {
	return &Manager{
		api:     api,
		limiter: limiter,
		loop:    loop,
		queue:   queue,
		self:    self,
		log:     log.WithField("component", "session"),
		live:    make(map[string]*Descriptor),
		grace:   make(map[string]time.Time),
	}
}

// Destinations returns the set of relayers with a currently live session.
func (m *Manager) Destinations() address.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := address.NewSet()
	for relayer := range m.live {
		if a, err := address.New(relayer); err == nil {
			out.Add(a)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// ObserveMessageQueueOnce pops one message from partition and, if it binds
// to a known outgoing-channel relayer and a reachable destination exists,
// opens or reuses the relayer's session and spawns an untracked send-batch
// task (§4.7 "Observe-message-queue loop").
func (m *Manager) ObserveMessageQueueOnce(ctx context.Context, partition int, outgoingChannelDestinations address.Set, reachable address.Set) error {
	msg, err := m.queue.Get(ctx, partition)
	if err != nil {
		return err
	}

	relayerAddr, err := address.New(msg.Relayer)
	if err != nil {
		return nil
	}
	if !outgoingChannelDestinations.Contains(relayerAddr) {
		return nil
	}

	candidates := reachable.Slice()
	filtered := candidates[:0:0]
	for _, d := range candidates {
		if !d.Equal(relayerAddr) {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		m.log.Debug("no valid session destination found")
		return nil
	}
	destination := filtered[rand.Intn(len(filtered))]

	sess, err := m.getOrOpenSession(ctx, msg.Relayer, destination.String())
	if err != nil || sess == nil {
		return nil
	}

	msg.Sender = m.self.String()
	msg.PacketSize = sess.Payload()

	m.loop.SpawnDetached("send_batch_messages", func(ctx context.Context) error {
		return sendBatch(sess, msg)
	})
	return nil
}

// getOrOpenSession implements the "double-check after await" pattern of
// §4.7/§9: the rate limiter gates the attempt, the I/O happens outside any
// lock, and the map is re-checked atomically after the await completes.
func (m *Manager) getOrOpenSession(ctx context.Context, relayer, destination string) (*Descriptor, error) {
	m.mu.Lock()
	if existing, ok := m.live[relayer]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	allowed, _ := m.limiter.CanAttempt(relayer)
	if !allowed {
		return nil, nil
	}

	m.limiter.RecordAttempt(relayer)
	sess, err := m.api.OpenUDPSession(ctx, destination, relayer, "127.0.0.1")
	if err != nil || sess == nil {
		m.limiter.RecordFailure(relayer)
		return nil, err
	}
	m.limiter.RecordSuccess(relayer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.live[relayer]; ok {
		// Lost the race: another goroutine inserted a session while we
		// were awaiting the open call. Close ours, keep theirs.
		sess.CloseSocket()
		return current, nil
	}
	m.live[relayer] = sess
	return sess, nil
}

func sendBatch(sess *Descriptor, msg *msgqueue.Descriptor) error {
	for i := 0; i < msg.BatchSize; i++ {
		b, err := msg.Bytes()
		if err != nil {
			return err
		}
		if sess.conn != nil {
			if _, err := sess.conn.Write(b); err != nil {
				return err
			}
		}
		msg.IncreaseInnerIndex()
	}
	return nil
}

// Maintain runs one pass of the session-maintenance sweep (§4.7
// "Session-maintenance loop"): snapshot, I/O, then a single non-suspending
// critical region that mutates the session and grace-period maps.
func (m *Manager) Maintain(ctx context.Context, reachable address.Set, now time.Time) error {
	activePorts, err := m.api.ListActiveUDPPorts(ctx)
	if err != nil {
		return err
	}
	activeSet := make(map[int]struct{}, len(activePorts))
	for _, p := range activePorts {
		activeSet[p] = struct{}{}
	}

	m.mu.Lock()
	sessionsSnapshot := make(map[string]*Descriptor, len(m.live))
	for k, v := range m.live {
		sessionsSnapshot[k] = v
	}
	graceSnapshot := make(map[string]time.Time, len(m.grace))
	for k, v := range m.grace {
		graceSnapshot[k] = v
	}
	m.mu.Unlock()

	type closeJob struct {
		relayer string
		sess    *Descriptor
	}
	var toClose []closeJob

	for relayer, sess := range sessionsSnapshot {
		relayerAddr, addrErr := address.New(relayer)
		markRemove := false

		if addrErr != nil || !reachable.Contains(relayerAddr) {
			if ts, started := graceSnapshot[relayer]; started {
				if now.Sub(ts) > GracePeriod {
					markRemove = true
				}
			}
		}
		if _, ok := activeSet[sess.Port]; !ok {
			markRemove = true
		}
		if markRemove {
			toClose = append(toClose, closeJob{relayer, sess})
		}
	}

	for _, job := range toClose {
		if err := m.api.CloseSession(ctx, job.sess); err != nil {
			m.log.WithFields(logrus.Fields{"relayer": job.relayer, "port": job.sess.Port}).
				WithError(err).Warn("failed to close session at API level, session may be orphaned")
		}
	}

	// Single non-suspending critical region: update grace periods and
	// remove only sessions whose current entry still matches the
	// inspected one by port (identity check against replacement races).
	m.mu.Lock()
	defer m.mu.Unlock()

	for relayer := range sessionsSnapshot {
		relayerAddr, addrErr := address.New(relayer)
		if addrErr == nil && reachable.Contains(relayerAddr) {
			delete(m.grace, relayer)
			continue
		}
		if _, started := m.grace[relayer]; !started {
			m.grace[relayer] = now
		}
	}

	for _, job := range toClose {
		delete(m.grace, job.relayer)
		current, ok := m.live[job.relayer]
		if !ok {
			continue
		}
		if current.Port == job.sess.Port {
			delete(m.live, job.relayer)
			current.CloseSocket()
		}
	}
	return nil
}

// ErrNoSession is returned when a relayer has no live session.
var ErrNoSession = fmt.Errorf("session: no live session for relayer")
