package opcua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/events"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/queue"
)

// ErrServerNotManaged is returned by RemoveServer for an unknown server id.
var ErrServerNotManaged = errors.New("opcua: server is not managed")

// TransportFactory builds the Transport a new Session should drive. The
// production default is NewGopcuaTransport; tests substitute a fake.
type TransportFactory func(cfg config.ServerConfig) Transport

// Manager owns one Session per configured OPC UA endpoint and provides
// dynamic add/remove lifecycle management, grounded on the teacher's
// managed-service-map pattern for its own per-media-server sync services.
type Manager struct {
	queue        *queue.Queue
	newTransport TransportFactory
	events       *events.Broadcaster[StateChangeEvent]

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session *Session
	sub     <-chan StateChangeEvent
	stopFwd chan struct{}
}

// NewManager constructs a Manager. newTransport defaults to
// NewGopcuaTransport when nil.
func NewManager(q *queue.Queue, newTransport TransportFactory) *Manager {
	if newTransport == nil {
		newTransport = func(cfg config.ServerConfig) Transport {
			return NewGopcuaTransport(cfg)
		}
	}
	return &Manager{
		queue:        q,
		newTransport: newTransport,
		events:       events.NewBroadcaster[StateChangeEvent](32),
		sessions:     make(map[string]*managedSession),
	}
}

// Subscribe returns a channel of state-change events forwarded from every
// managed Session.
func (m *Manager) Subscribe() <-chan StateChangeEvent {
	return m.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch <-chan StateChangeEvent) {
	m.events.Unsubscribe(ch)
}

// AddServer creates and connects a Session for cfg. It is idempotent: if a
// Session for cfg.ID already exists and is not Disconnected, AddServer is a
// no-op, per spec.md §4.9.
func (m *Manager) AddServer(ctx context.Context, cfg config.ServerConfig) error {
	m.mu.Lock()
	if existing, ok := m.sessions[cfg.ID]; ok {
		m.mu.Unlock()
		if existing.session.State() != StateDisconnected {
			return nil
		}
		return existing.session.Connect(ctx)
	}

	sess := New(cfg, m.newTransport(cfg), m.queue)
	sub := sess.SubscribeEvents()
	stopFwd := make(chan struct{})
	m.sessions[cfg.ID] = &managedSession{session: sess, sub: sub, stopFwd: stopFwd}
	m.mu.Unlock()

	go m.forward(sub, stopFwd)

	if cfg.Enabled {
		sess.Subscribe(cfg.Subscriptions)
	}
	return sess.Connect(ctx)
}

func (m *Manager) forward(sub <-chan StateChangeEvent, stop chan struct{}) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			m.events.Publish(ev)
		case <-stop:
			return
		}
	}
}

// RemoveServer disconnects and forgets the Session for serverID. Returns
// ErrServerNotManaged if no such Session exists.
func (m *Manager) RemoveServer(serverID string) error {
	m.mu.Lock()
	managed, ok := m.sessions[serverID]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotManaged
	}
	delete(m.sessions, serverID)
	m.mu.Unlock()

	managed.session.Disconnect()
	close(managed.stopFwd)
	managed.session.Unsubscribe(managed.sub)
	return nil
}

// ConnectAll ensures a Session exists and is connecting for every enabled
// config, launching the connects concurrently. An individual failure is
// logged but does not prevent the others from starting, per spec.md §4.9.
func (m *Manager) ConnectAll(ctx context.Context, configs []config.ServerConfig) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []error

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		wg.Add(1)
		go func(cfg config.ServerConfig) {
			defer wg.Done()
			if err := m.AddServer(ctx, cfg); err != nil {
				logging.Warn().Str("server_id", cfg.ID).Err(err).Msg("opcua: failed to start server session")
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", cfg.ID, err))
				mu.Unlock()
			}
		}(cfg)
	}
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("opcua: %d of %d servers failed to start", len(failed), len(configs))
	}
	return nil
}

// DisconnectAll disconnects every managed Session concurrently and waits
// for all of them to settle.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	sessions := make([]*managedSession, 0, len(m.sessions))
	for _, managed := range m.sessions {
		sessions = append(sessions, managed)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, managed := range sessions {
		wg.Add(1)
		go func(managed *managedSession) {
			defer wg.Done()
			managed.session.Disconnect()
		}(managed)
	}
	wg.Wait()
}

// Session returns the managed Session for serverID, if any.
func (m *Manager) Session(serverID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.sessions[serverID]
	if !ok {
		return nil, false
	}
	return managed.session, true
}

// stateRank orders States by severity so AggregateState can pick the worst.
// Error > Reconnecting > Connecting > Disconnected > Connected, per
// spec.md §4.9.
var stateRank = map[State]int{
	StateError:        4,
	StateReconnecting: 3,
	StateConnecting:   2,
	StateDisconnected: 1,
	StateConnected:    0,
}

// AggregateState returns the worst state across every managed Session, or
// StateDisconnected if none are managed.
func (m *Manager) AggregateState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := StateDisconnected
	worstRank := -1
	for _, managed := range m.sessions {
		st := managed.session.State()
		if rank := stateRank[st]; rank > worstRank {
			worstRank = rank
			worst = st
		}
	}
	return worst
}

// States returns a snapshot of every managed Session's current state, keyed
// by server id.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.sessions))
	for id, managed := range m.sessions {
		out[id] = managed.session.State()
	}
	return out
}
