// Package opcua implements the per-server OPC UA session (C8) and the
// manager that owns one session per configured endpoint (C9).
package opcua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/events"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/metrics"
	"github.com/fieldpulse/daqagent/internal/queue"
	"github.com/fieldpulse/daqagent/internal/sample"
)

// State is one of the five session lifecycle states from spec.md §4.8.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 60 * time.Second
)

// Notification is the raw, wire-level shape a Transport hands the Session
// for each monitored item change. Translating it into a sample.Sample
// (identity stamping, browse-path lookup) is the Session's job, not the
// Transport's.
type Notification struct {
	NodeID      string
	Value       sample.Value
	SourceTime  *time.Time
	ServerTime  *time.Time
	StatusCode  uint32
	DisplayName string // server-reported display name, used on a lookup miss
}

// Transport is the narrow interface a Session drives. Run dials the
// endpoint, builds the monitored items for defs, and pumps notifications
// into onNotification until ctx is cancelled (clean shutdown, Run returns
// nil) or the connection drops (Run returns a non-nil error so the Session
// retries with backoff). onConnected is invoked exactly once per Run call,
// as soon as the subscription is live.
//
// The concrete implementation wraps github.com/gopcua/opcua; tests drive
// Session against a fake.
type Transport interface {
	Run(ctx context.Context, defs []config.SubscriptionDef, onConnected func(), onNotification func(Notification)) error
}

// StateChangeEvent is published whenever a Session's state transitions.
type StateChangeEvent struct {
	ServerID   string
	ServerName string
	From       State
	To         State
	At         time.Time
}

// Session manages one OPC UA endpoint's connection lifecycle, subscription
// set, and reconnection policy.
type Session struct {
	cfg       config.ServerConfig
	transport Transport
	queue     *queue.Queue
	events    *events.Broadcaster[StateChangeEvent]

	mu           sync.RWMutex
	state        State
	subs         []config.SubscriptionDef
	subsByNodeID map[string]config.SubscriptionDef
	cancelRun    context.CancelFunc

	resubscribe chan struct{}
	stopDone    chan struct{}
	cancel      context.CancelFunc

	notifications atomic.Int64
	reconnects    atomic.Int64
}

// New constructs a Session for cfg. It does not connect; call Connect.
func New(cfg config.ServerConfig, transport Transport, q *queue.Queue) *Session {
	return &Session{
		cfg:         cfg,
		transport:   transport,
		queue:       q,
		events:      events.NewBroadcaster[StateChangeEvent](8),
		state:       StateDisconnected,
		resubscribe: make(chan struct{}, 1),
	}
}

// ID returns the server identity this Session manages.
func (s *Session) ID() string { return s.cfg.ID }

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SubscribeEvents returns this.events so subscribers receive state-change
// events.
func (s *Session) SubscribeEvents() <-chan StateChangeEvent {
	return s.events.Subscribe()
}

// Unsubscribe releases a channel returned by SubscribeEvents.
func (s *Session) Unsubscribe(ch <-chan StateChangeEvent) {
	s.events.Unsubscribe(ch)
}

// Stats reports cumulative per-session counters.
type Stats struct {
	Notifications int64
	Reconnects    int64
}

// Stats returns a snapshot of this Session's cumulative counters.
func (s *Session) Stats() Stats {
	return Stats{
		Notifications: s.notifications.Load(),
		Reconnects:    s.reconnects.Load(),
	}
}

// Connect starts the session's connect/reconnect loop in the background.
// It returns once the loop goroutine has been launched, not once connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil // already running
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopDone = make(chan struct{})
	done := s.stopDone
	s.mu.Unlock()

	go s.runLoop(runCtx, done)
	return nil
}

// Disconnect stops the session's loop and waits for it to settle into
// Disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.stopDone
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SubscriptionDefs returns a snapshot of the currently applied subscription
// definitions.
func (s *Session) SubscriptionDefs() []config.SubscriptionDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.SubscriptionDef, len(s.subs))
	copy(out, s.subs)
	return out
}

// Subscribe replaces the session's monitored item set atomically, per
// spec.md §4.8, and triggers a resubscribe of the live connection if one
// is active.
func (s *Session) Subscribe(defs []config.SubscriptionDef) {
	lookup := make(map[string]config.SubscriptionDef, len(defs))
	for _, d := range defs {
		lookup[d.NodeID] = d
	}

	s.mu.Lock()
	s.subs = defs
	s.subsByNodeID = lookup
	cancelRun := s.cancelRun
	s.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
	select {
	case s.resubscribe <- struct{}{}:
	default:
	}
}

func (s *Session) currentDefs() []config.SubscriptionDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]config.SubscriptionDef, len(s.subs))
	copy(out, s.subs)
	return out
}

func (s *Session) runLoop(parentCtx context.Context, done chan struct{}) {
	defer close(done)
	backoff := initialBackoff

	for {
		runCtx, cancelRun := context.WithCancel(parentCtx)
		s.mu.Lock()
		s.cancelRun = cancelRun
		s.mu.Unlock()

		s.transitionTo(StateConnecting)
		err := s.transport.Run(runCtx, s.currentDefs(), func() {
			s.transitionTo(StateConnected)
		}, s.handleNotification)
		cancelRun()

		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()

		if parentCtx.Err() != nil {
			s.transitionTo(StateDisconnected)
			return
		}

		select {
		case <-s.resubscribe:
			backoff = initialBackoff
			continue
		default:
		}

		if err == nil {
			err = errors.New("opcua: connection closed unexpectedly")
		}
		logging.Warn().Str("server_id", s.cfg.ID).Err(err).Msg("opcua: session disconnected, reconnecting")

		s.transitionTo(StateReconnecting)
		metrics.ServerReconnectsTotal.WithLabelValues(s.cfg.ID).Inc()
		s.reconnects.Add(1)

		select {
		case <-time.After(backoff):
		case <-s.resubscribe:
			backoff = initialBackoff
			continue
		case <-parentCtx.Done():
			s.transitionTo(StateDisconnected)
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Session) transitionTo(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	metrics.SetServerConnectionState(s.cfg.ID, string(next))
	s.events.Publish(StateChangeEvent{
		ServerID:   s.cfg.ID,
		ServerName: s.cfg.DisplayName,
		From:       prev,
		To:         next,
		At:         time.Now(),
	})
}

// handleNotification translates one Notification into a sample.Sample and
// publishes it to the ingress queue. It must never perform I/O beyond that
// publish, per spec.md §4.8.
func (s *Session) handleNotification(n Notification) {
	s.mu.RLock()
	def, ok := s.subsByNodeID[n.NodeID]
	s.mu.RUnlock()

	displayName := n.DisplayName
	browsePath := n.NodeID
	dataType := ""
	if ok {
		if def.DisplayName != "" {
			displayName = def.DisplayName
		}
		if def.BrowsePath != "" {
			browsePath = def.BrowsePath
		}
	}
	if displayName == "" {
		displayName = n.NodeID
	}

	smp := sample.Sample{
		ServerID:       s.cfg.ID,
		ServerName:     s.cfg.DisplayName,
		ReceiveTimeUTC: time.Now().UTC(),
		NodeID:         n.NodeID,
		DisplayName:    displayName,
		BrowsePath:     browsePath,
		DataType:       dataType,
		Value:          n.Value,
		SourceTime:     n.SourceTime,
		ServerTime:     n.ServerTime,
		StatusCode:     n.StatusCode,
		Quality:        qualityFromStatusCode(n.StatusCode),
	}

	s.queue.Publish(smp)
	metrics.ServerNotificationsTotal.WithLabelValues(s.cfg.ID).Inc()
	s.notifications.Add(1)
}

// qualityFromStatusCode collapses an OPC UA status code's top two bits
// (the severity field) into this domain's coarse Quality label.
func qualityFromStatusCode(code uint32) sample.Quality {
	switch code >> 30 {
	case 0:
		return sample.QualityGood
	case 1:
		return sample.QualityUncertain
	case 2, 3:
		return sample.QualityBad
	default:
		return sample.QualityUnspecified
	}
}
