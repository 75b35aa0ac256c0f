package opcua

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/queue"
)

func blockingFactory() TransportFactory {
	return func(cfg config.ServerConfig) Transport {
		return &fakeTransport{runFn: blockUntilCancelled(nil)}
	}
}

func TestManagerAddServerIsIdempotentWhileConnected(t *testing.T) {
	m := NewManager(queue.New(10), blockingFactory())
	cfg := config.ServerConfig{ID: "srv-1", Enabled: true}

	require.NoError(t, m.AddServer(context.Background(), cfg))
	sess, ok := m.Session("srv-1")
	require.True(t, ok)
	waitForState(t, sess, StateConnected, time.Second)

	require.NoError(t, m.AddServer(context.Background(), cfg))
	again, ok := m.Session("srv-1")
	require.True(t, ok)
	assert.Same(t, sess, again)

	m.DisconnectAll()
}

func TestManagerConnectAllToleratesPartialFailure(t *testing.T) {
	factory := func(cfg config.ServerConfig) Transport {
		if cfg.ID == "bad" {
			return &fakeTransport{runFn: func(ctx context.Context, _ []config.SubscriptionDef, _ func(), _ func(Notification)) error {
				<-ctx.Done()
				return errors.New("unreachable")
			}}
		}
		return &fakeTransport{runFn: blockUntilCancelled(nil)}
	}

	m := NewManager(queue.New(10), factory)
	configs := []config.ServerConfig{
		{ID: "good", Enabled: true},
		{ID: "bad", Enabled: true},
		{ID: "disabled", Enabled: false},
	}

	require.NoError(t, m.ConnectAll(context.Background(), configs))

	_, ok := m.Session("good")
	assert.True(t, ok)
	_, ok = m.Session("bad")
	assert.True(t, ok)
	_, ok = m.Session("disabled")
	assert.False(t, ok)

	m.DisconnectAll()
}

func TestManagerRemoveServerUnknownID(t *testing.T) {
	m := NewManager(queue.New(10), blockingFactory())
	assert.ErrorIs(t, m.RemoveServer("nope"), ErrServerNotManaged)
}

func TestManagerRemoveServerStopsSession(t *testing.T) {
	m := NewManager(queue.New(10), blockingFactory())
	cfg := config.ServerConfig{ID: "srv-1", Enabled: true}
	require.NoError(t, m.AddServer(context.Background(), cfg))

	sess, ok := m.Session("srv-1")
	require.True(t, ok)
	waitForState(t, sess, StateConnected, time.Second)

	require.NoError(t, m.RemoveServer("srv-1"))
	_, ok = m.Session("srv-1")
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, sess.State())
}

func TestManagerAggregateStateWorstWins(t *testing.T) {
	failingFactory := func(cfg config.ServerConfig) Transport {
		return &fakeTransport{runFn: func(ctx context.Context, _ []config.SubscriptionDef, _ func(), _ func(Notification)) error {
			return errors.New("boom")
		}}
	}

	m := NewManager(queue.New(10), failingFactory)
	require.NoError(t, m.AddServer(context.Background(), config.ServerConfig{ID: "flaky", Enabled: true}))

	sess, ok := m.Session("flaky")
	require.True(t, ok)
	waitForState(t, sess, StateReconnecting, time.Second)

	assert.Equal(t, StateReconnecting, m.AggregateState())

	m.DisconnectAll()
}

func TestManagerAggregateStateEmptyIsDisconnected(t *testing.T) {
	m := NewManager(queue.New(10), blockingFactory())
	assert.Equal(t, StateDisconnected, m.AggregateState())
}
