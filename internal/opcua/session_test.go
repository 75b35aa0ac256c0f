package opcua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/queue"
	"github.com/fieldpulse/daqagent/internal/sample"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	runFn func(ctx context.Context, defs []config.SubscriptionDef, onConnected func(), onNotification func(Notification)) error
}

func (f *fakeTransport) Run(ctx context.Context, defs []config.SubscriptionDef, onConnected func(), onNotification func(Notification)) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.runFn(ctx, defs, onConnected, onNotification)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func blockUntilCancelled(onConnected func()) func(context.Context, []config.SubscriptionDef, func(), func(Notification)) error {
	return func(ctx context.Context, _ []config.SubscriptionDef, oc func(), _ func(Notification)) error {
		oc()
		<-ctx.Done()
		return nil
	}
}

func waitForState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, got %q", want, s.State())
}

func TestSessionConnectReachesConnected(t *testing.T) {
	transport := &fakeTransport{runFn: blockUntilCancelled(nil)}
	s := New(config.ServerConfig{ID: "srv-1"}, transport, queue.New(10))

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected, time.Second)

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionReconnectsWithBackoffOnFailure(t *testing.T) {
	attempt := 0
	transport := &fakeTransport{}
	transport.runFn = func(ctx context.Context, _ []config.SubscriptionDef, oc func(), _ func(Notification)) error {
		attempt++
		if attempt == 1 {
			return errors.New("connection reset")
		}
		oc()
		<-ctx.Done()
		return nil
	}

	s := New(config.ServerConfig{ID: "srv-1"}, transport, queue.New(10))
	require.NoError(t, s.Connect(context.Background()))

	waitForState(t, s, StateReconnecting, time.Second)
	waitForState(t, s, StateConnected, 10*time.Second)

	s.Disconnect()
	assert.GreaterOrEqual(t, transport.callCount(), 2)
}

func TestSessionSubscribeReplacesDefsAndResubscribes(t *testing.T) {
	var seen [][]config.SubscriptionDef
	var mu sync.Mutex
	ready := make(chan struct{}, 4)

	transport := &fakeTransport{}
	transport.runFn = func(ctx context.Context, defs []config.SubscriptionDef, oc func(), _ func(Notification)) error {
		mu.Lock()
		seen = append(seen, defs)
		mu.Unlock()
		oc()
		ready <- struct{}{}
		<-ctx.Done()
		return nil
	}

	s := New(config.ServerConfig{ID: "srv-1"}, transport, queue.New(10))
	require.NoError(t, s.Connect(context.Background()))
	<-ready

	s.Subscribe([]config.SubscriptionDef{{NodeID: "n1"}})
	<-ready

	s.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Empty(t, seen[0])
	assert.Len(t, seen[1], 1)
}

func TestSessionHandleNotificationUsesDefLookup(t *testing.T) {
	q := queue.New(10)
	s := New(config.ServerConfig{ID: "srv-1", DisplayName: "Line 3"}, &fakeTransport{}, q)
	s.Subscribe([]config.SubscriptionDef{
		{NodeID: "ns=2;s=Temp", DisplayName: "Temperature", BrowsePath: "/Line3/Temp"},
	})

	s.handleNotification(Notification{
		NodeID:     "ns=2;s=Temp",
		Value:      sample.NewFloat64(72.5),
		StatusCode: 0,
	})

	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, "Temperature", got.DisplayName)
	assert.Equal(t, "/Line3/Temp", got.BrowsePath)
	assert.Equal(t, sample.QualityGood, got.Quality)
}

func TestSessionHandleNotificationFallsBackOnLookupMiss(t *testing.T) {
	q := queue.New(10)
	s := New(config.ServerConfig{ID: "srv-1"}, &fakeTransport{}, q)

	s.handleNotification(Notification{
		NodeID:      "ns=2;s=Unknown",
		DisplayName: "server-reported-name",
		Value:       sample.NewInt64(1),
	})

	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "server-reported-name", got.DisplayName)
	assert.Equal(t, "ns=2;s=Unknown", got.BrowsePath)
}

func TestQualityFromStatusCodeSeverityBits(t *testing.T) {
	assert.Equal(t, sample.QualityGood, qualityFromStatusCode(0x00000000))
	assert.Equal(t, sample.QualityUncertain, qualityFromStatusCode(0x40000000))
	assert.Equal(t, sample.QualityBad, qualityFromStatusCode(0x80000000))
}
