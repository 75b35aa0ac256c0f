package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProber struct {
	mu     sync.Mutex
	steps  []func() (time.Duration, error)
	cursor int
}

func (p *scriptedProber) Probe(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor >= len(p.steps) {
		return 0, nil
	}
	step := p.steps[p.cursor]
	p.cursor++
	return step()
}

func ok(d time.Duration) func() (time.Duration, error) {
	return func() (time.Duration, error) { return d, nil }
}

func fail() func() (time.Duration, error) {
	return func() (time.Duration, error) { return 0, errors.New("unreachable") }
}

func TestClassifyHealthyUnderLatencyThreshold(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){ok(10 * time.Millisecond)}}
	m := New(p, Config{LatencyDegradedThreshold: 500 * time.Millisecond, FailureThreshold: 3}, nil)
	m.probeOnce(context.Background())
	assert.Equal(t, StatusHealthy, m.Status())
}

func TestClassifyDegradedAboveLatencyThreshold(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){ok(900 * time.Millisecond)}}
	m := New(p, Config{LatencyDegradedThreshold: 500 * time.Millisecond, FailureThreshold: 3}, nil)
	m.probeOnce(context.Background())
	assert.Equal(t, StatusDegraded, m.Status())
}

func TestClassifyUnhealthyAtFailureThreshold(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){fail(), fail(), fail()}}
	m := New(p, Config{FailureThreshold: 3}, nil)
	m.probeOnce(context.Background())
	assert.Equal(t, StatusDegraded, m.Status())
	m.probeOnce(context.Background())
	assert.Equal(t, StatusDegraded, m.Status())
	m.probeOnce(context.Background())
	assert.Equal(t, StatusUnhealthy, m.Status())
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){fail(), fail(), ok(1 * time.Millisecond), fail()}}
	m := New(p, Config{FailureThreshold: 3}, nil)
	m.probeOnce(context.Background())
	m.probeOnce(context.Background())
	m.probeOnce(context.Background())
	assert.Equal(t, StatusHealthy, m.Status())
	m.probeOnce(context.Background())
	assert.Equal(t, StatusDegraded, m.Status())
}

func TestOnChangeFiresOnlyOnClassificationChange(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){
		ok(1 * time.Millisecond), ok(1 * time.Millisecond), fail(), fail(), fail(),
	}}
	var events []Status
	m := New(p, Config{FailureThreshold: 3}, func(e Event) { events = append(events, e.Status) })
	for i := 0; i < 5; i++ {
		m.probeOnce(context.Background())
	}
	require.Equal(t, []Status{StatusHealthy, StatusDegraded, StatusUnhealthy}, events)
}

func TestCheckNowForcesImmediateProbe(t *testing.T) {
	p := &scriptedProber{steps: []func() (time.Duration, error){ok(1 * time.Millisecond)}}
	m := New(p, Config{Interval: time.Hour, FailureThreshold: 3}, nil)

	go m.Run(context.Background())
	defer m.Stop()

	status := m.CheckNow()
	assert.Equal(t, StatusHealthy, status)
}
