package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/fieldpulse/daqagent/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkSample(nodeID string) sample.Sample {
	return sample.Sample{
		ServerID:       "srv-1",
		NodeID:         nodeID,
		ReceiveTimeUTC: time.Now().UTC(),
		Value:          sample.NewInt64(1),
		Quality:        sample.QualityGood,
	}
}

func TestDepthNeverExceedsCapacity(t *testing.T) {
	q := New(4)
	for i := 0; i < 100; i++ {
		q.Publish(mkSample("n"))
		assert.LessOrEqual(t, q.Stats().Depth, 4)
	}
	assert.Equal(t, 4, q.Stats().Depth)
}

func TestDroppedCounterIsExact(t *testing.T) {
	q := New(4)
	for i := 0; i < 10; i++ {
		q.Publish(mkSample("n"))
	}
	stats := q.Stats()
	assert.EqualValues(t, 10, stats.Enqueued)
	assert.EqualValues(t, 6, stats.Dropped)
	assert.Equal(t, 4, stats.Depth)
}

func TestFIFOSurvivingTailOrder(t *testing.T) {
	q := New(3)
	for i := 0; i < 5; i++ {
		q.Publish(mkSample(string(rune('a' + i))))
	}
	var got []string
	for {
		s, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, s.NodeID)
	}
	assert.Equal(t, []string{"c", "d", "e"}, got)
}

func TestBoundaryExactCapacityDropsNothing(t *testing.T) {
	q := New(3)
	for i := 0; i < 3; i++ {
		q.Publish(mkSample("n"))
	}
	assert.EqualValues(t, 0, q.Stats().Dropped)
	assert.Equal(t, 3, q.Stats().Depth)
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	q := New(2)
	q.Publish(mkSample("a"))
	q.Close()
	q.Publish(mkSample("b"))
	_, ok := q.TryPop()
	require.True(t, ok)
	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestWaitNonEmptyUnblocksOnPublish(t *testing.T) {
	q := New(2)
	done := make(chan struct{})
	waited := make(chan bool, 1)
	go func() {
		waited <- q.WaitNonEmpty(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Publish(mkSample("a"))
	select {
	case ok := <-waited:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitNonEmpty did not unblock on publish")
	}
}

func TestWaitNonEmptyUnblocksOnClose(t *testing.T) {
	q := New(2)
	done := make(chan struct{})
	waited := make(chan bool, 1)
	go func() {
		waited <- q.WaitNonEmpty(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-waited:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitNonEmpty did not unblock on close")
	}
}

func TestConcurrentPublishersDoNotRace(t *testing.T) {
	q := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Publish(mkSample("n"))
			}
		}()
	}
	wg.Wait()
	stats := q.Stats()
	assert.EqualValues(t, 400, stats.Enqueued)
	assert.Equal(t, int(stats.Enqueued-stats.Dropped), stats.Depth)
}
