package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/daqagent/internal/health"
	"github.com/fieldpulse/daqagent/internal/sample"
)

type fakeFallback struct {
	mu       sync.Mutex
	files    map[string][]sample.Sample
	archived map[string]bool
}

func newFakeFallback(files map[string][]sample.Sample) *fakeFallback {
	return &fakeFallback{files: files, archived: make(map[string]bool)}
}

func (f *fakeFallback) ListPending() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.files {
		if !f.archived[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeFallback) ReadFile(path string) ([]sample.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path], nil
}

func (f *fakeFallback) Archive(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived[path] = true
	return nil
}

func (f *fakeFallback) isArchived(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archived[path]
}

type fakePrimary struct {
	mu        sync.Mutex
	failAfter int // -1 means never fail
	writes    int
	written   []sample.Sample
}

func (p *fakePrimary) Write(_ context.Context, batch []sample.Sample) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if p.failAfter >= 0 && p.writes > p.failAfter {
		return 0, 0, errors.New("primary unavailable")
	}
	p.written = append(p.written, batch...)
	return len(batch), 0, nil
}

type fakeHealth struct {
	mu     sync.Mutex
	status health.Status
}

func (h *fakeHealth) Status() health.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHealth) set(s health.Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func mkSamples(n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = sample.Sample{NodeID: "n", Value: sample.NewInt64(int64(i))}
	}
	return out
}

func drainUntil(t *testing.T, ch <-chan Event, status Status, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", status)
		}
	}
}

func TestRecoveryReplaysAllPendingFilesAndArchivesThem(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": mkSamples(5),
		"data_20250102.jsonl": mkSamples(3),
	})
	ps := &fakePrimary{failAfter: -1}
	h := &fakeHealth{status: health.StatusHealthy}

	w := New(fb, ps, h, 2)
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	require.NoError(t, w.Start(context.Background()))
	ev := drainUntil(t, ch, StatusCompleted, time.Second)

	assert.Equal(t, 2, ev.FilesArchived)
	assert.Equal(t, 8, ev.SamplesReplayed)
	assert.True(t, fb.isArchived("data_20250101.jsonl"))
	assert.True(t, fb.isArchived("data_20250102.jsonl"))
}

func TestRecoveryLeavesFileInPlaceOnBatchFailure(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": mkSamples(4),
	})
	ps := &fakePrimary{failAfter: 0} // every write fails
	h := &fakeHealth{status: health.StatusHealthy}

	w := New(fb, ps, h, 2)
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	require.NoError(t, w.Start(context.Background()))
	drainUntil(t, ch, StatusFailed, time.Second)

	assert.False(t, fb.isArchived("data_20250101.jsonl"))
}

func TestRecoveryHaltsWithoutArchivingOnUnhealthy(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": mkSamples(4),
	})
	ps := &fakePrimary{failAfter: -1}
	h := &fakeHealth{status: health.StatusUnhealthy}

	w := New(fb, ps, h, 2)
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	require.NoError(t, w.Start(context.Background()))
	ev := drainUntil(t, ch, StatusCancelled, time.Second)

	assert.Equal(t, 0, ev.FilesArchived)
	assert.False(t, fb.isArchived("data_20250101.jsonl"))
}

func TestRecoveryArchivesZeroSampleFileImmediately(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": {},
	})
	ps := &fakePrimary{failAfter: -1}
	h := &fakeHealth{status: health.StatusHealthy}

	w := New(fb, ps, h, 2)
	ch := w.Subscribe()
	defer w.Unsubscribe(ch)

	require.NoError(t, w.Start(context.Background()))
	ev := drainUntil(t, ch, StatusCompleted, time.Second)

	assert.Equal(t, 1, ev.FilesArchived)
	assert.True(t, fb.isArchived("data_20250101.jsonl"))
}

func TestRecoveryDuplicateStartWhileRunningIsNoOp(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": mkSamples(1),
	})
	ps := &fakePrimary{failAfter: -1}
	h := &fakeHealth{status: health.StatusHealthy}

	w := New(fb, ps, h, 2)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestRecoveryStopCancelsInFlightPass(t *testing.T) {
	fb := newFakeFallback(map[string][]sample.Sample{
		"data_20250101.jsonl": mkSamples(100),
		"data_20250102.jsonl": mkSamples(100),
	})
	ps := &fakePrimary{failAfter: -1}
	h := &fakeHealth{status: health.StatusHealthy}

	w := New(fb, ps, h, 1)
	w.Start(context.Background())
	w.Stop()
	assert.False(t, w.IsRunning())
}
