// Package recovery implements the replay pass (C6) that moves Samples
// parked in the fallback sink back into the primary store once it has
// recovered, archiving each fallback file only after every batch drawn from
// it has been durably written.
package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldpulse/daqagent/internal/events"
	"github.com/fieldpulse/daqagent/internal/health"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/metrics"
	"github.com/fieldpulse/daqagent/internal/sample"
)

// Status is the lifecycle stage a pass reports through Events.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Event reports one pass's progress. Counters are cumulative within the
// pass that produced the event, not across passes.
type Event struct {
	Status          Status
	FilesArchived   int
	SamplesReplayed int
	Err             error
}

// HealthSource is the narrow slice of health.Monitor this worker needs:
// the current classification, checked between batches.
type HealthSource interface {
	Status() health.Status
}

// FallbackStore is the narrow slice of fallbacksink.Sink this worker needs
// to enumerate, read, and retire pending files.
type FallbackStore interface {
	ListPending() ([]string, error)
	ReadFile(path string) ([]sample.Sample, error)
	Archive(path string) error
}

// PrimaryWriter is the narrow slice of primarysink.Sink this worker needs
// to replay a batch.
type PrimaryWriter interface {
	Write(ctx context.Context, batch []sample.Sample) (accepted, rejected int, err error)
}

// Worker runs at most one replay pass at a time over the fallback sink's
// pending files, grounded on the same Start/Stop/running-guard lifecycle
// the teacher uses for its own background retry loop.
type Worker struct {
	fallback  FallbackStore
	primary   PrimaryWriter
	health    HealthSource
	batchSize int
	events    *events.Broadcaster[Event]

	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
	cancel   context.CancelFunc
}

// DefaultBatchSize is used if the caller passes a non-positive batchSize.
const DefaultBatchSize = 500

// New constructs a Worker. batchSize should normally be the coordinator's
// configured batch size, per spec.md §4.6.
func New(fallback FallbackStore, primary PrimaryWriter, healthSource HealthSource, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{
		fallback:  fallback,
		primary:   primary,
		health:    healthSource,
		batchSize: batchSize,
		events:    events.NewBroadcaster[Event](8),
	}
}

// Subscribe returns a channel of this worker's pass events.
func (w *Worker) Subscribe() <-chan Event {
	return w.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (w *Worker) Unsubscribe(ch <-chan Event) {
	w.events.Unsubscribe(ch)
}

// Start launches one replay pass in the background. If a pass is already
// running, Start is a no-op, per spec.md §4.6's "duplicate invocations
// while running" rule. Start does not wait for the pass; it only waits
// for a Stop already in progress to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()

	for w.stopping {
		stopDone := w.stopDone
		w.mu.Unlock()
		<-stopDone
		w.mu.Lock()
	}

	if w.running {
		w.mu.Unlock()
		return nil
	}

	passCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stopDone = make(chan struct{})
	done := w.stopDone

	w.mu.Unlock()

	go w.runPass(passCtx, done)
	return nil
}

// Stop cancels an in-flight pass, if any, and waits for it to end
// (reporting Cancelled, Completed or Failed) before returning. It is a no-op if no pass is
// running.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running || w.stopping {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.stopping = true
	stopDone := w.stopDone
	w.mu.Unlock()

	<-stopDone

	w.mu.Lock()
	w.stopping = false
	w.mu.Unlock()
}

// IsRunning reports whether a pass is currently in flight.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) finish(done chan struct{}) {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	close(done)
}

func (w *Worker) runPass(ctx context.Context, done chan struct{}) {
	defer w.finish(done)

	metrics.RecoveryRunsTotal.Inc()
	w.events.Publish(Event{Status: StatusStarted})
	logging.Info().Msg("recovery: pass started")

	files, err := w.fallback.ListPending()
	if err != nil {
		w.events.Publish(Event{Status: StatusFailed, Err: fmt.Errorf("list pending fallback files: %w", err)})
		return
	}

	var filesArchived, samplesReplayed int

	for _, file := range files {
		select {
		case <-ctx.Done():
			w.events.Publish(Event{Status: StatusCancelled, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed})
			return
		default:
		}

		samples, readErr := w.fallback.ReadFile(file)
		if readErr != nil {
			w.events.Publish(Event{
				Status: StatusFailed, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed,
				Err: fmt.Errorf("read fallback file %s: %w", file, readErr),
			})
			return
		}

		if len(samples) == 0 {
			if archiveErr := w.fallback.Archive(file); archiveErr != nil {
				logging.Warn().Err(archiveErr).Str("file", file).Msg("recovery: failed to archive empty fallback file")
			} else {
				filesArchived++
				metrics.RecoveryFilesArchivedTotal.Inc()
			}
			continue
		}

		ok, halted := w.replayFile(ctx, samples, &samplesReplayed)
		if halted {
			metrics.RecoveryHaltsTotal.Inc()
			w.events.Publish(Event{Status: StatusCancelled, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed})
			return
		}
		if !ok {
			w.events.Publish(Event{
				Status: StatusFailed, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed,
				Err: fmt.Errorf("batch write failed replaying %s", file),
			})
			return
		}

		if archiveErr := w.fallback.Archive(file); archiveErr != nil {
			logging.Warn().Err(archiveErr).Str("file", file).Msg("recovery: failed to archive recovered fallback file")
		} else {
			filesArchived++
			metrics.RecoveryFilesArchivedTotal.Inc()
		}

		w.events.Publish(Event{Status: StatusInProgress, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed})
	}

	logging.Info().Int("files_archived", filesArchived).Int("samples_replayed", samplesReplayed).Msg("recovery: pass completed")
	w.events.Publish(Event{Status: StatusCompleted, FilesArchived: filesArchived, SamplesReplayed: samplesReplayed})
}

// replayFile forwards samples to the primary store in batches of at most
// w.batchSize, checking health between batches. It reports ok=false if a
// batch write fails (the file must stay in place, per spec.md §4.6), and
// halted=true if cancellation or a health regression stopped the pass
// before every batch was attempted.
func (w *Worker) replayFile(ctx context.Context, samples []sample.Sample, samplesReplayed *int) (ok, halted bool) {
	for start := 0; start < len(samples); start += w.batchSize {
		select {
		case <-ctx.Done():
			return false, true
		default:
		}

		if w.health.Status() == health.StatusUnhealthy {
			return false, true
		}

		end := start + w.batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[start:end]

		accepted, _, err := w.primary.Write(ctx, batch)
		*samplesReplayed += accepted
		metrics.RecoverySamplesReplayedTotal.Add(float64(accepted))
		if err != nil {
			return false, false
		}
	}
	return true, false
}
