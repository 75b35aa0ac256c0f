// Package coordinator implements the persistence coordinator (C7): it
// assembles batches off the ingress queue and routes them to whichever
// sink the current persistence mode selects, falling back a batch to the
// fallback sink when the primary write fails and counting a batch as
// permanently lost only when both sinks fail it.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/fieldpulse/daqagent/internal/events"
	"github.com/fieldpulse/daqagent/internal/health"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/metrics"
	"github.com/fieldpulse/daqagent/internal/queue"
	"github.com/fieldpulse/daqagent/internal/sample"
)

// Mode selects which sink (if any) a batch is routed to.
type Mode string

const (
	ModeDryRun   Mode = "dry_run"
	ModeFallback Mode = "fallback"
	ModePrimary  Mode = "primary"
	ModeStopped  Mode = "stopped"
)

// PrimaryWriter is the narrow slice of primarysink.Sink the coordinator
// needs.
type PrimaryWriter interface {
	Write(ctx context.Context, batch []sample.Sample) (accepted, rejected int, err error)
}

// FallbackWriter is the narrow slice of fallbacksink.Sink the coordinator
// needs.
type FallbackWriter interface {
	Write(batch []sample.Sample) error
}

// ModeChangeEvent is published whenever the coordinator's persistence mode
// changes.
type ModeChangeEvent struct {
	From Mode
	To   Mode
	At   time.Time
}

// Config holds the batching tunables from spec.md §4.7.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 500, BatchTimeout: time.Second}
}

// Coordinator consumes the ingress queue on a single goroutine and routes
// each assembled batch to the active sink per the current Mode.
type Coordinator struct {
	queue    *queue.Queue
	primary  PrimaryWriter
	fallback FallbackWriter
	cfg      Config

	// recoveryTrigger is invoked, in its own goroutine, on every
	// Fallback->Primary transition, per spec.md §4.7.
	recoveryTrigger func(context.Context)

	mu                  sync.Mutex
	mode                Mode
	manualForceFallback bool
	manualForceDryRun   bool

	modeEvents *events.Broadcaster[ModeChangeEvent]
}

// New constructs a Coordinator. It starts in ModeFallback — the safe
// choice while the primary store's health is not yet known — until the
// first health event promotes or confirms its mode.
func New(q *queue.Queue, primary PrimaryWriter, fallback FallbackWriter, cfg Config, recoveryTrigger func(context.Context)) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultConfig().BatchTimeout
	}
	return &Coordinator{
		queue:           q,
		primary:         primary,
		fallback:        fallback,
		cfg:             cfg,
		recoveryTrigger: recoveryTrigger,
		mode:            ModeFallback,
		modeEvents:      events.NewBroadcaster[ModeChangeEvent](8),
	}
}

// Mode returns the coordinator's current persistence mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SubscribeModeChanges returns a channel of mode transitions.
func (c *Coordinator) SubscribeModeChanges() <-chan ModeChangeEvent {
	return c.modeEvents.Subscribe()
}

// UnsubscribeModeChanges releases a channel returned by SubscribeModeChanges.
func (c *Coordinator) UnsubscribeModeChanges(ch <-chan ModeChangeEvent) {
	c.modeEvents.Unsubscribe(ch)
}

// OnHealthEvent adapts a health.Event into a mode transition, per
// spec.md §4.7: Unhealthy selects Fallback, Healthy selects Primary and
// triggers C6 if the coordinator was previously in Fallback. A manual
// override in effect suppresses health-driven transitions entirely.
func (c *Coordinator) OnHealthEvent(ev health.Event) {
	c.mu.Lock()
	if c.manualForceFallback || c.manualForceDryRun {
		c.mu.Unlock()
		return
	}

	switch ev.Status {
	case health.StatusUnhealthy:
		c.setModeLocked(ModeFallback)
		c.mu.Unlock()
	case health.StatusHealthy:
		wasFallback := c.mode == ModeFallback
		c.setModeLocked(ModePrimary)
		c.mu.Unlock()
		if wasFallback && c.recoveryTrigger != nil {
			go c.recoveryTrigger(context.Background())
		}
	default:
		c.mu.Unlock()
	}
}

// SetForceFallback applies or releases a manual override pinning the mode
// to Fallback. Manual overrides take precedence over health-driven
// selection, per spec.md §4.7.
func (c *Coordinator) SetForceFallback(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualForceFallback = on
	if on {
		c.manualForceDryRun = false
		c.setModeLocked(ModeFallback)
	}
}

// SetForceDryRun applies or releases a manual override pinning the mode to
// DryRun.
func (c *Coordinator) SetForceDryRun(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualForceDryRun = on
	if on {
		c.manualForceFallback = false
		c.setModeLocked(ModeDryRun)
	}
}

// setModeLocked must be called with c.mu held.
func (c *Coordinator) setModeLocked(next Mode) {
	prev := c.mode
	if prev == next {
		return
	}
	c.mode = next
	metrics.SetCoordinatorMode(string(next))
	c.modeEvents.Publish(ModeChangeEvent{From: prev, To: next, At: time.Now()})
	logging.Info().Str("from", string(prev)).Str("to", string(next)).Msg("coordinator: persistence mode changed")
}

// Run consumes the ingress queue until ctx is cancelled, then drains
// whatever remains using the mode that was active at the moment of
// cancellation — the "last live mode" policy for Stopped, per spec.md
// §4.7. Run matches suture's Service signature.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		batch := c.assembleBatch(ctx)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.flush(ctx, batch, c.Mode())
	}

	c.drain()
	return nil
}

// assembleBatch implements spec.md §4.7's batching algorithm: block until
// the queue is non-empty or ctx is done; drain up to BatchSize items
// non-blocking; if fewer than BatchSize items are available and the
// batch-timeout deadline has not elapsed, wait for either a new publish or
// the remaining time before trying again.
func (c *Coordinator) assembleBatch(ctx context.Context) []sample.Sample {
	if !c.queue.WaitNonEmpty(ctx.Done()) {
		return nil
	}

	deadline := time.Now().Add(c.cfg.BatchTimeout)
	var batch []sample.Sample
	for len(batch) < c.cfg.BatchSize {
		if s, ok := c.queue.TryPop(); ok {
			batch = append(batch, s)
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		nonEmpty := c.queue.WaitNonEmpty(waitCtx.Done())
		cancel()
		if !nonEmpty {
			break
		}
	}

	metrics.CoordinatorBatchSize.Observe(float64(len(batch)))
	return batch
}

// flush routes one batch to the sink mode selects.
func (c *Coordinator) flush(ctx context.Context, batch []sample.Sample, mode Mode) {
	switch mode {
	case ModeDryRun:
		logging.Debug().Int("count", len(batch)).Msg("coordinator: discarding batch (dry run)")
	case ModeFallback:
		c.writeFallback(batch)
	case ModePrimary:
		c.writePrimary(ctx, batch)
	case ModeStopped:
		// Stopped is never the Mode a live batch is flushed under; drain
		// always substitutes the last live mode.
	}
}

func (c *Coordinator) writeFallback(batch []sample.Sample) {
	start := time.Now()
	err := c.fallback.Write(batch)
	metrics.RecordFallbackWrite(time.Since(start), len(batch), err)
	if err != nil {
		logging.Error().Err(err).Int("count", len(batch)).Msg("coordinator: fallback write failed")
		metrics.RecordPermanentLoss(len(batch))
	}
}

func (c *Coordinator) writePrimary(ctx context.Context, batch []sample.Sample) {
	start := time.Now()
	accepted, rejected, err := c.primary.Write(ctx, batch)
	metrics.RecordPrimaryWrite(time.Since(start), accepted, rejected, err)
	if err == nil {
		return
	}

	logging.Warn().Err(err).Int("count", len(batch)).Msg("coordinator: primary write failed, falling back batch")
	fbStart := time.Now()
	fbErr := c.fallback.Write(batch)
	metrics.RecordFallbackWrite(time.Since(fbStart), len(batch), fbErr)
	if fbErr != nil {
		logging.Error().Err(fbErr).Int("count", len(batch)).Msg("coordinator: fallback write also failed, batch permanently lost")
		metrics.RecordPermanentLoss(len(batch))
	}
}

// drain flushes every sample left in the queue after Run's consume loop
// exits, using the mode that was active at the moment of shutdown.
func (c *Coordinator) drain() {
	mode := c.Mode()
	metrics.SetCoordinatorMode(string(ModeStopped))

	for {
		var batch []sample.Sample
		for len(batch) < c.cfg.BatchSize {
			s, ok := c.queue.TryPop()
			if !ok {
				break
			}
			batch = append(batch, s)
		}
		if len(batch) == 0 {
			return
		}
		c.flush(context.Background(), batch, mode)
	}
}
