package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures the buffered recorder.
type RecorderConfig struct {
	// MaxBatch flushes when the buffer reaches this size (default: 64).
	MaxBatch int

	// FlushInterval flushes on this timer regardless of buffer size
	// (default: 5s).
	FlushInterval time.Duration

	// MaxRequeue bounds how many events of a failed flush are put back
	// for the next tick (default: MaxBatch).
	MaxRequeue int

	Logger *slog.Logger
}

// Recorder buffers telemetry events and flushes them to a Sink in batches,
// on a timer and on buffer-full. Flush failures never propagate to callers;
// failed events are partially re-buffered (bounded) and retried on the next
// tick.
type Recorder struct {
	sink          Sink
	maxBatch      int
	maxRequeue    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []Event

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRecorder creates a recorder and starts its flush loop.
func NewRecorder(sink Sink, cfg RecorderConfig) *Recorder {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxRequeue <= 0 {
		cfg.MaxRequeue = cfg.MaxBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Recorder{
		sink:          sink,
		maxBatch:      cfg.MaxBatch,
		maxRequeue:    cfg.MaxRequeue,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		kick:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// Record buffers one event. It never blocks and never fails the caller:
// when the buffer is saturated beyond twice the batch size the oldest
// events are dropped with a warning.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.buffer = append(r.buffer, e)
	full := len(r.buffer) >= r.maxBatch
	if len(r.buffer) > 2*r.maxBatch {
		dropped := len(r.buffer) - 2*r.maxBatch
		r.buffer = r.buffer[dropped:]
		r.logger.Warn("telemetry buffer saturated, dropping oldest events", "dropped", dropped)
	}
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Flush synchronously flushes the current buffer. Intended for shutdown
// and tests.
func (r *Recorder) Flush(ctx context.Context) {
	r.flush(ctx)
}

// Shutdown stops the flush loop after a final flush.
func (r *Recorder) Shutdown(ctx context.Context) {
	r.once.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
	r.flush(ctx)
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush(context.Background())
		case <-r.kick:
			r.flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// flush sends the buffered batch to the sink. On failure a bounded tail of
// the batch is re-buffered for the next tick; the rest is dropped.
func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := r.sink.InsertEvents(flushCtx, batch); err != nil {
		requeue := batch
		if len(requeue) > r.maxRequeue {
			requeue = requeue[len(requeue)-r.maxRequeue:]
		}
		r.mu.Lock()
		r.buffer = append(requeue, r.buffer...)
		r.mu.Unlock()

		r.logger.Warn("telemetry flush failed, re-buffered tail",
			"batch_size", len(batch),
			"requeued", len(requeue),
			"error", err)
		return
	}

	r.logger.Debug("telemetry flushed", "batch_size", len(batch))
}
