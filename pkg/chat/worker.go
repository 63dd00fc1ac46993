package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// WorkerOptions configures a FlushWorker. Zero values fall back to a 1s
// flush interval and a batch size of 100.
type WorkerOptions struct {
	FlushInterval time.Duration
	BatchSize     int
}

// FlushWorker periodically drains the cache's pending queue into a Sink.
// Producers call Notify after appending; the worker batches rapid
// successive notifications by sleeping a flush interval after each cycle
// instead of flushing per message. Stop is graceful: the loop exits, then
// one final drain catches anything appended since the last cycle.
type FlushWorker struct {
	cache         *Cache
	sink          Sink
	flushInterval time.Duration
	batchSize     int

	notify chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

func NewFlushWorker(cache *Cache, sink Sink, opts WorkerOptions) *FlushWorker {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &FlushWorker{
		cache:         cache,
		sink:          sink,
		flushInterval: opts.FlushInterval,
		batchSize:     opts.BatchSize,
		notify:        make(chan struct{}, 1),
	}
}

// Start ensures the sink's indexes and schedules the background loop. When
// the sink is disabled this is a deliberate no-op: no goroutine is started
// and Stop remains safe to call. Starting an already-running worker is a
// no-op as well.
func (w *FlushWorker) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("flush worker: nil worker")
	}
	if w.sink == nil || !w.sink.Enabled() {
		log.Debug().Msg("chat persistence disabled, flush worker not started")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.sink.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "flush worker: ensure indexes")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.eg = &errgroup.Group{}
	w.eg.Go(func() error {
		w.run(loopCtx)
		return nil
	})
	w.running = true
	log.Debug().
		Dur("flush_interval", w.flushInterval).
		Int("batch_size", w.batchSize).
		Msg("chat flush worker started")
	return nil
}

// Notify signals the worker that new data is pending. Non-blocking and safe
// from any goroutine; a no-op when the sink is disabled.
func (w *FlushWorker) Notify() {
	if w == nil || w.sink == nil || !w.sink.Enabled() {
		return
	}
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stop cancels the loop, waits for it to exit, and runs one final drain so
// messages appended between the last cycle and shutdown are not stranded in
// the queue. Calling Stop on a worker that never started is a no-op.
func (w *FlushWorker) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	eg := w.eg
	w.mu.Unlock()

	cancel()
	_ = eg.Wait()

	// The loop context is gone; the final drain gets its own deadline.
	ctx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	count := w.flushOnce(ctx)
	log.Debug().Int("count", count).Msg("chat flush worker stopped after final drain")
}

// run waits for a notification or cancellation; Go's select races the two
// without leaving a dangling waiter behind. After each flush cycle the loop
// sleeps one interval (also cancellable) so bursts of notifications
// coalesce into a single batch.
func (w *FlushWorker) run(ctx context.Context) {
	timer := time.NewTimer(w.flushInterval)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		}

		w.flushOnce(ctx)

		timer.Reset(w.flushInterval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// flushOnce pops one batch and writes it to the sink. Returns the number of
// messages the sink accepted. A failed write is already logged by the sink;
// the batch is not re-enqueued.
func (w *FlushWorker) flushOnce(ctx context.Context) int {
	batch := w.cache.PopFlushBatch(w.batchSize)
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	count := w.sink.InsertMessages(ctx, batch)
	log.Debug().
		Int("batch_size", len(batch)).
		Int("inserted", count).
		Dur("elapsed", time.Since(start)).
		Msg("flushed chat messages")
	return count
}
