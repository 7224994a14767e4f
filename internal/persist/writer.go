package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

const writerBatchSize = 64

// WriteFailure describes records that could not be persisted.
type WriteFailure struct {
	Operation   string
	BatchSize   int
	FailedCount int
	Err         error
	ErrorClass  string
}

// WriteFailureHandler receives asynchronous write failure signals.
type WriteFailureHandler func(WriteFailure)

// WriterDiagnostics is a point-in-time snapshot of writer state.
type WriterDiagnostics struct {
	QueueCapacity  int   `json:"queue_capacity"`
	QueueDepth     int   `json:"queue_depth"`
	Accepted       int64 `json:"accepted"`
	DroppedEnqueue int64 `json:"dropped_enqueue"`
	DroppedWrite   int64 `json:"dropped_write"`
}

// Writer decouples entry finalization from storage latency: Enqueue
// never blocks, a single worker drains the queue in batches, and a
// failed batch falls back to per-record writes so one bad record does
// not drop its whole batch.
type Writer struct {
	store  Store
	logger *slog.Logger

	queue   chan *Record
	queueMu sync.RWMutex

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	accepted       atomic.Int64
	droppedEnqueue atomic.Int64
	droppedWrite   atomic.Int64

	failureHandler atomic.Value // WriteFailureHandler
}

var noopFailureHandler = WriteFailureHandler(func(WriteFailure) {})

// NewWriter builds a writer over store with the given queue size.
// Zero or less selects 256. A nil logger falls back to
// slog.Default().
func NewWriter(store Store, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:  store,
		logger: logger,
		queue:  make(chan *Record, bufferSize),
		done:   make(chan struct{}),
	}
	w.failureHandler.Store(noopFailureHandler)
	return w
}

// SetWriteFailureHandler replaces the failure callback.
func (w *Writer) SetWriteFailureHandler(handler WriteFailureHandler) {
	if handler == nil {
		handler = noopFailureHandler
	}
	w.failureHandler.Store(handler)
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.markDone()

		for {
			select {
			case <-ctx.Done():
				return
			case record, ok := <-w.queue:
				if !ok {
					return
				}

				batch := make([]*Record, 0, writerBatchSize)
				if record != nil {
					batch = append(batch, record)
				}
			drain:
				for len(batch) < writerBatchSize {
					select {
					case <-ctx.Done():
						// Flush with a fresh context so the final batch
						// is not rejected due to cancellation.
						w.flushBatch(context.Background(), batch)
						return
					case next, ok := <-w.queue:
						if !ok {
							w.flushBatch(context.Background(), batch)
							return
						}
						if next != nil {
							batch = append(batch, next)
						}
					default:
						break drain
					}
				}
				w.flushBatch(ctx, batch)
			}
		}
	}()
}

// Enqueue offers a record to the write queue without blocking. The
// return reports whether the record was accepted.
func (w *Writer) Enqueue(record *Record) bool {
	if w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- record:
		w.accepted.Add(1)
		return true
	default:
		w.droppedEnqueue.Add(1)
		return false
	}
}

// Shutdown stops intake, flushes the backlog, and waits up to the
// context deadline.
func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.markDone()
		}
	})

	select {
	case <-w.done:
		w.wg.Wait()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}

// Diagnostics returns a snapshot of queue and counter state.
func (w *Writer) Diagnostics() WriterDiagnostics {
	return WriterDiagnostics{
		QueueCapacity:  cap(w.queue),
		QueueDepth:     len(w.queue),
		Accepted:       w.accepted.Load(),
		DroppedEnqueue: w.droppedEnqueue.Load(),
		DroppedWrite:   w.droppedWrite.Load(),
	}
}

func (w *Writer) flushBatch(ctx context.Context, batch []*Record) {
	if len(batch) == 0 {
		return
	}

	if len(batch) == 1 {
		if err := w.store.WriteEntry(ctx, batch[0]); err != nil {
			w.reportWriteFailure(WriteFailure{
				Operation:   "write_entry",
				BatchSize:   1,
				FailedCount: 1,
				Err:         err,
			})
		}
		return
	}

	if err := w.store.WriteBatch(ctx, batch); err != nil {
		// Retry per record so one bad record does not drop the batch.
		failed := 0
		var fallbackErr error
		for _, record := range batch {
			if recordErr := w.store.WriteEntry(ctx, record); recordErr != nil {
				failed++
				if fallbackErr == nil {
					fallbackErr = recordErr
				}
			}
		}
		if failed > 0 {
			w.reportWriteFailure(WriteFailure{
				Operation:   "write_batch_fallback",
				BatchSize:   len(batch),
				FailedCount: failed,
				Err:         errors.Join(err, fallbackErr),
			})
		}
	}
}

func (w *Writer) reportWriteFailure(failure WriteFailure) {
	if failure.FailedCount <= 0 {
		return
	}
	failure.ErrorClass = ClassifyWriteError(failure.Err)
	w.droppedWrite.Add(int64(failure.FailedCount))
	w.logger.Warn("entry write failed",
		"operation", failure.Operation,
		"failed", failure.FailedCount,
		"class", failure.ErrorClass,
		"error", failure.Err,
	)
	if handler, ok := w.failureHandler.Load().(WriteFailureHandler); ok && handler != nil {
		handler(failure)
	}
}
