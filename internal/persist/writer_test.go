package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore records writes and can be told to fail.
type fakeStore struct {
	mu         sync.Mutex
	written    []*Record
	batchErr   error
	entryErr   error
	batchCalls int
}

func (f *fakeStore) WriteEntry(_ context.Context, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entryErr != nil {
		return f.entryErr
	}
	f.written = append(f.written, record)
	return nil
}

func (f *fakeStore) WriteBatch(_ context.Context, records []*Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchErr != nil {
		return f.batchErr
	}
	f.written = append(f.written, records...)
	return nil
}

func (f *fakeStore) GetEntry(context.Context, string) (*Record, error) { return nil, ErrNotFound }
func (f *fakeStore) Recent(context.Context, int) ([]*Record, error)    { return nil, nil }
func (f *fakeStore) Close() error                                      { return nil }

func (f *fakeStore) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestWriterFlushesQueuedRecords(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewWriter(store, 32, nil)

	for i := 0; i < 10; i++ {
		if !w.Enqueue(&Record{ID: "r"}) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}

	w.Start(context.Background())
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := store.writtenCount(); got != 10 {
		t.Fatalf("wrote %d records, want 10", got)
	}
	d := w.Diagnostics()
	if d.Accepted != 10 || d.DroppedEnqueue != 0 || d.DroppedWrite != 0 {
		t.Fatalf("diagnostics = %+v", d)
	}
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	w := NewWriter(&fakeStore{}, 2, nil)
	if !w.Enqueue(&Record{}) || !w.Enqueue(&Record{}) {
		t.Fatal("first two enqueues rejected")
	}
	if w.Enqueue(&Record{}) {
		t.Fatal("third enqueue accepted on a full queue")
	}

	d := w.Diagnostics()
	if d.Accepted != 2 || d.DroppedEnqueue != 1 {
		t.Fatalf("diagnostics = %+v", d)
	}
}

func TestWriterEnqueueAfterShutdownRejected(t *testing.T) {
	t.Parallel()

	w := NewWriter(&fakeStore{}, 8, nil)
	w.Start(context.Background())
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if w.Enqueue(&Record{}) {
		t.Fatal("Enqueue accepted after Shutdown")
	}
}

func TestWriterBatchFailureFallsBackPerRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{batchErr: errors.New("batch insert failed")}
	w := NewWriter(store, 32, nil)

	var failures []WriteFailure
	var mu sync.Mutex
	w.SetWriteFailureHandler(func(f WriteFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	})

	for i := 0; i < 5; i++ {
		w.Enqueue(&Record{ID: "r"})
	}
	w.Start(context.Background())
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// The batch fails but every record lands through per-record writes.
	if got := store.writtenCount(); got != 5 {
		t.Fatalf("wrote %d records via fallback, want 5", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 0 {
		t.Fatalf("failure handler fired %d times despite successful fallback", len(failures))
	}
}

func TestWriterReportsTotalWriteFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		batchErr: errors.New("database is locked"),
		entryErr: errors.New("database is locked"),
	}
	w := NewWriter(store, 32, nil)

	var failures []WriteFailure
	var mu sync.Mutex
	w.SetWriteFailureHandler(func(f WriteFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	})

	for i := 0; i < 3; i++ {
		w.Enqueue(&Record{ID: "r"})
	}
	w.Start(context.Background())
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) == 0 {
		t.Fatal("failure handler never fired")
	}
	total := 0
	for _, f := range failures {
		total += f.FailedCount
		if f.ErrorClass != WriteErrorClassContention {
			t.Fatalf("ErrorClass=%q, want contention", f.ErrorClass)
		}
	}
	if total != 3 {
		t.Fatalf("reported %d failed records, want 3", total)
	}
	if d := w.Diagnostics(); d.DroppedWrite != 3 {
		t.Fatalf("DroppedWrite=%d, want 3", d.DroppedWrite)
	}
}

func TestWriterShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	w := NewWriter(&fakeStore{}, 8, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown without Start: %v", err)
	}
}
