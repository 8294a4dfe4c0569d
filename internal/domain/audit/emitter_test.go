package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	records []Record
}

func (f *fakeStore) Append(_ context.Context, records ...Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) Flush(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitter_DeliversRecordsAsynchronously(t *testing.T) {
	store := &fakeStore{}
	e := NewEmitter(store, silentLogger(), 10)
	defer e.Close(context.Background())

	e.Emit(Record{RequestID: "req-1"})
	e.Emit(Record{RequestID: "req-2"})

	deadline := time.Now().Add(time.Second)
	for store.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := store.len(); got != 2 {
		t.Fatalf("store has %d records, want 2", got)
	}
}

func TestEmitter_DropsWhenSaturatedWithoutBlocking(t *testing.T) {
	store := &fakeStore{}
	e := NewEmitter(store, silentLogger(), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Emit(Record{RequestID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked under queue saturation")
	}
	e.Close(context.Background())

	if e.Dropped() == 0 {
		t.Error("expected some records to be dropped under saturation")
	}
}

func TestEmitter_CloseFlushesBacklog(t *testing.T) {
	store := &fakeStore{}
	e := NewEmitter(store, silentLogger(), 100)

	for i := 0; i < 50; i++ {
		e.Emit(Record{RequestID: "req"})
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := store.len(); got != 50 {
		t.Errorf("store has %d records after Close, want 50", got)
	}
}
