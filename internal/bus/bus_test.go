package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishDispatchesInPriorityOrder(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxQueueSize: 100}, testLogger())

	var order []int
	done := make(chan struct{})
	b.Subscribe(types.EventTick, func(e types.Event) error {
		order = append(order, e.Priority)
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	b.Start()
	defer b.Stop(time.Second)

	if err := b.Publish(types.Event{Priority: 5, Kind: types.EventTick}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(types.Event{Priority: 1, Kind: types.EventTick}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(types.Event{Priority: 3, Kind: types.EventTick}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	want := []int{1, 3, 5}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestPublishFailsWhenQueueFull(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxQueueSize: 1}, testLogger())
	if err := b.Publish(types.Event{Priority: 1, Kind: types.EventTick}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.Publish(types.Event{Priority: 1, Kind: types.EventTick}); err != ErrQueueFull {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
}

func TestHandlerErrorsAreCountedNotPropagated(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxQueueSize: 10}, testLogger())
	var calls int32
	b.Subscribe(types.EventTick, func(e types.Event) error {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	})
	b.Subscribe(types.EventTick, func(e types.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	b.Start()
	if err := b.Publish(types.Event{Priority: 1, Kind: types.EventTick}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	b.Stop(time.Second)

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("got %d handler calls, want 2", calls)
	}
	stats := b.Stats()
	if stats.Errors != 1 {
		t.Fatalf("got %d errors, want 1", stats.Errors)
	}
}

func TestStopIsResponsive(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxQueueSize: 10}, testLogger())
	b.Start()

	start := time.Now()
	b.Stop(time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("stop took %v, want well under timeout", elapsed)
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxQueueSize: 10}, testLogger())
	for i := 0; i < 5; i++ {
		if err := b.Publish(types.Event{Priority: i, Kind: types.EventTick}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if n := b.ClearQueue(); n != 5 {
		t.Fatalf("got %d cleared, want 5", n)
	}
	if stats := b.Stats(); stats.QueueSize != 0 {
		t.Fatalf("got queue size %d, want 0", stats.QueueSize)
	}
}
