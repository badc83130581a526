package market

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"polymarket-mm/internal/bus"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStream(cfg StreamConfig) (*Stream, *Store, *bus.Bus) {
	store := NewStore()
	b := bus.New(bus.Config{}, testLogger())
	return NewStream(cfg, store, b, testLogger()), store, b
}

func TestDispatchMessageUpdatesStoreAndPublishesTick(t *testing.T) {
	t.Parallel()

	s, store, eventBus := newTestStream(StreamConfig{Symbols: []string{"AAPL"}})
	eventBus.Start()
	defer eventBus.Stop(time.Second)

	received := make(chan types.Tick, 1)
	eventBus.Subscribe(types.EventTick, func(evt types.Event) error {
		received <- evt.Payload.(types.Tick)
		return nil
	})

	s.dispatchMessage([]byte(`{"symbol":"AAPL","bid":150.1,"ask":150.3,"last":150.2}`))

	select {
	case tick := <-received:
		if tick.Symbol != "AAPL" || tick.Bid != 150.1 {
			t.Fatalf("got tick %+v, want AAPL bid 150.1", tick)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick event on bus")
	}

	bid, ask, ok := store.Get("AAPL").BestBidAsk()
	if !ok {
		t.Fatal("expected store to have AAPL book populated")
	}
	if bid != 150.1 || ask != 150.3 {
		t.Fatalf("got bid/ask %v/%v, want 150.1/150.3", bid, ask)
	}
}

func TestDispatchMessageIgnoresUndecodableOrEmptySymbol(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestStream(StreamConfig{})
	s.dispatchMessage([]byte(`not json`))
	s.dispatchMessage([]byte(`{"bid":1,"ask":2}`))

	if len(store.Symbols()) != 0 {
		t.Fatalf("expected no symbols tracked, got %v", store.Symbols())
	}
}

func TestRunReturnsErrorAfterExhaustingReconnectAttempts(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestStream(StreamConfig{
		URL:                  "ws://127.0.0.1:1/does-not-exist",
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Run(ctx)
	if err == nil {
		t.Fatal("expected an error once reconnect attempts are exhausted")
	}
}
