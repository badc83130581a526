// Package market provides a local mirror of best bid/ask/last per symbol,
// kept up to date from the market data stream's decoded ticks.
package market

import (
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Book mirrors the best bid/ask/last for a single symbol. It is
// concurrency-safe and provides derived values (MidPrice) the engine and
// strategy layer read on every tick.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bid     float64
	ask     float64
	last    float64
	updated time.Time
}

// NewBook creates an empty local book for symbol.
func NewBook(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the symbol this book mirrors.
func (b *Book) Symbol() string { return b.symbol }

// ApplyTick updates the book from a decoded market data tick.
func (b *Book) ApplyTick(tick types.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bid = tick.Bid
	b.ask = tick.Ask
	b.last = tick.Last
	b.updated = tick.Timestamp
}

// MidPrice returns (bestBid+bestAsk)/2. Returns false if either side of
// the book is empty (zero).
func (b *Book) MidPrice() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// BestBidAsk returns the current best bid and ask.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bid == 0 || b.ask == 0 {
		return 0, 0, false
	}
	return b.bid, b.ask, true
}

// Last returns the most recent trade price.
func (b *Book) Last() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last tick applied.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Store holds one Book per symbol, created lazily on first tick or lookup.
type Store struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewStore creates an empty multi-symbol book store.
func NewStore() *Store {
	return &Store{books: make(map[string]*Book)}
}

// Get returns the book for symbol, creating it if this is the first time
// symbol has been seen.
func (s *Store) Get(symbol string) *Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[symbol]
	if !ok {
		b = NewBook(symbol)
		s.books[symbol] = b
	}
	return b
}

// ApplyTick routes tick to its symbol's book.
func (s *Store) ApplyTick(tick types.Tick) {
	s.Get(tick.Symbol).ApplyTick(tick)
}

// Symbols returns every symbol currently tracked.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	return out
}
