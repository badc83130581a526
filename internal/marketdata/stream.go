// stream.go implements the live market data feed: a single WebSocket
// connection subscribed to a configurable set of symbols, decoding tick
// JSON and republishing each as an Event on the bus while also updating
// the local Store mirror.
//
// Reconnection uses a *fixed* delay between attempts (not exponential
// backoff) up to a configured attempt cap, after which Run gives up and
// returns an error for the engine to treat as fatal — this matches the
// source engine's disconnect handling rather than the teacher's
// exponential-backoff WebSocket client.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"polymarket-mm/internal/bus"
	"polymarket-mm/pkg/types"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 90 * time.Second
	writeTimeout        = 10 * time.Second
	tickBufferSize      = 256
)

// Mode controls how much detail the venue sends per subscribed symbol,
// mirroring the source feed's ltp/quote/full tick modes.
type Mode string

const (
	ModeLTP   Mode = "ltp"   // last traded price only
	ModeQuote Mode = "quote" // LTP + bid/ask
	ModeFull  Mode = "full"  // complete market depth
)

// StreamConfig configures the market data stream.
type StreamConfig struct {
	URL                  string
	Symbols              []string
	ReconnectDelay       time.Duration // fixed delay between reconnect attempts
	MaxReconnectAttempts int           // 0 means unlimited
	PingInterval         time.Duration
	ReadTimeout          time.Duration
}

type tickWire struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

// Stats reports the stream's connection and throughput state, mirroring the
// source feed's get_statistics().
type Stats struct {
	Connected             bool
	TicksReceived         int64
	SubscribedInstruments int
	ConnectionTime        time.Time
	UptimeSeconds         float64
	LastTickTime          time.Time
	ReconnectCount        int
}

// Stream maintains a live WebSocket subscription to a venue's tick feed.
type Stream struct {
	cfg    StreamConfig
	store  *Store
	bus    *bus.Bus
	logger *slog.Logger

	conn      *websocket.Conn
	connected bool
	connMu    sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool
	mode         Mode

	statsMu        sync.Mutex
	ticksReceived  int64
	connectionTime time.Time
	lastTickTime   time.Time
	reconnectCount int

	callbackMu       sync.Mutex
	tickCallbacks    []func([]types.Tick)
	connectCallbacks []func()
	closeCallbacks   []func(code int, reason string)
	errorCallbacks   []func(error)
}

// NewStream creates a market data stream that publishes decoded ticks onto
// eventBus and keeps store up to date.
func NewStream(cfg StreamConfig, store *Store, eventBus *bus.Bus, logger *slog.Logger) *Stream {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	subscribed := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		subscribed[s] = true
	}
	return &Stream{
		cfg:        cfg,
		store:      store,
		bus:        eventBus,
		logger:     logger.With("component", "marketdata.stream"),
		subscribed: subscribed,
		mode:       ModeQuote,
	}
}

// Run connects and maintains the WebSocket connection, reconnecting after a
// fixed delay on drop. Blocks until ctx is cancelled or the reconnect
// attempt cap is exhausted. On terminal failure (attempts exhausted) it
// publishes EventSystemStop with a diagnostic payload before returning.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	// rate.Limiter with burst 1 paces reconnect attempts at a fixed
	// interval — Wait(ctx) returns once one delay period has passed since
	// the previous token was taken, which is the fixed-delay policy this
	// stream commits to instead of exponential backoff. A connection that
	// stayed up longer than delay leaves a token ready, so the first
	// reconnect after it does not wait.
	pacer := rate.NewLimiter(rate.Every(delay), 1)
	pacer.Allow() // take the initial token so a failure right after start still waits a full delay

	attempts := 0
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		s.statsMu.Lock()
		s.reconnectCount = attempts
		s.statsMu.Unlock()

		s.logger.Warn("market data stream disconnected, reconnecting",
			"error", err, "attempt", attempts, "delay", delay)
		s.notifyClose(closeCode(err), err.Error())

		if s.cfg.MaxReconnectAttempts > 0 && attempts >= s.cfg.MaxReconnectAttempts {
			finalErr := fmt.Errorf("market data stream: exhausted %d reconnect attempts: %w", attempts, err)
			if pubErr := s.bus.Publish(types.Event{
				Kind:      types.EventSystemStop,
				Timestamp: time.Now(),
				Source:    "marketdata.stream",
				Payload: map[string]any{
					"component": "marketdata.stream",
					"reason":    finalErr.Error(),
					"attempts":  attempts,
				},
			}); pubErr != nil {
				s.logger.Warn("failed to publish system stop, bus queue full", "error", pubErr)
			}
			return finalErr
		}

		if err := pacer.Wait(ctx); err != nil {
			return err
		}
	}
}

// Subscribe adds symbols to the live subscription in the given mode and, if
// connected, sends an incremental subscribe message. The token list and mode
// are remembered and resubmitted automatically after every reconnect.
func (s *Stream) Subscribe(symbols []string, mode Mode) error {
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		s.subscribed[sym] = true
	}
	s.mode = mode
	s.subscribedMu.Unlock()
	return s.writeJSON(map[string]any{"op": "subscribe", "symbols": symbols, "mode": mode})
}

// Unsubscribe removes symbols from the remembered subscription and, if
// connected, sends an incremental unsubscribe message.
func (s *Stream) Unsubscribe(symbols []string) error {
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		delete(s.subscribed, sym)
	}
	s.subscribedMu.Unlock()
	return s.writeJSON(map[string]any{"op": "unsubscribe", "symbols": symbols})
}

// IsConnected reports whether the stream currently holds a live connection.
func (s *Stream) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Stats reports the stream's current connection and throughput state.
func (s *Stream) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.subscribedMu.RLock()
	subscribed := len(s.subscribed)
	s.subscribedMu.RUnlock()

	var uptime float64
	if !s.connectionTime.IsZero() {
		uptime = time.Since(s.connectionTime).Seconds()
	}

	return Stats{
		Connected:             s.IsConnected(),
		TicksReceived:         s.ticksReceived,
		SubscribedInstruments: subscribed,
		ConnectionTime:        s.connectionTime,
		UptimeSeconds:         uptime,
		LastTickTime:          s.lastTickTime,
		ReconnectCount:        s.reconnectCount,
	}
}

// OnTicks registers a callback invoked with every batch of decoded ticks.
func (s *Stream) OnTicks(cb func([]types.Tick)) {
	s.callbackMu.Lock()
	s.tickCallbacks = append(s.tickCallbacks, cb)
	s.callbackMu.Unlock()
}

// OnConnect registers a callback invoked once a connection (including a
// reconnect) is established and the remembered subscription has been
// resubmitted.
func (s *Stream) OnConnect(cb func()) {
	s.callbackMu.Lock()
	s.connectCallbacks = append(s.connectCallbacks, cb)
	s.callbackMu.Unlock()
}

// OnClose registers a callback invoked every time the connection drops,
// before a reconnect attempt is made.
func (s *Stream) OnClose(cb func(code int, reason string)) {
	s.callbackMu.Lock()
	s.closeCallbacks = append(s.closeCallbacks, cb)
	s.callbackMu.Unlock()
}

// OnError registers a callback invoked on transport-level errors (dial,
// write, or read failures).
func (s *Stream) OnError(cb func(error)) {
	s.callbackMu.Lock()
	s.errorCallbacks = append(s.errorCallbacks, cb)
	s.callbackMu.Unlock()
}

// Close gracefully closes the active connection, if any.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.notifyError(fmt.Errorf("dial: %w", err))
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connected = false
		s.connMu.Unlock()
	}()

	if err := s.sendInitialSubscription(); err != nil {
		s.notifyError(fmt.Errorf("subscribe: %w", err))
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("market data stream connected", "symbols", len(s.subscribed))

	s.statsMu.Lock()
	s.connectionTime = time.Now()
	s.statsMu.Unlock()
	s.notifyConnect()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.notifyError(fmt.Errorf("read: %w", err))
			return fmt.Errorf("read: %w", err)
		}
		s.dispatchMessage(msg)
	}
}

// sendInitialSubscription resubmits the remembered token list and mode,
// both on first connect and after every reconnect.
func (s *Stream) sendInitialSubscription() error {
	s.subscribedMu.RLock()
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	mode := s.mode
	s.subscribedMu.RUnlock()
	return s.writeJSON(map[string]any{"op": "subscribe", "symbols": symbols, "mode": mode})
}

func (s *Stream) dispatchMessage(data []byte) {
	var wire tickWire
	if err := json.Unmarshal(data, &wire); err != nil {
		s.logger.Debug("ignoring undecodable market data message", "error", err)
		return
	}
	if wire.Symbol == "" {
		return
	}

	tick := types.Tick{
		Symbol:    wire.Symbol,
		Bid:       wire.Bid,
		Ask:       wire.Ask,
		Last:      wire.Last,
		Timestamp: time.Now(),
	}
	s.store.ApplyTick(tick)

	s.statsMu.Lock()
	s.ticksReceived++
	s.lastTickTime = tick.Timestamp
	s.statsMu.Unlock()
	s.notifyTicks([]types.Tick{tick})

	if err := s.bus.Publish(types.Event{
		Kind:      types.EventTick,
		Timestamp: tick.Timestamp,
		Source:    "marketdata.stream",
		Payload:   tick,
	}); err != nil {
		s.logger.Warn("drop tick, bus queue full", "symbol", tick.Symbol, "error", err)
	}
}

// closeCode extracts the WebSocket close code from err, if any, for the
// on_close callback's code/reason signature.
func closeCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return 0
}

func (s *Stream) notifyTicks(ticks []types.Tick) {
	s.callbackMu.Lock()
	cbs := append([]func([]types.Tick){}, s.tickCallbacks...)
	s.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(ticks)
	}
}

func (s *Stream) notifyConnect() {
	s.callbackMu.Lock()
	cbs := append([]func(){}, s.connectCallbacks...)
	s.callbackMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *Stream) notifyClose(code int, reason string) {
	s.callbackMu.Lock()
	cbs := append([]func(code int, reason string){}, s.closeCallbacks...)
	s.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(code, reason)
	}
}

func (s *Stream) notifyError(err error) {
	s.callbackMu.Lock()
	cbs := append([]func(error){}, s.errorCallbacks...)
	s.callbackMu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("market data stream: not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("market data stream: not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}
