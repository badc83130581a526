// Package broker defines the venue-agnostic broker interface every
// execution backend implements (paper simulator, live venue adapter), plus
// a name-keyed factory for constructing them from configuration.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"polymarket-mm/pkg/types"
)

// Broker is implemented by every execution backend: the paper simulator
// and the live venue adapter alike.
type Broker interface {
	Name() string
	Connect() error
	Disconnect() error
	IsConnected() bool

	PlaceOrder(order *types.Order) (string, error)
	CancelOrder(orderID string) (bool, error)
	GetOrder(orderID string) (types.Order, bool)
	GetOpenOrders() []types.Order

	GetPositions() ([]types.Position, error)
	GetPosition(symbol string) (types.Position, bool)
	GetAccount() (types.Account, error)
	GetQuote(symbol string) (types.Quote, error)
}

// ErrInvalidOrder is returned by ValidateOrder when a structural check
// fails; wrapped with the specific reason.
var ErrInvalidOrder = errors.New("invalid order")

// ValidateOrder runs the same basic structural checks every broker needs
// before submission. Call this from PlaceOrder, or call it directly — it
// has no broker-specific state.
func ValidateOrder(order types.Order) error {
	if order.Quantity.Sign() <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, order.Quantity)
	}
	if order.Type == types.OrderTypeLimit && (order.Price == nil || order.Price.Sign() <= 0) {
		return fmt.Errorf("%w: limit order requires a positive price", ErrInvalidOrder)
	}
	if (order.Type == types.OrderTypeStop || order.Type == types.OrderTypeStopLimit) &&
		(order.StopPrice == nil || order.StopPrice.Sign() <= 0) {
		return fmt.Errorf("%w: stop order requires a positive stop price", ErrInvalidOrder)
	}
	return nil
}

// Connection tracks the connected and authenticated state shared by broker
// implementations.
type Connection struct {
	mu            sync.RWMutex
	name          string
	connected     bool
	authenticated bool
}

// NewConnection creates a connection tracker for a broker named name.
func NewConnection(name string) *Connection {
	return &Connection{name: name}
}

func (c *Connection) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Connection) SetAuthenticated(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = v
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// Factory constructs Broker instances by name from configuration.
type Factory struct {
	mu        sync.Mutex
	logger    *slog.Logger
	factories map[string]func(name string, config map[string]any) (Broker, error)
}

// NewFactory creates an empty broker factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		logger:    logger.With("component", "broker.factory"),
		factories: make(map[string]func(string, map[string]any) (Broker, error)),
	}
}

// Register adds a named broker constructor.
func (f *Factory) Register(name string, constructor func(name string, config map[string]any) (Broker, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[name] = constructor
	f.logger.Info("registered broker", "name", name)
}

// Create instantiates the broker registered under name.
func (f *Factory) Create(name string, config map[string]any) (Broker, error) {
	f.mu.Lock()
	constructor, ok := f.factories[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown broker %q, available: %v", name, f.ListBrokers())
	}
	return constructor(name, config)
}

// ListBrokers returns the names of every registered broker constructor.
func (f *Factory) ListBrokers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.factories))
	for name := range f.factories {
		out = append(out, name)
	}
	return out
}
