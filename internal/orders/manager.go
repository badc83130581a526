// Package orders implements the central order management system: order
// submission, cancellation, fill processing, and lifecycle tracking, with
// callback fan-out for downstream components (P&L tracker, engine,
// strategies).
package orders

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"polymarket-mm/internal/validator"
	"polymarket-mm/pkg/types"
)

// Broker is the subset of broker behavior the order manager routes through.
// Defined here (rather than imported from internal/broker) so this package
// depends only on the behavior it actually calls.
type Broker interface {
	Name() string
	PlaceOrder(order *types.Order) (string, error)
	CancelOrder(orderID string) (bool, error)
}

// CallbackFunc is invoked for an order or fill lifecycle event. Panics are
// recovered and logged, never propagated to the caller that triggered them.
type CallbackFunc func(args ...any)

// Stats holds running order-manager counters.
type Stats struct {
	OrdersSubmitted int64
	OrdersFilled    int64
	OrdersCancelled int64
	OrdersRejected  int64
	TotalFills      int64
	OpenOrders      int
	TotalOrders     int
	FillRate        float64
}

// Manager is the central order management system for a single broker.
type Manager struct {
	broker           Broker
	validator        *validator.Validator
	enableValidation bool
	logger           *slog.Logger

	mu            sync.Mutex
	orders        map[string]*types.Order
	fills         []types.Fill
	pendingOrders []string
	stats         Stats

	callbacks map[string][]CallbackFunc
}

// New creates an order manager routing to broker.
func New(broker Broker, enableValidation bool, logger *slog.Logger) *Manager {
	return &Manager{
		broker:           broker,
		validator:        validator.New(),
		enableValidation: enableValidation,
		logger:           logger.With("component", "orders", "broker", broker.Name()),
		orders:           make(map[string]*types.Order),
		callbacks:        make(map[string][]CallbackFunc),
	}
}

// RegisterCallback subscribes fn to the named event: order_submitted,
// order_filled, order_cancelled, order_rejected, or fill_received.
func (m *Manager) RegisterCallback(event string, fn CallbackFunc) {
	switch event {
	case "order_submitted", "order_filled", "order_cancelled", "order_rejected", "fill_received":
		m.mu.Lock()
		m.callbacks[event] = append(m.callbacks[event], fn)
		m.mu.Unlock()
	default:
		m.logger.Warn("unknown callback event", "event", event)
	}
}

// SubmitOrder validates, assigns an ID if absent, and routes order to the
// broker. It returns the assigned order ID, or an error if validation or
// broker submission fails. In both failure cases the order is tracked with
// OrderStatusRejected so callers can inspect why.
func (m *Manager) SubmitOrder(order types.Order) (string, error) {
	if order.ID == "" {
		order.ID = "oms_" + uuid.NewString()
	}

	if m.enableValidation {
		if ok, reason := m.validator.Validate(order); !ok {
			order.Status = types.OrderStatusRejected
			m.mu.Lock()
			m.orders[order.ID] = &order
			m.stats.OrdersRejected++
			m.mu.Unlock()
			m.fire("order_rejected", order, reason)
			m.logger.Error("order validation failed", "order_id", order.ID, "reason", reason)
			return "", fmt.Errorf("order %s rejected: %s", order.ID, reason)
		}
	}

	brokerOrderID, err := m.broker.PlaceOrder(&order)
	if err != nil || brokerOrderID == "" {
		reason := "broker rejected order"
		if err != nil {
			reason = err.Error()
		}
		order.Status = types.OrderStatusRejected
		m.mu.Lock()
		m.orders[order.ID] = &order
		m.stats.OrdersRejected++
		m.mu.Unlock()
		m.fire("order_rejected", order, reason)
		m.logger.Error("order submission failed", "order_id", order.ID, "reason", reason)
		return "", fmt.Errorf("order %s rejected: %s", order.ID, reason)
	}

	m.mu.Lock()
	m.orders[order.ID] = &order
	if order.IsOpen() {
		m.pendingOrders = append(m.pendingOrders, order.ID)
	}
	m.stats.OrdersSubmitted++
	m.mu.Unlock()

	m.fire("order_submitted", order)
	m.logger.Info("order submitted", "order_id", order.ID, "side", order.Side, "quantity", order.Quantity, "symbol", order.Symbol)
	return order.ID, nil
}

// CancelOrder cancels an open order by ID.
func (m *Manager) CancelOrder(orderID string) error {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if !order.IsOpen() {
		return fmt.Errorf("cannot cancel order %s in status %s", orderID, order.Status)
	}

	ok, err := m.broker.CancelOrder(orderID)
	if err != nil {
		m.logger.Error("error cancelling order", "order_id", orderID, "error", err)
		return err
	}
	if !ok {
		return fmt.Errorf("broker failed to cancel order: %s", orderID)
	}

	m.mu.Lock()
	order.Status = types.OrderStatusCancelled
	m.removePendingLocked(orderID)
	m.stats.OrdersCancelled++
	m.mu.Unlock()

	m.fire("order_cancelled", *order)
	m.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

// ProcessFill applies fill to its order (VWAP update, status transition)
// and appends it to the fill log. The order's VWAP is recomputed from the
// previous average after filled quantity is incremented, matching the
// source's arithmetic ordering exactly.
func (m *Manager) ProcessFill(fill types.Fill) {
	m.mu.Lock()
	m.fills = append(m.fills, fill)
	m.stats.TotalFills++

	order, tracked := m.orders[fill.OrderID]
	if tracked {
		previousFilled := order.FilledQuantity
		order.FilledQuantity = order.FilledQuantity.Add(fill.Quantity)

		if order.FilledQuantity.Sign() > 0 {
			totalValue := order.AvgFillPrice.Mul(previousFilled)
			totalValue = totalValue.Add(fill.Price.Mul(fill.Quantity))
			order.AvgFillPrice = totalValue.Div(order.FilledQuantity)
		}

		if order.FilledQuantity.Cmp(order.Quantity) >= 0 {
			order.Status = types.OrderStatusFilled
			ts := fill.Timestamp
			order.FilledAt = &ts
			m.removePendingLocked(fill.OrderID)
			m.stats.OrdersFilled++
		} else {
			order.Status = types.OrderStatusPartiallyFilled
		}
	}
	m.mu.Unlock()

	if tracked {
		snapshot := *order
		if snapshot.Status == types.OrderStatusFilled {
			m.fire("order_filled", snapshot)
			m.logger.Info("order filled", "order_id", fill.OrderID, "quantity", fill.Quantity, "price", fill.Price)
		} else {
			m.logger.Info("partial fill", "order_id", fill.OrderID, "quantity", fill.Quantity, "price", fill.Price)
		}
	}

	m.fire("fill_received", fill)
}

// removePendingLocked drops orderID from the pending list. Caller must hold m.mu.
func (m *Manager) removePendingLocked(orderID string) {
	for i, id := range m.pendingOrders {
		if id == orderID {
			m.pendingOrders = append(m.pendingOrders[:i], m.pendingOrders[i+1:]...)
			return
		}
	}
}

// GetOrder returns the tracked order by ID, if any.
func (m *Manager) GetOrder(orderID string) (types.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// GetOpenOrders returns every order currently pending.
func (m *Manager) GetOpenOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Order, 0, len(m.pendingOrders))
	for _, id := range m.pendingOrders {
		if order, ok := m.orders[id]; ok {
			out = append(out, *order)
		}
	}
	return out
}

// GetFilledOrders returns every order in OrderStatusFilled.
func (m *Manager) GetFilledOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Order
	for _, order := range m.orders {
		if order.Status == types.OrderStatusFilled {
			out = append(out, *order)
		}
	}
	return out
}

// GetFills returns every recorded fill, optionally filtered to one order ID.
func (m *Manager) GetFills(orderID string) []types.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	if orderID == "" {
		out := make([]types.Fill, len(m.fills))
		copy(out, m.fills)
		return out
	}
	var out []types.Fill
	for _, f := range m.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out
}

// GetStatistics returns a snapshot of running counters plus derived metrics.
func (m *Manager) GetStatistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.OpenOrders = len(m.pendingOrders)
	s.TotalOrders = len(m.orders)
	if s.OrdersSubmitted > 0 {
		s.FillRate = float64(s.OrdersFilled) / float64(s.OrdersSubmitted)
	}
	return s
}

// Reset clears all tracked orders, fills, and statistics.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[string]*types.Order)
	m.fills = nil
	m.pendingOrders = nil
	m.stats = Stats{}
	m.logger.Info("order manager reset")
}

func (m *Manager) fire(event string, args ...any) {
	m.mu.Lock()
	handlers := append([]CallbackFunc(nil), m.callbacks[event]...)
	m.mu.Unlock()
	for _, h := range handlers {
		m.safeCall(h, args...)
	}
}

func (m *Manager) safeCall(fn CallbackFunc, args ...any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in order manager callback", "recover", r)
		}
	}()
	fn(args...)
}
