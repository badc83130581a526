package orders

import (
	"fmt"
	"log/slog"
	"sync"

	"polymarket-mm/pkg/types"
)

// MultiManager routes orders across several brokers, each with its own
// Manager, selecting a default broker when the caller doesn't name one.
type MultiManager struct {
	logger *slog.Logger

	mu             sync.Mutex
	managers       map[string]*Manager
	defaultBroker  string
	enableValidate bool
}

// NewMulti creates an empty multi-broker order manager.
func NewMulti(logger *slog.Logger) *MultiManager {
	return &MultiManager{
		logger:         logger.With("component", "orders.multi"),
		managers:       make(map[string]*Manager),
		enableValidate: true,
	}
}

// AddBroker registers broker under name, creating a dedicated Manager for
// it. The first broker added becomes the default; setAsDefault overrides
// that for any later addition.
func (mm *MultiManager) AddBroker(name string, broker Broker, setAsDefault bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.managers[name] = New(broker, mm.enableValidate, mm.logger)
	if setAsDefault || mm.defaultBroker == "" {
		mm.defaultBroker = name
	}
	mm.logger.Info("added broker", "name", name)
}

// SubmitOrder routes order to the named broker, or the default broker if
// brokerName is empty.
func (mm *MultiManager) SubmitOrder(order types.Order, brokerName string) (string, error) {
	if brokerName == "" {
		mm.mu.Lock()
		brokerName = mm.defaultBroker
		mm.mu.Unlock()
	}

	mm.mu.Lock()
	manager, ok := mm.managers[brokerName]
	mm.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown broker: %s", brokerName)
	}
	return manager.SubmitOrder(order)
}

// GetManager returns the Manager for brokerName, if registered.
func (mm *MultiManager) GetManager(brokerName string) (*Manager, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	m, ok := mm.managers[brokerName]
	return m, ok
}

// GetAllOpenOrders returns open orders from every registered broker, keyed
// by broker name.
func (mm *MultiManager) GetAllOpenOrders() map[string][]types.Order {
	mm.mu.Lock()
	snapshot := make(map[string]*Manager, len(mm.managers))
	for name, m := range mm.managers {
		snapshot[name] = m
	}
	mm.mu.Unlock()

	out := make(map[string][]types.Order, len(snapshot))
	for name, m := range snapshot {
		out[name] = m.GetOpenOrders()
	}
	return out
}

// GetCombinedStatistics sums numeric statistics across every broker.
func (mm *MultiManager) GetCombinedStatistics() Stats {
	mm.mu.Lock()
	snapshot := make([]*Manager, 0, len(mm.managers))
	for _, m := range mm.managers {
		snapshot = append(snapshot, m)
	}
	mm.mu.Unlock()

	var combined Stats
	var totalSubmitted, totalFilled int64
	for _, m := range snapshot {
		s := m.GetStatistics()
		combined.OrdersSubmitted += s.OrdersSubmitted
		combined.OrdersFilled += s.OrdersFilled
		combined.OrdersCancelled += s.OrdersCancelled
		combined.OrdersRejected += s.OrdersRejected
		combined.TotalFills += s.TotalFills
		combined.OpenOrders += s.OpenOrders
		combined.TotalOrders += s.TotalOrders
		totalSubmitted += s.OrdersSubmitted
		totalFilled += s.OrdersFilled
	}
	if totalSubmitted > 0 {
		combined.FillRate = float64(totalFilled) / float64(totalSubmitted)
	}
	return combined
}
