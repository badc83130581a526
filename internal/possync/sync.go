// Package possync reconciles locally tracked positions against the
// broker's authoritative view, surfacing and optionally auto-resolving
// discrepancies.
package possync

import (
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// DiscrepancyType classifies a single position disagreement.
type DiscrepancyType string

const (
	MissingLocal     DiscrepancyType = "missing_local"     // broker has it, local doesn't
	MissingBroker    DiscrepancyType = "missing_broker"     // local has it, broker doesn't
	QuantityMismatch DiscrepancyType = "quantity_mismatch"
	PriceMismatch    DiscrepancyType = "price_mismatch"
)

// quantityTolerance is the absolute floating-point slop allowed before two
// quantities are considered mismatched.
const quantityTolerance = 0.001

// Discrepancy is one detected disagreement between local and broker state.
type Discrepancy struct {
	Symbol         string
	Type           DiscrepancyType
	LocalQuantity  float64
	BrokerQuantity float64
	LocalPrice     *float64
	BrokerPrice    *float64
	Timestamp      time.Time
	Resolved       bool
}

// Report is the outcome of a single synchronization pass.
type Report struct {
	Timestamp            time.Time
	TotalPositionsLocal  int
	TotalPositionsBroker int
	Discrepancies        []Discrepancy
	Synced               bool
}

// HasDiscrepancies reports whether any discrepancy remains unresolved.
func (r Report) HasDiscrepancies() bool {
	for _, d := range r.Discrepancies {
		if !d.Resolved {
			return true
		}
	}
	return false
}

// BrokerPositions is the subset of broker behavior the synchronizer needs.
type BrokerPositions interface {
	GetPositions() ([]types.Position, error)
}

// Synchronizer compares a local symbol->quantity map against broker
// positions and detects/reconciles discrepancies.
type Synchronizer struct {
	broker        BrokerPositions
	autoReconcile bool
	tolerance     float64 // relative price tolerance, e.g. 0.01 = 1%
	logger        *slog.Logger

	mu               sync.Mutex
	history          []Report
	syncCount        int
	discrepancyCount int
}

// maxHistorySize bounds the in-memory reconciliation history kept by a
// Synchronizer. The source's reconciliation_history list grows without
// limit for the life of the process; since this engine is meant to run
// continuously, the oldest reports are trimmed once the cap is reached
// rather than kept forever.
const maxHistorySize = 500

// New creates a position synchronizer. tolerance is the relative price
// mismatch tolerance (default 0.01 if zero).
func New(broker BrokerPositions, autoReconcile bool, tolerance float64, logger *slog.Logger) *Synchronizer {
	if tolerance == 0 {
		tolerance = 0.01
	}
	return &Synchronizer{
		broker:        broker,
		autoReconcile: autoReconcile,
		tolerance:     tolerance,
		logger:        logger.With("component", "possync"),
	}
}

// SyncPositions compares localPositions (symbol->quantity) and optional
// localPrices (symbol->average price) against the broker's current
// positions, returning a reconciliation report. When auto-reconcile is
// enabled, localPositions is mutated in place to resolve every
// discrepancy except PriceMismatch, which is reported but never
// auto-resolved.
func (s *Synchronizer) SyncPositions(localPositions map[string]float64, localPrices map[string]float64) Report {
	s.mu.Lock()
	s.syncCount++
	s.mu.Unlock()

	brokerPositions := s.getBrokerPositions()
	brokerBySymbol := make(map[string]types.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerBySymbol[p.Symbol] = p
	}

	var discrepancies []Discrepancy
	now := time.Now()

	for symbol, quantity := range localPositions {
		if quantity == 0 {
			continue
		}

		brokerPos, ok := brokerBySymbol[symbol]
		if !ok {
			discrepancies = append(discrepancies, Discrepancy{
				Symbol:         symbol,
				Type:           MissingBroker,
				LocalQuantity:  quantity,
				BrokerQuantity: 0,
				Timestamp:      now,
			})
			continue
		}

		brokerQty, _ := brokerPos.Quantity.Float64()
		brokerPrice, _ := brokerPos.AvgPrice.Float64()

		if abs(brokerQty-quantity) > quantityTolerance {
			d := Discrepancy{
				Symbol:         symbol,
				Type:           QuantityMismatch,
				LocalQuantity:  quantity,
				BrokerQuantity: brokerQty,
				BrokerPrice:    &brokerPrice,
				Timestamp:      now,
			}
			if lp, ok := localPrices[symbol]; ok {
				d.LocalPrice = &lp
			}
			discrepancies = append(discrepancies, d)
		}

		if localPrice, ok := localPrices[symbol]; ok && brokerPrice != 0 {
			if abs(brokerPrice-localPrice)/brokerPrice > s.tolerance {
				discrepancies = append(discrepancies, Discrepancy{
					Symbol:         symbol,
					Type:           PriceMismatch,
					LocalQuantity:  quantity,
					BrokerQuantity: brokerQty,
					LocalPrice:     &localPrice,
					BrokerPrice:    &brokerPrice,
					Timestamp:      now,
				})
			}
		}
	}

	for symbol, brokerPos := range brokerBySymbol {
		brokerQty, _ := brokerPos.Quantity.Float64()
		if brokerQty == 0 {
			continue
		}
		if q, ok := localPositions[symbol]; !ok || q == 0 {
			brokerPrice, _ := brokerPos.AvgPrice.Float64()
			discrepancies = append(discrepancies, Discrepancy{
				Symbol:         symbol,
				Type:           MissingLocal,
				LocalQuantity:  0,
				BrokerQuantity: brokerQty,
				BrokerPrice:    &brokerPrice,
				Timestamp:      now,
			})
		}
	}

	localCount := 0
	for _, q := range localPositions {
		if q != 0 {
			localCount++
		}
	}
	brokerCount := 0
	for _, p := range brokerPositions {
		if !p.Quantity.IsZero() {
			brokerCount++
		}
	}

	report := Report{
		Timestamp:            now,
		TotalPositionsLocal:  localCount,
		TotalPositionsBroker: brokerCount,
		Discrepancies:        discrepancies,
		Synced:               len(discrepancies) == 0,
	}

	if report.Synced {
		s.logger.Info("positions synced", "broker_positions", brokerCount)
	} else {
		s.logger.Warn("position discrepancies found", "count", len(discrepancies))
		for _, d := range discrepancies {
			s.logger.Warn("discrepancy", "symbol", d.Symbol, "type", d.Type, "local", d.LocalQuantity, "broker", d.BrokerQuantity)
		}
		s.mu.Lock()
		s.discrepancyCount += len(discrepancies)
		s.mu.Unlock()
	}

	if s.autoReconcile && !report.Synced {
		s.reconcile(localPositions, report.Discrepancies)
	}

	s.mu.Lock()
	s.history = append(s.history, report)
	if len(s.history) > maxHistorySize {
		s.history = s.history[len(s.history)-maxHistorySize:]
	}
	s.mu.Unlock()

	return report
}

// reconcile mutates localPositions in place, resolving every discrepancy
// except PriceMismatch (which requires manual review) in the report's own
// Discrepancy slice.
func (s *Synchronizer) reconcile(localPositions map[string]float64, discrepancies []Discrepancy) {
	s.logger.Info("auto-reconciling position discrepancies")

	resolved := 0
	for i := range discrepancies {
		d := &discrepancies[i]
		switch d.Type {
		case MissingLocal:
			localPositions[d.Symbol] = d.BrokerQuantity
			d.Resolved = true
			resolved++
		case MissingBroker:
			localPositions[d.Symbol] = 0
			d.Resolved = true
			resolved++
		case QuantityMismatch:
			localPositions[d.Symbol] = d.BrokerQuantity
			d.Resolved = true
			resolved++
		case PriceMismatch:
			s.logger.Warn("price mismatch needs manual review", "symbol", d.Symbol)
		}
	}

	s.logger.Info("reconciliation complete", "resolved", resolved, "total", len(discrepancies))
}

// ForceSyncFromBroker replaces every entry in localPositions with the
// broker's authoritative quantities, discarding anything not reported by
// the broker.
func (s *Synchronizer) ForceSyncFromBroker(localPositions map[string]float64) {
	s.logger.Warn("force syncing from broker: overwriting all local positions")

	brokerPositions := s.getBrokerPositions()
	for k := range localPositions {
		delete(localPositions, k)
	}
	for _, p := range brokerPositions {
		if !p.Quantity.IsZero() {
			qty, _ := p.Quantity.Float64()
			localPositions[p.Symbol] = qty
		}
	}

	s.logger.Info("force sync complete", "positions", len(localPositions))
}

// Statistics summarizes running synchronizer counters.
type Statistics struct {
	SyncCount        int
	TotalDiscrepancy int
	LastSync         *time.Time
	LastSyncSynced   bool
}

// GetStatistics returns synchronizer-wide counters.
func (s *Synchronizer) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		SyncCount:        s.syncCount,
		TotalDiscrepancy: s.discrepancyCount,
	}
	if len(s.history) > 0 {
		last := s.history[len(s.history)-1]
		ts := last.Timestamp
		stats.LastSync = &ts
		stats.LastSyncSynced = last.Synced
	}
	return stats
}

// GetRecentReports returns up to count of the most recent reconciliation
// reports, most recent last.
func (s *Synchronizer) GetRecentReports(count int) []Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count <= 0 || count > len(s.history) {
		count = len(s.history)
	}
	out := make([]Report, count)
	copy(out, s.history[len(s.history)-count:])
	return out
}

func (s *Synchronizer) getBrokerPositions() []types.Position {
	positions, err := s.broker.GetPositions()
	if err != nil {
		s.logger.Error("failed to get broker positions", "error", err)
		return nil
	}
	return positions
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
