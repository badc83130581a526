package broker

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// PaperConfig configures the paper trading simulator.
type PaperConfig struct {
	InitialCapital   float64
	CommissionRate   float64 // fraction, e.g. 0.001 == 0.1%
	SlippageRate     float64 // fraction
	MarketImpactRate float64 // fraction
}

// DefaultPaperConfig mirrors the source's defaults.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialCapital:   100000.0,
		CommissionRate:   0.001,
		SlippageRate:     0.0005,
		MarketImpactRate: 0.0001,
	}
}

// Paper simulates order execution against locally fed prices: slippage,
// market impact, commission, and position/cash bookkeeping, with no
// network calls.
type Paper struct {
	name   string
	cfg    PaperConfig
	conn   *Connection
	logger *slog.Logger

	mu            sync.Mutex
	cash          float64
	positions     map[string]*types.Position
	orders        map[string]*types.Order
	fills         []types.Fill
	currentPrices map[string]float64
}

// NewPaper creates a paper broker named name with the given configuration.
func NewPaper(name string, cfg PaperConfig, logger *slog.Logger) *Paper {
	return &Paper{
		name:          name,
		cfg:           cfg,
		conn:          NewConnection(name),
		logger:        logger.With("component", "broker.paper", "broker", name),
		cash:          cfg.InitialCapital,
		positions:     make(map[string]*types.Position),
		orders:        make(map[string]*types.Order),
		currentPrices: make(map[string]float64),
	}
}

func (p *Paper) Name() string { return p.name }

// Connect always succeeds; there is no real network endpoint to reach.
func (p *Paper) Connect() error {
	p.conn.SetConnected(true)
	p.conn.SetAuthenticated(true)
	p.logger.Info("connected to paper broker")
	return nil
}

func (p *Paper) Disconnect() error {
	p.conn.SetConnected(false)
	p.conn.SetAuthenticated(false)
	p.logger.Info("disconnected from paper broker")
	return nil
}

func (p *Paper) IsConnected() bool { return p.conn.IsConnected() }

// UpdatePrices feeds new mark prices in, refreshing unrealized P&L and
// market value for every open position in the affected symbols.
func (p *Paper) UpdatePrices(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, price := range prices {
		p.currentPrices[symbol] = price
		if pos, ok := p.positions[symbol]; ok {
			p.markPositionLocked(pos, price)
		}
	}
}

func (p *Paper) markPositionLocked(pos *types.Position, price float64) {
	qty, _ := pos.Quantity.Float64()
	avg, _ := pos.AvgPrice.Float64()
	pos.CurrentPrice = decimal.NewFromFloat(price)
	pos.MarketValue = decimal.NewFromFloat(qty * price)
	pos.UnrealizedPnL = decimal.NewFromFloat((price - avg) * qty)
}

// PlaceOrder submits order for simulated execution. Market orders execute
// immediately; limit/stop orders are parked as Pending (this simulator has
// no resting-order matching engine — see SPEC_FULL.md's Non-goals).
func (p *Paper) PlaceOrder(order *types.Order) (string, error) {
	if !p.IsConnected() {
		return "", fmt.Errorf("not connected to broker %s", p.name)
	}
	if err := ValidateOrder(*order); err != nil {
		order.Status = types.OrderStatusRejected
		return "", err
	}
	if order.ID == "" {
		order.ID = "paper_" + uuid.NewString()
	}

	now := time.Now()
	order.Status = types.OrderStatusSubmitted
	order.SubmittedAt = &now

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	if order.Type == types.OrderTypeMarket {
		if err := p.executeMarketOrder(order); err != nil {
			return order.ID, err
		}
	} else {
		order.Status = types.OrderStatusPending
	}

	p.logger.Info("placed order", "order_id", order.ID, "side", order.Side, "quantity", order.Quantity, "symbol", order.Symbol)
	return order.ID, nil
}

func (p *Paper) executeMarketOrder(order *types.Order) error {
	p.mu.Lock()
	currentPrice, ok := p.currentPrices[order.Symbol]
	p.mu.Unlock()
	if !ok {
		order.Status = types.OrderStatusRejected
		return fmt.Errorf("no price data for %s", order.Symbol)
	}

	qty, _ := order.Quantity.Float64()
	fillPrice := p.calculateFillPrice(currentPrice, order.Side, qty)
	commission := p.calculateCommission(qty, fillPrice)

	if order.Side == types.Buy {
		totalCost := qty*fillPrice + commission
		p.mu.Lock()
		cash := p.cash
		p.mu.Unlock()
		if totalCost > cash {
			order.Status = types.OrderStatusRejected
			return fmt.Errorf("insufficient funds: need %.2f, have %.2f", totalCost, cash)
		}
	}

	fill := types.Fill{
		ID:         "fill_" + uuid.NewString(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(fillPrice),
		Commission: decimal.NewFromFloat(commission),
		Timestamp:  time.Now(),
	}

	p.processFill(fill, order)

	p.logger.Info("executed order", "order_id", order.ID, "quantity", order.Quantity, "fill_price", fillPrice, "commission", commission)
	return nil
}

// calculateFillPrice applies slippage and a log-scaled market-impact
// adjustment: buys fill worse (higher), sells fill worse (lower).
func (p *Paper) calculateFillPrice(currentPrice float64, side types.Side, quantity float64) float64 {
	slippage := currentPrice * p.cfg.SlippageRate
	marketImpact := currentPrice * p.cfg.MarketImpactRate * math.Log(1+quantity/100)

	if side == types.Buy {
		return currentPrice + slippage + marketImpact
	}
	return currentPrice - slippage - marketImpact
}

func (p *Paper) calculateCommission(quantity, price float64) float64 {
	return quantity * price * p.cfg.CommissionRate
}

// processFill applies fill to its order (VWAP, status) and to cash/position
// bookkeeping. VWAP is recomputed after FilledQuantity is incremented,
// exactly as in the simulator this is grounded on.
func (p *Paper) processFill(fill types.Fill, order *types.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fills = append(p.fills, fill)

	previousFilled := order.FilledQuantity
	order.FilledQuantity = order.FilledQuantity.Add(fill.Quantity)
	if order.FilledQuantity.Sign() > 0 {
		totalValue := order.AvgFillPrice.Mul(previousFilled).Add(fill.Price.Mul(fill.Quantity))
		order.AvgFillPrice = totalValue.Div(order.FilledQuantity)
	}

	if order.FilledQuantity.Cmp(order.Quantity) >= 0 {
		order.Status = types.OrderStatusFilled
		ts := fill.Timestamp
		order.FilledAt = &ts
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}

	p.updatePositionLocked(fill)

	fillCost, _ := fill.TotalCost().Float64()
	qty, _ := fill.Quantity.Float64()
	price, _ := fill.Price.Float64()
	commission, _ := fill.Commission.Float64()
	if fill.Side == types.Buy {
		p.cash -= fillCost
	} else {
		p.cash += qty*price - commission
	}
}

// updatePositionLocked applies a weighted-average update on buys and a
// realized-P&L-on-reduce update on sells; a position that nets to zero or
// below is removed. Caller must hold p.mu.
func (p *Paper) updatePositionLocked(fill types.Fill) {
	symbol := fill.Symbol
	qty, _ := fill.Quantity.Float64()
	price, _ := fill.Price.Float64()
	commission, _ := fill.Commission.Float64()

	pos, exists := p.positions[symbol]
	if !exists {
		if fill.Side == types.Buy {
			p.positions[symbol] = &types.Position{
				Symbol:       symbol,
				Quantity:     decimal.NewFromFloat(qty),
				AvgPrice:     decimal.NewFromFloat(price),
				CurrentPrice: decimal.NewFromFloat(price),
				MarketValue:  decimal.NewFromFloat(qty * price),
			}
		}
		return
	}

	posQty, _ := pos.Quantity.Float64()
	posAvg, _ := pos.AvgPrice.Float64()

	if fill.Side == types.Buy {
		totalQty := posQty + qty
		newAvg := (posAvg*posQty + price*qty) / totalQty
		pos.Quantity = decimal.NewFromFloat(totalQty)
		pos.AvgPrice = decimal.NewFromFloat(newAvg)
	} else {
		newQty := posQty - qty
		realized := (price-posAvg)*qty - commission
		pos.RealizedPnL = pos.RealizedPnL.Add(decimal.NewFromFloat(realized))
		pos.Quantity = decimal.NewFromFloat(newQty)

		if newQty <= 0 {
			delete(p.positions, symbol)
			return
		}
	}

	markPrice := price
	if cur, ok := p.currentPrices[symbol]; ok {
		markPrice = cur
	}
	p.markPositionLocked(pos, markPrice)
}

// CancelOrder cancels a Pending or Submitted order.
func (p *Paper) CancelOrder(orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status != types.OrderStatusPending && order.Status != types.OrderStatusSubmitted {
		return false, fmt.Errorf("cannot cancel order in status: %s", order.Status)
	}
	order.Status = types.OrderStatusCancelled
	return true, nil
}

func (p *Paper) GetOrder(orderID string) (types.Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

func (p *Paper) GetOpenOrders() []types.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Order
	for _, order := range p.orders {
		if order.IsOpen() {
			out = append(out, *order)
		}
	}
	return out
}

func (p *Paper) GetPositions() ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *Paper) GetPosition(symbol string) (types.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

func (p *Paper) GetAccount() (types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var positionsValue, unrealized, realized float64
	for _, pos := range p.positions {
		mv, _ := pos.MarketValue.Float64()
		u, _ := pos.UnrealizedPnL.Float64()
		r, _ := pos.RealizedPnL.Float64()
		positionsValue += mv
		unrealized += u
		realized += r
	}

	equity := p.cash + positionsValue

	return types.Account{
		AccountID:      "paper_account",
		Cash:           decimal.NewFromFloat(p.cash),
		Equity:         decimal.NewFromFloat(equity),
		BuyingPower:    decimal.NewFromFloat(p.cash),
		PositionsValue: decimal.NewFromFloat(positionsValue),
		UnrealizedPnL:  decimal.NewFromFloat(unrealized),
		RealizedPnL:    decimal.NewFromFloat(realized),
		InitialCapital: decimal.NewFromFloat(p.cfg.InitialCapital),
	}, nil
}

func (p *Paper) GetQuote(symbol string) (types.Quote, error) {
	p.mu.Lock()
	price, ok := p.currentPrices[symbol]
	p.mu.Unlock()
	if !ok {
		return types.Quote{}, fmt.Errorf("no price data for %s", symbol)
	}

	spread := price * 0.0001
	return types.Quote{
		Bid:  decimal.NewFromFloat(price - spread/2),
		Ask:  decimal.NewFromFloat(price + spread/2),
		Last: decimal.NewFromFloat(price),
	}, nil
}

// Reset restores the broker to its initial capital with no positions,
// orders, fills, or prices.
func (p *Paper) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.cfg.InitialCapital
	p.positions = make(map[string]*types.Position)
	p.orders = make(map[string]*types.Order)
	p.fills = nil
	p.currentPrices = make(map[string]float64)
	p.logger.Info("reset paper broker to initial state")
}

var _ Broker = (*Paper)(nil)
