// Package broker defines the venue-agnostic broker interface every
// execution backend implements (paper simulator, live venue adapter), plus
// a name-keyed factory for constructing them from configuration.
//
// venue.go is the live REST adapter: it wraps a resty HTTP client with
// retry, per-category rate limiting, and HMAC request signing, and
// translates the generic Order/Fill/Position/Account/Quote vocabulary of
// pkg/types onto a JSON REST venue's wire shapes.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// VenueConfig configures a live venue adapter.
type VenueConfig struct {
	Name               string
	BaseURL            string
	APIKey             string
	APISecret          string
	MinRequestInterval time.Duration // minimum spacing between requests
	DryRun             bool          // mutating calls return synthetic success without hitting the network
}

// wire payload/response shapes — deliberately minimal, generic REST JSON.

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type positionWire struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

type accountWire struct {
	AccountID      string  `json:"account_id"`
	Cash           float64 `json:"cash"`
	Equity         float64 `json:"equity"`
	BuyingPower    float64 `json:"buying_power"`
	PositionsValue float64 `json:"positions_value"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	RealizedPnL    float64 `json:"realized_pnl"`
}

type quoteWire struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Venue is a live REST broker adapter.
type Venue struct {
	name   string
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	conn   *Connection
	dryRun bool
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]types.Order
}

// NewVenue builds a live venue adapter from config.
func NewVenue(cfg VenueConfig, logger *slog.Logger) *Venue {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Venue{
		name:   cfg.Name,
		http:   httpClient,
		auth:   NewAuth(Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret}),
		rl:     NewRateLimiter(cfg.MinRequestInterval),
		conn:   NewConnection(cfg.Name),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "broker.venue", "venue", cfg.Name),
		orders: make(map[string]types.Order),
	}
}

var _ Broker = (*Venue)(nil)

func (v *Venue) Name() string { return v.name }

// Connect verifies credentials are present and marks the adapter ready.
// It does not perform a network round trip: the first GetAccount call is
// the real liveness check, matching the paper broker's idempotent,
// side-effect-free Connect.
func (v *Venue) Connect() error {
	if !v.dryRun && !v.auth.HasCredentials() {
		return fmt.Errorf("broker %s: missing API credentials", v.name)
	}
	v.conn.SetConnected(true)
	v.conn.SetAuthenticated(true)
	v.logger.Info("venue connected", "dry_run", v.dryRun)
	return nil
}

func (v *Venue) Disconnect() error {
	v.conn.SetConnected(false)
	v.conn.SetAuthenticated(false)
	return nil
}

func (v *Venue) IsConnected() bool { return v.conn.IsConnected() }

// do issues a signed, rate-limited request and decodes the JSON result
// into out (if non-nil).
func (v *Venue) do(ctx context.Context, bucket *TokenBucket, method, path string, body any, out any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyStr = string(raw)
	}

	headers, err := v.auth.Headers(method, path, bodyStr)
	if err != nil {
		return err
	}

	req := v.http.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return nil
}

// PlaceOrder submits order to the venue and tracks it locally for
// GetOrder/GetOpenOrders until a fill or cancel confirmation arrives.
func (v *Venue) PlaceOrder(order *types.Order) (string, error) {
	if err := ValidateOrder(*order); err != nil {
		order.Status = types.OrderStatusRejected
		return "", err
	}

	qty, _ := order.Quantity.Float64()
	req := orderRequest{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Quantity:      qty,
	}
	if order.Price != nil {
		req.Price, _ = order.Price.Float64()
	}
	if order.StopPrice != nil {
		req.StopPrice, _ = order.StopPrice.Float64()
	}

	now := time.Now()

	if v.dryRun {
		orderID := "dry-run-" + order.ID
		order.Status = types.OrderStatusSubmitted
		order.SubmittedAt = &now
		v.track(orderID, *order)
		v.logger.Info("dry-run: would place order", "order_id", orderID, "symbol", order.Symbol)
		return orderID, nil
	}

	var resp orderResponse
	if err := v.do(context.Background(), v.rl.Order, http.MethodPost, "/orders", req, &resp); err != nil {
		order.Status = types.OrderStatusRejected
		return "", err
	}

	order.Status = types.OrderStatusSubmitted
	order.SubmittedAt = &now
	v.track(resp.OrderID, *order)
	return resp.OrderID, nil
}

func (v *Venue) track(orderID string, order types.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders[orderID] = order
}

// CancelOrder requests cancellation of orderID.
func (v *Venue) CancelOrder(orderID string) (bool, error) {
	v.mu.Lock()
	order, ok := v.orders[orderID]
	v.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown order %q", orderID)
	}
	if !order.IsOpen() {
		return false, fmt.Errorf("order %q is not open (status %s)", orderID, order.Status)
	}

	if v.dryRun {
		order.Status = types.OrderStatusCancelled
		v.track(orderID, order)
		return true, nil
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	if err := v.do(context.Background(), v.rl.Cancel, http.MethodDelete, path, nil, nil); err != nil {
		return false, err
	}
	order.Status = types.OrderStatusCancelled
	v.track(orderID, order)
	return true, nil
}

func (v *Venue) GetOrder(orderID string) (types.Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	order, ok := v.orders[orderID]
	return order, ok
}

func (v *Venue) GetOpenOrders() []types.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	open := make([]types.Order, 0)
	for _, o := range v.orders {
		if o.IsOpen() {
			open = append(open, o)
		}
	}
	return open
}

func (v *Venue) GetPositions() ([]types.Position, error) {
	var wire []positionWire
	if err := v.do(context.Background(), v.rl.Quote, http.MethodGet, "/positions", nil, &wire); err != nil {
		return nil, err
	}
	positions := make([]types.Position, 0, len(wire))
	for _, p := range wire {
		positions = append(positions, types.Position{
			Symbol:        p.Symbol,
			Quantity:      decimal.NewFromFloat(p.Quantity),
			AvgPrice:      decimal.NewFromFloat(p.AvgPrice),
			CurrentPrice:  decimal.NewFromFloat(p.CurrentPrice),
			MarketValue:   decimal.NewFromFloat(p.Quantity * p.CurrentPrice),
			UnrealizedPnL: decimal.NewFromFloat(p.UnrealizedPnL),
			RealizedPnL:   decimal.NewFromFloat(p.RealizedPnL),
		})
	}
	return positions, nil
}

func (v *Venue) GetPosition(symbol string) (types.Position, bool) {
	positions, err := v.GetPositions()
	if err != nil {
		return types.Position{}, false
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return types.Position{}, false
}

func (v *Venue) GetAccount() (types.Account, error) {
	var wire accountWire
	if err := v.do(context.Background(), v.rl.Quote, http.MethodGet, "/account", nil, &wire); err != nil {
		return types.Account{}, err
	}
	return types.Account{
		AccountID:      wire.AccountID,
		Cash:           decimal.NewFromFloat(wire.Cash),
		Equity:         decimal.NewFromFloat(wire.Equity),
		BuyingPower:    decimal.NewFromFloat(wire.BuyingPower),
		PositionsValue: decimal.NewFromFloat(wire.PositionsValue),
		UnrealizedPnL:  decimal.NewFromFloat(wire.UnrealizedPnL),
		RealizedPnL:    decimal.NewFromFloat(wire.RealizedPnL),
	}, nil
}

func (v *Venue) GetQuote(symbol string) (types.Quote, error) {
	var wire quoteWire
	path := fmt.Sprintf("/quote?symbol=%s", symbol)
	if err := v.do(context.Background(), v.rl.Quote, http.MethodGet, path, nil, &wire); err != nil {
		return types.Quote{}, err
	}
	return types.Quote{
		Bid:  decimal.NewFromFloat(wire.Bid),
		Ask:  decimal.NewFromFloat(wire.Ask),
		Last: decimal.NewFromFloat(wire.Last),
	}, nil
}
