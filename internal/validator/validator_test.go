package validator

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func baseOrder() types.Order {
	return types.Order{
		Symbol:   "AAPL",
		Side:     types.Buy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	}
}

func TestValidateAcceptsGoodMarketOrder(t *testing.T) {
	t.Parallel()

	v := New()
	ok, reason := v.Validate(baseOrder())
	if !ok {
		t.Fatalf("expected order to pass, got reason %q", reason)
	}
}

func TestValidateRejectsZeroQuantity(t *testing.T) {
	t.Parallel()

	order := baseOrder()
	order.Quantity = decimal.Zero

	v := New()
	ok, reason := v.Validate(order)
	if ok {
		t.Fatal("expected rejection for zero quantity")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestValidateRejectsLimitWithoutPrice(t *testing.T) {
	t.Parallel()

	order := baseOrder()
	order.Type = types.OrderTypeLimit

	v := New()
	ok, _ := v.Validate(order)
	if ok {
		t.Fatal("expected rejection for limit order without price")
	}
}

func TestValidateRejectsStopWithoutStopPrice(t *testing.T) {
	t.Parallel()

	order := baseOrder()
	order.Type = types.OrderTypeStop

	v := New()
	ok, _ := v.Validate(order)
	if ok {
		t.Fatal("expected rejection for stop order without stop price")
	}
}

func TestValidateRejectsEmptySymbol(t *testing.T) {
	t.Parallel()

	order := baseOrder()
	order.Symbol = ""

	v := New()
	ok, _ := v.Validate(order)
	if ok {
		t.Fatal("expected rejection for empty symbol")
	}
}

func TestValidateRunsExtraRules(t *testing.T) {
	t.Parallel()

	called := false
	extra := func(order types.Order) (bool, string) {
		called = true
		return false, "custom rejection"
	}

	v := New(extra)
	ok, reason := v.Validate(baseOrder())
	if ok || !called {
		t.Fatalf("expected extra rule to run and reject, got ok=%v called=%v", ok, called)
	}
	if reason != "custom rejection" {
		t.Fatalf("got reason %q", reason)
	}
}
