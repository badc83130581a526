// Package validator implements stateless, structural order validation: pure
// cheap synchronous rules composed into a single check. It never touches
// external state (no broker calls, no account lookups) — that is the risk
// supervisor's job.
package validator

import (
	"polymarket-mm/pkg/types"
)

// Rule checks one structural property of an order. It returns ok=true when
// the order passes, or ok=false with a human-readable reason.
type Rule func(order types.Order) (ok bool, reason string)

// Validator runs a composed list of rules against an order, short-circuiting
// on the first failure.
type Validator struct {
	rules []Rule
}

// New builds a validator with the default rule set plus any extra rules
// supplied by the caller, appended after the defaults.
func New(extra ...Rule) *Validator {
	v := &Validator{
		rules: []Rule{
			ruleQuantityPositive,
			ruleLimitHasPrice,
			ruleStopHasStopPrice,
			ruleSymbolNonEmpty,
		},
	}
	v.rules = append(v.rules, extra...)
	return v
}

// Validate runs every rule in order and returns the first failure, or
// ok=true if all rules pass.
func (v *Validator) Validate(order types.Order) (ok bool, reason string) {
	for _, rule := range v.rules {
		if ok, reason := rule(order); !ok {
			return false, reason
		}
	}
	return true, ""
}

func ruleQuantityPositive(order types.Order) (bool, string) {
	if order.Quantity.Sign() <= 0 {
		return false, "quantity must be positive"
	}
	return true, ""
}

func ruleLimitHasPrice(order types.Order) (bool, string) {
	if order.Type == types.OrderTypeLimit && (order.Price == nil || order.Price.Sign() <= 0) {
		return false, "limit order requires a positive price"
	}
	return true, ""
}

func ruleStopHasStopPrice(order types.Order) (bool, string) {
	if (order.Type == types.OrderTypeStop || order.Type == types.OrderTypeStopLimit) &&
		(order.StopPrice == nil || order.StopPrice.Sign() <= 0) {
		return false, "stop order requires a positive stop price"
	}
	return true, ""
}

func ruleSymbolNonEmpty(order types.Order) (bool, string) {
	if order.Symbol == "" {
		return false, "symbol must not be empty"
	}
	return true, ""
}
