package risk

import "polymarket-mm/pkg/types"

// DefaultLimits returns the risk limits used when none are supplied, mirroring
// the defaults of the live trading module this supervisor is grounded on.
func DefaultLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:    10000.0,
		MaxPositionPct:     0.10,
		MaxLeverage:        1.0,
		MaxPortfolioRisk:   0.20,
		MaxDrawdown:        0.10,
		MaxDailyLoss:       1000.0,
		MaxDailyLossPct:    0.02,
		MaxTotalExposure:   100000.0,
		MaxLongExposure:    100000.0,
		MaxShortExposure:   50000.0,
		MaxOrdersPerSecond: 10,
		MaxOrdersPerMinute: 100,
		UseStopLoss:        true,
		DefaultStopLossPct: 0.05,
	}
}
