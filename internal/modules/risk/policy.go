package risk

import (
	"errors"
	"time"
)

// Policy is the closed catalogue of risk rules and safety intervals.
// It is built once at startup and passed to the components that need it.
// No other package may hardcode a financial limit.
type Policy struct {
	MarginUsage      Rule[float64]
	MarginReq        Rule[float64]
	LoanAmount       Rule[float64]
	Misallocation    Rule[float64]
	OrderSize        Rule[int]
	OrderTotal       Rule[float64]
	MisallocDollars  Rule[int]
	RebalanceTrigger Rule[float64]
	ATHMarginUse     Rule[float64]
	DrawdownCoef     Rule[float64]

	// OrderCooloff is how long a finished instrument stays untradeable.
	OrderCooloff time.Duration
	// MaxPricingAge is the oldest price sample the rebalancer will act on.
	MaxPricingAge time.Duration
	// MaxAccountAge is the oldest account summary the rebalancer will act on.
	MaxAccountAge time.Duration
	// MarginTargetEpsilon keeps the target margin utilization strictly
	// under the margin usage block level.
	MarginTargetEpsilon float64
}

// DefaultPolicy returns the production catalogue.
func DefaultPolicy() *Policy {
	return &Policy{
		MarginUsage:      NewMax("MARGIN USAGE", 0.80, 0.60, 0.40, "High margin usage."),
		MarginReq:        NewMin("MARGIN REQ", 0.15, 0.20, 0.25, "Low margin requirement."),
		LoanAmount:       NewMax("LOAN AMOUNT", 100_000.0, 75_000.0, 50_000.0, "Large loan size."),
		Misallocation:    NewMax("MISALLOCATION", 3e-3, 1e-3, 3e-4, "Misallocated portfolio."),
		OrderSize:        NewMax("ORDER SIZE", 250, 100, 50, "Large order size."),
		OrderTotal:       NewMax("ORDER TOTAL", 50_000.0, 5_000.0, 1_000.0, "Large order amount."),
		MisallocDollars:  NewMin("MISALLOC $ MIN", 200, 400, 600, "Small dollar rebalance threshold."),
		RebalanceTrigger: NewMin("REBALANCE TRIGGER % MIN", 0.5, 0.75, 1.0, "Small rebalance trigger."),
		ATHMarginUse:     NewMax("ATH MARGIN USE", 0.3, 0.2, 0.0, "High ATH margin usage."),
		DrawdownCoef:     NewMax("DRAWDOWN COEFFICIENT", 2.0, 1.5, 0.5, "High drawdown coefficient."),

		OrderCooloff:        55 * time.Second,
		MaxPricingAge:       20 * time.Second,
		MaxAccountAge:       120 * time.Second,
		MarginTargetEpsilon: 0.01,
	}
}

// Check verifies the level ordering of every rule in the catalogue.
func (p *Policy) Check() error {
	return errors.Join(
		p.MarginUsage.Check(),
		p.MarginReq.Check(),
		p.LoanAmount.Check(),
		p.Misallocation.Check(),
		p.OrderSize.Check(),
		p.OrderTotal.Check(),
		p.MisallocDollars.Check(),
		p.RebalanceTrigger.Check(),
		p.ATHMarginUse.Check(),
		p.DrawdownCoef.Check(),
	)
}

// MarginTargetCeiling is the highest margin utilization the rebalancer may aim for.
func (p *Policy) MarginTargetCeiling() float64 {
	return p.MarginUsage.Block - p.MarginTargetEpsilon
}
