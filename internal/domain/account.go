package domain

import (
	"math"
	"time"
)

// Account summary tags requested from the broker.
const (
	TagGrossPositionValue  = "GrossPositionValue"
	TagEquityWithLoanValue = "EquityWithLoanValue"
	TagMaintMarginReq      = "MaintMarginReq"
)

// AccountSummaryTags is the tag list sent with every account summary request.
var AccountSummaryTags = []string{TagEquityWithLoanValue, TagGrossPositionValue, TagMaintMarginReq}

// AccountState is an immutable snapshot of the account summary.
// It is replaced wholesale on every completed summary, never patched.
type AccountState struct {
	GPV          float64   // gross position value
	EWLV         float64   // equity with loan value
	MaintMargin  float64   // broker-reported maintenance margin, in currency units
	MinMarginReq float64   // configured margin requirement floor, as a fraction
	CapturedAt   time.Time // when the end-of-summary marker arrived
}

// Loan is the borrowed amount carried by the account.
func (a AccountState) Loan() float64 {
	return math.Max(a.GPV-a.EWLV, 0)
}

// MarginRequirement is the larger of the broker's effective requirement
// (maintenance margin over gross position value) and the configured floor.
func (a AccountState) MarginRequirement() float64 {
	if a.GPV <= 0 {
		return a.MinMarginReq
	}
	return math.Max(a.MaintMargin/a.GPV, a.MinMarginReq)
}

// MaxLoan is the loan at which the margin requirement would be exactly met.
func (a AccountState) MaxLoan() float64 {
	req := a.MarginRequirement()
	if req <= 0 || a.EWLV <= 0 {
		return 0
	}
	return a.EWLV * (1 - req) / req
}

// MarginUtilization is the share of the maximum loan currently drawn.
func (a AccountState) MarginUtilization() float64 {
	maxLoan := a.MaxLoan()
	if maxLoan <= 0 {
		if a.Loan() > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return a.Loan() / maxLoan
}

// LoanAtUtilization is the loan the account would carry at utilization u.
func (a AccountState) LoanAtUtilization(u float64) float64 {
	return u * a.MaxLoan()
}

// Age is the time elapsed since the snapshot was captured.
func (a AccountState) Age(now time.Time) time.Duration {
	return now.Sub(a.CapturedAt)
}
