package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/aristath/autorebalance/internal/modules/allocation"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/shopspring/decimal"
)

// PlannedOrder pairs an order with the instrument it targets.
type PlannedOrder struct {
	Instrument domain.Instrument
	Order      domain.Order
}

// RefreshAccount requests a new account summary. The reply arrives through
// AccountSummary/AccountSummaryEnd.
func (e *Engine) RefreshAccount() error {
	return e.broker.RequestAccountSummary(AccountSummaryReqID, domain.AccountSummaryTags)
}

// RequestPositions requests the current positions.
func (e *Engine) RequestPositions() error {
	return e.broker.RequestPositions()
}

// Iterate runs one rebalance pass. It returns false when there was nothing
// it could act on (stale data or a vetoed action) and true otherwise.
//
// A returned error wrapping domain.ErrAllocationInfeasible is recoverable;
// any other error is fatal to the session.
func (e *Engine) Iterate(ctx context.Context) (bool, error) {
	if !e.IsLive() {
		e.log.Info().Msg("Rebalance skipping - not live yet")
		metrics.Iterations.WithLabelValues("stale").Inc()
		return false, nil
	}

	targetMU, err := e.TargetMarginUsage()
	if err != nil {
		return e.settle(err)
	}

	acct, _ := e.Account()
	targetLoan, err := risk.Validate(e.validator, e.policy.LoanAmount, acct.LoanAtUtilization(targetMU))
	if err != nil {
		return e.settle(err)
	}
	funds := acct.EWLV + targetLoan

	closes := make(map[domain.Instrument]float64, e.comp.Len())
	for inst, bar := range e.Prices() {
		closes[inst] = bar.Close
	}

	ideal, err := e.solver.Solve(funds, e.comp, closes)
	if err != nil {
		if errors.Is(err, domain.ErrAllocationInfeasible) {
			metrics.Iterations.WithLabelValues("infeasible").Inc()
			e.log.Warn().Err(err).Float64("funds", funds).Msg("No feasible allocation")
			return false, err
		}
		return e.settle(err)
	}
	if _, err := risk.Validate(e.validator, e.policy.Misallocation, allocation.Residual(funds, ideal, closes)); err != nil {
		return e.settle(err)
	}

	e.updateTargets(ideal, closes, targetMU)

	targets := e.Targets()
	if len(targets) == 0 {
		metrics.Iterations.WithLabelValues("idle").Inc()
		return true, nil
	}

	e.log.Debug().Str("targets", formatTargets(targets)).Msg("Rebalance targets")

	planned, err := e.ConstructOrders(targets, closes)
	if err != nil {
		return e.settle(err)
	}
	for _, p := range planned {
		if err := e.PlaceOrder(ctx, p.Instrument, p.Order); err != nil {
			metrics.Iterations.WithLabelValues("failed").Inc()
			return false, err
		}
	}

	e.log.Debug().Msg(e.orders.FormatBook())
	if e.notifier != nil {
		if err := e.notifier.Notify("Rebalance targets: " + formatTargets(targets)); err != nil {
			e.log.Warn().Err(err).Msg("Desktop notification failed")
		}
	}
	metrics.Iterations.WithLabelValues("placed").Inc()
	return true, nil
}

// settle classifies an error raised before placement. Security faults veto
// only this iteration's action; everything else is returned.
func (e *Engine) settle(err error) (bool, error) {
	switch {
	case errors.Is(err, domain.ErrLiveness):
		metrics.Iterations.WithLabelValues("stale").Inc()
		return false, nil
	case errors.Is(err, domain.ErrSecurityFault):
		metrics.Iterations.WithLabelValues("vetoed").Inc()
		e.log.Error().Err(err).Msg("Rebalance action vetoed by risk policy")
		return false, nil
	default:
		metrics.Iterations.WithLabelValues("failed").Inc()
		return false, err
	}
}

// updateTargets records a share delta for each instrument that needs action
// and drops, retracting any untransmitted order, those that no longer do.
func (e *Engine) updateTargets(ideal map[domain.Instrument]int, closes map[domain.Instrument]float64, targetMU float64) {
	thresholds := ForcingThresholds{
		MinDollars:  float64(e.cfg.MisallocMinDollars),
		MinFraction: e.cfg.MisallocMinFrac / 100,
		Elbow:       e.cfg.MisallocFracForceElbow,
		Coef:        e.cfg.MisallocFracForceCoef,
	}
	holdings := e.Portfolio()

	type idealLine struct {
		symbol string
		m      Misallocation
	}
	var lines []idealLine

	for _, inst := range e.comp.Instruments() {
		m := MeasureMisallocation(holdings[inst], ideal[inst], closes[inst])

		if thresholds.NeedsAction(m) {
			e.mu.Lock()
			e.targets[inst] = m.Delta
			e.mu.Unlock()
		} else {
			e.mu.Lock()
			delete(e.targets, inst)
			e.mu.Unlock()
			e.clearAnyUntransmitted(inst)
		}

		if m.Delta != 0 {
			lines = append(lines, idealLine{symbol: inst.Symbol, m: m})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].m.Dollars > lines[j].m.Dollars })
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s%+d($%.0f/%.2f%%)", l.symbol, l.m.Delta, l.m.Dollars, l.m.Fraction*100))
	}
	e.log.Info().
		Str("mu", fmt.Sprintf("%.2f%%", targetMU*100)).
		Str("ideal", strings.Join(parts, ", ")).
		Msg("Ideal allocation")
}

// ConstructOrders builds one audited order per target. Each quantity passes
// the order size rule (a vetoed instrument is skipped) and the summed
// notional at the close passes the order total rule before anything is
// returned.
func (e *Engine) ConstructOrders(targets map[domain.Instrument]int, closes map[domain.Instrument]float64) ([]PlannedOrder, error) {
	insts := make([]domain.Instrument, 0, len(targets))
	for inst := range targets {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].String() < insts[j].String() })

	goodTill := domain.GoodTill(e.now().Add(e.cfg.OrderTimeout), e.eastern)
	slippage := decimal.NewFromFloat(e.cfg.MaxSlippage)

	total := 0.0
	planned := make([]PlannedOrder, 0, len(insts))
	for _, inst := range insts {
		delta := targets[inst]
		qty := delta
		if qty < 0 {
			qty = -qty
		}
		if _, err := risk.Validate(e.validator, e.policy.OrderSize, qty); err != nil {
			e.log.Error().Err(err).Str("symbol", inst.Symbol).Msg("Order vetoed by risk policy")
			continue
		}

		px := decimal.NewFromFloat(closes[inst])
		action := domain.ActionBuy
		limit := px.Add(slippage)
		if delta < 0 {
			action = domain.ActionSell
			limit = px.Sub(slippage)
		}

		order := domain.Order{
			Instrument:   inst,
			Action:       action,
			Quantity:     qty,
			LimitPrice:   limit.Round(2).InexactFloat64(),
			OrderType:    domain.OrderTypeMidprice,
			TimeInForce:  domain.TimeInForceGTD,
			GoodTillDate: goodTill,
			Transmit:     e.cfg.Armed,
		}
		if err := e.validator.Audit(&order, e.cfg.Armed); err != nil {
			return nil, err
		}

		planned = append(planned, PlannedOrder{Instrument: inst, Order: order})
		total += closes[inst] * float64(qty)
	}

	if _, err := risk.Validate(e.validator, e.policy.OrderTotal, total); err != nil {
		return nil, err
	}
	return planned, nil
}

func formatTargets(targets map[domain.Instrument]int) string {
	parts := make([]string, 0, len(targets))
	for inst, delta := range targets {
		parts = append(parts, fmt.Sprintf("%s: %+d", inst.Symbol, delta))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
