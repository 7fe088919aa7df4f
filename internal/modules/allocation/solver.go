package allocation

import (
	"fmt"
	"math"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// ClosestPortfolioSolver finds the integer share counts whose dollar
// weights sit closest to a target composition for a given budget.
type ClosestPortfolioSolver struct {
	log zerolog.Logger
}

// NewClosestPortfolioSolver creates a solver.
func NewClosestPortfolioSolver(log zerolog.Logger) *ClosestPortfolioSolver {
	return &ClosestPortfolioSolver{
		log: log.With().Str("component", "allocation_solver").Logger(),
	}
}

// Solve allocates funds across comp at the given prices.
//
// Each instrument first gets the whole shares that fit under its ideal
// dollar amount. Leftover cash then buys single shares, one at a time, for
// the instrument furthest below its ideal amount, as long as the share
// still fits. Fails with domain.ErrAllocationInfeasible when funds are not
// positive or a target instrument lacks a positive price.
func (s *ClosestPortfolioSolver) Solve(
	funds float64,
	comp *domain.Composition,
	prices map[domain.Instrument]float64,
) (map[domain.Instrument]int, error) {
	if !(funds > 0) || math.IsInf(funds, 0) {
		return nil, fmt.Errorf("%w: funds %.2f", domain.ErrAllocationInfeasible, funds)
	}

	instruments := comp.Instruments()
	n := len(instruments)
	px := make([]float64, n)
	ideal := make([]float64, n)
	total := comp.TotalWeight()

	for i, inst := range instruments {
		p, ok := prices[inst]
		if !ok || !(p > 0) {
			return nil, fmt.Errorf("%w: no usable price for %s", domain.ErrAllocationInfeasible, inst)
		}
		w, _ := comp.Weight(inst)
		px[i] = p
		ideal[i] = funds * w / total
	}

	shares := make([]float64, n)
	for i := range shares {
		shares[i] = math.Floor(ideal[i] / px[i])
	}

	held := make([]float64, n)
	shortfall := make([]float64, n)
	for {
		floats.MulTo(held, shares, px)
		cash := funds - floats.Sum(held)
		floats.SubTo(shortfall, ideal, held)

		best := -1
		for i := range shortfall {
			if px[i] > cash {
				continue
			}
			if best < 0 || shortfall[i] > shortfall[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		shares[best]++
	}

	out := make(map[domain.Instrument]int, n)
	for i, inst := range instruments {
		out[inst] = int(shares[i])
	}

	s.log.Debug().
		Float64("funds", funds).
		Float64("residual", Residual(funds, out, prices)).
		Msg("Solved allocation")
	return out, nil
}

// Residual is the fraction of funds an allocation leaves undeployed.
func Residual(funds float64, alloc map[domain.Instrument]int, prices map[domain.Instrument]float64) float64 {
	if funds <= 0 {
		return 0
	}
	spent := 0.0
	for inst, qty := range alloc {
		spent += float64(qty) * prices[inst]
	}
	return (funds - spent) / funds
}
