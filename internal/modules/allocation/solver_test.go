package allocation

import (
	"testing"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testComposition(t *testing.T, spec string) *domain.Composition {
	t.Helper()
	comp, err := domain.ParseComposition(spec)
	require.NoError(t, err)
	return comp
}

func TestClosestPortfolioSolver_EvenSplit(t *testing.T) {
	solver := NewClosestPortfolioSolver(zerolog.New(nil).Level(zerolog.Disabled))
	comp := testComposition(t, "A@ARCA=0.5,B@ARCA=0.5")
	a := domain.NewInstrument("A", "ARCA", "")
	b := domain.NewInstrument("B", "ARCA", "")
	prices := map[domain.Instrument]float64{a: 10, b: 10}

	alloc, err := solver.Solve(1000, comp, prices)
	require.NoError(t, err)
	assert.Equal(t, 50, alloc[a])
	assert.Equal(t, 50, alloc[b])
	assert.InDelta(t, 0, Residual(1000, alloc, prices), 1e-12)
}

func TestClosestPortfolioSolver_FillsLeftoverCash(t *testing.T) {
	solver := NewClosestPortfolioSolver(zerolog.New(nil).Level(zerolog.Disabled))
	comp := testComposition(t, "A@ARCA=0.6,B@ARCA=0.4")
	a := domain.NewInstrument("A", "ARCA", "")
	b := domain.NewInstrument("B", "ARCA", "")
	prices := map[domain.Instrument]float64{a: 33, b: 7}

	alloc, err := solver.Solve(1000, comp, prices)
	require.NoError(t, err)

	spent := float64(alloc[a])*33 + float64(alloc[b])*7
	assert.LessOrEqual(t, spent, 1000.0)
	assert.Less(t, 1000-spent, 7.0, "no affordable share is left unbought")

	aWeight := float64(alloc[a]) * 33 / spent
	assert.InDelta(t, 0.6, aWeight, 0.05)
}

func TestClosestPortfolioSolver_Infeasible(t *testing.T) {
	solver := NewClosestPortfolioSolver(zerolog.New(nil).Level(zerolog.Disabled))
	comp := testComposition(t, "A@ARCA=0.5,B@ARCA=0.5")
	a := domain.NewInstrument("A", "ARCA", "")
	b := domain.NewInstrument("B", "ARCA", "")

	tests := []struct {
		name   string
		funds  float64
		prices map[domain.Instrument]float64
	}{
		{name: "no funds", funds: 0, prices: map[domain.Instrument]float64{a: 10, b: 10}},
		{name: "negative funds", funds: -5, prices: map[domain.Instrument]float64{a: 10, b: 10}},
		{name: "missing price", funds: 1000, prices: map[domain.Instrument]float64{a: 10}},
		{name: "zero price", funds: 1000, prices: map[domain.Instrument]float64{a: 10, b: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := solver.Solve(tt.funds, comp, tt.prices)
			assert.ErrorIs(t, err, domain.ErrAllocationInfeasible)
		})
	}
}

func TestResidual(t *testing.T) {
	a := domain.NewInstrument("A", "ARCA", "")
	prices := map[domain.Instrument]float64{a: 10}
	assert.InDelta(t, 0.1, Residual(1000, map[domain.Instrument]int{a: 90}, prices), 1e-12)
	assert.Zero(t, Residual(0, nil, prices))
}
