// Package rebalancing drives the brokerage account toward its target
// composition: it folds broker events into account, position and price
// snapshots, and on every iteration decides which orders to place.
package rebalancing

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/aristath/autorebalance/internal/modules/orders"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/rs/zerolog"
)

// Broker request ids.
const (
	AccountSummaryReqID = 10000
	PriceReqIDBase      = 30000
)

// CancelSettle is how long placement waits after a cancel before moving on.
// The broker sends no acknowledgment the engine could wait for instead.
const CancelSettle = 100 * time.Millisecond

// RetractedMemory is how long a retracted order id is remembered so the
// broker's cancel echo for it can be dropped.
const RetractedMemory = 5 * time.Minute

// Solver maps funds, composition and prices to integer share targets.
type Solver interface {
	Solve(funds float64, comp *domain.Composition, prices map[domain.Instrument]float64) (map[domain.Instrument]int, error)
}

// Journal records order activity for offline analysis.
type Journal interface {
	RecordPlacement(id domain.OrderID, order domain.Order) error
	RecordStatus(id domain.OrderID, inst domain.Instrument, ev domain.OrderStatusEvent) error
	RecordRetraction(id domain.OrderID, inst domain.Instrument) error
}

// Notifier shows the operator a short message.
type Notifier interface {
	Notify(msg string) error
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Broker      domain.Broker
	Orders      *orders.Manager
	Validator   *risk.Validator
	ErrorCodes  *risk.ErrorCatalogue
	Solver      Solver
	Composition *domain.Composition
	Config      config.AutorebalanceConfig
	Journal     Journal  // optional
	Notifier    Notifier // optional
}

// Engine is the rebalance control loop and the broker event handler.
//
// Broker events arrive on a single dispatch goroutine; iterations and
// placement run on the rebalance worker goroutine only. Placement blocks on
// an order id delivered by the dispatch goroutine, so placing from any
// other goroutine can deadlock.
type Engine struct {
	broker    domain.Broker
	orders    *orders.Manager
	validator *risk.Validator
	policy    *risk.Policy
	errCodes  *risk.ErrorCatalogue
	solver    Solver
	comp      *domain.Composition
	cfg       config.AutorebalanceConfig
	journal   Journal
	notifier  Notifier
	log       zerolog.Logger

	now     func() time.Time
	sleep   func(time.Duration)
	eastern *time.Location

	// single-slot rendezvous for RequestIDs replies
	orderIDs chan domain.OrderID

	mu        sync.RWMutex
	account   *domain.AccountState
	portfolio map[domain.Instrument]int
	prices    map[domain.Instrument]domain.PriceBar
	watchers  map[int]domain.Instrument
	watched   map[domain.Instrument]bool
	targets   map[domain.Instrument]int
	retracted map[domain.OrderID]time.Time

	// dispatch goroutine only
	summaryAcc  map[string]float64
	positionAcc map[domain.Instrument]int
}

// New creates an engine.
func New(deps Deps, log zerolog.Logger) (*Engine, error) {
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load US/Eastern: %w", err)
	}

	return &Engine{
		broker:    deps.Broker,
		orders:    deps.Orders,
		validator: deps.Validator,
		policy:    deps.Validator.Policy(),
		errCodes:  deps.ErrorCodes,
		solver:    deps.Solver,
		comp:      deps.Composition,
		cfg:       deps.Config,
		journal:   deps.Journal,
		notifier:  deps.Notifier,
		log:       log.With().Str("component", "rebalancer").Logger(),

		now:     time.Now,
		sleep:   time.Sleep,
		eastern: eastern,

		orderIDs: make(chan domain.OrderID, 1),

		prices:      make(map[domain.Instrument]domain.PriceBar),
		watchers:    make(map[int]domain.Instrument),
		watched:     make(map[domain.Instrument]bool),
		targets:     make(map[domain.Instrument]int),
		retracted:   make(map[domain.OrderID]time.Time),
		summaryAcc:  make(map[string]float64),
		positionAcc: make(map[domain.Instrument]int),
	}, nil
}

// SetClock replaces the time source and the post-cancel sleep. Used by tests.
func (e *Engine) SetClock(now func() time.Time, sleep func(time.Duration)) {
	e.now = now
	e.sleep = sleep
}

// Account returns the latest account snapshot, if any.
func (e *Engine) Account() (domain.AccountState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.account == nil {
		return domain.AccountState{}, false
	}
	return *e.account, true
}

// Portfolio returns a copy of the current holdings.
func (e *Engine) Portfolio() map[domain.Instrument]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.Instrument]int, len(e.portfolio))
	for k, v := range e.portfolio {
		out[k] = v
	}
	return out
}

// Prices returns a copy of the latest price bars.
func (e *Engine) Prices() map[domain.Instrument]domain.PriceBar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.Instrument]domain.PriceBar, len(e.prices))
	for k, v := range e.prices {
		out[k] = v
	}
	return out
}

// Targets returns a copy of the share deltas the engine is working toward.
func (e *Engine) Targets() map[domain.Instrument]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.Instrument]int, len(e.targets))
	for k, v := range e.targets {
		out[k] = v
	}
	return out
}

// Armed reports whether orders are transmitted to the broker.
func (e *Engine) Armed() bool {
	return e.cfg.Armed
}

// PricingAge is the age of the oldest target price sample; effectively
// infinite while any target instrument has no sample.
func (e *Engine) PricingAge() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.PricingAge(e.prices, e.comp.Instruments(), e.now())
}

// IsLive reports whether account and price data are fresh enough to act on.
// A single stale instrument makes the whole portfolio stale.
func (e *Engine) IsLive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	if e.account == nil || e.portfolio == nil {
		return false
	}
	if e.account.Age(now) >= e.policy.MaxAccountAge {
		return false
	}
	return domain.PricingAge(e.prices, e.comp.Instruments(), now) < e.policy.MaxPricingAge
}

// EffectiveDrawdown is 1 - (normalized-weight mark of the composition) / (all-time-high reference).
// A value outside [0, 1) means the configuration or price feed is broken and is fatal.
func (e *Engine) EffectiveDrawdown() (float64, error) {
	if !e.IsLive() {
		return 0, domain.ErrLiveness
	}

	e.mu.RLock()
	mark := 0.0
	total := e.comp.TotalWeight()
	for _, inst := range e.comp.Instruments() {
		w, _ := e.comp.Weight(inst)
		mark += w / total * e.prices[inst].Close
	}
	e.mu.RUnlock()

	dd := 1 - mark/e.cfg.DDReferenceATH
	if !(dd >= 0 && dd < 1) {
		return dd, fmt.Errorf("effective drawdown %.4f outside [0, 1): composition mark %.2f vs reference %.2f",
			dd, mark, e.cfg.DDReferenceATH)
	}
	return dd, nil
}

// TargetMarginUsage grows the at-peak margin target with drawdown, capped
// just under the margin usage block level, and validates the result.
func (e *Engine) TargetMarginUsage() (float64, error) {
	dd, err := e.EffectiveDrawdown()
	if err != nil {
		return 0, err
	}
	metrics.Drawdown.Set(dd)

	mu := e.cfg.MuAtATH + e.cfg.DDCoef*dd
	if ceiling := e.policy.MarginTargetCeiling(); mu > ceiling {
		mu = ceiling
	}
	return risk.Validate(e.validator, e.policy.MarginUsage, mu)
}
