package rebalancing

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/modules/orders"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type placedOrder struct {
	id       domain.OrderID
	contract domain.ContractPayload
	order    domain.Order
}

// fakeBroker answers RequestIDs synchronously, the way the gateway's
// dispatch goroutine would, and records everything else.
type fakeBroker struct {
	mu               sync.Mutex
	handler          domain.EventHandler
	nextID           domain.OrderID
	calls            []string
	placed           []placedOrder
	cancelled        []domain.OrderID
	positionRequests int
	summaryRequests  int
	subscriptions    map[int]domain.Instrument
	placeErr         error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{nextID: 100, subscriptions: make(map[int]domain.Instrument)}
}

func (b *fakeBroker) log(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBroker) Connect() error    { return nil }
func (b *fakeBroker) Disconnect() error { return nil }

func (b *fakeBroker) RequestAccountSummary(reqID int, tags []string) error {
	b.log("summary")
	b.summaryRequests++
	return nil
}

func (b *fakeBroker) RequestPositions() error {
	b.log("positions")
	b.positionRequests++
	return nil
}

func (b *fakeBroker) RequestRealTimeBars(reqID int, contract domain.ContractPayload, barSize int, what string, rthOnly bool) error {
	b.subscriptions[reqID] = domain.InstrumentFromContract(contract)
	return nil
}

func (b *fakeBroker) RequestIDs() error {
	b.log("ids")
	b.nextID++
	return b.handler.NextValidID(b.nextID)
}

func (b *fakeBroker) PlaceOrder(id domain.OrderID, contract domain.ContractPayload, order domain.Order) error {
	b.log("place")
	b.placed = append(b.placed, placedOrder{id: id, contract: contract, order: order})
	return b.placeErr
}

func (b *fakeBroker) CancelOrder(id domain.OrderID) error {
	b.log("cancel")
	b.cancelled = append(b.cancelled, id)
	return nil
}

func (b *fakeBroker) reqIDFor(inst domain.Instrument) (int, bool) {
	for id, sub := range b.subscriptions {
		if sub == inst {
			return id, true
		}
	}
	return 0, false
}

type stubSolver struct {
	alloc map[domain.Instrument]int
	err   error
	funds float64
}

func (s *stubSolver) Solve(funds float64, comp *domain.Composition, prices map[domain.Instrument]float64) (map[domain.Instrument]int, error) {
	s.funds = funds
	return s.alloc, s.err
}

type recordingJournal struct {
	placements  []domain.OrderID
	statuses    []string
	retractions []domain.OrderID
}

func (j *recordingJournal) RecordPlacement(id domain.OrderID, order domain.Order) error {
	j.placements = append(j.placements, id)
	return nil
}

func (j *recordingJournal) RecordStatus(id domain.OrderID, inst domain.Instrument, ev domain.OrderStatusEvent) error {
	j.statuses = append(j.statuses, ev.Status)
	return nil
}

func (j *recordingJournal) RecordRetraction(id domain.OrderID, inst domain.Instrument) error {
	j.retractions = append(j.retractions, id)
	return nil
}

type testClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Sleep(d time.Duration)   { c.sleeps = append(c.sleeps, d) }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	engine  *Engine
	broker  *fakeBroker
	orders  *orders.Manager
	solver  *stubSolver
	journal *recordingJournal
	clock   *testClock
}

var (
	instA = domain.NewInstrument("A", "ARCA", "USD")
	instB = domain.NewInstrument("B", "ARCA", "USD")
	instC = domain.NewInstrument("C", "ARCA", "USD")
)

func testConfig() config.AutorebalanceConfig {
	return config.AutorebalanceConfig{
		DDReferenceATH:         10,
		MuAtATH:                0,
		DDCoef:                 0.4,
		MisallocMinDollars:     300,
		MisallocMinFrac:        1.0,
		MisallocFracForceElbow: 2000,
		MisallocFracForceCoef:  0.5,
		MinMarginReq:           0.25,
		OrderTimeout:           time.Minute,
		MaxSlippage:            0.05,
		RebalanceFreq:          15 * time.Second,
		LivenessTimeout:        time.Minute,
		Armed:                  true,
	}
}

func newHarness(t *testing.T, compSpec string, cfg config.AutorebalanceConfig, confirm risk.Confirmer) *harness {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	comp, err := domain.ParseComposition(compSpec)
	require.NoError(t, err)

	policy := risk.DefaultPolicy()
	clock := &testClock{t: time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)}
	mgr := orders.NewManager(policy.OrderCooloff, log)
	mgr.SetClock(clock.Now)
	broker := newFakeBroker()
	solver := &stubSolver{}
	journal := &recordingJournal{}

	engine, err := New(Deps{
		Broker:      broker,
		Orders:      mgr,
		Validator:   risk.NewValidator(policy, confirm, log),
		ErrorCodes:  risk.DefaultErrorCatalogue(),
		Solver:      solver,
		Composition: comp,
		Config:      cfg,
		Journal:     journal,
	}, log)
	require.NoError(t, err)
	engine.SetClock(clock.Now, clock.Sleep)
	broker.handler = engine

	return &harness{engine: engine, broker: broker, orders: mgr, solver: solver, journal: journal, clock: clock}
}

func (h *harness) feedAccount(t *testing.T, gpv, ewlv, maint float64) {
	t.Helper()
	e := h.engine
	require.NoError(t, e.AccountSummary(AccountSummaryReqID, "DU1", domain.TagGrossPositionValue, ftoa(gpv), "USD"))
	require.NoError(t, e.AccountSummary(AccountSummaryReqID, "DU1", domain.TagEquityWithLoanValue, ftoa(ewlv), "USD"))
	require.NoError(t, e.AccountSummary(AccountSummaryReqID, "DU1", domain.TagMaintMarginReq, ftoa(maint), "USD"))
	require.NoError(t, e.AccountSummaryEnd(AccountSummaryReqID))
}

func (h *harness) feedPositions(t *testing.T, holdings map[domain.Instrument]float64) {
	t.Helper()
	for inst, qty := range holdings {
		require.NoError(t, h.engine.Position("DU1", inst.Contract(), qty, 1))
	}
	require.NoError(t, h.engine.PositionEnd())
}

func (h *harness) feedPrice(t *testing.T, inst domain.Instrument, close float64) {
	t.Helper()
	reqID, ok := h.broker.reqIDFor(inst)
	require.True(t, ok, "no subscription for %s", inst)
	require.NoError(t, h.engine.RealtimeBar(reqID, domain.PriceBar{Time: h.clock.Now(), Open: close, High: close, Low: close, Close: close}))
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
