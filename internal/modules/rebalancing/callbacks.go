package rebalancing

import (
	"math"
	"strconv"
	"strings"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/aristath/autorebalance/internal/modules/orders"
)

var _ domain.EventHandler = (*Engine)(nil)

// AccountSummary accumulates one tag of the account summary stream.
func (e *Engine) AccountSummary(reqID int, account, tag, value, currency string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return domain.Anomalyf("account summary tag %s has non-numeric value %q", tag, value)
	}
	e.summaryAcc[tag] = v
	return nil
}

// AccountSummaryEnd replaces the account snapshot with the accumulated tags.
func (e *Engine) AccountSummaryEnd(reqID int) error {
	acc := e.summaryAcc
	e.summaryAcc = make(map[string]float64)

	for _, tag := range domain.AccountSummaryTags {
		if _, ok := acc[tag]; !ok {
			return domain.Anomalyf("account summary (req %d) ended without %s", reqID, tag)
		}
	}

	state := domain.AccountState{
		GPV:          acc[domain.TagGrossPositionValue],
		EWLV:         acc[domain.TagEquityWithLoanValue],
		MaintMargin:  acc[domain.TagMaintMarginReq],
		MinMarginReq: e.cfg.MinMarginReq,
		CapturedAt:   e.now(),
	}

	e.mu.Lock()
	e.account = &state
	e.mu.Unlock()

	metrics.MarginUtilization.Set(state.MarginUtilization())
	e.log.Info().
		Str("margin_util", strconv.FormatFloat(state.MarginUtilization()*100, 'f', 2, 64)+"%").
		Str("margin_req", strconv.FormatFloat(state.MarginRequirement()*100, 'f', 2, 64)+"%").
		Str("gpv", strconv.FormatFloat(state.GPV/1000, 'f', 1, 64)+"k").
		Str("ewlv", strconv.FormatFloat(state.EWLV/1000, 'f', 1, 64)+"k").
		Msg("Got account info")
	if e.cfg.Armed {
		e.log.Warn().Msg("I am armed.")
	}
	return nil
}

// Position accumulates one stock position. Other security types are ignored.
func (e *Engine) Position(account string, contract domain.ContractPayload, quantity float64, avgCost float64) error {
	if contract.SecType != domain.SecTypeStock {
		return nil
	}
	inst := domain.InstrumentFromContract(contract)
	rounded := math.Round(quantity)
	if math.Abs(quantity-rounded) > 1e-9 {
		return domain.Anomalyf("fractional position %.6f for %s", quantity, inst)
	}
	e.positionAcc[inst] = int(rounded)
	return nil
}

// PositionEnd merges the accumulated positions into the portfolio and
// subscribes to prices for instruments not yet watched. A position outside
// the composition means contract resolution went wrong and is fatal.
func (e *Engine) PositionEnd() error {
	acc := e.positionAcc
	e.positionAcc = make(map[domain.Instrument]int)

	symbols := make([]string, 0, len(acc))
	total := 0
	for inst, qty := range acc {
		symbols = append(symbols, inst.Symbol)
		total += qty
	}
	e.log.Info().
		Str("tickers", strings.Join(symbols, ",")).
		Int("total_position", total).
		Msg("Received new positions")

	var unknown []string
	for inst := range acc {
		if !e.comp.Contains(inst) {
			unknown = append(unknown, inst.String())
		}
	}
	if len(unknown) > 0 {
		e.log.Error().Strs("instruments", unknown).Msg("Unknown portfolio keys; this might be a bad primary exchange")
		return domain.Anomalyf("unknown portfolio instruments: %s", strings.Join(unknown, ", "))
	}

	e.mu.Lock()
	first := e.portfolio == nil
	if first {
		e.portfolio = make(map[domain.Instrument]int, e.comp.Len())
	}
	for inst, qty := range acc {
		e.portfolio[inst] = qty
	}
	e.mu.Unlock()

	// Instruments held now, plus every target the first time round so that
	// targets with no holding still get priced.
	subscribe := make([]domain.Instrument, 0, len(acc))
	for inst := range acc {
		subscribe = append(subscribe, inst)
	}
	if first {
		subscribe = append(subscribe, e.comp.Instruments()...)
	}
	return e.subscribePrices(subscribe)
}

func (e *Engine) subscribePrices(insts []domain.Instrument) error {
	for _, inst := range insts {
		e.mu.Lock()
		if e.watched[inst] {
			e.mu.Unlock()
			continue
		}
		reqID := PriceReqIDBase + len(e.watchers)
		e.watchers[reqID] = inst
		e.watched[inst] = true
		e.mu.Unlock()

		e.log.Info().Int("req_id", reqID).Str("symbol", inst.Symbol).Msg("Subscribing to prices")
		if err := e.broker.RequestRealTimeBars(reqID, inst.Contract(), domain.BarSizeSeconds, domain.BarWhat, true); err != nil {
			return err
		}
	}
	return nil
}

// RealtimeBar stores a price sample. A bar for an unknown subscription is fatal.
func (e *Engine) RealtimeBar(reqID int, bar domain.PriceBar) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.watchers[reqID]
	if !ok {
		return domain.Anomalyf("received unsolicited price for req %d", reqID)
	}
	e.prices[inst] = bar
	e.log.Debug().Str("symbol", inst.Symbol).Float64("close", bar.Close).Msg("Received price")
	return nil
}

// NextValidID hands a fresh order id to the waiting placement.
// The slot holds one id; a second unclaimed id means the request/reply
// pairing is broken.
func (e *Engine) NextValidID(id domain.OrderID) error {
	select {
	case e.orderIDs <- id:
		return nil
	default:
		return domain.Anomalyf("order id slot full when id %d arrived", id)
	}
}

// OpenOrder adopts orders the engine did not place itself, such as manual
// orders entered at the broker.
func (e *Engine) OpenOrder(ev domain.OpenOrderEvent) error {
	if _, ok := e.orders.LookupByOrderID(ev.OrderID); ok {
		return nil
	}
	if e.wasRetracted(ev.OrderID) {
		e.log.Debug().Int64("order_id", int64(ev.OrderID)).Msg("Dropping open order echo for retracted order")
		return nil
	}

	inst := domain.InstrumentFromContract(ev.Contract)
	e.log.Warn().
		Int64("order_id", int64(ev.OrderID)).
		Str("instrument", inst.String()).
		Msg("Got open order for untracked instrument; assuming a manual order and tracking it")

	order := ev.Order
	order.Instrument = inst
	if !e.orders.Enter(inst, ev.OrderID, order) {
		state, _ := e.orders.StateOf(inst)
		return domain.Anomalyf("manual order %d for %s conflicts with tracked %s order", ev.OrderID, inst, state)
	}
	e.orders.Transmit(inst)
	return nil
}

// OrderStatus advances the order's lifecycle. Terminal statuses move it to
// cooloff; a fill also refreshes positions. Status for an order the engine
// retracted is dropped; status for any other unknown order is fatal.
func (e *Engine) OrderStatus(ev domain.OrderStatusEvent) error {
	inst, ok := e.orders.LookupByOrderID(ev.OrderID)
	if !ok {
		if e.wasRetracted(ev.OrderID) {
			e.log.Debug().Int64("order_id", int64(ev.OrderID)).Str("status", ev.Status).Msg("Dropping status for retracted order")
			return nil
		}
		return domain.Anomalyf("status %q for unknown order %d", ev.Status, ev.OrderID)
	}
	order, _ := e.orders.LookupOrder(inst)
	state, _ := e.orders.StateOf(inst)

	if state == orders.StateCooloff {
		e.log.Debug().Int64("order_id", int64(ev.OrderID)).Msg("Dropping post-finalization callback")
		return nil
	}

	if state != orders.StateTransmitted && !e.orders.Transmit(inst) {
		return domain.Anomalyf("order %d for %s could not be marked transmitted from %s", ev.OrderID, inst, state)
	}

	e.record(func(j Journal) error { return j.RecordStatus(ev.OrderID, inst, ev) })

	switch ev.Status {
	case domain.StatusFilled:
		if !e.orders.Finalize(inst) {
			return domain.Anomalyf("filled order %d for %s could not be finalized", ev.OrderID, inst)
		}
		e.log.Info().Str("order", order.String()).Float64("avg_fill_price", ev.AvgFillPrice).Msg("Order filled")
		return e.broker.RequestPositions()

	case domain.StatusCancelled:
		if !e.orders.Finalize(inst) {
			return domain.Anomalyf("cancelled order %d for %s could not be finalized", ev.OrderID, inst)
		}
		e.log.Info().Str("order", order.String()).Msg("Order cancelled")
		return nil

	default:
		e.log.Debug().
			Str("order", order.String()).
			Str("status", ev.Status).
			Float64("filled", ev.Filled).
			Float64("remaining", ev.Remaining).
			Msg("Order status")
		return nil
	}
}

// Error routes the broker's error channel. Catalogued codes are logged at
// their level; the pacing violation and everything else are fatal.
func (e *Engine) Error(reqID int, code int, message string) error {
	level, err := e.errCodes.Classify(code, message)
	if err != nil {
		e.log.Error().Int("req_id", reqID).Int("code", code).Str("msg", message).Msg("Broker error channel")
		return err
	}
	e.log.WithLevel(level).Int("req_id", reqID).Int("code", code).Str("msg", message).Msg("Broker error channel")
	return nil
}

func (e *Engine) record(fn func(j Journal) error) {
	if e.journal == nil {
		return
	}
	if err := fn(e.journal); err != nil {
		e.log.Warn().Err(err).Msg("Failed to write order journal")
	}
}
