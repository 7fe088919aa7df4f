package rebalancing

import (
	"context"
	"fmt"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
)

// PlaceOrder sends an audited order for inst. Must only be called from the
// rebalance worker goroutine.
//
// The steps run in a fixed order: retract any untransmitted order for inst,
// take a fresh order id from the broker, admit the order into the order
// manager, and only then hand it to the broker. An order the manager
// refuses is dropped without error.
func (e *Engine) PlaceOrder(ctx context.Context, inst domain.Instrument, order domain.Order) error {
	if !order.Audited() {
		return fmt.Errorf("%w: %s", domain.ErrUnaudited, order)
	}

	e.clearAnyUntransmitted(inst)

	id, err := e.nextOrderID(ctx)
	if err != nil {
		return err
	}

	if !e.orders.Enter(inst, id, order) {
		state, _ := e.orders.StateOf(inst)
		e.log.Debug().Str("symbol", inst.Symbol).Str("state", state.String()).Msg("Order rejected by manager")
		return nil
	}

	if err := e.broker.PlaceOrder(id, inst.Contract(), order); err != nil {
		return fmt.Errorf("failed to place order %d: %w", id, err)
	}
	metrics.OrdersPlaced.Inc()
	e.record(func(j Journal) error { return j.RecordPlacement(id, order) })

	ev := e.log.Info()
	if order.Transmit {
		ev = e.log.Warn()
	}
	ev.Int64("order_id", int64(id)).Bool("transmit", order.Transmit).Str("order", order.String()).Msg("Placed order")
	return nil
}

// nextOrderID requests an id and blocks for the single matching reply.
// There is no timeout: the broker answers every request exactly once.
func (e *Engine) nextOrderID(ctx context.Context) (domain.OrderID, error) {
	if err := e.broker.RequestIDs(); err != nil {
		return 0, fmt.Errorf("failed to request order id: %w", err)
	}
	select {
	case id := <-e.orderIDs:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// clearAnyUntransmitted cancels inst's order if it never left PENDING,
// then gives the broker a moment to settle.
func (e *Engine) clearAnyUntransmitted(inst domain.Instrument) {
	id, ok := e.orders.ClearUntransmitted(inst)
	if !ok {
		return
	}
	e.log.Info().Int64("order_id", int64(id)).Str("symbol", inst.Symbol).Msg("Retracting untransmitted order")
	e.rememberRetracted(id)
	if err := e.broker.CancelOrder(id); err != nil {
		e.log.Error().Err(err).Int64("order_id", int64(id)).Msg("Failed to cancel order")
	}
	metrics.OrdersRetracted.Inc()
	e.record(func(j Journal) error { return j.RecordRetraction(id, inst) })
	e.sleep(CancelSettle)
}

// rememberRetracted records id and forgets ids older than RetractedMemory.
func (e *Engine) rememberRetracted(id domain.OrderID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for old, at := range e.retracted {
		if now.Sub(at) > RetractedMemory {
			delete(e.retracted, old)
		}
	}
	e.retracted[id] = now
}

func (e *Engine) wasRetracted(id domain.OrderID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.retracted[id]
	return ok
}

// RetractAll cancels every untransmitted order across the composition.
// Called on shutdown.
func (e *Engine) RetractAll() {
	for _, inst := range e.comp.Instruments() {
		e.clearAnyUntransmitted(inst)
	}
}
