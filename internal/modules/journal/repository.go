// Package journal appends order activity to the order journal database.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
)

// Event kinds stored in order_events.kind.
const (
	KindPlaced    = "placed"
	KindStatus    = "status"
	KindRetracted = "retracted"
)

// Event is one journal row.
type Event struct {
	ID           int64
	SessionID    string
	RecordedAt   time.Time
	Kind         string
	OrderID      domain.OrderID
	Instrument   domain.Instrument
	Action       string
	Quantity     int
	LimitPrice   float64
	Transmit     bool
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

const eventColumns = `id, session_id, recorded_at, kind, order_id, symbol, exchange, currency,
	action, quantity, limit_price, transmit, status, filled, remaining, avg_fill_price`

// Repository writes order events for one session.
type Repository struct {
	db        *sql.DB
	sessionID string
	now       func() time.Time
	log       zerolog.Logger
}

// NewRepository creates a repository bound to sessionID.
func NewRepository(db *sql.DB, sessionID string, log zerolog.Logger) *Repository {
	return &Repository{
		db:        db,
		sessionID: sessionID,
		now:       time.Now,
		log:       log.With().Str("repo", "journal").Str("session_id", sessionID).Logger(),
	}
}

// StartSession registers the session row every event references.
func (r *Repository) StartSession(armed bool) error {
	_, err := r.db.Exec(
		"INSERT INTO sessions (id, started_at, armed) VALUES (?, ?, ?)",
		r.sessionID, r.now().Unix(), boolToInt(armed),
	)
	if err != nil {
		return fmt.Errorf("failed to start journal session: %w", err)
	}
	return nil
}

// RecordPlacement stores an order handed to the broker.
func (r *Repository) RecordPlacement(id domain.OrderID, order domain.Order) error {
	return r.insert(Event{
		Kind:       KindPlaced,
		OrderID:    id,
		Instrument: order.Instrument,
		Action:     string(order.Action),
		Quantity:   order.Quantity,
		LimitPrice: order.LimitPrice,
		Transmit:   order.Transmit,
	})
}

// RecordStatus stores an order status callback.
func (r *Repository) RecordStatus(id domain.OrderID, inst domain.Instrument, ev domain.OrderStatusEvent) error {
	return r.insert(Event{
		Kind:         KindStatus,
		OrderID:      id,
		Instrument:   inst,
		Status:       ev.Status,
		Filled:       ev.Filled,
		Remaining:    ev.Remaining,
		AvgFillPrice: ev.AvgFillPrice,
	})
}

// RecordRetraction stores a cancelled untransmitted order.
func (r *Repository) RecordRetraction(id domain.OrderID, inst domain.Instrument) error {
	return r.insert(Event{Kind: KindRetracted, OrderID: id, Instrument: inst})
}

func (r *Repository) insert(e Event) error {
	query := `
		INSERT INTO order_events
		(session_id, recorded_at, kind, order_id, symbol, exchange, currency,
		 action, quantity, limit_price, transmit, status, filled, remaining, avg_fill_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	// Columns that do not apply to the kind stay NULL.
	var action, status, quantity, transmit, limit, filled, remaining, avgPx any
	switch e.Kind {
	case KindPlaced:
		action, quantity, limit, transmit = e.Action, e.Quantity, e.LimitPrice, boolToInt(e.Transmit)
	case KindStatus:
		status, filled, remaining, avgPx = e.Status, e.Filled, e.Remaining, e.AvgFillPrice
	}

	_, err := r.db.Exec(query,
		r.sessionID, r.now().UnixMilli(), e.Kind, int64(e.OrderID),
		e.Instrument.Symbol, e.Instrument.Exchange, e.Instrument.Currency,
		action, quantity, limit, transmit, status, filled, remaining, avgPx,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event for order %d: %w", e.Kind, e.OrderID, err)
	}

	r.log.Debug().Str("kind", e.Kind).Int64("order_id", int64(e.OrderID)).Msg("Journal event recorded")
	return nil
}

// Events returns every event of the session in insertion order.
func (r *Repository) Events() ([]Event, error) {
	rows, err := r.db.Query("SELECT "+eventColumns+" FROM order_events WHERE session_id = ? ORDER BY id", r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                          Event
			recordedAt, orderID        int64
			symbol, exchange, currency string
			action, status             sql.NullString
			quantity, transmit         sql.NullInt64
			limit, filled, remaining   sql.NullFloat64
			avgPx                      sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &recordedAt, &e.Kind, &orderID, &symbol, &exchange, &currency,
			&action, &quantity, &limit, &transmit, &status, &filled, &remaining, &avgPx); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recordedAt)
		e.OrderID = domain.OrderID(orderID)
		e.Instrument = domain.Instrument{Symbol: symbol, Exchange: exchange, Currency: currency}
		e.Action = action.String
		e.Quantity = int(quantity.Int64)
		e.LimitPrice = limit.Float64
		e.Transmit = transmit.Int64 == 1
		e.Status = status.String
		e.Filled = filled.Float64
		e.Remaining = remaining.Float64
		e.AvgFillPrice = avgPx.Float64
		events = append(events, e)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
