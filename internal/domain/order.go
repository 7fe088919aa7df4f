package domain

import (
	"fmt"
	"time"
)

// OrderID is the broker-assigned order identifier.
type OrderID int64

// OrderAction is the side of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// Fixed order parameters. Every order rests at the midpoint with a dated expiry.
const (
	OrderTypeMidprice = "MIDPRICE"
	TimeInForceGTD    = "GTD"
	GoodTillLayout    = "20060102 15:04:05 MST"
)

// Terminal order status strings reported by the broker.
const (
	StatusFilled    = "Filled"
	StatusCancelled = "Cancelled"
)

// Order is a single outstanding brokerage order.
type Order struct {
	Instrument   Instrument  `json:"instrument" msgpack:"instrument"`
	Action       OrderAction `json:"action" msgpack:"action"`
	Quantity     int         `json:"quantity" msgpack:"quantity"`
	LimitPrice   float64     `json:"limit_price" msgpack:"limit_price"`
	OrderType    string      `json:"order_type" msgpack:"order_type"`
	TimeInForce  string      `json:"tif" msgpack:"tif"`
	GoodTillDate string      `json:"good_till_date" msgpack:"good_till_date"`
	Transmit     bool        `json:"transmit" msgpack:"transmit"`
	OutsideRTH   bool        `json:"outside_rth" msgpack:"outside_rth"`

	audited bool
}

// Notional is quantity times limit price.
func (o Order) Notional() float64 {
	return float64(o.Quantity) * o.LimitPrice
}

// Audited reports whether the order passed Audit.
func (o Order) Audited() bool {
	return o.audited
}

// Audit marks the order placeable. It refuses any order that is not a
// MIDPRICE order, that would transmit while the process is disarmed, or
// that routes outside regular trading hours. The marker is never cleared.
func (o *Order) Audit(armed bool) error {
	if o.OrderType != OrderTypeMidprice {
		return fmt.Errorf("%w: order type %q", ErrUnaudited, o.OrderType)
	}
	if o.Transmit && !armed {
		return fmt.Errorf("%w: transmitting order while disarmed", ErrUnaudited)
	}
	if o.OutsideRTH {
		return fmt.Errorf("%w: order routes outside regular trading hours", ErrUnaudited)
	}
	o.audited = true
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("%s %d %s @ %.2f", o.Action, o.Quantity, o.Instrument.Symbol, o.LimitPrice)
}

// GoodTill renders an expiry timestamp the way the broker expects it.
func GoodTill(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(GoodTillLayout)
}

// OrderStatusEvent is an order-status callback from the broker.
type OrderStatusEvent struct {
	OrderID      OrderID `json:"order_id" msgpack:"order_id"`
	Status       string  `json:"status" msgpack:"status"`
	Filled       float64 `json:"filled" msgpack:"filled"`
	Remaining    float64 `json:"remaining" msgpack:"remaining"`
	AvgFillPrice float64 `json:"avg_fill_price" msgpack:"avg_fill_price"`
}

// OpenOrderEvent is an open-order callback from the broker.
type OpenOrderEvent struct {
	OrderID  OrderID         `json:"order_id" msgpack:"order_id"`
	Contract ContractPayload `json:"contract" msgpack:"contract"`
	Order    Order           `json:"order" msgpack:"order"`
}
