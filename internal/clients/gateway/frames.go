package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

// Outbound request types.
const (
	typeHello             = "hello"
	typeReqAccountSummary = "req_account_summary"
	typeReqPositions      = "req_positions"
	typeReqRealtimeBars   = "req_realtime_bars"
	typeReqIDs            = "req_ids"
	typePlaceOrder        = "place_order"
	typeCancelOrder       = "cancel_order"
)

// Inbound event types.
const (
	typeAccountSummary    = "account_summary"
	typeAccountSummaryEnd = "account_summary_end"
	typePosition          = "position"
	typePositionEnd       = "position_end"
	typeRealtimeBar       = "realtime_bar"
	typeNextValidID       = "next_valid_id"
	typeOpenOrder         = "open_order"
	typeOrderStatus       = "order_status"
	typeError             = "error"
)

// frame is the envelope for every message in either direction.
// Requests are sent as JSON text frames; the gateway may answer with
// JSON text or msgpack binary frames carrying the same fields.
type frame struct {
	Type     string `json:"type" msgpack:"type"`
	ReqID    int    `json:"req_id,omitempty" msgpack:"req_id,omitempty"`
	ClientID int    `json:"client_id,omitempty" msgpack:"client_id,omitempty"`

	OrderID  domain.OrderID          `json:"order_id,omitempty" msgpack:"order_id,omitempty"`
	Contract *domain.ContractPayload `json:"contract,omitempty" msgpack:"contract,omitempty"`
	Order    *domain.Order           `json:"order,omitempty" msgpack:"order,omitempty"`

	// account summary
	Account  string   `json:"account,omitempty" msgpack:"account,omitempty"`
	Tag      string   `json:"tag,omitempty" msgpack:"tag,omitempty"`
	Value    string   `json:"value,omitempty" msgpack:"value,omitempty"`
	Currency string   `json:"currency,omitempty" msgpack:"currency,omitempty"`
	Tags     []string `json:"tags,omitempty" msgpack:"tags,omitempty"`

	// positions
	Position float64 `json:"position,omitempty" msgpack:"position,omitempty"`
	AvgCost  float64 `json:"avg_cost,omitempty" msgpack:"avg_cost,omitempty"`

	// bars
	Bar     *barFrame `json:"bar,omitempty" msgpack:"bar,omitempty"`
	BarSize int       `json:"bar_size,omitempty" msgpack:"bar_size,omitempty"`
	What    string    `json:"what,omitempty" msgpack:"what,omitempty"`
	RTHOnly bool      `json:"rth_only,omitempty" msgpack:"rth_only,omitempty"`

	// order status
	Status       string  `json:"status,omitempty" msgpack:"status,omitempty"`
	Filled       float64 `json:"filled,omitempty" msgpack:"filled,omitempty"`
	Remaining    float64 `json:"remaining,omitempty" msgpack:"remaining,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty" msgpack:"avg_fill_price,omitempty"`

	// errors
	Code    int    `json:"code,omitempty" msgpack:"code,omitempty"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
}

type barFrame struct {
	Time  int64   `json:"time" msgpack:"time"` // unix seconds
	Open  float64 `json:"open" msgpack:"open"`
	High  float64 `json:"high" msgpack:"high"`
	Low   float64 `json:"low" msgpack:"low"`
	Close float64 `json:"close" msgpack:"close"`
}

func (b barFrame) toDomain() domain.PriceBar {
	return domain.PriceBar{
		Time:  time.Unix(b.Time, 0),
		Open:  b.Open,
		High:  b.High,
		Low:   b.Low,
		Close: b.Close,
	}
}

func decodeFrame(typ websocket.MessageType, data []byte) (frame, error) {
	var f frame
	switch typ {
	case websocket.MessageText:
		if err := json.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("failed to decode JSON frame: %w", err)
		}
	case websocket.MessageBinary:
		if err := msgpack.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("failed to decode msgpack frame: %w", err)
		}
	default:
		return f, fmt.Errorf("unsupported message type %v", typ)
	}
	if f.Type == "" {
		return f, fmt.Errorf("frame without type")
	}
	return f, nil
}

// dispatch hands one inbound frame to the handler.
func dispatch(h domain.EventHandler, f frame) error {
	switch f.Type {
	case typeAccountSummary:
		return h.AccountSummary(f.ReqID, f.Account, f.Tag, f.Value, f.Currency)
	case typeAccountSummaryEnd:
		return h.AccountSummaryEnd(f.ReqID)
	case typePosition:
		if f.Contract == nil {
			return domain.Anomalyf("position frame without contract")
		}
		return h.Position(f.Account, *f.Contract, f.Position, f.AvgCost)
	case typePositionEnd:
		return h.PositionEnd()
	case typeRealtimeBar:
		if f.Bar == nil {
			return domain.Anomalyf("realtime bar frame %d without bar", f.ReqID)
		}
		return h.RealtimeBar(f.ReqID, f.Bar.toDomain())
	case typeNextValidID:
		return h.NextValidID(f.OrderID)
	case typeOpenOrder:
		if f.Contract == nil || f.Order == nil {
			return domain.Anomalyf("open order frame %d incomplete", f.OrderID)
		}
		return h.OpenOrder(domain.OpenOrderEvent{OrderID: f.OrderID, Contract: *f.Contract, Order: *f.Order})
	case typeOrderStatus:
		return h.OrderStatus(domain.OrderStatusEvent{
			OrderID:      f.OrderID,
			Status:       f.Status,
			Filled:       f.Filled,
			Remaining:    f.Remaining,
			AvgFillPrice: f.AvgFillPrice,
		})
	case typeError:
		return h.Error(f.ReqID, f.Code, f.Message)
	default:
		return domain.Anomalyf("unknown gateway frame type %q", f.Type)
	}
}
