package domain

// BarSizeSeconds and BarWhat describe the price bar subscription.
const (
	BarSizeSeconds = 60
	BarWhat        = "MIDPOINT"
)

// Broker is the brokerage collaborator consumed by the rebalancer.
// Requests are fire-and-forget; results arrive through EventHandler.
type Broker interface {
	Connect() error
	Disconnect() error
	RequestAccountSummary(reqID int, tags []string) error
	RequestPositions() error
	RequestRealTimeBars(reqID int, contract ContractPayload, barSize int, what string, rthOnly bool) error
	RequestIDs() error
	PlaceOrder(id OrderID, contract ContractPayload, order Order) error
	CancelOrder(id OrderID) error
}

// EventHandler receives broker events. The broker calls it from a single
// dispatch goroutine, so methods are never invoked concurrently with each other.
// A returned error is fatal to the session.
type EventHandler interface {
	AccountSummary(reqID int, account, tag, value, currency string) error
	AccountSummaryEnd(reqID int) error
	Position(account string, contract ContractPayload, quantity float64, avgCost float64) error
	PositionEnd() error
	RealtimeBar(reqID int, bar PriceBar) error
	NextValidID(id OrderID) error
	OpenOrder(ev OpenOrderEvent) error
	OrderStatus(ev OrderStatusEvent) error
	Error(reqID int, code int, message string) error
}
