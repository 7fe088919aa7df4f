package domain

import (
	"fmt"
	"strings"
)

// DefaultCurrency is assumed when a payload or config entry omits one.
const DefaultCurrency = "USD"

// Instrument is the normalized identity of a tradable.
//
// It is a comparable value type, so two instruments built from different
// broker payloads for the same tradable compare and hash equal and can be
// used directly as map keys. The routing exchange reported by the broker
// (e.g. "SMART") is never part of the identity; only the primary listing is.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// NewInstrument builds a normalized instrument.
func NewInstrument(symbol, exchange, currency string) Instrument {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Instrument{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: strings.ToUpper(strings.TrimSpace(exchange)),
		Currency: currency,
	}
}

// ContractPayload is the raw contract description carried by broker events.
type ContractPayload struct {
	ConID           int64  `json:"con_id" msgpack:"con_id"`
	Symbol          string `json:"symbol" msgpack:"symbol"`
	SecType         string `json:"sec_type" msgpack:"sec_type"`
	Exchange        string `json:"exchange" msgpack:"exchange"`
	PrimaryExchange string `json:"primary_exchange" msgpack:"primary_exchange"`
	Currency        string `json:"currency" msgpack:"currency"`
}

// InstrumentFromContract normalizes a broker contract.
// The primary exchange wins over the routing exchange when both are present.
func InstrumentFromContract(c ContractPayload) Instrument {
	exchange := c.PrimaryExchange
	if exchange == "" {
		exchange = c.Exchange
	}
	return NewInstrument(c.Symbol, exchange, c.Currency)
}

// Contract renders the instrument back into a broker contract for requests.
// Orders and subscriptions are routed through SMART with the primary listing
// pinned, which is what makes the identity round-trip stable.
func (i Instrument) Contract() ContractPayload {
	return ContractPayload{
		Symbol:          i.Symbol,
		SecType:         SecTypeStock,
		Exchange:        "SMART",
		PrimaryExchange: i.Exchange,
		Currency:        i.Currency,
	}
}

// String renders SYMBOL@EXCHANGE:CURRENCY.
func (i Instrument) String() string {
	return fmt.Sprintf("%s@%s:%s", i.Symbol, i.Exchange, i.Currency)
}

// SecTypeStock is the only security type the agent trades or tracks.
const SecTypeStock = "STK"
