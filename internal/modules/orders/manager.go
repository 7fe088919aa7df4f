// Package orders tracks the lifecycle of the single live order each
// instrument may have.
package orders

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a tracked order.
type State int

const (
	// StatePending is entered locally but not yet acknowledged by the broker.
	StatePending State = iota + 1
	// StateTransmitted is live at the broker.
	StateTransmitted
	// StateCooloff is terminal; the entry only absorbs late callbacks until it expires.
	StateCooloff
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateTransmitted:
		return "TRANSMITTED"
	case StateCooloff:
		return "COOLOFF"
	default:
		return "UNTRACKED"
	}
}

type entry struct {
	orderID     domain.OrderID
	order       domain.Order
	state       State
	finalizedAt time.Time
}

// Entry is a read-only view of a tracked order.
type Entry struct {
	Instrument domain.Instrument `json:"instrument"`
	OrderID    domain.OrderID    `json:"order_id"`
	Order      domain.Order      `json:"order"`
	State      string            `json:"state"`
}

// Manager is the per-instrument order state machine.
//
// At most one entry exists per instrument. Reads are safe from any
// goroutine; mutations come from the broker dispatch goroutine and the
// rebalance worker only.
type Manager struct {
	mu      sync.Mutex
	entries map[domain.Instrument]*entry
	cooloff time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewManager creates an empty manager whose cooloff entries expire after cooloff.
func NewManager(cooloff time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		entries: make(map[domain.Instrument]*entry),
		cooloff: cooloff,
		now:     time.Now,
		log:     log.With().Str("component", "order_manager").Logger(),
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// get returns the live entry for inst, dropping it first if its cooloff
// has run out. Caller holds mu.
func (m *Manager) get(inst domain.Instrument) (*entry, bool) {
	e, ok := m.entries[inst]
	if !ok {
		return nil, false
	}
	if e.state == StateCooloff && m.now().Sub(e.finalizedAt) > m.cooloff {
		delete(m.entries, inst)
		m.log.Debug().Str("instrument", inst.String()).Msg("Cooloff expired")
		return nil, false
	}
	return e, true
}

// Enter admits a new PENDING order for inst. It returns false without
// touching anything when inst already has an entry in any state.
func (m *Manager) Enter(inst domain.Instrument, id domain.OrderID, order domain.Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.get(inst); exists {
		metrics.OrderAdmissionsRejected.Inc()
		return false
	}
	m.entries[inst] = &entry{orderID: id, order: order, state: StatePending}
	metrics.OrderTransitions.WithLabelValues(StatePending.String()).Inc()
	return true
}

// Transmit moves a PENDING entry to TRANSMITTED. Calling it again on a
// TRANSMITTED entry returns true without change.
func (m *Manager) Transmit(inst domain.Instrument) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(inst)
	if !ok {
		return false
	}
	switch e.state {
	case StatePending:
		e.state = StateTransmitted
		metrics.OrderTransitions.WithLabelValues(StateTransmitted.String()).Inc()
		return true
	case StateTransmitted:
		return true
	default:
		return false
	}
}

// Finalize moves a TRANSMITTED entry to COOLOFF and starts its quiet period.
// An entry already in COOLOFF is left untouched and reported as finalized.
func (m *Manager) Finalize(inst domain.Instrument) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(inst)
	if !ok {
		return false
	}
	switch e.state {
	case StateTransmitted:
		e.state = StateCooloff
		e.finalizedAt = m.now()
		metrics.OrderTransitions.WithLabelValues(StateCooloff.String()).Inc()
		return true
	case StateCooloff:
		return true
	default:
		return false
	}
}

// ClearUntransmitted removes a PENDING entry and returns its order id.
// Entries in any other state are left alone.
func (m *Manager) ClearUntransmitted(inst domain.Instrument) (domain.OrderID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(inst)
	if !ok || e.state != StatePending {
		return 0, false
	}
	delete(m.entries, inst)
	return e.orderID, true
}

// LookupByOrderID returns the instrument tracked under id.
func (m *Manager) LookupByOrderID(id domain.OrderID) (domain.Instrument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for inst, e := range m.entries {
		if e.orderID != id {
			continue
		}
		if _, live := m.get(inst); !live {
			return domain.Instrument{}, false
		}
		return inst, true
	}
	return domain.Instrument{}, false
}

// LookupOrder returns the order tracked for inst.
func (m *Manager) LookupOrder(inst domain.Instrument) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(inst)
	if !ok {
		return domain.Order{}, false
	}
	return e.order, true
}

// StateOf returns the state of inst; false means untracked.
func (m *Manager) StateOf(inst domain.Instrument) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(inst)
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Book returns every tracked entry ordered by instrument.
func (m *Manager) Book() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for inst := range m.entries {
		e, ok := m.get(inst)
		if !ok {
			continue
		}
		out = append(out, Entry{Instrument: inst, OrderID: e.orderID, Order: e.order, State: e.state.String()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.String() < out[j].Instrument.String()
	})
	return out
}

// FormatBook renders the book for logging.
func (m *Manager) FormatBook() string {
	book := m.Book()
	if len(book) == 0 {
		return "Order book: empty"
	}
	var sb strings.Builder
	sb.WriteString("Order book:")
	for _, e := range book {
		fmt.Fprintf(&sb, "\n  %-12s #%d %-11s %s", e.Instrument.Symbol, e.OrderID, e.State, e.Order)
	}
	return sb.String()
}
