package server

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/modules/orders"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Armed     bool   `json:"armed"`
	Live      bool   `json:"live"`
	Journal   string `json:"journal,omitempty"`
}

// Holding is one instrument's current and targeted position.
type Holding struct {
	Instrument domain.Instrument `json:"instrument"`
	Shares     int               `json:"shares"`
	Target     *int              `json:"target_delta,omitempty"`
}

// AccountResponse is the /api/account payload.
type AccountResponse struct {
	GrossPositionValue float64   `json:"gross_position_value"`
	EquityWithLoan     float64   `json:"equity_with_loan_value"`
	MaintMargin        float64   `json:"maint_margin_req"`
	Loan               float64   `json:"loan"`
	MarginRequirement  float64   `json:"margin_requirement"`
	MarginUtilization  *float64  `json:"margin_utilization"`
	CapturedAt         time.Time `json:"captured_at"`
	AgeSeconds         float64   `json:"age_seconds"`
	PricingAgeSeconds  *float64  `json:"pricing_age_seconds"`
	Holdings           []Holding `json:"holdings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		SessionID: s.sessionID,
		Armed:     s.status.Armed(),
		Live:      s.status.IsLive(),
	}
	code := http.StatusOK

	if s.journal != nil {
		resp.Journal = "ok"
		if err := s.journal.HealthCheck(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("Journal health check failed")
			resp.Status = "degraded"
			resp.Journal = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	book := s.book.Book()
	if book == nil {
		book = []orders.Entry{}
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.status.Account()
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "pending",
			"message": "no account summary received yet",
		})
		return
	}

	now := time.Now()
	resp := AccountResponse{
		GrossPositionValue: acct.GPV,
		EquityWithLoan:     acct.EWLV,
		MaintMargin:        acct.MaintMargin,
		Loan:               acct.Loan(),
		MarginRequirement:  acct.MarginRequirement(),
		MarginUtilization:  finite(acct.MarginUtilization()),
		CapturedAt:         acct.CapturedAt,
		AgeSeconds:         acct.Age(now).Seconds(),
		PricingAgeSeconds:  pricingAge(s.status.PricingAge()),
		Holdings:           holdings(s.status.Portfolio(), s.status.Targets()),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// holdings merges positions and targets, sorted by symbol.
func holdings(portfolio, targets map[domain.Instrument]int) []Holding {
	seen := make(map[domain.Instrument]bool, len(portfolio)+len(targets))
	out := make([]Holding, 0, len(portfolio)+len(targets))
	add := func(inst domain.Instrument) {
		if seen[inst] {
			return
		}
		seen[inst] = true
		h := Holding{Instrument: inst, Shares: portfolio[inst]}
		if delta, ok := targets[inst]; ok {
			h.Target = &delta
		}
		out = append(out, h)
	}
	for inst := range portfolio {
		add(inst)
	}
	for inst := range targets {
		add(inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.String() < out[j].Instrument.String()
	})
	return out
}

// pricingAge is nil while some instrument has never been priced.
func pricingAge(d time.Duration) *float64 {
	if d == time.Duration(math.MaxInt64) {
		return nil
	}
	return finite(d.Seconds())
}

// finite drops values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
