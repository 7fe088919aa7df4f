package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers reports host and process statistics.
type SystemHandlers struct {
	log       zerolog.Logger
	startedAt time.Time

	// replaced in tests
	cpuPercent func() ([]float64, error)
	memPercent func() (float64, error)
}

// NewSystemHandlers creates system handlers backed by gopsutil.
func NewSystemHandlers(log zerolog.Logger, startedAt time.Time) *SystemHandlers {
	return &SystemHandlers{
		log:       log,
		startedAt: startedAt,
		cpuPercent: func() ([]float64, error) {
			return cpu.Percent(100*time.Millisecond, false)
		},
		memPercent: func() (float64, error) {
			v, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return v.UsedPercent, nil
		},
	}
}

// SystemStatsResponse is the /api/system payload.
type SystemStatsResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HandleSystemStats returns CPU and RAM usage
// GET /api/system
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.getSystemStats()
	h.writeJSON(w, SystemStatsResponse{
		CPUPercent:    cpuAvg,
		RAMPercent:    ramPercent,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	})
}

// getSystemStats samples CPU over 100ms; memory is instant.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := h.cpuPercent()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	ramPercent, err := h.memPercent()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		ramPercent = 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, ramPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
