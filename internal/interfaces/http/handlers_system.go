package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/net/breaker"
)

type bannerResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Env     string `json:"env"`
	Health  string `json:"health"`
	API     string `json:"api"`
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, bannerResponse{
		Service: "DeFi Insight API",
		Version: s.version,
		Env:     s.env,
		Health:  "/health",
		API:     "/api",
	})
}

type healthResponse struct {
	Status    string                 `json:"status"` // healthy | degraded | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Env       string                 `json:"env"`
	System    systemInfo             `json:"system"`
	Checks    map[string]checkResult `json:"checks"`
}

type systemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

type checkResult struct {
	Status    string        `json:"status"` // pass | warn | fail
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// handleHealth reports component checks in plain JSON rather than the API
// envelope so probes can parse it without unwrapping. Postgres is the only
// critical dependency; everything else degrades.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).String(),
		Version:   s.version,
		Env:       s.env,
		System:    collectSystemInfo(),
		Checks:    make(map[string]checkResult),
	}

	if s.db != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.db.PingContext(ctx)
		cancel()

		check := checkResult{
			Status:    "pass",
			Message:   "postgres reachable",
			Duration:  time.Since(start),
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			check.Status = "fail"
			check.Message = fmt.Sprintf("postgres unreachable: %v", err)
		}
		resp.Checks["postgres"] = check
	}

	if s.cache != nil {
		start := time.Now()
		check := checkResult{
			Status:    "pass",
			Message:   "cache responding",
			Timestamp: time.Now().UTC(),
		}
		if !s.cache.Health(r.Context()) {
			check.Status = "warn"
			check.Message = "cache unavailable"
		}
		check.Duration = time.Since(start)
		resp.Checks["cache"] = check
	}

	if s.breakers != nil {
		statuses := s.breakers.StatusAll()
		open := 0
		for _, st := range statuses {
			if st.State == "open" {
				open++
			}
		}
		check := checkResult{
			Status:    "pass",
			Message:   fmt.Sprintf("%d providers, all circuits closed", len(statuses)),
			Timestamp: time.Now().UTC(),
		}
		switch {
		case len(statuses) > 0 && open == len(statuses):
			check.Status = "fail"
			check.Message = "all provider circuits open"
		case open > 0:
			check.Status = "warn"
			check.Message = fmt.Sprintf("%d/%d provider circuits open", open, len(statuses))
		}
		resp.Checks["providers"] = check
	}

	addSystemChecks(&resp)
	resp.Status = overallStatus(resp.Checks)

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func collectSystemInfo() systemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return systemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

func addSystemChecks(resp *healthResponse) {
	now := time.Now().UTC()

	memUsage := 0.0
	if resp.System.MemSys > 0 {
		memUsage = float64(resp.System.MemAlloc) / float64(resp.System.MemSys) * 100
	}
	memCheck := checkResult{
		Status:    "pass",
		Message:   fmt.Sprintf("memory usage normal: %.1f%%", memUsage),
		Timestamp: now,
	}
	switch {
	case memUsage > 90:
		memCheck.Status = "fail"
		memCheck.Message = fmt.Sprintf("memory usage critical: %.1f%%", memUsage)
	case memUsage > 75:
		memCheck.Status = "warn"
		memCheck.Message = fmt.Sprintf("memory usage high: %.1f%%", memUsage)
	}
	resp.Checks["memory"] = memCheck

	goroutineCheck := checkResult{
		Status:    "pass",
		Message:   fmt.Sprintf("goroutine count normal: %d", resp.System.NumGoroutines),
		Timestamp: now,
	}
	if resp.System.NumGoroutines > 1000 {
		goroutineCheck.Status = "warn"
		goroutineCheck.Message = fmt.Sprintf("high goroutine count: %d", resp.System.NumGoroutines)
	}
	resp.Checks["goroutines"] = goroutineCheck
}

func overallStatus(checks map[string]checkResult) string {
	status := "healthy"
	for _, check := range checks {
		switch check.Status {
		case "fail":
			return "unhealthy"
		case "warn":
			status = "degraded"
		}
	}
	return status
}

type statusResponse struct {
	Service   string                    `json:"service"`
	Version   string                    `json:"version"`
	Env       string                    `json:"env"`
	StartedAt time.Time                 `json:"started_at"`
	Uptime    string                    `json:"uptime"`
	Agents    []string                  `json:"agents,omitempty"`
	Providers map[string]breaker.Status `json:"providers,omitempty"`
	Cache     *cache.Stats              `json:"cache,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Service:   "DeFi Insight API",
		Version:   s.version,
		Env:       s.env,
		StartedAt: s.startTime.UTC(),
		Uptime:    time.Since(s.startTime).String(),
	}
	if s.agents != nil {
		resp.Agents = s.agents.Names()
	}
	if s.breakers != nil {
		resp.Providers = s.breakers.StatusAll()
	}
	if s.cache != nil {
		stats := s.cache.Stats()
		resp.Cache = &stats
	}

	writeSuccess(w, r, http.StatusOK, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, codeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path))
}
