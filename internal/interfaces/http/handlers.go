package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/persistence"
	"github.com/sawpanic/moverun/internal/stream"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// queryInt parses an optional non-negative integer parameter
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, ok := queryInt(r, "limit", defaultLimit)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func symbolParam(w http.ResponseWriter, r *http.Request, raw string) (market.Symbol, bool) {
	if raw == "" {
		return "", true
	}
	sym := market.NormalizeSymbol(raw)
	if err := sym.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_symbol", err.Error())
		return "", false
	}
	return sym, true
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.deps.Version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Bus:     s.deps.Bus.Health(),
		Sources: s.deps.Metrics.Sources(),
	}

	for _, src := range resp.Sources {
		if src.Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	if s.deps.Store != nil {
		hc := s.deps.Store.Health(r.Context())
		resp.Storage = &hc
		if !hc.Healthy {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if !resp.Bus.Healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GET /v1/symbols
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SymbolsResponse{
		Timestamp: time.Now().UTC(),
		Symbols:   s.deps.Pipeline.SymbolStatus(),
	})
}

// GET /v1/prices/{symbol}?since=1h
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r, mux.Vars(r)["symbol"])
	if !ok {
		return
	}
	if _, tracked := s.deps.Pipeline.Status(sym); !tracked {
		writeError(w, r, http.StatusNotFound, "symbol_not_tracked", "symbol "+string(sym)+" is not tracked")
		return
	}

	lookback := time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_since", "since must be a positive duration such as 15m")
			return
		}
		lookback = d
	}

	hist := s.deps.Pipeline.History()
	to := time.Now().UTC()
	resp := PricesResponse{
		Symbol:  sym,
		From:    to.Add(-lookback),
		To:      to,
		Samples: hist.Window(sym, to.Add(-lookback), to.Add(time.Nanosecond)),
	}
	if latest, ok := hist.Latest(sym); ok {
		resp.Latest = &latest
	}
	if resp.Samples == nil {
		resp.Samples = []market.PriceSample{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/movements?since=<seq>&limit=&symbol=
func (s *Server) handleMovements(w http.ResponseWriter, r *http.Request) {
	since, ok := queryInt(r, "since", 0)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_since", "since must be an event sequence number")
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	sym, ok := symbolParam(w, r, r.URL.Query().Get("symbol"))
	if !ok {
		return
	}

	events := s.deps.Bus.Filter(stream.KindMovement, uint64(since), limit)
	next := uint64(since)
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	if sym != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if ev.Symbol == sym {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []stream.Event{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Next: next})
}

// GET /v1/movements/stored?symbol=&limit=
func (s *Server) handleStoredMovements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "storage_disabled", "no database configured")
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	sym, ok := symbolParam(w, r, r.URL.Query().Get("symbol"))
	if !ok {
		return
	}

	rows, err := s.deps.Store.RecentMovements(r.Context(), sym, limit)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID(r)).Msg("Stored movements query failed")
		writeError(w, r, http.StatusInternalServerError, "storage_error", "could not read stored movements")
		return
	}
	if rows == nil {
		rows = []persistence.MovementRow{}
	}
	writeJSON(w, http.StatusOK, StoredMovementsResponse{Movements: rows})
}

// GET /v1/news?symbol=&limit=
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	sym, ok := symbolParam(w, r, r.URL.Query().Get("symbol"))
	if !ok {
		return
	}

	arts := s.deps.News.Recent(sym, limit)
	if arts == nil {
		arts = []market.NewsArticle{}
	}
	writeJSON(w, http.StatusOK, NewsResponse{
		Symbol:   sym,
		Count:    len(arts),
		Cached:   s.deps.News.Len(),
		Articles: arts,
	})
}

// GET /v1/diagnostics
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	samples, err := s.deps.Metrics.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("Metrics snapshot failed")
		writeError(w, r, http.StatusInternalServerError, "metrics_error", "could not gather metrics")
		return
	}

	mp, window := s.deps.Pipeline.Policy()
	resp := DiagnosticsResponse{
		Timestamp:   time.Now().UTC(),
		Policy:      PolicyInfo{Movement: mp, Window: window},
		Sources:     s.deps.Metrics.Sources(),
		Bus:         s.deps.Bus.Health(),
		Symbols:     s.deps.Pipeline.SymbolStatus(),
		Metrics:     samples,
		Diagnostics: recentDiagnostics(s.deps.Bus, 50),
	}
	if s.deps.Hosts != nil {
		resp.Hosts = s.deps.Hosts.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// recentDiagnostics returns up to n of the latest diagnostic events
func recentDiagnostics(bus *stream.Bus, n int) []stream.Event {
	all := bus.Filter(stream.KindDiagnostic, 0, 0)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	if all == nil {
		all = []stream.Event{}
	}
	return all
}
