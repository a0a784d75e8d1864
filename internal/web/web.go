// Package web serves the cached calendar documents behind a token
// check and exposes the cron-trigger endpoint.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/whiteki08/SUSTechReptile/internal/cache"
	"github.com/whiteki08/SUSTechReptile/internal/config"
	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
	"github.com/whiteki08/SUSTechReptile/internal/refresh"
)

// Runner is the slice of the refresher the server needs; tests swap in
// a stub.
type Runner interface {
	Run(ctx context.Context, source string) map[string]string
	RefreshSource(ctx context.Context, source string) error
}

// Server exposes the calendar and cron endpoints on a plain ServeMux.
type Server struct {
	cfg       *config.Config
	store     cache.Store
	refresher Runner
	mux       *http.ServeMux
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, store cache.Store, refresher Runner) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/tis/schedule.ics", s.calendarHandler(config.SourceTIS))
	s.mux.HandleFunc("/blackboard/schedule.ics", s.calendarHandler(config.SourceBB))
	// Alias so the path segment matches the cron "source" identifier.
	s.mux.HandleFunc("/bb/schedule.ics", s.calendarHandler(config.SourceBB))
	s.mux.HandleFunc("/cron/fetch", s.handleCronFetch)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarHandler serves one source's cached document.
//
// Flow: token check → cache read → if absent or stale and on-demand
// fetch is enabled, run that source's cycle inline → serve whatever
// document exists afterwards. A stale document whose refresh failed is
// still served; only a missing document yields 404.
func (s *Server) calendarHandler(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenValid(r.URL.Query().Get("token"), s.cfg.ICalToken) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}

		ctx := r.Context()
		key := refresh.CacheKey(source)

		data, updatedAt, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			data = nil
		case err != nil:
			appLog.Error("cache read failed", err, "source", source)
			writeError(w, http.StatusInternalServerError, "cache read failed")
			return
		}

		if s.cfg.FetchOnDemand && (data == nil || s.stale(source, updatedAt)) {
			if rerr := s.refresher.RefreshSource(ctx, source); rerr != nil {
				appLog.Error("on-demand refresh failed", rerr, "source", source)
			} else if fresh, _, gerr := s.store.Get(ctx, key); gerr == nil {
				data = fresh
			}
		}

		if data == nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Calendar data is not yet available. Please wait for the next scheduled update or trigger it manually if you are the admin."))
			return
		}

		w.Header().Set("Content-Type", "text/calendar")
		w.Header().Set("Content-Disposition", `attachment; filename=`+key+`.ics`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// stale reports whether a document written at updatedAt is older than
// the source's freshness window. The zero time is always stale.
func (s *Server) stale(source string, updatedAt time.Time) bool {
	days := s.cfg.FreshnessDays[source]
	if days <= 0 {
		days = 1
	}
	return time.Since(updatedAt) > time.Duration(days)*24*time.Hour
}

// handleCronFetch triggers fetch-and-cache cycles for the requested
// source(s) and reports a per-source status map.
func (s *Server) handleCronFetch(w http.ResponseWriter, r *http.Request) {
	if !tokenValid(r.URL.Query().Get("cron_token"), s.cfg.CronToken) {
		writeError(w, http.StatusUnauthorized, "invalid or missing cron token")
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "all"
	}
	if !refresh.ValidSource(source) {
		writeError(w, http.StatusBadRequest, "unknown source (want tis, bb or all)")
		return
	}

	appLog.Info("cron fetch triggered", "source", source)
	results := s.refresher.Run(r.Context(), source)
	writeJSON(w, http.StatusOK, results)
}

// tokenValid compares a provided token against the configured one in
// constant time. An unset configured token always fails: the endpoint
// stays locked rather than open.
func tokenValid(provided, configured string) bool {
	if configured == "" || len(provided) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
