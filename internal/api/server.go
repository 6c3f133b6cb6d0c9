package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/crawler"
	"github.com/JakeFAU/site-search/internal/indexer"
	"github.com/JakeFAU/site-search/internal/metrics"
	"github.com/JakeFAU/site-search/internal/search"
	"github.com/JakeFAU/site-search/internal/statistics"
)

const readyTimeout = 2 * time.Second

// Jobs controls crawl campaigns.
type Jobs interface {
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	IsActive() bool
}

// Reindexer refreshes a single page.
type Reindexer interface {
	ReindexPage(ctx context.Context, rawURL string) (crawler.Page, error)
}

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

// StatisticsProvider reports index statistics.
type StatisticsProvider interface {
	Get(ctx context.Context) (statistics.Statistics, error)
}

// Options configures the Server.
type Options struct {
	RequestTimeout time.Duration
	// APIKey, when set, guards the job-control endpoints.
	APIKey string
	// Ready reports whether downstream dependencies answer; nil means always ready.
	Ready func(ctx context.Context) error
	NewID func() string
}

// Server wires HTTP handlers to the job registry, search and statistics.
type Server struct {
	router    chi.Router
	jobs      Jobs
	reindexer Reindexer
	searcher  Searcher
	stats     StatisticsProvider
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs Jobs,
	reindexer Reindexer,
	searcher Searcher,
	stats StatisticsProvider,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return strconv.FormatInt(time.Now().UnixNano(), 36) }
	}
	s := &Server{
		jobs:      jobs,
		reindexer: reindexer,
		searcher:  searcher,
		stats:     stats,
		opts:      opts,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(opts.NewID))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/statistics", s.statistics)
		r.Get("/search", s.search)
		r.Group(func(r chi.Router) {
			if opts.APIKey != "" {
				r.Use(apiKeyMiddleware(opts.APIKey))
			}
			r.Get("/startIndexing", s.startIndexing)
			r.Get("/stopIndexing", s.stopIndexing)
			r.Post("/indexPage", s.indexPage)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statisticsResponse struct {
	Result     bool                  `json:"result"`
	Statistics statistics.Statistics `json:"statistics"`
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Get(r.Context())
	if err != nil {
		s.internalError(w, r, "statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{Result: true, Statistics: stats})
}

func (s *Server) startIndexing(w http.ResponseWriter, r *http.Request) {
	started, err := s.jobs.Start(r.Context())
	if err != nil {
		s.internalError(w, r, "start indexing", err)
		return
	}
	if !started {
		writeError(w, http.StatusConflict, "indexing is already running")
		return
	}
	writeOK(w)
}

func (s *Server) stopIndexing(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.jobs.Stop(r.Context())
	if err != nil {
		s.internalError(w, r, "stop indexing", err)
		return
	}
	if !stopped {
		writeError(w, http.StatusConflict, "indexing is not running")
		return
	}
	writeOK(w)
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.FormValue("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, err := s.reindexer.ReindexPage(r.Context(), rawURL); err != nil {
		if errors.Is(err, indexer.ErrOutOfScope) {
			writeError(w, http.StatusBadRequest, indexer.ErrOutOfScope.Error())
			return
		}
		s.internalError(w, r, "index page", err)
		return
	}
	writeOK(w)
}

type searchResponse struct {
	Result bool          `json:"result"`
	Count  int           `json:"count"`
	Data   []search.Item `json:"data"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	res, err := s.searcher.Search(r.Context(), search.Query{
		Text:   q.Get("query"),
		Site:   q.Get("site"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		s.internalError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Result: true, Count: res.Total, Data: res.Items})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err //nolint:wrapcheck // mapped to a 400 by the caller
	}
	return v, nil
}

type statusResponse struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, statusResponse{Result: true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Result: false, Error: msg})
}
