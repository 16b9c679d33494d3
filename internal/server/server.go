package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/db"
	"github.com/wesm/vocalytics/internal/metrics"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Store is the read side of the vocalytics store. *db.DB
// implements it.
type Store interface {
	Ping(ctx context.Context) error

	WeeklyVolume(ctx context.Context, agentID string) ([]db.DayCount, error)
	PerformanceScore(ctx context.Context, agentID string) (*float64, error)
	LeaderboardRank(ctx context.Context, agentID string) (*int64, error)
	SentimentDistribution(ctx context.Context, agentID string) ([]db.SentimentCount, error)
	TopCallTags(ctx context.Context, agentID string) ([]db.TagCount, error)
	RecentEscalations(ctx context.Context, agentID string) ([]db.Escalation, error)
	RecentCalls(ctx context.Context, agentID string) ([]db.RecentCall, error)
	CallsToday(ctx context.Context, agentID string) (int64, error)
	AgentInsights(ctx context.Context, agentID string) ([]db.AgentInsight, error)

	TeamCallsToday(ctx context.Context, supervisorID string) (int64, error)
	TeamWeeklyCalls(ctx context.Context, supervisorID string) (int64, error)
	MonthlyEscalations(ctx context.Context, supervisorID string) (int64, error)
	AgentPerformance(ctx context.Context, supervisorID string) ([]db.AgentPerformance, error)
	TagSentimentHeatmap(ctx context.Context, supervisorID string) ([]db.TagSentiment, error)
	TeamSentiment(ctx context.Context, supervisorID string) ([]db.SentimentCount, error)
	SupervisorEscalations(ctx context.Context, supervisorID string) ([]db.SupervisorEscalation, error)

	Leaderboard(ctx context.Context) ([]db.LeaderboardEntry, error)
	CompareAgents(ctx context.Context, agent1, agent2 string) ([]db.AgentComparison, error)
	CallCountByTag(ctx context.Context) ([]db.TagCount, error)
	EscalationByTag(ctx context.Context) ([]db.TagCount, error)
}

// Server is the HTTP server for the analytics API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	store   Store
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo
	metrics *metrics.Manager

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server.
func New(cfg config.Config, store Store, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics records request metrics on m and serves them on
// /metrics. Nil is ignored.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

func (s *Server) routes() {
	// Agent view
	s.mux.Handle("GET /api/weekly-volume/{agentId}", s.withTimeout(s.handleWeeklyVolume))
	s.mux.Handle("GET /api/performance-score/{agentId}", s.withTimeout(s.handlePerformanceScore))
	s.mux.Handle("GET /api/leaderboard-rank/{agentId}", s.withTimeout(s.handleLeaderboardRank))
	s.mux.Handle("GET /api/sentiment-distribution/{agentId}", s.withTimeout(s.handleSentimentDistribution))
	s.mux.Handle("GET /api/calls-by-tag/{agentId}", s.withTimeout(s.handleCallsByTag))
	s.mux.Handle("GET /api/recent-escalations/{agentId}", s.withTimeout(s.handleRecentEscalations))
	s.mux.Handle("GET /api/recent-calls/{agentId}", s.withTimeout(s.handleRecentCalls))
	s.mux.Handle("GET /api/calls-today/{agentId}", s.withTimeout(s.handleCallsToday))
	s.mux.Handle("GET /api/agent-insights/{agentId}", s.withTimeout(s.handleAgentInsights))

	// Supervisor view
	s.mux.Handle("GET /api/supervisor/calls-today/{supervisorId}", s.withTimeout(s.handleTeamCallsToday))
	s.mux.Handle("GET /api/supervisor/weekly-volume/{supervisorId}", s.withTimeout(s.handleTeamWeeklyCalls))
	s.mux.Handle("GET /api/supervisor/monthly-escalations/{supervisorId}", s.withTimeout(s.handleMonthlyEscalations))
	s.mux.Handle("GET /api/supervisor/agent-performance/{supervisorId}", s.withTimeout(s.handleAgentPerformance))
	s.mux.Handle("GET /api/supervisor/tag-sentiment-heatmap/{supervisorId}", s.withTimeout(s.handleTagSentimentHeatmap))
	s.mux.Handle("GET /api/supervisor/team-sentiment/{supervisorId}", s.withTimeout(s.handleTeamSentiment))
	s.mux.Handle("GET /api/supervisor/escalations/{supervisorId}", s.withTimeout(s.handleSupervisorEscalations))
	s.mux.Handle("GET /api/supervisor/leaderboard", s.withTimeout(s.handleLeaderboard))
	// Misspelled path kept for dashboards built against it.
	s.mux.Handle("GET /api/supervisor/learderboad", s.withTimeout(s.handleLeaderboard))
	s.mux.Handle("GET /api/supervisor/compare-agents", s.withTimeout(s.handleCompareAgents))

	// Business view
	s.mux.Handle("GET /api/call-count-by-tag", s.withTimeout(s.handleCallCountByTag))
	s.mux.Handle("GET /api/escalation-by-tag", s.withTimeout(s.handleEscalationByTag))

	s.mux.Handle("GET /api/version", s.withTimeout(s.handleGetVersion))
	s.mux.Handle("GET /healthz", s.withTimeout(s.handleHealth))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		writeText(w, http.StatusServiceUnavailable, serverErrorBody)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.logMiddleware(corsMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	addr := s.cfg.Addr()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.httpSrv = srv
	s.mu.Unlock()

	log.Info().Str("addr", addr).Msg("starting server")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
