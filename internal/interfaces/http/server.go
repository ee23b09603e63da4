package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/agents"
	"github.com/defiinsight/insight/internal/auth"
	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/events"
	"github.com/defiinsight/insight/internal/market"
	"github.com/defiinsight/insight/internal/metrics"
	"github.com/defiinsight/insight/internal/net/breaker"
	"github.com/defiinsight/insight/internal/net/ratelimit"
	"github.com/defiinsight/insight/internal/persistence"
	"github.com/defiinsight/insight/internal/providers/coingecko"
	"github.com/defiinsight/insight/internal/providers/defillama"
	"github.com/defiinsight/insight/internal/providers/feargreed"
)

// Request timeouts per route group. Analysis runs fan out to several
// upstreams, so they get the long budget.
const (
	marketTimeout   = 15 * time.Second
	defaultTimeout  = 10 * time.Second
	analysisTimeout = 30 * time.Second
)

// MarketService is the market-data surface the handlers consume.
type MarketService interface {
	Summary(ctx context.Context) (*market.Summary, error)
	FearGreed(ctx context.Context) (*market.FearGreedStatus, error)
	FearGreedTrend(ctx context.Context) (*feargreed.Trend, error)
	Trending(ctx context.Context) ([]coingecko.TrendingCoin, error)
	TopMovers(ctx context.Context, timeframe string, limit int) (*coingecko.Movers, error)
	DeFiOverview(ctx context.Context) (*defillama.Overview, error)
}

// AgentRunner resolves analysis agents by name.
type AgentRunner interface {
	Agent(name string) (agents.Agent, error)
	Names() []string
}

// BreakerView exposes circuit state for health and status endpoints.
type BreakerView interface {
	StatusAll() map[string]breaker.Status
	Healthy() bool
}

// Pinger checks database liveness. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CacheView exposes cache state for health and status endpoints.
type CacheView interface {
	Stats() cache.Stats
	Health(ctx context.Context) bool
}

// Deps carries everything the server serves from. Nil optional fields
// (DB, Breakers, Cache, Metrics) degrade the health detail rather than
// panic.
type Deps struct {
	Users       persistence.UsersRepo
	Analyses    persistence.AnalysesRepo
	Portfolios  persistence.PortfoliosRepo
	Preferences persistence.PreferencesRepo
	Tokens      *auth.Tokens
	Agents      AgentRunner
	Market      MarketService
	Cache       CacheView
	DB          Pinger
	Breakers    BreakerView
	Events      events.Publisher
	Metrics     *metrics.Registry
}

// Server is the HTTP front of the service.
type Server struct {
	router  *mux.Router
	handler http.Handler
	server  *http.Server

	users       persistence.UsersRepo
	analyses    persistence.AnalysesRepo
	portfolios  persistence.PortfoliosRepo
	preferences persistence.PreferencesRepo
	tokens      *auth.Tokens
	agents      AgentRunner
	market      MarketService
	cache       CacheView
	db          Pinger
	breakers    BreakerView
	events      events.Publisher
	metrics     *metrics.Registry

	corsOrigins  []string
	limiter      *ratelimit.Limiter
	streamPeriod time.Duration
	env          string
	version      string
	startTime    time.Time
}

// NewServer wires the router and middleware. Version is the build
// version reported by the banner and status endpoints.
func NewServer(cfg *config.Settings, deps Deps, version string) *Server {
	window := cfg.RateLimitWindow.Seconds()
	if window <= 0 {
		window = 60
	}

	s := &Server{
		router:      mux.NewRouter(),
		users:       deps.Users,
		analyses:    deps.Analyses,
		portfolios:  deps.Portfolios,
		preferences: deps.Preferences,
		tokens:      deps.Tokens,
		agents:      deps.Agents,
		market:      deps.Market,
		cache:       deps.Cache,
		db:          deps.DB,
		breakers:    deps.Breakers,
		events:      deps.Events,
		metrics:     deps.Metrics,

		corsOrigins:  cfg.CORSOrigins,
		limiter:      ratelimit.NewLimiter(float64(cfg.RateLimitTokens)/window, cfg.RateLimitTokens),
		streamPeriod: cfg.MarketStreamPeriod,
		env:          cfg.Env,
		version:      version,
		startTime:    time.Now(),
	}

	s.setupRoutes()

	// Request ID, recovery, and CORS wrap the router itself so they also
	// cover 404s, method mismatches, and OPTIONS preflights that mux
	// middleware never sees. Logging lives inside the router because it
	// needs the matched route template.
	s.handler = requestIDMiddleware(recoveryMiddleware(s.corsMiddleware(s.router)))

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.handler,
		// Write timeout is sized for the WebSocket stream; shorter
		// per-route budgets come from the timeout middleware.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	// Root endpoints sit outside /api and skip rate limiting so probes
	// and scrapers are never throttled.
	s.router.HandleFunc("/", s.handleBanner).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Public API surface.
	public := s.router.PathPrefix("/api").Subrouter()
	public.Use(s.rateLimitMiddleware)
	public.Use(jsonContentTypeMiddleware)

	publicTimed := public.NewRoute().Subrouter()
	publicTimed.Use(timeoutMiddleware(defaultTimeout))
	publicTimed.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	publicTimed.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)
	publicTimed.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	marketAPI := public.PathPrefix("/market").Subrouter()
	marketAPI.Use(timeoutMiddleware(marketTimeout))
	marketAPI.HandleFunc("/summary", s.handleMarketSummary).Methods(http.MethodGet)
	marketAPI.HandleFunc("/fear-greed", s.handleFearGreed).Methods(http.MethodGet)
	marketAPI.HandleFunc("/trending", s.handleTrending).Methods(http.MethodGet)
	marketAPI.HandleFunc("/movers", s.handleMovers).Methods(http.MethodGet)
	marketAPI.HandleFunc("/defi", s.handleDeFi).Methods(http.MethodGet)

	// The stream outlives any request timeout, so it hangs directly off
	// the public subrouter.
	public.HandleFunc("/ws/market", s.handleMarketWS).Methods(http.MethodGet)

	// Authenticated surface.
	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(s.rateLimitMiddleware)
	protected.Use(jsonContentTypeMiddleware)
	protected.Use(s.authMiddleware)

	quick := protected.NewRoute().Subrouter()
	quick.Use(timeoutMiddleware(defaultTimeout))
	quick.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	quick.HandleFunc("/portfolio", s.handlePortfolioCreate).Methods(http.MethodPost)
	quick.HandleFunc("/portfolio", s.handlePortfolioList).Methods(http.MethodGet)
	quick.HandleFunc("/portfolio/user/{user_id}", s.handlePortfolioListByUser).Methods(http.MethodGet)
	quick.HandleFunc("/portfolio/{id}", s.handlePortfolioGet).Methods(http.MethodGet)
	quick.HandleFunc("/portfolio/{id}", s.handlePortfolioUpdate).Methods(http.MethodPut)
	quick.HandleFunc("/portfolio/{id}", s.handlePortfolioDelete).Methods(http.MethodDelete)
	quick.HandleFunc("/portfolio/{id}/history", s.handlePortfolioHistory).Methods(http.MethodGet)

	quick.HandleFunc("/preferences", s.handlePreferencesGet).Methods(http.MethodGet)
	quick.HandleFunc("/preferences", s.handlePreferencesPut).Methods(http.MethodPut)

	analysis := protected.NewRoute().Subrouter()
	analysis.Use(timeoutMiddleware(analysisTimeout))
	analysis.HandleFunc("/analysis/technical", s.runHandler(agentTechnical)).Methods(http.MethodPost)
	analysis.HandleFunc("/analysis/technical/user/{user_id}", s.listHandler(persistence.AnalysisTechnical)).Methods(http.MethodGet)
	analysis.HandleFunc("/analysis/technical/{id}", s.getHandler(persistence.AnalysisTechnical)).Methods(http.MethodGet)

	analysis.HandleFunc("/sentiment/analyze", s.runHandler(agentSentiment)).Methods(http.MethodPost)
	analysis.HandleFunc("/sentiment/user/{user_id}", s.listHandler(persistence.AnalysisSentiment)).Methods(http.MethodGet)
	analysis.HandleFunc("/sentiment/{id}", s.getHandler(persistence.AnalysisSentiment)).Methods(http.MethodGet)

	analysis.HandleFunc("/onchain/analyze", s.runHandler(agentOnchain)).Methods(http.MethodPost)
	analysis.HandleFunc("/onchain/user/{user_id}", s.listHandler(persistence.AnalysisOnchain)).Methods(http.MethodGet)
	analysis.HandleFunc("/onchain/{id}", s.getHandler(persistence.AnalysisOnchain)).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the full middleware and routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.server.Addr).
		Str("env", s.env).
		Str("version", s.version).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
