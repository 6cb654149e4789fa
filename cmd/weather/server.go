package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/api/handlers"
	"github.com/rajashekarcs2023/weather-marketplace/config"
	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/discovery"
	"github.com/rajashekarcs2023/weather-marketplace/dispatch"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/internal/cache"
	"github.com/rajashekarcs2023/weather-marketplace/internal/database"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/internal/pool"
	"github.com/rajashekarcs2023/weather-marketplace/internal/server"
	"github.com/rajashekarcs2023/weather-marketplace/internal/telemetry"
	"github.com/rajashekarcs2023/weather-marketplace/internal/tlsutil"
	"github.com/rajashekarcs2023/weather-marketplace/llm"
	"github.com/rajashekarcs2023/weather-marketplace/mailbox"
	"github.com/rajashekarcs2023/weather-marketplace/relay"
)

const (
	metricsNamespace    = "weather"
	directoryKeyPrefix  = "weather:directory:"
	registrationTimeout = 15 * time.Second
)

// Server wires the components of one role and owns their lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers
	cache            *cache.Manager
	db               *database.PoolManager

	health *handlers.HealthHandler
	routes func(mux *http.ServeMux)

	// peer processes
	identity  *identity.Identity
	directory *directory.Client
	mailbox   mailbox.Mailbox
	pool      *pool.GoroutinePool

	// registration performed once the listener is up
	register func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server for cfg.Role.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.With(zap.String("role", cfg.Role)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start builds the role's components, starts both listeners and registers
// with the directory.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector(metricsNamespace, s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.health = handlers.NewHealthHandler(s.logger)

	if err := s.initRole(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to init %s: %w", s.cfg.Role, err)
	}

	if err := s.startHTTPServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	if s.register != nil {
		ctx, cancel := context.WithTimeout(s.ctx, registrationTimeout)
		defer cancel()
		// A directory that is down must not keep the service from answering.
		if err := s.register(ctx); err != nil {
			s.logger.Error("directory registration failed", zap.String("directory", s.cfg.Directory.URL), zap.Error(err))
		}
	}

	return nil
}

func (s *Server) initRole() error {
	switch s.cfg.Role {
	case config.RoleClient:
		return s.initClient()
	case config.RoleBudgetAgent, config.RoleLuxuryAgent, config.RoleAgent:
		return s.initAgent()
	case config.RoleDirectory:
		return s.initDirectory()
	default:
		return fmt.Errorf("unknown role %q", s.cfg.Role)
	}
}

// =============================================================================
// Shared infrastructure
// =============================================================================

func (s *Server) initCache() error {
	if s.cache != nil {
		return nil
	}
	cm, err := cache.NewManager(cache.Config{
		Addr:                s.cfg.Redis.Addr,
		Password:            s.cfg.Redis.Password,
		DB:                  s.cfg.Redis.DB,
		PoolSize:            s.cfg.Redis.PoolSize,
		MinIdleConns:        s.cfg.Redis.MinIdleConns,
		DefaultTTL:          cache.DefaultConfig().DefaultTTL,
		HealthCheckInterval: cache.DefaultConfig().HealthCheckInterval,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.cache = cm
	s.health.RegisterCheck(handlers.NewPingCheck("redis", cm.Ping))
	return nil
}

// initPeer loads the identity and builds the directory client and the
// envelope sender shared by the client and the agents.
func (s *Server) initPeer(sendTimeout time.Duration) (*dispatch.Sender, error) {
	id, err := identity.FromSeed(s.cfg.Identity.Seed, s.cfg.Identity.Index)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	s.identity = id

	hc, err := tlsutil.HTTPClient(tlsutil.ClientOptions{CAFile: s.cfg.Directory.CAFile})
	if err != nil {
		return nil, fmt.Errorf("build HTTP client: %w", err)
	}

	s.directory = directory.NewClient(s.cfg.Directory.URL, s.cfg.Directory.Token, s.cfg.Directory.Timeout,
		directory.WithHTTPClient(hc),
		directory.WithMetrics(s.metricsCollector),
		directory.WithLogger(s.logger),
	)

	sender := dispatch.NewSender(id, s.directory, dispatch.Config{
		Timeout:         sendTimeout,
		ResolveCacheTTL: s.cfg.Directory.ResolveCacheTTL,
		EnvelopeTTL:     dispatch.DefaultConfig().EnvelopeTTL,
	},
		dispatch.WithHTTPClient(hc),
		dispatch.WithMetrics(s.metricsCollector),
		dispatch.WithLogger(s.logger),
	)

	s.logger.Info("identity loaded", zap.String("address", id.Address()))
	return sender, nil
}

func (s *Server) registerAs(name string, capability *directory.Capability) {
	webhookURL := s.cfg.Server.WebhookURL()
	s.register = func(ctx context.Context) error {
		rec, err := relay.Register(ctx, s.directory, s.identity, name, webhookURL, capability)
		if err != nil {
			return err
		}
		s.logger.Info("registered with directory",
			zap.String("name", rec.Name),
			zap.String("address", rec.Address),
			zap.String("url", rec.URL),
		)
		return nil
	}
}

// =============================================================================
// Roles
// =============================================================================

func (s *Server) initClient() error {
	sender, err := s.initPeer(s.cfg.Client.SendTimeout)
	if err != nil {
		return err
	}

	if s.cfg.Mailbox.Backend == "redis" {
		if err := s.initCache(); err != nil {
			return err
		}
	}
	mb, err := mailbox.New(s.cfg.Mailbox, s.cache)
	if err != nil {
		return fmt.Errorf("create mailbox: %w", err)
	}
	s.mailbox = mb
	go mailbox.PurgeLoop(s.ctx, mb, purgeInterval(s.cfg.Mailbox.TTL), s.logger)

	offers := discovery.NewService(s.directory, discovery.Config{
		Query:      s.cfg.Client.SearchQuery,
		NameFilter: s.cfg.Client.NameFilter,
		Limit:      s.cfg.Client.SearchLimit,
	}, s.logger)

	client := relay.NewClient(sender, mb, relay.ClientConfig{RequestTTL: s.cfg.Mailbox.TTL},
		relay.WithClientMetrics(s.metricsCollector),
		relay.WithClientLogger(s.logger),
	)

	streamCfg := handlers.DefaultWeatherHandlerConfig()
	if hosts := originHosts(s.cfg.Server.CORSAllowedOrigins); len(hosts) > 0 {
		streamCfg.OriginPatterns = hosts
	}
	if s.cfg.Mailbox.TTL > 0 {
		streamCfg.StreamTimeout = s.cfg.Mailbox.TTL + 5*time.Second
	}
	weather := handlers.NewWeatherHandler(offers, client, streamCfg, s.logger)

	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("GET /api/search-agents", weather.HandleSearchAgents)
		mux.HandleFunc("POST /api/get-weather", weather.HandleGetWeather)
		mux.HandleFunc("GET /api/get-weather-response", weather.HandleGetWeatherResponse)
		mux.HandleFunc("POST /api/webhook", weather.HandleWebhook)
		mux.HandleFunc("GET /api/weather-stream", weather.HandleWeatherStream)
		mux.HandleFunc("GET /api/stats", weather.HandleStats)
	}

	s.registerAs(s.cfg.Client.Title, relay.ClientCapability(s.cfg.Client))
	return nil
}

func (s *Server) initAgent() error {
	sender, err := s.initPeer(s.cfg.Agent.SendTimeout)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(s.cfg.LLM)
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}
	analyst, err := llm.NewAnalyst(provider, llm.AnalystConfig{
		PromptTemplate: s.cfg.Agent.PromptTemplate,
		Timeout:        s.cfg.Agent.AnalysisTimeout,
	},
		llm.WithMetrics(s.metricsCollector),
		llm.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	opts := []relay.AgentOption{
		relay.WithAgentMetrics(s.metricsCollector),
		relay.WithAgentLogger(s.logger),
	}
	if s.cfg.Agent.Async {
		s.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			Workers:     s.cfg.Agent.Workers,
			QueueSize:   s.cfg.Agent.QueueSize,
			TaskTimeout: s.cfg.Agent.AnalysisTimeout + s.cfg.Agent.SendTimeout,
			PanicHandler: func(v any) {
				s.logger.Error("agent task panicked", zap.Any("panic", v))
			},
			OnQueueChange: s.metricsCollector.SetQueueDepth,
		})
		opts = append(opts, relay.WithPool(s.pool))
	}

	agent := relay.NewAgent(analyst, sender, relay.AgentConfig{
		Variant: s.cfg.Agent.Variant,
		Price:   s.cfg.Agent.Price,
	}, opts...)

	h := handlers.NewAgentHandler(agent, handlers.AgentInfo{
		Address:  agent.Address(),
		Name:     s.cfg.Agent.Title,
		Variant:  s.cfg.Agent.Variant,
		Price:    s.cfg.Agent.Price,
		Currency: s.cfg.Agent.Currency,
		Async:    s.cfg.Agent.Async,
	}, s.logger)

	s.routes = func(mux *http.ServeMux) {
		mux.HandleFunc("POST /webhook", h.HandleWebhook)
		mux.HandleFunc("POST /api/webhook", h.HandleWebhook)
		mux.HandleFunc("GET /api/info", h.HandleInfo)
	}

	s.logger.Info("weather agent ready",
		zap.String("variant", s.cfg.Agent.Variant),
		zap.Float64("price", s.cfg.Agent.Price),
		zap.String("llm_provider", provider.Name()),
		zap.String("llm_model", provider.Model()),
		zap.Bool("async", s.cfg.Agent.Async),
	)

	s.registerAs(s.cfg.Agent.Title, relay.AgentCapability(s.cfg.Agent))
	return nil
}

func (s *Server) initDirectory() error {
	var store directory.Store
	switch s.cfg.Directory.Store {
	case "redis":
		if err := s.initCache(); err != nil {
			return err
		}
		store = directory.NewRedisStore(s.cache, directoryKeyPrefix)
	case "database":
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		s.db = db
		s.health.RegisterCheck(handlers.NewPingCheck("database", db.Ping))
		gs, err := directory.NewGormStore(s.ctx, db)
		if err != nil {
			return fmt.Errorf("create directory store: %w", err)
		}
		store = gs
	default:
		store = directory.NewMemoryStore()
	}

	registry := directory.NewRegistry(store, directory.DefaultRegistryConfig(), s.logger)
	issuer := directory.NewTokenIssuer(s.cfg.Directory.TokenSecret, s.cfg.Directory.TokenTTL)
	if !issuer.Enabled() {
		s.logger.Warn("directory token secret not set, mutating routes are open")
	}
	auth := JWTAuth(issuer, s.logger)
	h := handlers.NewDirectoryHandler(registry, s.metricsCollector, s.logger)

	s.routes = func(mux *http.ServeMux) {
		mux.Handle("POST /v1/agents", auth(http.HandlerFunc(h.HandleRegister)))
		mux.HandleFunc("GET /v1/agents/{address}", h.HandleResolve)
		mux.Handle("DELETE /v1/agents/{address}", auth(http.HandlerFunc(h.HandleUnregister)))
		mux.HandleFunc("POST /v1/search", h.HandleSearch)
	}

	s.logger.Info("directory ready", zap.String("store", s.cfg.Directory.Store))
	return nil
}

// =============================================================================
// Listeners
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	if s.routes != nil {
		s.routes(mux)
	}

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "http",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		MaxConnections:  s.cfg.Server.MaxConnections,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until SIGINT/SIGTERM or until either listener stops
// serving, then shuts down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var httpErrs, metricsErrs <-chan error
	if s.httpManager != nil {
		httpErrs = s.httpManager.Errors()
	}
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	waitForStop(s.logger, quit, httpErrs, metricsErrs)

	s.Shutdown()
}

// waitForStop returns once quit fires or one of the listeners reports a serve
// error. A nil channel never fires.
func waitForStop(logger *zap.Logger, quit <-chan os.Signal, httpErrs, metricsErrs <-chan error) {
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-httpErrs:
		logger.Error("HTTP server exited unexpectedly", zap.Error(err))
	case err := <-metricsErrs:
		logger.Error("Metrics server exited unexpectedly", zap.Error(err))
	}
}

// Shutdown stops listeners first, then drains the workers and closes stores.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if s.httpManager != nil && s.httpManager.IsRunning() {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil && s.metricsManager.IsRunning() {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.pool != nil {
		if err := s.pool.Close(ctx); err != nil {
			s.logger.Warn("agent workers did not drain", zap.Error(err))
		}
	}

	// stops the purge loop and the rate limiter janitor
	s.cancel()

	if s.mailbox != nil {
		if err := s.mailbox.Close(); err != nil {
			s.logger.Error("Mailbox close error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// purgeInterval sweeps expired mailbox cells a few times per TTL.
func purgeInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 10 * time.Second
	}
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// originHosts turns CORS origins into the host patterns websocket.Accept
// matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
