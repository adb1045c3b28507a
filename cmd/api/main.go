package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dismissal/internal/archive"
	"dismissal/internal/config"
	"dismissal/internal/dailyreset"
	"dismissal/internal/handler"
	"dismissal/internal/httpmiddleware"
	"dismissal/internal/logging"
	"dismissal/internal/metrics"
	"dismissal/internal/notice"
	"dismissal/internal/pickup"
	"dismissal/internal/queue"
	"dismissal/internal/roster"
	"dismissal/internal/store"
	"dismissal/internal/views"
)

const redisPrefix = "dismissal"

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	health := map[string]func(context.Context) bool{}

	var (
		live pickup.Store
		arch handler.Archive
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := pickup.NewMemoryStore()
		live, arch = mem, mem
		logger.Warn("using in-memory pickup store; state is lost on restart")
	default:
		rs := pickup.NewRedisStore(redisClient.Client, redisPrefix, logger.Named("store"))
		live, arch = rs, rs
		health["redis"] = redisClient.Healthy
	}

	archiveWriter, _ := arch.(pickup.Archive)
	if cfg.ArchiveBackend == "postgres" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		repo := archive.NewPostgresRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		arch, archiveWriter = repo, repo
		health["db"] = db.Healthy
	}

	var q queue.Queue
	var feed *notice.Feed
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		go drainNotices(ctx, mem, logger.Named("notice"))
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger.Named("queue"))
		feed = notice.NewFeed(redisClient.Client, redisPrefix, cfg.NoticeFeedSize)
	}
	notices := notice.NewPublisher(q, logger.Named("notice"))

	var source roster.Source = roster.FileSource{Path: cfg.RosterPath}
	if cfg.RosterURL != "" {
		source = roster.NewHTTPSource(cfg.RosterURL)
	}
	loader := roster.NewLoader(source, roster.NewFileCache(cfg.RosterCachePath), cfg.RosterCacheTTL,
		roster.WithLogger(logger.Named("roster")), roster.WithMetrics(m))
	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	if students, err := loader.Load(ctx); err != nil {
		logger.Warn("roster degraded", zap.Int("students", len(students)), zap.Error(err))
		if n, ok := notice.For(err, now()); ok {
			notices.Publish(ctx, n)
		}
	} else {
		logger.Info("roster loaded", zap.Int("students", len(students)))
	}

	engine := pickup.NewEngine(live, cfg.ClickCooldown,
		pickup.WithClock(now),
		pickup.WithLogger(logger.Named("engine")),
		pickup.WithMetrics(m))
	hub := views.NewHub(live, engine, logger.Named("hub"), m)
	sessions := views.NewSessions(hub, engine, loader, cfg.SearchDebounce, now)

	sched := dailyreset.New(live, archiveWriter,
		dailyreset.WithClock(now),
		dailyreset.WithLocation(loc),
		dailyreset.WithLogger(logger.Named("reset")),
		dailyreset.WithMetrics(m))
	sched.OnReset(engine.ResetLocal)
	sched.OnReset(sessions.CancelAll)
	sched.OnReset(func() { notices.Publish(context.Background(), notice.Reset(now())) })
	sched.OnFailure(func(error) { notices.Publish(context.Background(), notice.ResetFailed(now())) })
	if _, err := sched.Check(ctx); err != nil {
		logger.Warn("startup reset check failed, will retry on schedule", zap.Error(err))
	}

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change feed stopped", zap.Error(err))
		}
	}()

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.Schedule(c, cfg.ResetSchedule); err != nil {
		return err
	}
	if _, err := c.AddFunc(cfg.CooldownSweep, func() {
		if n := engine.SweepCooldowns(); n > 0 {
			logger.Debug("cooldowns swept", zap.Int("removed", n))
		}
		limiter.Sweep()
		if n := sessions.Sweep(cfg.SessionIdle); n > 0 {
			logger.Info("idle sessions closed", zap.Int("removed", n))
		}
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.New(handler.Deps{
		Roster:    loader,
		Engine:    engine,
		Hub:       hub,
		Sessions:  sessions,
		Scheduler: sched,
		Archive:   arch,
		Notices:   notices,
		Feed:      feed,
		Health:    health,
		Log:       logger.Named("http"),
	}, handler.Auth{Issuer: cfg.JWTIssuer, SigningKey: cfg.JWTSigningKey, TokenTTL: cfg.DeviceTokenTTL})
	h.Register(r, limiter.GinMiddleware())

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No write timeout: the event streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// drainNotices stands in for the worker when notices stay in process.
func drainNotices(ctx context.Context, q queue.Queue, logger *zap.Logger) {
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("notice consumer failed", zap.Error(err))
		return
	}
	for msg := range messages {
		if n, err := notice.Decode(msg); err == nil {
			logger.Info("notice", zap.String("kind", string(n.Kind)), zap.String("message", n.Message))
		}
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
