package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"krewup-messaging/internal/chat"
	"krewup-messaging/internal/config"
	"krewup-messaging/internal/events"
	"krewup-messaging/internal/logging"
	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/metrics"
	"krewup-messaging/internal/middleware"
	"krewup-messaging/internal/ratelimit"
	"krewup-messaging/internal/store"
	"krewup-messaging/internal/telemetry"
	"krewup-messaging/internal/user"
	"krewup-messaging/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type stores struct {
	users         store.UserStore
	conversations store.ConversationStore
	messages      store.MessageStore
	close         func()
}

func main() {
	cfg := config.LoadConfig(".env")
	logger := logging.New(cfg.LogFormat, os.Getenv("LOG_LEVEL"), os.Stderr)
	logger.Info().Str("port", cfg.ServerPort).Str("env", cfg.Environment).Msg("messaging server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()

	limiter := newLimiter(ctx, cfg, logger)

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		publisher = kp
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing domain events to kafka")
	}
	defer publisher.Close()

	m := metrics.New()
	hub := websocket.NewHub(m, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	svc := messaging.NewService(st.users, st.conversations, st.messages, messaging.Options{
		Limiter:  limiter,
		Events:   publisher,
		Notifier: hub,
		Metrics:  m,
		Logger:   logger,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(requestLogger(logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Upgrade", "Connection"}
	corsConfig.ExposeHeaders = []string{"Retry-After"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	var wsOrigins []string
	if !corsConfig.AllowAllOrigins {
		wsOrigins = cfg.CORSOrigins
	}
	r.GET("/ws", websocket.NewWSHandler(hub, cfg.JWTSecret, wsOrigins).HandleWebSocketConnection)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	chat.NewRestHandler(svc, logger).Register(apiV1)
	user.NewUserHandler(st.users, logger).Register(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exiting")
}

func openStores(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return &stores{users: db, conversations: db, messages: db, close: func() { db.Close() }}, nil

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		if os.Getenv("AUTO_MIGRATE") == "true" {
			if err := store.MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		logger.Info().Msg("connected to postgres")
		return &stores{
			users:         store.NewPostgresUserStore(pool),
			conversations: store.NewPostgresConversationStore(pool),
			messages:      store.NewPostgresMessageStore(pool),
			close:         pool.Close,
		}, nil
	}
}

// newLimiter prefers the shared Redis counter and falls back to a per-process
// limiter when Redis is not configured or not reachable at startup.
func newLimiter(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) ratelimit.Limiter {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err = rdb.Ping(pingCtx).Err()
		if err == nil {
			logger.Info().Msg("send rate limit backed by redis")
			return ratelimit.NewRedisLimiter(rdb, int64(cfg.SendRateLimit), cfg.SendRateWindow)
		}
		logger.Warn().Err(err).Msg("redis unreachable, using in-process rate limit")
		_ = rdb.Close()
	}
	return ratelimit.NewLocalLimiter(cfg.SendRateLimit, cfg.SendRateWindow)
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
