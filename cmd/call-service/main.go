package main

import (
	"context"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"zemichat-backend/internal/database"
	callHandler "zemichat-backend/internal/handler/http/call"
	pushHandler "zemichat-backend/internal/handler/http/push"
	wsHandler "zemichat-backend/internal/handler/ws"
	"zemichat-backend/internal/middleware"
	"zemichat-backend/internal/repository/cassandra"
	"zemichat-backend/internal/repository/cockroach"
	redisRepo "zemichat-backend/internal/repository/redis"
	callService "zemichat-backend/internal/service/call"
	"zemichat-backend/internal/service/history"
	"zemichat-backend/internal/service/token"
	"zemichat-backend/pkg/constants"
	"zemichat-backend/pkg/env"
	"zemichat-backend/pkg/jwt"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/metrics"
	"zemichat-backend/pkg/push"
	"zemichat-backend/pkg/rtctoken"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	ctx := context.Background()

	// JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(jwtSecret, env.GetDuration("JWT_TOKEN_DURATION", 15*time.Minute))

	// RTC token builder
	rtcAppID := env.GetStringFromFile("RTC_APP_ID", "")
	rtcCertificate := env.GetStringFromFile("RTC_APP_CERTIFICATE", "")
	tokenBuilder, err := rtctoken.NewHMACBuilder(rtcAppID, rtcCertificate)
	if err != nil {
		logger.Fatal("invalid RTC credentials", zap.Error(err))
	}

	// CockroachDB for call logs, signals and chat membership
	dbConfig := &database.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "zemichat"),
		SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
	}

	db, err := connectCockroach(ctx, dbConfig)
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to CockroachDB", zap.String("host", dbConfig.Host))

	// Redis for signal fanout, presence and push tokens
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  5 * time.Second,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("connected to Redis", zap.String("host", redisConfig.Host))

	// Cassandra for chat messages
	cassandraConfig := &database.CassandraConfig{
		Hosts:    strings.Split(env.GetString("CASSANDRA_HOSTS", "localhost"), ","),
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "zemichat"),
		Username: env.GetString("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	}

	cassandraDB, err := database.NewCassandraDB(cassandraConfig)
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra", zap.Strings("hosts", cassandraConfig.Hosts))

	// Repositories
	callLogRepo := cockroach.NewCallLogRepository(db.Pool)
	signalRepo := cockroach.NewSignalRepository(db.Pool)
	memberRepo := cockroach.NewMemberRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)
	signalStream := redisRepo.NewSignalStream(redisDB)
	messageRepo := cassandra.NewMessageRepository(cassandraDB)

	// Push fanout
	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("failed to initialize push provider", zap.Error(err))
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// Metrics
	appMetrics := metrics.NewMetrics("call-service")

	// Services
	tokenSvc := token.NewService(userRepo, memberRepo, presenceRepo, tokenBuilder)
	historySvc := history.NewService(callLogRepo, memberRepo, userRepo)
	fanout := callService.NewFanout(memberRepo, userRepo, pushSvc, appMetrics)

	// Handlers
	callHdlr := callHandler.NewHandler(tokenSvc, historySvc, fanout, signalRepo, signalStream, memberRepo, callLogRepo, messageRepo)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)
	signalHub := wsHandler.NewSignalHub(signalRepo, signalStream, memberRepo, appMetrics)

	// Expired signal rows are filtered on read; this sweep keeps the table
	// from accumulating them
	go sweepExpiredSignals(ctx, signalRepo)

	// Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Prometheus(appMetrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	rateLimiter := middleware.NewRateLimiter(redisDB.Client,
		env.GetInt("RATE_LIMIT_REQUESTS", 120), time.Minute)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(jwtManager))
	v1.Use(rateLimiter.Middleware())
	{
		calls := v1.Group("/calls")
		{
			calls.POST("/token", callHdlr.IssueToken)
			calls.POST("/signals", callHdlr.SendSignal)
			calls.POST("/push", callHdlr.SendPush)
			calls.POST("/:callLogID/outcome", callHdlr.PostOutcome)
			calls.GET("/history", callHdlr.ListHistory)
			calls.GET("/chats/:chatID/history", callHdlr.ListChatHistory)
			calls.GET("/ws", signalHub.ServeWS)
		}

		tokens := v1.Group("/push/tokens")
		{
			tokens.POST("", pushHdlr.RegisterToken)
			tokens.DELETE("", pushHdlr.UnregisterToken)
			tokens.GET("", pushHdlr.ListTokens)
		}
	}

	// Server with graceful shutdown
	addr := ":" + env.GetString("PORT", "8084")
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("call service listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

// connectCockroach retries the initial connection with exponential backoff
func connectCockroach(ctx context.Context, cfg *database.CockroachConfig) (*database.CockroachDB, error) {
	const maxRetries = 5
	baseDelay := time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDB(ctx, cfg)
	for attempt := 2; err != nil && attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)

		db, err = database.NewCockroachDB(ctx, cfg)
	}
	return db, err
}

// sweepExpiredSignals deletes signal rows past their expiry
func sweepExpiredSignals(ctx context.Context, signals *cockroach.SignalRepository) {
	interval := env.GetDuration("SIGNAL_SWEEP_INTERVAL", 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := signals.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("signal sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Debug("swept expired signals", zap.Int64("deleted", deleted))
			}
		}
	}
}
