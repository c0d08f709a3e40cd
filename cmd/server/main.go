package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mockbtc/backend/docs"
	"github.com/mockbtc/backend/internal/config"
	"github.com/mockbtc/backend/internal/database"
	"github.com/mockbtc/backend/internal/handlers"
	"github.com/mockbtc/backend/internal/lock"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/mockbtc/backend/internal/metrics"
	mW "github.com/mockbtc/backend/internal/middleware"
	"github.com/mockbtc/backend/internal/repository"
	"github.com/mockbtc/backend/internal/services"
	"github.com/mockbtc/backend/internal/worker"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Mock BTC Ledger API
// @version 1.0
// @description Balance engine for a simulated BTC holding service
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.public_url", "PUBLIC_URL")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.public_url", "http://localhost:8080")

	configErr := viper.ReadInConfig()
	logger.Configure(viper.GetString("log.level"), viper.GetString("log.format"))
	if configErr != nil {
		logger.Infof("Config file not found, using environment and defaults: %v", configErr)
	}
	if viper.GetString("jwt.secret_key") == "" {
		logger.Fatalf("JWT_SECRET_KEY must be set")
	}

	docs.SwaggerInfo.Host = ""
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	metrics.Init()
	ledgerCfg := config.LoadLedgerConfig()

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warnf("Redis unavailable, ledger locks are local to this process")
	}

	store := repository.NewStore(db)
	locker := lock.New(redisClient, ledgerCfg.LockTTL, ledgerCfg.LockWait)
	pool := worker.NewPool(ledgerCfg.RecomputeWorkers)

	mW.InitAuthMiddleware(redisClient)

	// Initialize services
	requestService := services.NewTransactionRequestService(store, locker, ledgerCfg)
	adminService := services.NewAdminTransactionService(store, locker)
	batchService := services.NewBatchAdjustmentService(store, locker, ledgerCfg)
	rateService := services.NewMarketRateService(store, pool, ledgerCfg)
	dashboardService := services.NewDashboardService(store, ledgerCfg)

	api := &handlers.Handlers{
		Transactions: handlers.NewTransactionHandler(requestService, adminService),
		Batches:      handlers.NewBatchHandler(batchService),
		Rates:        handlers.NewMarketRateHandler(rateService),
		Dashboard:    handlers.NewDashboardHandler(dashboardService),
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	limiter := mW.NewRateLimiter(ledgerCfg.HTTPRateLimit, ledgerCfg.HTTPRateBurst)
	go limiter.Cleanup(bgCtx, time.Minute, 3*time.Minute)
	go recoverBatches(bgCtx, batchService, ledgerCfg.BatchRecoveryInterval)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger.L(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(mW.HTTPMetrics)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Handle("/metrics", metrics.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(viper.GetString("server.public_url")+"/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		api.Routes(r, limiter)
	})

	port := viper.GetString("server.port")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	pool.Stop()

	logger.Info("Server stopped")
}

// recoverBatches resumes stuck batch runs at start-up and then periodically
func recoverBatches(ctx context.Context, batches *services.BatchAdjustmentService, every time.Duration) {
	run := func() {
		n, err := batches.RecoverStale(ctx)
		if err != nil {
			logger.Errorf("[BatchRecovery] scan failed: %v", err)
			return
		}
		if n > 0 {
			logger.Infof("[BatchRecovery] resumed %d batch operations", n)
		}
	}

	run()
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
