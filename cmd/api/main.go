package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	v1 "bizpulse/insight-engine/api/v1"
	"bizpulse/insight-engine/internal/alerts"
	"bizpulse/insight-engine/internal/config"
	"bizpulse/insight-engine/internal/dashboard"
	"bizpulse/insight-engine/internal/export"
	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/kpi/calculation"
	"bizpulse/insight-engine/internal/kpi/trend"
	"bizpulse/insight-engine/internal/notifications"
	"bizpulse/insight-engine/internal/notifications/websocket"
	"bizpulse/insight-engine/internal/query"
	"bizpulse/insight-engine/internal/scheduler"
)

// defaultAllowlist names the business tables and fields KPI calculations
// may aggregate over. Anything outside this map is rejected at
// definition time.
var defaultAllowlist = query.Allowlist{
	"orders": {
		"id": true, "total_amount": true, "discount_amount": true,
		"status": true, "customer_id": true, "created_at": true,
	},
	"order_items": {
		"id": true, "quantity": true, "unit_price": true,
		"product_id": true, "order_id": true, "created_at": true,
	},
	"customers": {
		"id": true, "lifetime_value": true, "status": true,
		"segment": true, "created_at": true,
	},
	"subscriptions": {
		"id": true, "mrr": true, "status": true, "plan": true,
		"started_at": true, "cancelled_at": true, "created_at": true,
	},
	"support_tickets": {
		"id": true, "resolution_hours": true, "status": true,
		"priority": true, "created_at": true,
	},
	"sessions": {
		"id": true, "duration_seconds": true, "converted": true,
		"channel": true, "created_at": true,
	},
}

func main() {
	// Load .env if present
	_ = godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// KPI registry and calculation engine
	kpiRepo, err := kpi.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate KPI schema", zap.Error(err))
	}
	executor := query.NewGormExecutor(db, defaultAllowlist, cfg.Database.QueryTimeout)
	calcEngine := calculation.NewEngine(executor, logger)
	valueCache := kpi.NewValueCache(10 * time.Minute)
	defer valueCache.Stop()
	registry := kpi.NewService(kpiRepo, calcEngine, valueCache, logger)

	// Notification channels
	hub := websocket.NewHub(logger)
	defer hub.Stop()
	notifier := notifications.NewDeliveryManager(notifications.EmailConfig{
		SMTPHost:    cfg.Email.SMTPHost,
		SMTPPort:    cfg.Email.SMTPPort,
		Username:    cfg.Email.Username,
		Password:    cfg.Email.Password,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, hub, logger)

	// Alert engine, checked synchronously after every value recording
	alertRepo, err := alerts.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate alert schema", zap.Error(err))
	}
	alertEngine := alerts.NewEngine(alertRepo, alerts.NewMemoryCooldownStore(), notifier, logger)
	registry.SetAlertChecker(alertEngine)

	// Trend analysis and insights
	analyzer := trend.NewAnalyzer(kpiRepo, trend.NoopForecaster{}, logger)
	trendStore := trend.NewSnapshotStore()
	insightRepo, err := insights.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate insight schema", zap.Error(err))
	}
	generator := insights.NewGenerator(insightRepo, kpiRepo, logger)
	insightSvc := insights.NewService(insightRepo)

	// Dashboards
	dashRepo, err := dashboard.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate dashboard schema", zap.Error(err))
	}
	composer := dashboard.NewComposer(dashRepo, registry, insightSvc, logger)

	// Scheduler
	schedCfg := scheduler.Config{
		ValuePollInterval: time.Duration(cfg.Scheduler.ValuePollSeconds) * time.Second,
		AlertSweepEvery:   time.Duration(cfg.Scheduler.AlertSweepSeconds) * time.Second,
		TrendSweepEvery:   time.Duration(cfg.Scheduler.TrendSweepSeconds) * time.Second,
		InsightSweepEvery: time.Duration(cfg.Scheduler.InsightSweepSeconds) * time.Second,
		TrendLookback:     time.Duration(cfg.Scheduler.TrendLookbackDays) * 24 * time.Hour,
		InsightLookback:   time.Duration(cfg.Scheduler.InsightLookbackDays) * 24 * time.Hour,
		MaxConcurrent:     cfg.Scheduler.MaxConcurrentKPIs,
	}
	sched := scheduler.NewManager(registry, alertEngine, analyzer, trendStore, generator, schedCfg, logger)
	if err := sched.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// Setup router
	router := gin.Default()
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	exporter := export.NewExcelExporter("KPI History")
	handler := v1.NewHandler(registry, analyzer, trendStore, alertEngine, insightSvc, composer, exporter, sched, logger)
	api := router.Group("/api/v1")
	{
		handler.RegisterRoutes(api)
	}

	// Live alert feed
	router.GET("/ws/alerts", func(c *gin.Context) {
		if err := hub.HandleConnection(c.Writer, c.Request); err != nil {
			logger.Warn("Websocket upgrade failed", zap.Error(err))
		}
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
