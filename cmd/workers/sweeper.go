// Command sweeper runs the periodic KPI, alert, trend and insight jobs
// without the HTTP API, for deployments that separate serving from
// background computation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bizpulse/insight-engine/internal/alerts"
	"bizpulse/insight-engine/internal/config"
	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/kpi/calculation"
	"bizpulse/insight-engine/internal/kpi/trend"
	"bizpulse/insight-engine/internal/notifications"
	"bizpulse/insight-engine/internal/notifications/websocket"
	"bizpulse/insight-engine/internal/query"
	"bizpulse/insight-engine/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	kpiRepo, err := kpi.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate KPI schema", zap.Error(err))
	}
	executor := query.NewGormExecutor(db, defaultAllowlist, cfg.Database.QueryTimeout)
	calcEngine := calculation.NewEngine(executor, logger)
	valueCache := kpi.NewValueCache(10 * time.Minute)
	defer valueCache.Stop()
	registry := kpi.NewService(kpiRepo, calcEngine, valueCache, logger)

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

	alertRepo, err := alerts.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate alert schema", zap.Error(err))
	}
	alertEngine := alerts.NewEngine(alertRepo, alerts.NewMemoryCooldownStore(), notifier, logger)
	registry.SetAlertChecker(alertEngine)

	analyzer := trend.NewAnalyzer(kpiRepo, trend.NoopForecaster{}, logger)
	trendStore := trend.NewSnapshotStore()
	insightRepo, err := insights.NewGormRepository(db)
	if err != nil {
		logger.Fatal("Failed to migrate insight schema", zap.Error(err))
	}
	generator := insights.NewGenerator(insightRepo, kpiRepo, logger)

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

	logger.Info("Sweeper started",
		zap.Int("value_poll_seconds", cfg.Scheduler.ValuePollSeconds),
		zap.Int("max_concurrent", cfg.Scheduler.MaxConcurrentKPIs))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping sweeper...")
	sched.Stop()
	logger.Info("Sweeper exiting")
}

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
