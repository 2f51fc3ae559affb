package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/alerts"
	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/kpi/trend"
)

// Config holds the four job intervals and sweep bounds.
type Config struct {
	ValuePollInterval time.Duration `json:"value_poll_interval"`
	AlertSweepEvery   time.Duration `json:"alert_sweep_every"`
	TrendSweepEvery   time.Duration `json:"trend_sweep_every"`
	InsightSweepEvery time.Duration `json:"insight_sweep_every"`
	TrendLookback     time.Duration `json:"trend_lookback"`
	InsightLookback   time.Duration `json:"insight_lookback"`
	MaxConcurrent     int           `json:"max_concurrent"`
}

// DefaultConfig returns the standard intervals: value poll every 30s
// (each KPI recomputed on its own refresh interval), alert sweep every
// 60s, trend hourly, insights every 2 hours.
func DefaultConfig() Config {
	return Config{
		ValuePollInterval: 30 * time.Second,
		AlertSweepEvery:   time.Minute,
		TrendSweepEvery:   time.Hour,
		InsightSweepEvery: 2 * time.Hour,
		TrendLookback:     30 * 24 * time.Hour,
		InsightLookback:   7 * 24 * time.Hour,
		MaxConcurrent:     5,
	}
}

// JobStatus is the bookkeeping for one periodic job.
type JobStatus struct {
	Name    string    `json:"name"`
	LastRun time.Time `json:"last_run"`
	NextRun time.Time `json:"next_run"`
}

// Manager drives the four periodic jobs. Jobs are idempotent and safe to
// run concurrently with each other; a single KPI's value recomputation is
// serialized through the in-flight set.
type Manager struct {
	registry *kpi.Service
	alerts   *alerts.Engine
	analyzer *trend.Analyzer
	trends   *trend.SnapshotStore
	insights *insights.Generator
	config   Config
	logger   *zap.Logger

	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu           sync.Mutex
	running      bool
	inFlight     map[uuid.UUID]bool
	lastComputed map[uuid.UUID]time.Time
	lastRun      map[string]time.Time

	now func() time.Time
}

// NewManager creates the scheduler. Jobs do not run until Start.
func NewManager(
	registry *kpi.Service,
	alertEngine *alerts.Engine,
	analyzer *trend.Analyzer,
	trends *trend.SnapshotStore,
	generator *insights.Generator,
	config Config,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		registry:     registry,
		alerts:       alertEngine,
		analyzer:     analyzer,
		trends:       trends,
		insights:     generator,
		config:       config,
		logger:       logger,
		cron:         cron.New(),
		entries:      make(map[string]cron.EntryID),
		inFlight:     make(map[uuid.UUID]bool),
		lastComputed: make(map[uuid.UUID]time.Time),
		lastRun:      make(map[string]time.Time),
		now:          time.Now,
	}
}

// Start registers the jobs and starts the clock.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.mu.Unlock()

	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context)
	}{
		{"kpi_values", m.config.ValuePollInterval, func(ctx context.Context) { m.RunValueSweep(ctx) }},
		{"alert_sweep", m.config.AlertSweepEvery, func(ctx context.Context) { m.RunAlertSweep(ctx) }},
		{"trend_sweep", m.config.TrendSweepEvery, func(ctx context.Context) { m.RunTrendSweep(ctx) }},
		{"insight_sweep", m.config.InsightSweepEvery, func(ctx context.Context) { m.RunInsightSweep(ctx) }},
	}

	for _, job := range jobs {
		job := job
		id, err := m.cron.AddFunc(fmt.Sprintf("@every %s", job.every), func() {
			m.markRun(job.name)
			job.run(ctx)
		})
		if err != nil {
			return fmt.Errorf("register job %s: %w", job.name, err)
		}
		m.entries[job.name] = id
	}

	m.cron.Start()
	m.logger.Info("scheduler started",
		zap.Duration("value_poll", m.config.ValuePollInterval),
		zap.Duration("alert_sweep", m.config.AlertSweepEvery),
		zap.Duration("trend_sweep", m.config.TrendSweepEvery),
		zap.Duration("insight_sweep", m.config.InsightSweepEvery))
	return nil
}

// Stop stops future ticks and waits for running jobs to finish. The wait
// happens with the mutex released: running sweeps take it in claimKPI and
// would otherwise never complete.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	<-m.cron.Stop().Done()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.logger.Info("scheduler stopped")
}

// Jobs returns bookkeeping for every registered job.
func (m *Manager) Jobs() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]JobStatus, 0, len(m.entries))
	for name, id := range m.entries {
		entry := m.cron.Entry(id)
		statuses = append(statuses, JobStatus{
			Name:    name,
			LastRun: m.lastRun[name],
			NextRun: entry.Next,
		})
	}
	return statuses
}

func (m *Manager) markRun(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun[name] = m.now()
}

// RunValueSweep recomputes every active KPI whose refresh interval has
// elapsed. Per-KPI computations run with bounded parallelism; a KPI
// already in flight is skipped, never run twice concurrently.
func (m *Manager) RunValueSweep(ctx context.Context) {
	defs, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("value sweep: listing KPIs failed", zap.Error(err))
		return
	}

	sem := make(chan struct{}, m.maxConcurrent())
	var wg sync.WaitGroup

	for i := range defs {
		def := defs[i]
		if !m.claimKPI(def.ID, def.RefreshInterval()) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() {
				m.releaseKPI(def.ID)
				<-sem
				wg.Done()
			}()

			if _, err := m.registry.RecordValue(ctx, def.ID); err != nil {
				// One broken KPI never halts the sweep.
				m.logger.Error("value recomputation failed",
					zap.String("kpi_id", def.ID.String()),
					zap.String("kpi_name", def.Name),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// claimKPI marks a KPI in flight when it is due. Returns false when the
// KPI is not yet due or is already being computed.
func (m *Manager) claimKPI(id uuid.UUID, refresh time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight[id] {
		return false
	}
	if last, ok := m.lastComputed[id]; ok && m.now().Sub(last) < refresh {
		return false
	}
	m.inFlight[id] = true
	m.lastComputed[id] = m.now()
	return true
}

func (m *Manager) releaseKPI(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// RunAlertSweep re-checks every active KPI's last known value against its
// rules, catching rules created after the value was recorded.
func (m *Manager) RunAlertSweep(ctx context.Context) {
	defs, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("alert sweep: listing KPIs failed", zap.Error(err))
		return
	}

	for i := range defs {
		def := defs[i]
		value, err := m.registry.GetKPIValue(ctx, def.ID, "")
		if errors.Is(err, kpi.ErrNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("alert sweep: value lookup failed",
				zap.String("kpi_id", def.ID.String()),
				zap.Error(err))
			continue
		}
		m.alerts.Check(ctx, &def, value)
	}
}

// RunTrendSweep recomputes the trend snapshot for every active KPI.
func (m *Manager) RunTrendSweep(ctx context.Context) {
	defs, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("trend sweep: listing KPIs failed", zap.Error(err))
		return
	}

	for i := range defs {
		def := defs[i]
		analysis, err := m.analyzer.Analyze(ctx, def.ID, m.config.TrendLookback)
		if errors.Is(err, trend.ErrInsufficientData) {
			continue
		}
		if err != nil {
			m.logger.Warn("trend analysis failed",
				zap.String("kpi_id", def.ID.String()),
				zap.Error(err))
			continue
		}
		m.trends.Put(analysis)
	}
}

// RunInsightSweep generates insights across all active KPIs.
func (m *Manager) RunInsightSweep(ctx context.Context) {
	defs, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("insight sweep: listing KPIs failed", zap.Error(err))
		return
	}

	generated, err := m.insights.Generate(ctx, defs, m.config.InsightLookback)
	if err != nil {
		m.logger.Error("insight generation failed", zap.Error(err))
		return
	}
	if len(generated) > 0 {
		m.logger.Info("insights generated", zap.Int("count", len(generated)))
	}
}

func (m *Manager) maxConcurrent() int {
	if m.config.MaxConcurrent <= 0 {
		return 1
	}
	return m.config.MaxConcurrent
}
