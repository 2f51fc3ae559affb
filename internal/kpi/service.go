package kpi

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Calculator evaluates a definition into a numeric value.
type Calculator interface {
	Compute(ctx context.Context, def *Definition) (float64, error)
}

// AlertChecker runs the alert rules bound to a KPI against a freshly
// recorded value. Registered by the alerts package at wiring time.
type AlertChecker interface {
	Check(ctx context.Context, def *Definition, value *Value)
}

// Per-computation trend thresholds. Absolute, not relative to the KPI's
// unit; tunable per deployment.
const (
	trendVolatileThreshold = 50.0
	trendStepThreshold     = 10.0
)

// Service is the KPI registry: it owns definitions, computed values and
// the in-memory value cache.
type Service struct {
	repo       Repository
	calculator Calculator
	cache      *ValueCache
	alerts     AlertChecker
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the registry service. alerts may be nil until wired.
func NewService(repo Repository, calculator Calculator, cache *ValueCache, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		calculator: calculator,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// SetAlertChecker wires the alert evaluator. Called once at startup.
func (s *Service) SetAlertChecker(checker AlertChecker) {
	s.alerts = checker
}

// CreateKPI validates and persists a new definition.
func (s *Service) CreateKPI(ctx context.Context, def *Definition) (uuid.UUID, error) {
	if err := def.Validate(); err != nil {
		return uuid.Nil, err
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.Status == "" {
		def.Status = StatusActive
	}
	if def.RefreshIntervalSeconds <= 0 {
		def.RefreshIntervalSeconds = 300
	}
	def.CreatedAt = s.now()
	def.UpdatedAt = def.CreatedAt

	if err := s.repo.CreateDefinition(ctx, def); err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("KPI created",
		zap.String("kpi_id", def.ID.String()),
		zap.String("name", def.Name),
		zap.String("category", string(def.Category)))
	return def.ID, nil
}

// UpdateKPI validates and persists changes to an existing definition and
// invalidates its cached values. CreatedAt always carries over from the
// stored row; Status, Owner and the refresh interval carry over when the
// incoming definition leaves them unset, so a partial update cannot
// deactivate a KPI by accident.
func (s *Service) UpdateKPI(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	existing, err := s.repo.GetDefinition(ctx, def.ID)
	if err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt
	if def.Status == "" {
		def.Status = existing.Status
	}
	if def.Owner == "" {
		def.Owner = existing.Owner
	}
	if def.RefreshIntervalSeconds <= 0 {
		def.RefreshIntervalSeconds = existing.RefreshIntervalSeconds
	}
	def.UpdatedAt = s.now()
	if err := s.repo.UpdateDefinition(ctx, def); err != nil {
		return err
	}
	s.cache.Invalidate(def.ID)
	return nil
}

// SetStatus soft-disables or re-enables a KPI. Definitions are never hard
// deleted while historical values exist.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status DefinitionStatus) error {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	def.Status = status
	def.UpdatedAt = s.now()
	if err := s.repo.UpdateDefinition(ctx, def); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	return nil
}

// GetDefinition returns a definition by id.
func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return s.repo.GetDefinition(ctx, id)
}

// ListActive returns every active definition.
func (s *Service) ListActive(ctx context.Context) ([]Definition, error) {
	return s.repo.ListDefinitions(ctx, StatusActive)
}

// RecordValue computes a fresh value for a KPI, derives its change, trend
// and status, persists it, fills the cache and synchronously runs the
// alert check. A computation failure persists nothing.
func (s *Service) RecordValue(ctx context.Context, id uuid.UUID) (*Value, error) {
	def, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := s.calculator.Compute(ctx, def)
	if err != nil {
		return nil, err
	}

	value := &Value{
		ID:           uuid.New(),
		KPIID:        def.ID,
		Value:        raw,
		Period:       def.Calculation.Period,
		CalculatedAt: s.now(),
	}

	prev, err := s.repo.GetLatestValue(ctx, def.ID, value.Period)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if prev != nil {
		value.PreviousValue = &prev.Value
		value.Change = raw - prev.Value
		if prev.Value != 0 {
			value.ChangePercent = value.Change / prev.Value * 100
		}
	}
	value.Trend = classifyTrend(value.Change)

	if def.Target != nil {
		value.Target = def.Target
		if *def.Target != 0 {
			achievement := raw / *def.Target * 100
			value.TargetAchievement = &achievement
		}
	}
	value.Status = classifyStatus(def, value.TargetAchievement)

	if err := s.repo.CreateValue(ctx, value); err != nil {
		return nil, err
	}
	s.cache.Put(value, def.RefreshInterval())

	if s.alerts != nil {
		s.alerts.Check(ctx, def, value)
	}

	return value, nil
}

// GetKPIValue returns the latest value for a KPI, cache first. An empty
// period matches the most recent value across periods.
func (s *Service) GetKPIValue(ctx context.Context, id uuid.UUID, period string) (*Value, error) {
	if v, ok := s.cache.Get(id, period); ok {
		return v, nil
	}
	v, err := s.repo.GetLatestValue(ctx, id, period)
	if err != nil {
		return nil, err
	}
	// A period-scoped row may be older than the latest across periods, so
	// it only fills its own slot. Zero TTL falls back to the cache ceiling.
	if period == "" {
		s.cache.Put(v, 0)
	} else {
		s.cache.PutPeriod(v, 0)
	}
	return v, nil
}

// GetHistory returns the time-ordered value series over a lookback window.
func (s *Service) GetHistory(ctx context.Context, id uuid.UUID, lookback time.Duration) ([]Value, error) {
	if _, err := s.repo.GetDefinition(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetValueSeries(ctx, id, s.now().Add(-lookback))
}

func classifyTrend(change float64) Trend {
	abs := math.Abs(change)
	switch {
	case abs > trendVolatileThreshold:
		return TrendVolatile
	case change > trendStepThreshold:
		return TrendUp
	case change < -trendStepThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

func classifyStatus(def *Definition, achievement *float64) ValueStatus {
	if def.Target == nil || achievement == nil {
		return ValueNeutral
	}
	a := *achievement
	switch def.TargetDirection {
	case DirectionHigher:
		switch {
		case a >= 90:
			return ValueGood
		case a >= 70:
			return ValueWarning
		default:
			return ValueCritical
		}
	case DirectionLower:
		switch {
		case a <= 110:
			return ValueGood
		case a <= 130:
			return ValueWarning
		default:
			return ValueCritical
		}
	case DirectionExact:
		dev := math.Abs(a - 100)
		switch {
		case dev <= 10:
			return ValueGood
		case dev <= 20:
			return ValueWarning
		default:
			return ValueCritical
		}
	default:
		return ValueNeutral
	}
}
