package kpi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateDefinition(ctx context.Context, def *Definition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}

func (m *MockRepository) UpdateDefinition(ctx context.Context, def *Definition) error {
	args := m.Called(ctx, def)
	return args.Error(0)
}

func (m *MockRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Definition), args.Error(1)
}

func (m *MockRepository) ListDefinitions(ctx context.Context, status DefinitionStatus) ([]Definition, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]Definition), args.Error(1)
}

func (m *MockRepository) CreateValue(ctx context.Context, value *Value) error {
	args := m.Called(ctx, value)
	return args.Error(0)
}

func (m *MockRepository) GetLatestValue(ctx context.Context, kpiID uuid.UUID, period string) (*Value, error) {
	args := m.Called(ctx, kpiID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Value), args.Error(1)
}

func (m *MockRepository) GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]Value, error) {
	args := m.Called(ctx, kpiID, since)
	return args.Get(0).([]Value), args.Error(1)
}

func (m *MockRepository) CountValues(ctx context.Context, kpiID uuid.UUID) (int64, error) {
	args := m.Called(ctx, kpiID)
	return args.Get(0).(int64), args.Error(1)
}

// stubCalculator returns a fixed value or error.
type stubCalculator struct {
	value float64
	err   error
}

func (s *stubCalculator) Compute(ctx context.Context, def *Definition) (float64, error) {
	return s.value, s.err
}

// recordingChecker records the values it was asked to check.
type recordingChecker struct {
	checked []*Value
}

func (r *recordingChecker) Check(ctx context.Context, def *Definition, value *Value) {
	r.checked = append(r.checked, value)
}

func newTestService(repo Repository, calc Calculator) (*Service, *ValueCache) {
	cache := NewValueCache(10 * time.Minute)
	return NewService(repo, calc, cache, zap.NewNop()), cache
}

func validDefinition() *Definition {
	target := 100000.0
	return &Definition{
		Name:            "Monthly Revenue",
		Category:        CategoryFinancial,
		Target:          &target,
		TargetDirection: DirectionHigher,
		Unit:            "USD",
		Calculation: Calculation{
			Type:      CalcSum,
			Table:     "orders",
			Fields:    []string{"total_amount"},
			TimeField: "created_at",
			Period:    "month",
		},
	}
}

func TestCreateKPIRejectsInvalidDefinition(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	def := validDefinition()
	def.Calculation.Type = CalcPercentage // percentage needs exactly two fields

	_, err := svc.CreateKPI(context.Background(), def)
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
	repo.AssertNotCalled(t, "CreateDefinition", mock.Anything, mock.Anything)
}

func TestCreateKPIAppliesDefaults(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CreateDefinition", mock.Anything, mock.Anything).Return(nil)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	def := validDefinition()
	id, err := svc.CreateKPI(context.Background(), def)

	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, StatusActive, def.Status)
	assert.Equal(t, 300, def.RefreshIntervalSeconds)
}

func TestRecordValueComputesDerivedFields(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{value: 95000})
	defer cache.Stop()

	checker := &recordingChecker{}
	svc.SetAlertChecker(checker)

	def := validDefinition()
	def.ID = uuid.New()
	prevValue := 80000.0
	prev := &Value{KPIID: def.ID, Value: prevValue, Period: "month"}

	repo.On("GetDefinition", mock.Anything, def.ID).Return(def, nil)
	repo.On("GetLatestValue", mock.Anything, def.ID, "month").Return(prev, nil)
	repo.On("CreateValue", mock.Anything, mock.Anything).Return(nil)

	value, err := svc.RecordValue(context.Background(), def.ID)
	assert.NoError(t, err)

	assert.Equal(t, 95000.0, value.Value)
	assert.Equal(t, &prevValue, value.PreviousValue)
	assert.Equal(t, 15000.0, value.Change)
	assert.InDelta(t, 18.75, value.ChangePercent, 1e-9)
	assert.Equal(t, TrendVolatile, value.Trend) // absolute change above the volatile threshold
	assert.InDelta(t, 95.0, *value.TargetAchievement, 1e-9)
	assert.Equal(t, ValueGood, value.Status)

	// freshly recorded value is cached and handed to the alert checker
	cached, ok := cache.Get(def.ID, "month")
	assert.True(t, ok)
	assert.Equal(t, value, cached)
	assert.Len(t, checker.checked, 1)
}

func TestRecordValueFirstComputation(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{value: 42})
	defer cache.Stop()

	def := validDefinition()
	def.ID = uuid.New()
	def.Target = nil

	repo.On("GetDefinition", mock.Anything, def.ID).Return(def, nil)
	repo.On("GetLatestValue", mock.Anything, def.ID, "month").Return(nil, ErrNotFound)
	repo.On("CreateValue", mock.Anything, mock.Anything).Return(nil)

	value, err := svc.RecordValue(context.Background(), def.ID)
	assert.NoError(t, err)
	assert.Nil(t, value.PreviousValue)
	assert.Equal(t, 0.0, value.Change)
	assert.Equal(t, TrendStable, value.Trend)
	assert.Nil(t, value.TargetAchievement)
	assert.Equal(t, ValueNeutral, value.Status)
}

func TestRecordValuePersistsNothingOnComputeFailure(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{err: errors.New("source unavailable")})
	defer cache.Stop()

	def := validDefinition()
	def.ID = uuid.New()
	repo.On("GetDefinition", mock.Anything, def.ID).Return(def, nil)

	_, err := svc.RecordValue(context.Background(), def.ID)
	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreateValue", mock.Anything, mock.Anything)
}

func TestGetKPIValueServesFromCache(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	id := uuid.New()
	value := &Value{ID: uuid.New(), KPIID: id, Value: 7, Period: "day"}
	cache.Put(value, time.Minute)

	got, err := svc.GetKPIValue(context.Background(), id, "day")
	assert.NoError(t, err)
	assert.Equal(t, value, got)
	repo.AssertNotCalled(t, "GetLatestValue", mock.Anything, mock.Anything, mock.Anything)
}

// A period-scoped fetch may return a row older than the latest across
// periods, so a cache miss on it must not fill the bare-id slot the
// alert sweep reads. No definition lookup is needed to fill the cache.
func TestGetKPIValuePeriodMissFillsOnlyPeriodSlot(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	id := uuid.New()
	monthly := &Value{ID: uuid.New(), KPIID: id, Value: 42, Period: "month"}
	repo.On("GetLatestValue", mock.Anything, id, "month").Return(monthly, nil)

	got, err := svc.GetKPIValue(context.Background(), id, "month")
	assert.NoError(t, err)
	assert.Equal(t, monthly, got)

	_, ok := cache.Get(id, "")
	assert.False(t, ok, "period fetch must not fill the latest-value slot")

	cached, ok := cache.Get(id, "month")
	assert.True(t, ok)
	assert.Equal(t, monthly, cached)

	repo.AssertNotCalled(t, "GetDefinition", mock.Anything, mock.Anything)
}

func TestGetKPIValueUnknownKPI(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	id := uuid.New()
	repo.On("GetLatestValue", mock.Anything, id, "").Return(nil, ErrNotFound)

	_, err := svc.GetKPIValue(context.Background(), id, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClassifyStatusHigherIsBetter(t *testing.T) {
	target := 100.0
	def := &Definition{Target: &target, TargetDirection: DirectionHigher}

	tests := []struct {
		achievement float64
		expected    ValueStatus
	}{
		{100, ValueGood},
		{90, ValueGood},
		{89.9, ValueWarning},
		{70, ValueWarning},
		{69.9, ValueCritical},
		{0, ValueCritical},
	}
	for _, tt := range tests {
		a := tt.achievement
		assert.Equal(t, tt.expected, classifyStatus(def, &a), "achievement %.1f", tt.achievement)
	}
}

func TestClassifyStatusLowerIsBetter(t *testing.T) {
	target := 100.0
	def := &Definition{Target: &target, TargetDirection: DirectionLower}

	tests := []struct {
		achievement float64
		expected    ValueStatus
	}{
		{80, ValueGood},
		{110, ValueGood},
		{110.1, ValueWarning},
		{130, ValueWarning},
		{130.1, ValueCritical},
	}
	for _, tt := range tests {
		a := tt.achievement
		assert.Equal(t, tt.expected, classifyStatus(def, &a), "achievement %.1f", tt.achievement)
	}
}

func TestClassifyStatusExact(t *testing.T) {
	target := 100.0
	def := &Definition{Target: &target, TargetDirection: DirectionExact}

	tests := []struct {
		achievement float64
		expected    ValueStatus
	}{
		{100, ValueGood},
		{110, ValueGood},
		{90, ValueGood},
		{115, ValueWarning},
		{85, ValueWarning},
		{121, ValueCritical},
		{79, ValueCritical},
	}
	for _, tt := range tests {
		a := tt.achievement
		assert.Equal(t, tt.expected, classifyStatus(def, &a), "achievement %.1f", tt.achievement)
	}
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, TrendStable, classifyTrend(0))
	assert.Equal(t, TrendStable, classifyTrend(10))
	assert.Equal(t, TrendUp, classifyTrend(10.5))
	assert.Equal(t, TrendDown, classifyTrend(-11))
	assert.Equal(t, TrendVolatile, classifyTrend(51))
	assert.Equal(t, TrendVolatile, classifyTrend(-51))
}

func TestUpdateKPIInvalidatesCache(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	def := validDefinition()
	def.ID = uuid.New()
	cache.Put(&Value{KPIID: def.ID, Value: 1, Period: "month"}, time.Minute)

	repo.On("GetDefinition", mock.Anything, def.ID).Return(def, nil)
	repo.On("UpdateDefinition", mock.Anything, def).Return(nil)

	assert.NoError(t, svc.UpdateKPI(context.Background(), def))

	_, ok := cache.Get(def.ID, "month")
	assert.False(t, ok)
}

// An update payload that leaves status, owner and timestamps unset keeps
// the stored values, so a partial update cannot knock a KPI out of the
// active set.
func TestUpdateKPIKeepsUnsetFields(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	stored := validDefinition()
	stored.ID = uuid.New()
	stored.Status = StatusActive
	stored.Owner = "finance-team"
	stored.RefreshIntervalSeconds = 600
	stored.CreatedAt = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	incoming := validDefinition()
	incoming.ID = stored.ID
	incoming.Description = "revenue across all channels"

	repo.On("GetDefinition", mock.Anything, stored.ID).Return(stored, nil)
	repo.On("UpdateDefinition", mock.Anything, incoming).Return(nil)

	assert.NoError(t, svc.UpdateKPI(context.Background(), incoming))
	assert.Equal(t, StatusActive, incoming.Status)
	assert.Equal(t, "finance-team", incoming.Owner)
	assert.Equal(t, 600, incoming.RefreshIntervalSeconds)
	assert.Equal(t, stored.CreatedAt, incoming.CreatedAt)
	repo.AssertCalled(t, "UpdateDefinition", mock.Anything, incoming)
}

// Explicitly set fields still win over the stored row.
func TestUpdateKPIAppliesExplicitStatus(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	stored := validDefinition()
	stored.ID = uuid.New()
	stored.Status = StatusActive

	incoming := validDefinition()
	incoming.ID = stored.ID
	incoming.Status = StatusInactive

	repo.On("GetDefinition", mock.Anything, stored.ID).Return(stored, nil)
	repo.On("UpdateDefinition", mock.Anything, incoming).Return(nil)

	assert.NoError(t, svc.UpdateKPI(context.Background(), incoming))
	assert.Equal(t, StatusInactive, incoming.Status)
}

func TestUpdateKPIUnknownDefinition(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	def := validDefinition()
	def.ID = uuid.New()
	repo.On("GetDefinition", mock.Anything, def.ID).Return(nil, ErrNotFound)

	err := svc.UpdateKPI(context.Background(), def)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSetStatusInvalidatesCache(t *testing.T) {
	repo := new(MockRepository)
	svc, cache := newTestService(repo, &stubCalculator{})
	defer cache.Stop()

	def := validDefinition()
	def.ID = uuid.New()
	cache.Put(&Value{KPIID: def.ID, Value: 1, Period: "month"}, time.Minute)

	repo.On("GetDefinition", mock.Anything, def.ID).Return(def, nil)
	repo.On("UpdateDefinition", mock.Anything, mock.Anything).Return(nil)

	err := svc.SetStatus(context.Background(), def.ID, StatusInactive)
	assert.NoError(t, err)

	_, ok := cache.Get(def.ID, "month")
	assert.False(t, ok)
}
