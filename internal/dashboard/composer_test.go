package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
)

// fakeDashboards serves a single canned dashboard.
type fakeDashboards struct {
	dashboard *Dashboard
	created   *Dashboard
}

func (f *fakeDashboards) Create(ctx context.Context, d *Dashboard) error {
	f.created = d
	return nil
}

func (f *fakeDashboards) Get(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	if f.dashboard == nil || f.dashboard.ID != id {
		return nil, ErrNotFound
	}
	return f.dashboard, nil
}

// fakeKPIRepo serves canned values per KPI; unknown ids miss.
type fakeKPIRepo struct {
	defs   map[uuid.UUID]*kpi.Definition
	latest map[uuid.UUID]*kpi.Value
	series map[uuid.UUID][]kpi.Value
}

func (f *fakeKPIRepo) CreateDefinition(ctx context.Context, def *kpi.Definition) error { return nil }
func (f *fakeKPIRepo) UpdateDefinition(ctx context.Context, def *kpi.Definition) error { return nil }

func (f *fakeKPIRepo) GetDefinition(ctx context.Context, id uuid.UUID) (*kpi.Definition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, kpi.ErrNotFound
	}
	return def, nil
}

func (f *fakeKPIRepo) ListDefinitions(ctx context.Context, status kpi.DefinitionStatus) ([]kpi.Definition, error) {
	return nil, nil
}

func (f *fakeKPIRepo) CreateValue(ctx context.Context, value *kpi.Value) error { return nil }

func (f *fakeKPIRepo) GetLatestValue(ctx context.Context, kpiID uuid.UUID, period string) (*kpi.Value, error) {
	v, ok := f.latest[kpiID]
	if !ok {
		return nil, kpi.ErrNotFound
	}
	return v, nil
}

func (f *fakeKPIRepo) GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]kpi.Value, error) {
	return f.series[kpiID], nil
}

func (f *fakeKPIRepo) CountValues(ctx context.Context, kpiID uuid.UUID) (int64, error) {
	return int64(len(f.series[kpiID])), nil
}

// fakeInsights serves a canned list.
type fakeInsights struct {
	list []insights.Insight
	err  error
}

func (f *fakeInsights) Create(ctx context.Context, insight *insights.Insight) error { return nil }

func (f *fakeInsights) Get(ctx context.Context, id uuid.UUID) (*insights.Insight, error) {
	return nil, insights.ErrNotFound
}

func (f *fakeInsights) Update(ctx context.Context, insight *insights.Insight) error { return nil }

func (f *fakeInsights) List(ctx context.Context, filter insights.ListFilter, now time.Time) ([]insights.Insight, error) {
	return f.list, f.err
}

type nopCalculator struct{}

func (nopCalculator) Compute(ctx context.Context, def *kpi.Definition) (float64, error) {
	return 0, nil
}

func newTestComposer(t *testing.T, dashRepo Repository, kpiRepo kpi.Repository, insightRepo insights.Repository) *Composer {
	t.Helper()
	cache := kpi.NewValueCache(time.Minute)
	t.Cleanup(cache.Stop)
	registry := kpi.NewService(kpiRepo, nopCalculator{}, cache, zap.NewNop())
	return NewComposer(dashRepo, registry, insights.NewService(insightRepo), zap.NewNop())
}

func TestCreateDashboardAssignsIDs(t *testing.T) {
	repo := &fakeDashboards{}
	composer := newTestComposer(t, repo, &fakeKPIRepo{}, &fakeInsights{})

	kpiID := uuid.New()
	d := &Dashboard{
		Name: "Executive Overview",
		Widgets: []Widget{
			{Title: "Revenue", Type: WidgetKPIValue, KPIID: &kpiID},
		},
	}

	id, err := composer.CreateDashboard(context.Background(), d)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, repo.created.Widgets[0].DashboardID)
	assert.NotEqual(t, uuid.Nil, repo.created.Widgets[0].ID)
}

func TestCreateDashboardRequiresName(t *testing.T) {
	composer := newTestComposer(t, &fakeDashboards{}, &fakeKPIRepo{}, &fakeInsights{})

	_, err := composer.CreateDashboard(context.Background(), &Dashboard{})
	var vErr *kpi.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestGetDashboardDataUnknownDashboard(t *testing.T) {
	composer := newTestComposer(t, &fakeDashboards{}, &fakeKPIRepo{}, &fakeInsights{})

	_, err := composer.GetDashboardData(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

// One widget referencing a deleted KPI must not fail the others.
func TestGetDashboardDataIsolatesWidgetFailures(t *testing.T) {
	goodKPI := uuid.New()
	missingKPI := uuid.New()

	kpiRepo := &fakeKPIRepo{
		defs:   map[uuid.UUID]*kpi.Definition{goodKPI: {ID: goodKPI, Name: "Revenue"}},
		latest: map[uuid.UUID]*kpi.Value{goodKPI: {KPIID: goodKPI, Value: 125000}},
	}

	dash := &Dashboard{
		ID:   uuid.New(),
		Name: "Overview",
		Widgets: []Widget{
			{ID: uuid.New(), Title: "Revenue", Type: WidgetKPIValue, KPIID: &goodKPI},
			{ID: uuid.New(), Title: "Gone", Type: WidgetKPIValue, KPIID: &missingKPI},
			{ID: uuid.New(), Title: "Insights", Type: WidgetInsights},
		},
	}

	insightRepo := &fakeInsights{list: []insights.Insight{{ID: uuid.New(), Type: insights.TypeRisk}}}
	composer := newTestComposer(t, &fakeDashboards{dashboard: dash}, kpiRepo, insightRepo)

	data, err := composer.GetDashboardData(context.Background(), dash.ID)
	assert.NoError(t, err)
	assert.Len(t, data.Widgets, 3)

	assert.Empty(t, data.Widgets[0].Error)
	assert.Equal(t, 125000.0, data.Widgets[0].Data.(*kpi.Value).Value)

	assert.Equal(t, "referenced KPI not found", data.Widgets[1].Error)
	assert.Nil(t, data.Widgets[1].Data)

	assert.Empty(t, data.Widgets[2].Error)
	assert.Len(t, data.Widgets[2].Data.([]insights.Insight), 1)
}

func TestResolveWidgetWithoutKPIReference(t *testing.T) {
	dash := &Dashboard{
		ID:   uuid.New(),
		Name: "Overview",
		Widgets: []Widget{
			{ID: uuid.New(), Title: "Broken", Type: WidgetKPIValue},
		},
	}
	composer := newTestComposer(t, &fakeDashboards{dashboard: dash}, &fakeKPIRepo{}, &fakeInsights{})

	data, err := composer.GetDashboardData(context.Background(), dash.ID)
	assert.NoError(t, err)
	assert.Equal(t, "widget has no KPI reference", data.Widgets[0].Error)
}

func TestResolveWidgetUnknownType(t *testing.T) {
	dash := &Dashboard{
		ID:   uuid.New(),
		Name: "Overview",
		Widgets: []Widget{
			{ID: uuid.New(), Title: "Odd", Type: "heatmap"},
		},
	}
	composer := newTestComposer(t, &fakeDashboards{dashboard: dash}, &fakeKPIRepo{}, &fakeInsights{})

	data, err := composer.GetDashboardData(context.Background(), dash.ID)
	assert.NoError(t, err)
	assert.Contains(t, data.Widgets[0].Error, "unknown widget type")
}
