package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bizpulse/insight-engine/internal/insights"
	"bizpulse/insight-engine/internal/kpi"
)

// ErrNotFound is returned for unknown dashboard ids.
var ErrNotFound = errors.New("dashboard: not found")

// WidgetData is the resolved payload for one widget. A widget that fails
// to resolve carries its error; the rest of the dashboard is unaffected.
type WidgetData struct {
	WidgetID uuid.UUID  `json:"widget_id"`
	Title    string     `json:"title"`
	Type     WidgetType `json:"type"`
	Data     any        `json:"data,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Data is the full dashboard response.
type Data struct {
	Dashboard  *Dashboard   `json:"dashboard"`
	Widgets    []WidgetData `json:"widgets"`
	ComposedAt time.Time    `json:"composed_at"`
}

// Repository defines dashboard persistence.
type Repository interface {
	Create(ctx context.Context, d *Dashboard) error
	Get(ctx context.Context, id uuid.UUID) (*Dashboard, error)
}

// GormRepository is the gorm-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the dashboard tables and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Dashboard{}, &Widget{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, d *Dashboard) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	var d Dashboard
	err := r.db.WithContext(ctx).Preload("Widgets").First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Composer assembles cached KPI values and insights into widget layouts.
type Composer struct {
	repo     Repository
	registry *kpi.Service
	insights *insights.Service
	logger   *zap.Logger
	now      func() time.Time
}

// NewComposer creates a dashboard composer.
func NewComposer(repo Repository, registry *kpi.Service, insightSvc *insights.Service, logger *zap.Logger) *Composer {
	return &Composer{
		repo:     repo,
		registry: registry,
		insights: insightSvc,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateDashboard persists a dashboard with its widgets.
func (c *Composer) CreateDashboard(ctx context.Context, d *Dashboard) (uuid.UUID, error) {
	if d.Name == "" {
		return uuid.Nil, &kpi.ValidationError{Field: "name", Msg: "name is required"}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := c.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	for i := range d.Widgets {
		if d.Widgets[i].ID == uuid.Nil {
			d.Widgets[i].ID = uuid.New()
		}
		d.Widgets[i].DashboardID = d.ID
		d.Widgets[i].CreatedAt = now
	}
	if err := c.repo.Create(ctx, d); err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

// GetDashboardData resolves every widget. One bad widget never fails the
// whole response; its error is returned in place.
func (c *Composer) GetDashboardData(ctx context.Context, id uuid.UUID) (*Data, error) {
	d, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resolved := make([]WidgetData, 0, len(d.Widgets))
	for i := range d.Widgets {
		resolved = append(resolved, c.resolveWidget(ctx, &d.Widgets[i]))
	}

	return &Data{
		Dashboard:  d,
		Widgets:    resolved,
		ComposedAt: c.now(),
	}, nil
}

func (c *Composer) resolveWidget(ctx context.Context, w *Widget) WidgetData {
	out := WidgetData{WidgetID: w.ID, Title: w.Title, Type: w.Type}

	switch w.Type {
	case WidgetKPIValue:
		if w.KPIID == nil {
			out.Error = "widget has no KPI reference"
			return out
		}
		value, err := c.registry.GetKPIValue(ctx, *w.KPIID, w.Period)
		if err != nil {
			out.Error = widgetError(err)
			return out
		}
		out.Data = value

	case WidgetKPIHistory:
		if w.KPIID == nil {
			out.Error = "widget has no KPI reference"
			return out
		}
		lookback := time.Duration(w.LookbackHrs) * time.Hour
		if lookback == 0 {
			lookback = 30 * 24 * time.Hour
		}
		history, err := c.registry.GetHistory(ctx, *w.KPIID, lookback)
		if err != nil {
			out.Error = widgetError(err)
			return out
		}
		out.Data = history

	case WidgetInsights:
		filter := insights.ListFilter{Limit: 20}
		if w.KPIID != nil {
			filter.KPIID = *w.KPIID
		}
		list, err := c.insights.List(ctx, filter)
		if err != nil {
			out.Error = widgetError(err)
			return out
		}
		out.Data = list

	default:
		out.Error = fmt.Sprintf("unknown widget type: %s", w.Type)
	}
	return out
}

func widgetError(err error) string {
	if errors.Is(err, kpi.ErrNotFound) {
		return "referenced KPI not found"
	}
	return err.Error()
}
