package dashboard

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WidgetType selects how a widget's data is resolved.
type WidgetType string

const (
	WidgetKPIValue   WidgetType = "kpi_value"
	WidgetKPIHistory WidgetType = "kpi_history"
	WidgetInsights   WidgetType = "insight_list"
)

// Dashboard is a named collection of widgets.
type Dashboard struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Owner     string    `json:"owner"`
	Widgets   []Widget  `json:"widgets" gorm:"foreignKey:DashboardID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Dashboard) TableName() string { return "dashboards" }

// Widget is one tile on a dashboard. Layout carries position/size hints
// for the rendering layer; the engine does not interpret them.
type Widget struct {
	ID          uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	DashboardID uuid.UUID         `json:"dashboard_id" gorm:"type:uuid;index"`
	Title       string            `json:"title"`
	Type        WidgetType        `json:"type"`
	KPIID       *uuid.UUID        `json:"kpi_id,omitempty" gorm:"type:uuid"`
	Period      string            `json:"period,omitempty"`
	LookbackHrs int               `json:"lookback_hours,omitempty"`
	Layout      datatypes.JSONMap `json:"layout,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (Widget) TableName() string { return "dashboard_widgets" }
