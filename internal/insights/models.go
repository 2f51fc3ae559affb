package insights

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InsightType categorizes a generated insight.
type InsightType string

const (
	TypeTrend       InsightType = "trend"
	TypeAnomaly     InsightType = "anomaly"
	TypeOpportunity InsightType = "opportunity"
	TypeRisk        InsightType = "risk"
	TypeAchievement InsightType = "achievement"
)

// InsightSeverity grades an insight for rendering.
type InsightSeverity string

const (
	SeverityPositive InsightSeverity = "positive"
	SeverityInfo     InsightSeverity = "info"
	SeverityWarning  InsightSeverity = "warning"
	SeverityCritical InsightSeverity = "critical"
)

// KPIRefs is a jsonb-persisted list of referenced KPI ids.
type KPIRefs []uuid.UUID

func (r KPIRefs) Value() (driver.Value, error) { return json.Marshal(r) }

func (r *KPIRefs) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return fmt.Errorf("cannot scan %T into KPIRefs", value)
		}
	}
	return json.Unmarshal(bytes, r)
}

// Recommendations is a jsonb-persisted list of suggested actions.
type Recommendations []string

func (r Recommendations) Value() (driver.Value, error) { return json.Marshal(r) }

func (r *Recommendations) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return fmt.Errorf("cannot scan %T into Recommendations", value)
		}
	}
	return json.Unmarshal(bytes, r)
}

// Insight is a generated, human-readable observation about recent KPI
// behavior. Terminal states are acknowledgement or natural expiry.
type Insight struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	Type            InsightType       `json:"type" gorm:"index"`
	Severity        InsightSeverity   `json:"severity"`
	KPIRefs         KPIRefs           `json:"kpi_ids" gorm:"type:jsonb"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Recommendations Recommendations   `json:"recommendations,omitempty" gorm:"type:jsonb"`
	Actionable      bool              `json:"actionable"`
	Data            datatypes.JSONMap `json:"data,omitempty" gorm:"type:jsonb"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	AcknowledgedBy  *string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at" gorm:"index"`
}

func (Insight) TableName() string { return "business_insights" }

// Expired reports whether the insight has passed its expiry.
func (i *Insight) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
