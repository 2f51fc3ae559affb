package alerts

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Operator compares a KPI value against a rule threshold. Float equality
// is exact; no epsilon tolerance.
type Operator string

const (
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpBetween        Operator = "between"
	OpNotBetween     Operator = "not_between"
)

// Severity grades an alert rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of a triggered alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Condition is the trigger condition of a rule. Threshold is used by the
// scalar operators; Low/High by between and not_between.
type Condition struct {
	Operator         Operator `json:"operator"`
	Threshold        float64  `json:"threshold"`
	Low              float64  `json:"low,omitempty"`
	High             float64  `json:"high,omitempty"`
	SustainedMinutes int      `json:"sustained_minutes,omitempty"`
}

func (c Condition) Value() (driver.Value, error) { return json.Marshal(c) }

func (c *Condition) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return fmt.Errorf("cannot scan %T into Condition", value)
		}
	}
	return json.Unmarshal(bytes, c)
}

// Holds reports whether the condition is met by the value.
func (c *Condition) Holds(v float64) bool {
	switch c.Operator {
	case OpGreater:
		return v > c.Threshold
	case OpLess:
		return v < c.Threshold
	case OpGreaterOrEqual:
		return v >= c.Threshold
	case OpLessOrEqual:
		return v <= c.Threshold
	case OpEqual:
		return v == c.Threshold
	case OpNotEqual:
		return v != c.Threshold
	case OpBetween:
		return v >= c.Low && v <= c.High
	case OpNotBetween:
		return v < c.Low || v > c.High
	default:
		return false
	}
}

// Sustained is how long the condition must hold continuously before the
// rule fires. Zero means fire on the first observation.
func (c *Condition) Sustained() time.Duration {
	return time.Duration(c.SustainedMinutes) * time.Minute
}

// Validate rejects unknown operators, inverted between bounds and
// negative sustained durations.
func (c *Condition) Validate() error {
	if c.SustainedMinutes < 0 {
		return fmt.Errorf("sustained_minutes cannot be negative: %d", c.SustainedMinutes)
	}
	switch c.Operator {
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual, OpEqual, OpNotEqual:
		return nil
	case OpBetween, OpNotBetween:
		if c.Low > c.High {
			return fmt.Errorf("condition bounds inverted: low %v > high %v", c.Low, c.High)
		}
		return nil
	default:
		return fmt.Errorf("unknown operator: %q", c.Operator)
	}
}

// ChannelTarget binds one notification channel to its recipients.
type ChannelTarget struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients,omitempty"`
}

// ChannelTargets is the jsonb-persisted list of channel bindings.
type ChannelTargets []ChannelTarget

func (t ChannelTargets) Value() (driver.Value, error) { return json.Marshal(t) }

func (t *ChannelTargets) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return fmt.Errorf("cannot scan %T into ChannelTargets", value)
		}
	}
	return json.Unmarshal(bytes, t)
}

// Rule is an alert rule bound to a KPI definition.
type Rule struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	KPIID           uuid.UUID      `json:"kpi_id" gorm:"type:uuid;index"`
	Name            string         `json:"name" gorm:"not null"`
	Condition       Condition      `json:"condition" gorm:"type:jsonb"`
	Severity        Severity       `json:"severity"`
	Targets         ChannelTargets `json:"targets" gorm:"type:jsonb"`
	CooldownMinutes int            `json:"cooldown_minutes" gorm:"default:60"`
	IsActive        bool           `json:"is_active" gorm:"index;default:true"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Rule) TableName() string { return "alert_rules" }

// Cooldown returns the rule's cooldown as a duration.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Alert is one triggered alert record. Persisted even when every
// notification channel fails.
type Alert struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	RuleID         uuid.UUID         `json:"rule_id" gorm:"type:uuid;index"`
	KPIID          uuid.UUID         `json:"kpi_id" gorm:"type:uuid;index"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	Severity       Severity          `json:"severity"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Details        datatypes.JSONMap `json:"details,omitempty" gorm:"type:jsonb"`
	Status         AlertStatus       `json:"status" gorm:"index;default:active"`
	DeliveryStatus datatypes.JSONMap `json:"delivery_status,omitempty" gorm:"type:jsonb"`
	AcknowledgedBy *string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Alert) TableName() string { return "alerts" }
