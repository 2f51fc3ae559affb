package kpi

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"bizpulse/insight-engine/internal/query"
)

// Category classifies what part of the business a KPI measures.
type Category string

const (
	CategoryFinancial   Category = "financial"
	CategoryOperational Category = "operational"
	CategoryCustomer    Category = "customer"
	CategoryMarketing   Category = "marketing"
	CategoryInventory   Category = "inventory"
	CategoryCustom      Category = "custom"
)

// CalculationType selects the computation strategy for a KPI.
type CalculationType string

const (
	CalcSum        CalculationType = "sum"
	CalcAverage    CalculationType = "average"
	CalcCount      CalculationType = "count"
	CalcPercentage CalculationType = "percentage"
	CalcRatio      CalculationType = "ratio"
	CalcFormula    CalculationType = "formula"
)

// TargetDirection states which way a KPI should move relative to its target.
type TargetDirection string

const (
	DirectionHigher TargetDirection = "higher"
	DirectionLower  TargetDirection = "lower"
	DirectionExact  TargetDirection = "exact"
)

// DefinitionStatus is the lifecycle state of a KPI definition.
type DefinitionStatus string

const (
	StatusActive      DefinitionStatus = "active"
	StatusInactive    DefinitionStatus = "inactive"
	StatusMaintenance DefinitionStatus = "maintenance"
)

// Trend classifies a single computation's movement against the prior value.
type Trend string

const (
	TrendUp       Trend = "up"
	TrendDown     Trend = "down"
	TrendStable   Trend = "stable"
	TrendVolatile Trend = "volatile"
)

// ValueStatus grades a computed value against the KPI's target.
type ValueStatus string

const (
	ValueGood     ValueStatus = "good"
	ValueWarning  ValueStatus = "warning"
	ValueCritical ValueStatus = "critical"
	ValueNeutral  ValueStatus = "neutral"
)

// Calculation describes how a KPI value is computed from the backing store.
// For formula KPIs, Metrics holds named sub-calculations referenced by the
// expression in Formula.
type Calculation struct {
	Type      CalculationType         `json:"type"`
	Table     string                  `json:"table"`
	Fields    []string                `json:"fields"`
	Filters   []query.FilterSpec      `json:"filters,omitempty"`
	TimeField string                  `json:"time_field"`
	Period    string                  `json:"period"` // day, week, month, quarter, year, custom
	Start     *time.Time              `json:"start,omitempty"`
	End       *time.Time              `json:"end,omitempty"`
	Formula   string                  `json:"formula,omitempty"`
	Metrics   map[string]*Calculation `json:"metrics,omitempty"`
}

// Value implements driver.Valuer so Calculation persists as a JSONB column.
func (c Calculation) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Calculation) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return fmt.Errorf("cannot scan %T into Calculation", value)
		}
	}
	return json.Unmarshal(bytes, c)
}

// ValidationError reports a malformed KPI or rule spec. Nothing is
// persisted when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
}

// Definition is a KPI definition, the root entity of the engine.
type Definition struct {
	ID                     uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	Name                   string            `json:"name" gorm:"not null"`
	Description            string            `json:"description"`
	Category               Category          `json:"category" gorm:"index"`
	Calculation            Calculation       `json:"calculation" gorm:"type:jsonb"`
	Target                 *float64          `json:"target,omitempty"`
	TargetDirection        TargetDirection   `json:"target_direction"`
	Unit                   string            `json:"unit"`
	Visualization          datatypes.JSONMap `json:"visualization,omitempty" gorm:"type:jsonb"`
	RefreshIntervalSeconds int               `json:"refresh_interval_seconds" gorm:"default:300"`
	Status                 DefinitionStatus  `json:"status" gorm:"index;default:active"`
	Owner                  string            `json:"owner"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

func (Definition) TableName() string { return "kpi_definitions" }

// RefreshInterval returns the refresh interval as a duration, defaulting
// to 300 seconds when unset.
func (d *Definition) RefreshInterval() time.Duration {
	if d.RefreshIntervalSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(d.RefreshIntervalSeconds) * time.Second
}

// Validate checks the definition's calculation spec. Sum/average/count need
// at least one field; percentage and ratio need exactly two.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &ValidationError{Field: "name", Msg: "name is required"}
	}
	return validateCalculation(&d.Calculation, "calculation")
}

func validateCalculation(c *Calculation, path string) error {
	switch c.Type {
	case CalcSum, CalcAverage, CalcCount:
		if len(c.Fields) == 0 {
			return &ValidationError{Field: path + ".fields", Msg: "at least one field is required"}
		}
	case CalcPercentage, CalcRatio:
		if len(c.Fields) != 2 {
			return &ValidationError{Field: path + ".fields", Msg: "exactly two fields are required"}
		}
	case CalcFormula:
		if c.Formula == "" {
			return &ValidationError{Field: path + ".formula", Msg: "formula expression is required"}
		}
		for name, sub := range c.Metrics {
			if sub == nil {
				return &ValidationError{Field: path + ".metrics." + name, Msg: "sub-metric is empty"}
			}
			if sub.Type == CalcFormula {
				return &ValidationError{Field: path + ".metrics." + name, Msg: "sub-metrics cannot be formulas"}
			}
			if err := validateCalculation(sub, path+".metrics."+name); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Field: path + ".type", Msg: fmt.Sprintf("unknown calculation type: %s", c.Type)}
	}
	return nil
}

// Value is one computed KPI snapshot. Rows are append-only; the latest row
// per (KPI, period) is authoritative for alerting.
type Value struct {
	ID                uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	KPIID             uuid.UUID   `json:"kpi_id" gorm:"type:uuid;index:idx_kpi_period"`
	Value             float64     `json:"value"`
	PreviousValue     *float64    `json:"previous_value,omitempty"`
	Change            float64     `json:"change"`
	ChangePercent     float64     `json:"change_percent"`
	Target            *float64    `json:"target,omitempty"`
	TargetAchievement *float64    `json:"target_achievement,omitempty"`
	Trend             Trend       `json:"trend"`
	Status            ValueStatus `json:"status"`
	Period            string      `json:"period" gorm:"index:idx_kpi_period"`
	CalculatedAt      time.Time   `json:"calculated_at" gorm:"index"`
	CreatedAt         time.Time   `json:"created_at"`
}

func (Value) TableName() string { return "kpi_values" }
