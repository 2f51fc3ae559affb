package query

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AggregateFn is a supported aggregate function.
type AggregateFn string

const (
	FnSum   AggregateFn = "sum"
	FnAvg   AggregateFn = "avg"
	FnCount AggregateFn = "count"
)

// FilterSpec is a single equality filter applied to an aggregate query.
type FilterSpec struct {
	Field string `json:"field"`
	Op    string `json:"op"` // only "=" is supported
	Value any    `json:"value"`
}

// AggregateQuery describes one time-bounded, filtered aggregate read.
type AggregateQuery struct {
	Table     string       `json:"table"`
	Fn        AggregateFn  `json:"fn"`
	Field     string       `json:"field"`
	TimeField string       `json:"time_field"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Filters   []FilterSpec `json:"filters,omitempty"`
}

// AggregateExecutor executes aggregate reads against the backing store.
// An empty result set yields 0, not an error.
type AggregateExecutor interface {
	RunAggregate(ctx context.Context, q AggregateQuery) (float64, error)
}

// ValidationError reports a query that references a table or field
// outside the configured allowlist.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Allowlist maps table names to the set of fields queries may reference.
type Allowlist map[string]map[string]bool

// Allows reports whether the table/field pair may be queried. The time
// field and filter fields go through the same check.
func (a Allowlist) Allows(table, field string) bool {
	fields, ok := a[table]
	if !ok {
		return false
	}
	return fields[field]
}

// GormExecutor is the default AggregateExecutor backed by the relational store.
type GormExecutor struct {
	db        *gorm.DB
	allowlist Allowlist
	timeout   time.Duration
}

// NewGormExecutor creates an executor. A zero timeout defaults to 15 seconds.
func NewGormExecutor(db *gorm.DB, allowlist Allowlist, timeout time.Duration) *GormExecutor {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &GormExecutor{db: db, allowlist: allowlist, timeout: timeout}
}

// RunAggregate builds and runs the aggregate query. Table, aggregate field,
// time field and every filter field must be allowlisted.
func (e *GormExecutor) RunAggregate(ctx context.Context, q AggregateQuery) (float64, error) {
	if err := e.validate(q); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var expr string
	switch q.Fn {
	case FnSum:
		expr = fmt.Sprintf("COALESCE(SUM(%s), 0)", q.Field)
	case FnAvg:
		expr = fmt.Sprintf("COALESCE(AVG(%s), 0)", q.Field)
	case FnCount:
		expr = fmt.Sprintf("COUNT(%s)", q.Field)
	default:
		return 0, &ValidationError{Msg: fmt.Sprintf("unsupported aggregate function: %s", q.Fn)}
	}

	tx := e.db.WithContext(ctx).Table(q.Table).Select(expr)
	if !q.Start.IsZero() {
		tx = tx.Where(fmt.Sprintf("%s >= ?", q.TimeField), q.Start)
	}
	if !q.End.IsZero() {
		tx = tx.Where(fmt.Sprintf("%s < ?", q.TimeField), q.End)
	}
	for _, f := range q.Filters {
		tx = tx.Where(fmt.Sprintf("%s = ?", f.Field), f.Value)
	}

	var result float64
	if err := tx.Scan(&result).Error; err != nil {
		return 0, fmt.Errorf("aggregate query on %s failed: %w", q.Table, err)
	}
	return result, nil
}

func (e *GormExecutor) validate(q AggregateQuery) error {
	if !e.allowlist.Allows(q.Table, q.Field) {
		return &ValidationError{Msg: fmt.Sprintf("table/field not allowed: %s.%s", q.Table, q.Field)}
	}
	if q.TimeField != "" && !e.allowlist.Allows(q.Table, q.TimeField) {
		return &ValidationError{Msg: fmt.Sprintf("time field not allowed: %s.%s", q.Table, q.TimeField)}
	}
	for _, f := range q.Filters {
		if f.Op != "" && f.Op != "=" {
			return &ValidationError{Msg: fmt.Sprintf("unsupported filter operator: %s", f.Op)}
		}
		if !e.allowlist.Allows(q.Table, f.Field) {
			return &ValidationError{Msg: fmt.Sprintf("filter field not allowed: %s.%s", q.Table, f.Field)}
		}
	}
	return nil
}

// TimeRangeForPeriod returns the [start, end) window ending now for a
// named reporting period.
func TimeRangeForPeriod(period string, now time.Time) (time.Time, time.Time) {
	switch period {
	case "day":
		return now.AddDate(0, 0, -1), now
	case "week":
		return now.AddDate(0, 0, -7), now
	case "month":
		return now.AddDate(0, -1, 0), now
	case "quarter":
		return now.AddDate(0, -3, 0), now
	case "year":
		return now.AddDate(-1, 0, 0), now
	default:
		// custom: callers supply explicit bounds
		return time.Time{}, now
	}
}
