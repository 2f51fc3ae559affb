package calculation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/query"
)

// CalculationError wraps a data-source failure or malformed formula. The
// registry never persists a value for a failed computation.
type CalculationError struct {
	KPIName string
	Err     error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation failed for %q: %v", e.KPIName, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

// Engine evaluates KPI definitions into numeric values using the
// aggregate query executor.
type Engine struct {
	executor query.AggregateExecutor
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a calculation engine.
func NewEngine(executor query.AggregateExecutor, logger *zap.Logger) *Engine {
	return &Engine{executor: executor, logger: logger, now: time.Now}
}

// Compute evaluates a KPI definition into a single value. The only side
// effect is the read against the executor.
func (e *Engine) Compute(ctx context.Context, def *kpi.Definition) (float64, error) {
	value, err := e.compute(ctx, &def.Calculation)
	if err != nil {
		return 0, &CalculationError{KPIName: def.Name, Err: err}
	}
	return value, nil
}

func (e *Engine) compute(ctx context.Context, calc *kpi.Calculation) (float64, error) {
	switch calc.Type {
	case kpi.CalcSum:
		return e.aggregate(ctx, calc, query.FnSum, calc.Fields[0])
	case kpi.CalcAverage:
		return e.aggregate(ctx, calc, query.FnAvg, calc.Fields[0])
	case kpi.CalcCount:
		return e.aggregate(ctx, calc, query.FnCount, calc.Fields[0])
	case kpi.CalcPercentage:
		num, den, err := e.twoSums(ctx, calc)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, nil
		}
		return 100 * num / den, nil
	case kpi.CalcRatio:
		num, den, err := e.twoSums(ctx, calc)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, nil
		}
		return num / den, nil
	case kpi.CalcFormula:
		return e.formula(ctx, calc)
	default:
		return 0, fmt.Errorf("unknown calculation type: %s", calc.Type)
	}
}

func (e *Engine) aggregate(ctx context.Context, calc *kpi.Calculation, fn query.AggregateFn, field string) (float64, error) {
	start, end := e.timeRange(calc)
	return e.executor.RunAggregate(ctx, query.AggregateQuery{
		Table:     calc.Table,
		Fn:        fn,
		Field:     field,
		TimeField: calc.TimeField,
		Start:     start,
		End:       end,
		Filters:   calc.Filters,
	})
}

// twoSums computes sum(fields[0]) and sum(fields[1]) with identical
// filters and time range. Each is its own read; no transactional
// isolation is assumed across the pair.
func (e *Engine) twoSums(ctx context.Context, calc *kpi.Calculation) (float64, float64, error) {
	num, err := e.aggregate(ctx, calc, query.FnSum, calc.Fields[0])
	if err != nil {
		return 0, 0, err
	}
	den, err := e.aggregate(ctx, calc, query.FnSum, calc.Fields[1])
	if err != nil {
		return 0, 0, err
	}
	return num, den, nil
}

// formula resolves every named sub-metric and evaluates the expression
// over the results.
func (e *Engine) formula(ctx context.Context, calc *kpi.Calculation) (float64, error) {
	vars := make(map[string]float64, len(calc.Metrics))
	for name, sub := range calc.Metrics {
		v, err := e.compute(ctx, sub)
		if err != nil {
			return 0, fmt.Errorf("sub-metric %q: %w", name, err)
		}
		vars[name] = v
	}
	return Evaluate(calc.Formula, vars)
}

func (e *Engine) timeRange(calc *kpi.Calculation) (time.Time, time.Time) {
	if calc.Period == "custom" {
		var start, end time.Time
		if calc.Start != nil {
			start = *calc.Start
		}
		if calc.End != nil {
			end = *calc.End
		} else {
			end = e.now()
		}
		return start, end
	}
	return query.TimeRangeForPeriod(calc.Period, e.now())
}
