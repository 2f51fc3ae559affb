package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/kpi"
)

// Direction classifies the windowed movement of a KPI series.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
	DirectionVolatile   Direction = "volatile"
)

// Strength grades how pronounced the movement is.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// AnomalyType classifies a point that deviates from the series.
type AnomalyType string

const (
	AnomalySpike   AnomalyType = "spike"
	AnomalyDrop    AnomalyType = "drop"
	AnomalyOutlier AnomalyType = "outlier"
)

// Anomaly is a single deviating point in the analyzed window.
type Anomaly struct {
	Date      time.Time   `json:"date"`
	Value     float64     `json:"value"`
	Deviation float64     `json:"deviation"` // in standard deviations
	Type      AnomalyType `json:"type"`
}

// ForecastPoint is one predicted future value.
type ForecastPoint struct {
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
}

// Analysis is the result of analyzing a KPI's value series over a
// lookback window. Recomputed wholesale each cycle.
type Analysis struct {
	KPIID         uuid.UUID       `json:"kpi_id"`
	Direction     Direction       `json:"direction"`
	Strength      Strength        `json:"strength"`
	ChangePercent float64         `json:"change_percent"`
	Confidence    float64         `json:"confidence"`
	Seasonality   string          `json:"seasonality,omitempty"`
	Anomalies     []Anomaly       `json:"anomalies"`
	Insights      []string        `json:"insights"`
	Forecast      []ForecastPoint `json:"forecast,omitempty"`
	PointCount    int             `json:"point_count"`
	AnalyzedAt    time.Time       `json:"analyzed_at"`
}

// Forecaster predicts future points from a series. The default
// implementation is deliberately unimplemented so callers can tell a
// computed forecast from a stubbed one.
type Forecaster interface {
	Forecast(series []kpi.Value, horizon int) ([]ForecastPoint, error)
}

// ErrNotImplemented is returned by the default Forecaster.
var ErrNotImplemented = errors.New("trend: forecasting not implemented")

// NoopForecaster is the default Forecaster.
type NoopForecaster struct{}

func (NoopForecaster) Forecast([]kpi.Value, int) ([]ForecastPoint, error) {
	return nil, ErrNotImplemented
}

// SeriesProvider supplies the value series to analyze. Satisfied by the
// KPI repository.
type SeriesProvider interface {
	GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]kpi.Value, error)
}

// Analyzer classifies direction, strength and volatility of KPI series
// and flags simple statistical anomalies.
type Analyzer struct {
	series     SeriesProvider
	forecaster Forecaster
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalyzer creates an analyzer. A nil forecaster defaults to NoopForecaster.
func NewAnalyzer(series SeriesProvider, forecaster Forecaster, logger *zap.Logger) *Analyzer {
	if forecaster == nil {
		forecaster = NoopForecaster{}
	}
	return &Analyzer{series: series, forecaster: forecaster, logger: logger, now: time.Now}
}

// ErrInsufficientData is returned when the window holds fewer than two points.
var ErrInsufficientData = errors.New("trend: not enough data points")

// Analyze pulls the series for the lookback window and classifies it.
func (a *Analyzer) Analyze(ctx context.Context, kpiID uuid.UUID, lookback time.Duration) (*Analysis, error) {
	since := a.now().Add(-lookback)
	series, err := a.series.GetValueSeries(ctx, kpiID, since)
	if err != nil {
		return nil, fmt.Errorf("trend series lookup: %w", err)
	}
	if len(series) < 2 {
		return nil, ErrInsufficientData
	}
	return a.analyzeSeries(kpiID, series), nil
}

func (a *Analyzer) analyzeSeries(kpiID uuid.UUID, series []kpi.Value) *Analysis {
	points := make([]float64, len(series))
	for i, v := range series {
		points[i] = v.Value
	}

	first, last := points[0], points[len(points)-1]
	var changePercent float64
	if first != 0 {
		changePercent = (last - first) / first * 100
	}

	direction := classifyDirection(changePercent)
	strength := classifyStrength(changePercent)

	mean, stddev := meanStddev(points)
	volatile := mean != 0 && stddev/math.Abs(mean) > 0.3
	if volatile {
		direction = DirectionVolatile
	}

	analysis := &Analysis{
		KPIID:         kpiID,
		Direction:     direction,
		Strength:      strength,
		ChangePercent: changePercent,
		Confidence:    confidence(mean, stddev),
		Anomalies:     detectAnomalies(series, mean, stddev),
		PointCount:    len(series),
		AnalyzedAt:    a.now(),
	}
	analysis.Insights = buildInsights(analysis)

	if forecast, err := a.forecaster.Forecast(series, 7); err == nil {
		analysis.Forecast = forecast
	} else if !errors.Is(err, ErrNotImplemented) {
		a.logger.Warn("forecast failed", zap.String("kpi_id", kpiID.String()), zap.Error(err))
	}

	return analysis
}

func classifyDirection(changePercent float64) Direction {
	switch {
	case math.Abs(changePercent) <= 5:
		return DirectionStable
	case changePercent > 0:
		return DirectionIncreasing
	default:
		return DirectionDecreasing
	}
}

func classifyStrength(changePercent float64) Strength {
	abs := math.Abs(changePercent)
	switch {
	case abs > 20:
		return StrengthStrong
	case abs > 10:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// meanStddev returns the population mean and standard deviation.
func meanStddev(points []float64) (float64, float64) {
	var sum float64
	for _, p := range points {
		sum += p
	}
	mean := sum / float64(len(points))

	var sq float64
	for _, p := range points {
		d := p - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(points)))
}

func confidence(mean, stddev float64) float64 {
	if mean == 0 {
		return 0.3
	}
	c := 1 - stddev/math.Abs(mean)
	if c < 0.3 {
		return 0.3
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// detectAnomalies flags points deviating more than two standard
// deviations from the window mean. Endpoints are classified as outliers,
// interior points as spikes or drops by sign.
func detectAnomalies(series []kpi.Value, mean, stddev float64) []Anomaly {
	anomalies := []Anomaly{}
	if stddev == 0 {
		return anomalies
	}
	for i, v := range series {
		deviation := (v.Value - mean) / stddev
		if math.Abs(deviation) <= 2 {
			continue
		}
		t := AnomalySpike
		if deviation < 0 {
			t = AnomalyDrop
		}
		if i == 0 || i == len(series)-1 {
			t = AnomalyOutlier
		}
		anomalies = append(anomalies, Anomaly{
			Date:      v.CalculatedAt,
			Value:     v.Value,
			Deviation: deviation,
			Type:      t,
		})
	}
	return anomalies
}

func buildInsights(a *Analysis) []string {
	var insights []string
	switch a.Direction {
	case DirectionVolatile:
		insights = append(insights, "Values are highly volatile over the analyzed window; investigate underlying drivers before acting on the endpoint change.")
	case DirectionIncreasing:
		insights = append(insights, fmt.Sprintf("Value increased %.1f%% over the analyzed window (%s trend).", a.ChangePercent, a.Strength))
	case DirectionDecreasing:
		insights = append(insights, fmt.Sprintf("Value decreased %.1f%% over the analyzed window (%s trend).", math.Abs(a.ChangePercent), a.Strength))
	default:
		insights = append(insights, "Value is stable over the analyzed window.")
	}
	if len(a.Anomalies) > 0 {
		insights = append(insights, fmt.Sprintf("%d anomalous point(s) detected in the window.", len(a.Anomalies)))
	}
	return insights
}
