package insights

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bizpulse/insight-engine/internal/kpi"
)

// deltaThresholdPercent is the step change between the two most recent
// points that produces an opportunity or risk insight.
const deltaThresholdPercent = 15.0

// defaultExpiry is how long a generated insight stays relevant before it
// expires naturally.
const defaultExpiry = 7 * 24 * time.Hour

// SeriesProvider supplies the recent value series. Satisfied by the KPI
// repository.
type SeriesProvider interface {
	GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]kpi.Value, error)
}

// Generator inspects recent value deltas per KPI and synthesizes
// categorized, actionable insights.
type Generator struct {
	repo   Repository
	series SeriesProvider
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator creates an insight generator.
func NewGenerator(repo Repository, series SeriesProvider, logger *zap.Logger) *Generator {
	return &Generator{repo: repo, series: series, logger: logger, now: time.Now}
}

// Generate scans every given KPI's last two points inside the lookback
// window and emits insights for sharp deltas and freshly met targets.
// Generated insights are persisted; per-KPI failures are logged and the
// scan continues.
func (g *Generator) Generate(ctx context.Context, defs []kpi.Definition, lookback time.Duration) ([]Insight, error) {
	since := g.now().Add(-lookback)

	var generated []Insight
	for i := range defs {
		def := &defs[i]
		series, err := g.series.GetValueSeries(ctx, def.ID, since)
		if err != nil {
			g.logger.Warn("insight series lookup failed",
				zap.String("kpi_id", def.ID.String()),
				zap.Error(err))
			continue
		}
		if len(series) < 2 {
			continue
		}

		for _, insight := range g.inspect(def, series) {
			if err := g.repo.Create(ctx, insight); err != nil {
				g.logger.Error("failed to persist insight",
					zap.String("kpi_id", def.ID.String()),
					zap.Error(err))
				continue
			}
			generated = append(generated, *insight)
		}
	}
	return generated, nil
}

func (g *Generator) inspect(def *kpi.Definition, series []kpi.Value) []*Insight {
	prev := series[len(series)-2]
	last := series[len(series)-1]

	var changePercent float64
	if prev.Value != 0 {
		changePercent = (last.Value - prev.Value) / prev.Value * 100
	}

	var out []*Insight
	if delta := g.deltaInsight(def, &prev, &last, changePercent); delta != nil {
		out = append(out, delta)
	}
	if ach := g.achievementInsight(def, &prev, &last); ach != nil {
		out = append(out, ach)
	}
	return out
}

// deltaInsight maps a sharp step change to opportunity or risk according
// to the KPI's target direction. Exact-target KPIs get no delta insights.
func (g *Generator) deltaInsight(def *kpi.Definition, prev, last *kpi.Value, changePercent float64) *Insight {
	if math.Abs(changePercent) <= deltaThresholdPercent {
		return nil
	}

	rising := changePercent > 0
	var favorable bool
	switch def.TargetDirection {
	case kpi.DirectionHigher:
		favorable = rising
	case kpi.DirectionLower:
		favorable = !rising
	default:
		return nil
	}

	if favorable {
		return g.newInsight(def, TypeOpportunity, SeverityPositive,
			fmt.Sprintf("%s moving in the right direction", def.Name),
			fmt.Sprintf("%s changed %.1f%% between the last two measurements (%.2f to %.2f).",
				def.Name, changePercent, prev.Value, last.Value),
			Recommendations{
				"Identify what drove the recent improvement and reinforce it.",
				"Consider raising the target if the new level holds.",
			},
			prev, last, changePercent)
	}
	return g.newInsight(def, TypeRisk, SeverityCritical,
		fmt.Sprintf("%s moving against target", def.Name),
		fmt.Sprintf("%s changed %.1f%% between the last two measurements (%.2f to %.2f).",
			def.Name, changePercent, prev.Value, last.Value),
		Recommendations{
			"Review recent operational changes affecting this KPI.",
			"Check related KPIs in the same category for correlated movement.",
		},
		prev, last, changePercent)
}

// achievementInsight fires once when a KPI crosses 100% target
// achievement between two consecutive points.
func (g *Generator) achievementInsight(def *kpi.Definition, prev, last *kpi.Value) *Insight {
	if last.TargetAchievement == nil || *last.TargetAchievement < 100 {
		return nil
	}
	if prev.TargetAchievement != nil && *prev.TargetAchievement >= 100 {
		return nil
	}
	return g.newInsight(def, TypeAchievement, SeverityPositive,
		fmt.Sprintf("%s reached its target", def.Name),
		fmt.Sprintf("%s is at %.1f%% of target (%.2f).", def.Name, *last.TargetAchievement, last.Value),
		Recommendations{"Review whether the target should be tightened for the next period."},
		prev, last, last.ChangePercent)
}

func (g *Generator) newInsight(def *kpi.Definition, t InsightType, sev InsightSeverity,
	title, description string, recs Recommendations, prev, last *kpi.Value, changePercent float64) *Insight {

	now := g.now()
	expires := now.Add(defaultExpiry)
	return &Insight{
		ID:              uuid.New(),
		Type:            t,
		Severity:        sev,
		KPIRefs:         KPIRefs{def.ID},
		Title:           title,
		Description:     description,
		Recommendations: recs,
		Actionable:      true,
		Data: datatypes.JSONMap{
			"previous_value": prev.Value,
			"latest_value":   last.Value,
			"change":         last.Value - prev.Value,
			"change_percent": changePercent,
			"period":         last.Period,
			"unit":           def.Unit,
		},
		ExpiresAt: &expires,
		CreatedAt: now,
	}
}
