package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bizpulse/insight-engine/internal/kpi"
	"bizpulse/insight-engine/internal/notifications"
)

// Engine evaluates alert rules against freshly computed KPI values and
// dispatches notifications with per-(rule, KPI) cooldown de-duplication.
type Engine struct {
	repo     Repository
	cooldown CooldownStore
	notifier notifications.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates the alert engine.
func NewEngine(repo Repository, cooldown CooldownStore, notifier notifications.Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		repo:     repo,
		cooldown: cooldown,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRule validates and persists a new alert rule.
func (e *Engine) CreateRule(ctx context.Context, rule *Rule) (uuid.UUID, error) {
	if rule.KPIID == uuid.Nil {
		return uuid.Nil, &kpi.ValidationError{Field: "kpi_id", Msg: "kpi id is required"}
	}
	if err := rule.Condition.Validate(); err != nil {
		return uuid.Nil, &kpi.ValidationError{Field: "condition", Msg: err.Error()}
	}
	if len(rule.Targets) == 0 {
		return uuid.Nil, &kpi.ValidationError{Field: "targets", Msg: "at least one notification channel is required"}
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CooldownMinutes <= 0 {
		rule.CooldownMinutes = 60
	}
	rule.IsActive = true
	rule.CreatedAt = e.now()
	rule.UpdatedAt = rule.CreatedAt

	if err := e.repo.CreateRule(ctx, rule); err != nil {
		return uuid.Nil, err
	}
	return rule.ID, nil
}

// Check runs every active rule bound to the KPI against the value. Called
// synchronously after each successful RecordValue; errors are logged, not
// propagated, so one broken rule never blocks value recording.
func (e *Engine) Check(ctx context.Context, def *kpi.Definition, value *kpi.Value) {
	if _, err := e.Evaluate(ctx, def, value); err != nil {
		e.logger.Error("alert check failed",
			zap.String("kpi_id", def.ID.String()),
			zap.Error(err))
	}
}

// Evaluate returns the alerts dispatched for this value. A rule with a
// sustained duration only fires once its condition has held continuously
// for that long; a rule inside its cooldown window is suppressed without
// a new alert record.
func (e *Engine) Evaluate(ctx context.Context, def *kpi.Definition, value *kpi.Value) ([]Alert, error) {
	rules, err := e.repo.ListActiveRules(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	var dispatched []Alert
	for i := range rules {
		rule := &rules[i]
		if !rule.Condition.Holds(value.Value) {
			e.cooldown.ClearHold(rule.ID, def.ID)
			continue
		}

		if sustained := rule.Condition.Sustained(); sustained > 0 {
			start, ok := e.cooldown.HoldStart(rule.ID, def.ID)
			if !ok {
				e.cooldown.MarkHold(rule.ID, def.ID, e.now())
				continue
			}
			if e.now().Sub(start) < sustained {
				continue
			}
		}

		if last, ok := e.cooldown.LastDispatch(rule.ID, def.ID); ok {
			if e.now().Sub(last) < rule.Cooldown() {
				continue
			}
		}

		alert := e.buildAlert(rule, def, value)
		if err := e.repo.CreateAlert(ctx, alert); err != nil {
			e.logger.Error("failed to persist alert",
				zap.String("rule_id", rule.ID.String()),
				zap.Error(err))
			continue
		}

		e.dispatch(ctx, rule, alert)
		e.cooldown.MarkDispatch(rule.ID, def.ID, e.now())
		dispatched = append(dispatched, *alert)
	}
	return dispatched, nil
}

func (e *Engine) buildAlert(rule *Rule, def *kpi.Definition, value *kpi.Value) *Alert {
	now := e.now()
	return &Alert{
		ID:          uuid.New(),
		RuleID:      rule.ID,
		KPIID:       def.ID,
		TriggeredAt: now,
		Severity:    rule.Severity,
		Title:       rule.Name,
		Message: fmt.Sprintf("%s: %s is %.2f%s (condition %s %s)",
			rule.Name, def.Name, value.Value, unitSuffix(def.Unit),
			rule.Condition.Operator, thresholdText(&rule.Condition)),
		Details: datatypes.JSONMap{
			"kpi_name":      def.Name,
			"current_value": value.Value,
			"operator":      string(rule.Condition.Operator),
			"threshold":     rule.Condition.Threshold,
			"period":        value.Period,
			"value_status":  string(value.Status),
			"evaluated_at":  now.Format(time.RFC3339),
		},
		Status:         AlertActive,
		DeliveryStatus: datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// dispatch sends the alert on every configured channel. One channel
// failing is recorded and logged; the rest still go out and the alert
// record is already persisted.
func (e *Engine) dispatch(ctx context.Context, rule *Rule, alert *Alert) {
	payload := notifications.Payload{
		Title:    alert.Title,
		Message:  alert.Message,
		Severity: string(alert.Severity),
		Data:     alert.Details,
		SentAt:   e.now(),
	}

	for _, target := range rule.Targets {
		if err := e.notifier.Dispatch(ctx, target.Channel, target.Recipients, payload); err != nil {
			alert.DeliveryStatus[target.Channel] = fmt.Sprintf("failed: %v", err)
			e.logger.Warn("alert dispatch failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("channel", target.Channel),
				zap.Error(err))
			continue
		}
		alert.DeliveryStatus[target.Channel] = "sent"
	}

	alert.UpdatedAt = e.now()
	if err := e.repo.UpdateAlert(ctx, alert); err != nil {
		e.logger.Error("failed to record delivery status",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err))
	}
}

// ListAlerts returns triggered alerts, newest first.
func (e *Engine) ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]Alert, error) {
	return e.repo.ListAlerts(ctx, status, limit)
}

// Acknowledge marks an alert acknowledged by an operator.
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID, who string) error {
	alert, err := e.repo.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	now := e.now()
	alert.Status = AlertAcknowledged
	alert.AcknowledgedBy = &who
	alert.AcknowledgedAt = &now
	alert.UpdatedAt = now
	return e.repo.UpdateAlert(ctx, alert)
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func thresholdText(c *Condition) string {
	switch c.Operator {
	case OpBetween, OpNotBetween:
		return fmt.Sprintf("[%.2f, %.2f]", c.Low, c.High)
	default:
		return fmt.Sprintf("%.2f", c.Threshold)
	}
}
