package alerts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown rule or alert ids.
var ErrNotFound = errors.New("alerts: not found")

// Repository defines data access for rules and triggered alerts.
type Repository interface {
	CreateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*Rule, error)
	ListActiveRules(ctx context.Context, kpiID uuid.UUID) ([]Rule, error)

	CreateAlert(ctx context.Context, alert *Alert) error
	UpdateAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error)
	ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]Alert, error)
}

// GormRepository is the gorm-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the alert tables and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Rule{}, &Alert{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) CreateRule(ctx context.Context, rule *Rule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *GormRepository) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	var rule Rule
	err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *GormRepository) ListActiveRules(ctx context.Context, kpiID uuid.UUID) ([]Rule, error) {
	var rules []Rule
	err := r.db.WithContext(ctx).
		Where("kpi_id = ? AND is_active = ?", kpiID, true).
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *GormRepository) CreateAlert(ctx context.Context, alert *Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *GormRepository) UpdateAlert(ctx context.Context, alert *Alert) error {
	return r.db.WithContext(ctx).Save(alert).Error
}

func (r *GormRepository) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	var alert Alert
	err := r.db.WithContext(ctx).First(&alert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *GormRepository) ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]Alert, error) {
	var alerts []Alert
	tx := r.db.WithContext(ctx)
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Order("triggered_at DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}
