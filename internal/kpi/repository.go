package kpi

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a KPI definition or value does not exist.
var ErrNotFound = errors.New("kpi: not found")

// Repository defines data access for KPI definitions and values.
type Repository interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	UpdateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error)
	ListDefinitions(ctx context.Context, status DefinitionStatus) ([]Definition, error)

	CreateValue(ctx context.Context, v *Value) error
	GetLatestValue(ctx context.Context, kpiID uuid.UUID, period string) (*Value, error)
	GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]Value, error)
	CountValues(ctx context.Context, kpiID uuid.UUID) (int64, error)
}

// GormRepository is the gorm-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the KPI tables and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Definition{}, &Value{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) CreateDefinition(ctx context.Context, def *Definition) error {
	return r.db.WithContext(ctx).Create(def).Error
}

func (r *GormRepository) UpdateDefinition(ctx context.Context, def *Definition) error {
	return r.db.WithContext(ctx).Save(def).Error
}

func (r *GormRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	var def Definition
	err := r.db.WithContext(ctx).First(&def, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *GormRepository) ListDefinitions(ctx context.Context, status DefinitionStatus) ([]Definition, error) {
	var defs []Definition
	tx := r.db.WithContext(ctx)
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	if err := tx.Order("created_at").Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *GormRepository) CreateValue(ctx context.Context, v *Value) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *GormRepository) GetLatestValue(ctx context.Context, kpiID uuid.UUID, period string) (*Value, error) {
	var v Value
	tx := r.db.WithContext(ctx).Where("kpi_id = ?", kpiID)
	if period != "" {
		tx = tx.Where("period = ?", period)
	}
	err := tx.Order("calculated_at DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *GormRepository) GetValueSeries(ctx context.Context, kpiID uuid.UUID, since time.Time) ([]Value, error) {
	var values []Value
	err := r.db.WithContext(ctx).
		Where("kpi_id = ? AND calculated_at >= ?", kpiID, since).
		Order("calculated_at ASC").
		Find(&values).Error
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (r *GormRepository) CountValues(ctx context.Context, kpiID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Value{}).Where("kpi_id = ?", kpiID).Count(&n).Error
	return n, err
}
