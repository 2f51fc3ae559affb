package insights

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown insight ids.
var ErrNotFound = errors.New("insights: not found")

// ListFilter narrows an insight listing.
type ListFilter struct {
	Type           InsightType
	Severity       InsightSeverity
	KPIID          uuid.UUID
	IncludeExpired bool
	Unacknowledged bool
	Limit          int
}

// Repository defines data access for insights.
type Repository interface {
	Create(ctx context.Context, insight *Insight) error
	Get(ctx context.Context, id uuid.UUID) (*Insight, error)
	Update(ctx context.Context, insight *Insight) error
	List(ctx context.Context, filter ListFilter, now time.Time) ([]Insight, error)
}

// GormRepository is the gorm-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the insight table and returns the repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Insight{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Create(ctx context.Context, insight *Insight) error {
	return r.db.WithContext(ctx).Create(insight).Error
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (*Insight, error) {
	var insight Insight
	err := r.db.WithContext(ctx).First(&insight, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &insight, nil
}

func (r *GormRepository) Update(ctx context.Context, insight *Insight) error {
	return r.db.WithContext(ctx).Save(insight).Error
}

func (r *GormRepository) List(ctx context.Context, filter ListFilter, now time.Time) ([]Insight, error) {
	tx := r.db.WithContext(ctx)
	if filter.Type != "" {
		tx = tx.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		tx = tx.Where("severity = ?", filter.Severity)
	}
	if filter.KPIID != uuid.Nil {
		tx = tx.Where("kpi_refs @> ?", `["`+filter.KPIID.String()+`"]`)
	}
	if !filter.IncludeExpired {
		tx = tx.Where("expires_at IS NULL OR expires_at > ?", now)
	}
	if filter.Unacknowledged {
		tx = tx.Where("acknowledged_at IS NULL")
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}

	var result []Insight
	if err := tx.Order("created_at DESC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
