package insights

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service exposes insight listing and acknowledgement.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates the insight service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns insights matching the filter. Expired insights are
// excluded unless the filter asks for them.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Insight, error) {
	return s.repo.List(ctx, filter, s.now())
}

// Acknowledge records who acknowledged an insight and when. Acknowledging
// twice is a no-op that keeps the first acknowledgement.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, who string) error {
	insight, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if insight.AcknowledgedAt != nil {
		return nil
	}
	now := s.now()
	insight.AcknowledgedBy = &who
	insight.AcknowledgedAt = &now
	return s.repo.Update(ctx, insight)
}
