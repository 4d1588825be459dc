package audit

import (
	"context"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// RepositoryPort abstracts timeline reads for the service.
type RepositoryPort interface {
	ListTimeline(ctx context.Context, companyID int64, f Filters) ([]Entry, int, error)
}

// Service answers timeline queries.
type Service struct {
	repo RepositoryPort
}

// NewService returns a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline lists audit entries for the caller's company, newest first.
func (s *Service) Timeline(ctx context.Context, rc shared.RequestContext, f Filters) ([]Entry, shared.Pagination, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, shared.Pagination{}, ErrInvalidRange
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	entries, total, err := s.repo.ListTimeline(ctx, rc.CompanyID, f)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(f.Page, f.PerPage, total), nil
}
