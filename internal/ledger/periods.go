package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// PeriodRepositoryPort reads and mutates fiscal periods.
type PeriodRepositoryPort interface {
	FindOpenPeriod(ctx context.Context, companyID int64) (FiscalPeriod, error)
	WithPeriodTx(ctx context.Context, fn func(context.Context, PeriodTxRepository) error) error
}

// PeriodTxRepository exposes transactional period operations.
type PeriodTxRepository interface {
	CloseOpenPeriods(ctx context.Context, companyID int64) error
	InsertPeriod(ctx context.Context, p FiscalPeriod) (FiscalPeriod, error)
	GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error)
	SetPeriodClosed(ctx context.Context, periodID int64, closed bool) error
}

// Guard resolves the active fiscal period and enforces the single-open-period
// policy: opening a period closes any sibling still open in the company, and
// posting fails closed when no period is open.
type Guard struct {
	repo PeriodRepositoryPort
	now  func() time.Time
}

// NewGuard constructs Guard.
func NewGuard(repo PeriodRepositoryPort) *Guard {
	return &Guard{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (g *Guard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// ActivePeriod returns the open period for the company, or ErrNoOpenPeriod.
func (g *Guard) ActivePeriod(ctx context.Context, companyID int64) (FiscalPeriod, error) {
	period, err := g.repo.FindOpenPeriod(ctx, companyID)
	if err != nil {
		if errors.Is(err, ErrPeriodNotFound) {
			return FiscalPeriod{}, ErrNoOpenPeriod
		}
		return FiscalPeriod{}, err
	}
	return period, nil
}

// OpenPeriodInput describes a period to open.
type OpenPeriodInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// OpenPeriod opens a new fiscal period, closing any currently open sibling in
// the same statement so the company never has two open periods.
func (g *Guard) OpenPeriod(ctx context.Context, rc shared.RequestContext, input OpenPeriodInput) (FiscalPeriod, error) {
	if !rc.Valid() {
		return FiscalPeriod{}, shared.ErrNoRequestContext
	}
	if input.Name == "" {
		return FiscalPeriod{}, errors.New("ledger: period name required")
	}
	if !input.EndDate.After(input.StartDate) {
		return FiscalPeriod{}, fmt.Errorf("ledger: period %q end date must follow start date", input.Name)
	}
	var opened FiscalPeriod
	err := g.repo.WithPeriodTx(ctx, func(ctx context.Context, tx PeriodTxRepository) error {
		if err := tx.CloseOpenPeriods(ctx, rc.CompanyID); err != nil {
			return err
		}
		var err error
		opened, err = tx.InsertPeriod(ctx, FiscalPeriod{
			CompanyID: rc.CompanyID,
			Name:      input.Name,
			StartDate: input.StartDate,
			EndDate:   input.EndDate,
		})
		return err
	})
	if err != nil {
		return FiscalPeriod{}, err
	}
	return opened, nil
}

// ClosePeriod closes one period explicitly.
func (g *Guard) ClosePeriod(ctx context.Context, rc shared.RequestContext, periodID int64) (FiscalPeriod, error) {
	if !rc.Valid() {
		return FiscalPeriod{}, shared.ErrNoRequestContext
	}
	var closed FiscalPeriod
	err := g.repo.WithPeriodTx(ctx, func(ctx context.Context, tx PeriodTxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, rc.CompanyID, periodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return ErrPeriodClosed
		}
		if err := tx.SetPeriodClosed(ctx, period.ID, true); err != nil {
			return err
		}
		period.IsClosed = true
		closed = period
		return nil
	})
	if err != nil {
		return FiscalPeriod{}, err
	}
	return closed, nil
}
