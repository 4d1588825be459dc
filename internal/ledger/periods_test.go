package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

type memoryPeriodRepo struct {
	periods []FiscalPeriod
	nextID  int64
}

func (m *memoryPeriodRepo) FindOpenPeriod(_ context.Context, companyID int64) (FiscalPeriod, error) {
	for _, p := range m.periods {
		if p.CompanyID == companyID && !p.IsClosed {
			return p, nil
		}
	}
	return FiscalPeriod{}, ErrPeriodNotFound
}

func (m *memoryPeriodRepo) WithPeriodTx(ctx context.Context, fn func(context.Context, PeriodTxRepository) error) error {
	return fn(ctx, (*memoryPeriodTx)(m))
}

type memoryPeriodTx memoryPeriodRepo

func (tx *memoryPeriodTx) CloseOpenPeriods(_ context.Context, companyID int64) error {
	for i := range tx.periods {
		if tx.periods[i].CompanyID == companyID {
			tx.periods[i].IsClosed = true
		}
	}
	return nil
}

func (tx *memoryPeriodTx) InsertPeriod(_ context.Context, p FiscalPeriod) (FiscalPeriod, error) {
	tx.nextID++
	p.ID = tx.nextID
	tx.periods = append(tx.periods, p)
	return p, nil
}

func (tx *memoryPeriodTx) GetPeriodForUpdate(_ context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	for _, p := range tx.periods {
		if p.ID == periodID && p.CompanyID == companyID {
			return p, nil
		}
	}
	return FiscalPeriod{}, ErrPeriodNotFound
}

func (tx *memoryPeriodTx) SetPeriodClosed(_ context.Context, periodID int64, closed bool) error {
	for i := range tx.periods {
		if tx.periods[i].ID == periodID {
			tx.periods[i].IsClosed = closed
			return nil
		}
	}
	return ErrPeriodNotFound
}

func testRC() shared.RequestContext {
	return shared.RequestContext{CompanyID: 1, UserID: 7, Role: "admin"}
}

func TestOpenPeriodClosesSiblings(t *testing.T) {
	repo := &memoryPeriodRepo{}
	guard := NewGuard(repo)
	ctx := context.Background()

	q3, err := guard.OpenPeriod(ctx, testRC(), OpenPeriodInput{
		Name:      "FY2025-Q3",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	q4, err := guard.OpenPeriod(ctx, testRC(), OpenPeriodInput{
		Name:      "FY2025-Q4",
		StartDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	active, err := guard.ActivePeriod(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, q4.ID, active.ID)

	// The earlier period was closed by opening the new one.
	_, err = (*memoryPeriodTx)(repo).GetPeriodForUpdate(ctx, 1, q3.ID)
	require.NoError(t, err)
	require.True(t, repo.periods[0].IsClosed)
}

func TestActivePeriodFailsClosedWithoutOpenPeriod(t *testing.T) {
	guard := NewGuard(&memoryPeriodRepo{})
	_, err := guard.ActivePeriod(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestOpenPeriodValidatesInput(t *testing.T) {
	guard := NewGuard(&memoryPeriodRepo{})
	ctx := context.Background()

	_, err := guard.OpenPeriod(ctx, shared.RequestContext{}, OpenPeriodInput{Name: "x"})
	require.ErrorIs(t, err, shared.ErrNoRequestContext)

	_, err = guard.OpenPeriod(ctx, testRC(), OpenPeriodInput{
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	_, err = guard.OpenPeriod(ctx, testRC(), OpenPeriodInput{
		Name:      "backwards",
		StartDate: time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestClosePeriod(t *testing.T) {
	repo := &memoryPeriodRepo{}
	guard := NewGuard(repo)
	ctx := context.Background()

	opened, err := guard.OpenPeriod(ctx, testRC(), OpenPeriodInput{
		Name:      "FY2025-Q3",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	closed, err := guard.ClosePeriod(ctx, testRC(), opened.ID)
	require.NoError(t, err)
	require.True(t, closed.IsClosed)

	_, err = guard.ClosePeriod(ctx, testRC(), opened.ID)
	require.ErrorIs(t, err, ErrPeriodClosed)

	_, err = guard.ActivePeriod(ctx, 1)
	require.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestPeriodContains(t *testing.T) {
	p := FiscalPeriod{
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	}
	require.True(t, p.Contains(time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)))
	require.True(t, p.Contains(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, p.Contains(time.Date(2025, 9, 30, 23, 59, 0, 0, time.UTC)))
	require.False(t, p.Contains(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	require.False(t, p.Contains(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
}
