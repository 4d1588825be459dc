package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
	_ "github.com/tradewind-erp/tradewind/testing"
)

func TestClassifyTxErrorSerializationFailure(t *testing.T) {
	err := classifyTxError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	require.ErrorIs(t, err, shared.ErrRetryable)
}

func TestClassifyTxErrorDeadlock(t *testing.T) {
	wrapped := fmt.Errorf("apply movement: %w", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	err := classifyTxError(wrapped)
	require.ErrorIs(t, err, shared.ErrRetryable)
}

func TestClassifyTxErrorPassesThroughOtherErrors(t *testing.T) {
	sentinel := errors.New("boom")
	require.ErrorIs(t, classifyTxError(sentinel), sentinel)

	constraint := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err := classifyTxError(constraint)
	require.NotErrorIs(t, err, shared.ErrRetryable)

	require.NoError(t, classifyTxError(nil))
}
