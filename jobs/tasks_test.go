package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	_ "github.com/tradewind-erp/tradewind/testing"
)

type fakeDrainer struct {
	limit  int
	posted int
	err    error
}

func (f *fakeDrainer) DrainUnprocessed(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.posted, f.err
}

func TestHandleDrainEvents(t *testing.T) {
	drainer := &fakeDrainer{posted: 3}
	h := NewDrainHandler(drainer, nil, nil)

	task, err := NewDrainEventsTask(DrainEventsPayload{BatchSize: 25})
	require.NoError(t, err)
	require.NoError(t, h.HandleDrainEvents(context.Background(), task))
	require.Equal(t, 25, drainer.limit)
}

func TestHandleDrainEventsDefaultsBatchSize(t *testing.T) {
	drainer := &fakeDrainer{}
	h := NewDrainHandler(drainer, nil, nil)

	task, err := NewDrainEventsTask(DrainEventsPayload{})
	require.NoError(t, err)
	require.NoError(t, h.HandleDrainEvents(context.Background(), task))
	require.Equal(t, 100, drainer.limit)
}

func TestHandleDrainEventsPropagatesFailure(t *testing.T) {
	wantErr := errors.New("db down")
	drainer := &fakeDrainer{err: wantErr}
	h := NewDrainHandler(drainer, nil, nil)

	task, err := NewDrainEventsTask(DrainEventsPayload{BatchSize: 10})
	require.NoError(t, err)
	require.ErrorIs(t, h.HandleDrainEvents(context.Background(), task), wantErr)
}

func TestHandleDrainEventsSkipsMalformedPayload(t *testing.T) {
	h := NewDrainHandler(&fakeDrainer{}, nil, nil)
	task := asynq.NewTask(TaskLedgerDrainEvents, []byte("{not json"))
	require.ErrorIs(t, h.HandleDrainEvents(context.Background(), task), asynq.SkipRetry)
}
