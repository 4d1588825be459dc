package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tradewind-erp/tradewind/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerDrainEvents retries journal events the inline posting path
	// left pending or failed.
	TaskLedgerDrainEvents = "ledger:drain_events"
)

// DrainEventsPayload bounds how many events one drain pass picks up.
type DrainEventsPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewDrainEventsTask constructs an Asynq task.
func NewDrainEventsTask(payload DrainEventsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerDrainEvents, data), nil
}

// Drainer posts every unprocessed journal event up to a limit.
type Drainer interface {
	DrainUnprocessed(ctx context.Context, limit int) (int, error)
}

// DrainHandler adapts the posting engine to an Asynq handler.
type DrainHandler struct {
	drainer Drainer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewDrainHandler constructs DrainHandler. Metrics may be nil.
func NewDrainHandler(drainer Drainer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DrainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DrainHandler{drainer: drainer, logger: logger, metrics: metrics}
}

// HandleDrainEvents processes TaskLedgerDrainEvents tasks. A malformed
// payload is dropped; a posting failure is retried by Asynq.
func (h *DrainHandler) HandleDrainEvents(ctx context.Context, t *asynq.Task) error {
	var payload DrainEventsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 100
	}
	tracker := h.metrics.Track("ledger_drain_events")
	posted, err := h.drainer.DrainUnprocessed(ctx, payload.BatchSize)
	if err != nil {
		return tracker.End(err)
	}
	h.metrics.AddDrained(posted)
	if posted > 0 {
		h.logger.Info("journal events drained", slog.Int("posted", posted))
	}
	return tracker.End(nil)
}
