// Package jobs hosts the background worker. The only scheduled job is
// the overdue sweep, which materialises overdue installments across
// tenants outside the request path.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep is the task type for the loan overdue sweep.
	TaskOverdueSweep = "loan:overdue_sweep"
)

// OverdueSweepPayload parameterises one sweep run. A zero AsOf means
// the handler's current time.
type OverdueSweepPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewOverdueSweepTask constructs an Asynq task.
func NewOverdueSweepTask(payload OverdueSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueSweep, data), nil
}

// OverdueSweeper runs the sweep. Implemented by the loan service.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// NewOverdueSweepHandler builds the Asynq handler for the sweep task.
func NewOverdueSweepHandler(logger *slog.Logger, sweeper OverdueSweeper) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload OverdueSweepPayload
		if len(task.Payload()) > 0 {
			if err := json.Unmarshal(task.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		asOf := payload.AsOf
		if asOf.IsZero() {
			asOf = time.Now()
		}
		flipped, err := sweeper.SweepOverdue(ctx, asOf)
		if err != nil {
			logger.Error("overdue sweep failed", slog.Any("error", err))
			return err
		}
		logger.Info("overdue sweep complete", slog.Int("defaulted", flipped), slog.Time("as_of", asOf))
		return nil
	}
}
