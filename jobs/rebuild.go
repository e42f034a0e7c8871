package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-finance/internal/jobs"
	"github.com/odyssey-erp/odyssey-finance/internal/reconciliation"
)

// Rebuilder recomputes the reconciliation cache.
type Rebuilder interface {
	Rebuild(ctx context.Context, sourceType reconciliation.SourceType) ([]reconciliation.RebuildResult, error)
}

// RebuildJob runs scheduled or requested settlement cache rebuilds.
type RebuildJob struct {
	Rebuilder Rebuilder
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRebuildJob initialises the rebuild handler.
func NewRebuildJob(rebuilder Rebuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *RebuildJob {
	return &RebuildJob{Rebuilder: rebuilder, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRebuild tasks. A rebuild already running elsewhere is
// treated as success; over-settled lines fail the run without retry since a
// second pass would find the same rows.
func (j *RebuildJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Rebuilder == nil {
		return errors.New("rebuild: handler not configured")
	}
	var payload RebuildPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("rebuild: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskRebuild)
	defer func() {
		err = tracker.End(err)
	}()

	logger := logOrDefault(j.Logger).With(slog.String("source_type", payload.SourceType))
	results, err := j.Rebuilder.Rebuild(ctx, reconciliation.SourceType(payload.SourceType))
	for _, result := range results {
		logger.Info("rebuild finished",
			slog.String("scope", string(result.SourceType)),
			slog.Int("scanned", result.Scanned),
			slog.Int("corrected", result.Corrected),
			slog.Int("violations", result.Violations))
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reconciliation.ErrRebuildRunning):
		logger.Info("rebuild skipped, another run holds the lock")
		return nil
	case errors.Is(err, reconciliation.ErrOverSettled), errors.Is(err, reconciliation.ErrUnknownSourceType):
		logger.Error("rebuild reported a problem", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
