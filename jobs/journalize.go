package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-finance/internal/integration"
	jobmetrics "github.com/odyssey-erp/odyssey-finance/internal/jobs"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Journalizer is the integration entry point used by JournalizeJob.
type Journalizer interface {
	Journalize(ctx context.Context, docType integration.DocumentType, id int64) (journals.JournalEntry, error)
}

// JournalizeJob posts auto journal entries for queued documents.
type JournalizeJob struct {
	Journalizer Journalizer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewJournalizeJob initialises the journalize handler.
func NewJournalizeJob(journalizer Journalizer, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalizeJob {
	return &JournalizeJob{Journalizer: journalizer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskJournalize tasks. A document that is already journalized
// counts as done, so redelivered tasks are harmless.
func (j *JournalizeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Journalizer == nil {
		return errors.New("journalize: handler not configured")
	}
	var payload JournalizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("journalize: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskJournalize)
	defer func() {
		err = tracker.End(err)
	}()

	logger := logOrDefault(j.Logger).With(
		slog.String("source_type", payload.SourceType),
		slog.Int64("source_id", payload.SourceID),
	)
	if payload.ActorID > 0 {
		ctx = shared.ContextWithActor(ctx, payload.ActorID)
	}
	entry, err := j.Journalizer.Journalize(ctx, integration.DocumentType(payload.SourceType), payload.SourceID)
	switch {
	case err == nil:
		logger.Info("document journalized", slog.String("entry_code", entry.Code))
		return nil
	case errors.Is(err, integration.ErrAlreadyJournalized):
		logger.Info("document already journalized")
		return nil
	case errors.Is(err, integration.ErrUnsupportedDocument), errors.Is(err, integration.ErrDocumentNotFound):
		logger.Warn("journalize dropped", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
