package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/journals"
	jobmetrics "github.com/odyssey-erp/odyssey-finance/internal/jobs"
)

// ErrLedgerIntegrity reports booked entries whose lines disagree with their header.
var ErrLedgerIntegrity = errors.New("ledger integrity violation")

// IntegrityChecker lists journal entries with inconsistent totals.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]journals.IntegrityIssue, error)
}

// GLIntegrityJob verifies that every booked journal entry still balances.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle processes TaskGLIntegrity tasks.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	issues, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %d entr(ies): %w", ErrLedgerIntegrity, len(issues), asynq.SkipRetry)
	}
	logOrDefault(j.Logger).Info("gl integrity check passed")
	return nil
}
