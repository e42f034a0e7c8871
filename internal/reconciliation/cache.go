package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-finance/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

const rebuildLockTTL = 10 * time.Minute

// Locker guards rebuild runs across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Recorder receives rebuild corrections.
type Recorder interface {
	AddCacheCorrections(sourceType string, n int)
}

// Cache maintains the settled amount cached on source lines. Every write
// recomputes the cache from the detail rows that remain.
type Cache struct {
	repo    Repository
	locker  Locker
	metrics Recorder
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCache constructs the cache engine.
func NewCache(repo Repository, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{repo: repo, logger: logger}
}

// WithLocker attaches a distributed lock for rebuilds.
func (c *Cache) WithLocker(locker Locker) *Cache {
	c.locker = locker
	return c
}

// WithMetrics attaches a corrections recorder.
func (c *Cache) WithMetrics(metrics Recorder) *Cache {
	c.metrics = metrics
	return c
}

// Apply inserts a detail and refreshes its source line.
func (c *Cache) Apply(ctx context.Context, tx TxRepository, detail SetoffDetail) (SetoffDetail, error) {
	detail.CurrentAmount = detail.CurrentAmount.Round(2)
	if !detail.CurrentAmount.IsPositive() {
		return SetoffDetail{}, ErrInvalidAmount
	}
	line, err := tx.LockSourceLine(ctx, detail.SourceType, detail.SourceLineID)
	if err != nil {
		return SetoffDetail{}, err
	}
	existing, err := tx.SumDetails(ctx, detail.SourceType, detail.SourceLineID, 0)
	if err != nil {
		return SetoffDetail{}, err
	}
	detail.TotalAmount = existing.Add(detail.CurrentAmount)
	if err := checkWithin(line, detail.TotalAmount); err != nil {
		return SetoffDetail{}, err
	}
	inserted, err := tx.InsertDetail(ctx, detail)
	if err != nil {
		return SetoffDetail{}, err
	}
	if _, err := c.refresh(ctx, tx, detail.line()); err != nil {
		return SetoffDetail{}, err
	}
	return inserted, nil
}

// Reapply changes a detail amount and refreshes its source line.
func (c *Cache) Reapply(ctx context.Context, tx TxRepository, detailID int64, amount decimal.Decimal) (SetoffDetail, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return SetoffDetail{}, ErrInvalidAmount
	}
	detail, err := tx.GetDetailForUpdate(ctx, detailID)
	if err != nil {
		return SetoffDetail{}, err
	}
	line, err := tx.LockSourceLine(ctx, detail.SourceType, detail.SourceLineID)
	if err != nil {
		return SetoffDetail{}, err
	}
	others, err := tx.SumDetails(ctx, detail.SourceType, detail.SourceLineID, detail.ID)
	if err != nil {
		return SetoffDetail{}, err
	}
	detail.CurrentAmount = amount
	detail.TotalAmount = others.Add(amount)
	if err := checkWithin(line, detail.TotalAmount); err != nil {
		return SetoffDetail{}, err
	}
	if err := tx.UpdateDetail(ctx, detail.ID, detail.CurrentAmount, detail.TotalAmount); err != nil {
		return SetoffDetail{}, err
	}
	if _, err := c.refresh(ctx, tx, detail.line()); err != nil {
		return SetoffDetail{}, err
	}
	return detail, nil
}

// Retract deletes details and refreshes every affected source line from the
// details that remain.
func (c *Cache) Retract(ctx context.Context, tx TxRepository, details []SetoffDetail) error {
	seen := map[lineRef]bool{}
	var lines []lineRef
	for _, detail := range details {
		if !seen[detail.line()] {
			seen[detail.line()] = true
			lines = append(lines, detail.line())
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Type != lines[j].Type {
			return lines[i].Type < lines[j].Type
		}
		return lines[i].ID < lines[j].ID
	})
	for _, ref := range lines {
		if _, err := tx.LockSourceLine(ctx, ref.Type, ref.ID); err != nil {
			return err
		}
	}
	for _, detail := range details {
		if err := tx.DeleteDetail(ctx, detail.ID); err != nil {
			return err
		}
	}
	for _, ref := range lines {
		if _, err := c.refresh(ctx, tx, ref); err != nil {
			return err
		}
	}
	return nil
}

// refresh sets the line cache to the sum of its details.
func (c *Cache) refresh(ctx context.Context, tx TxRepository, ref lineRef) (SourceLine, error) {
	line, err := tx.LockSourceLine(ctx, ref.Type, ref.ID)
	if err != nil {
		return SourceLine{}, err
	}
	sum, err := tx.SumDetails(ctx, ref.Type, ref.ID, 0)
	if err != nil {
		return SourceLine{}, err
	}
	settled := clampZero(sum)
	// A line left over-settled may shrink toward its total one setoff at a time.
	if !settled.LessThan(line.SettledAmount) {
		if err := checkWithin(line, settled); err != nil {
			return SourceLine{}, err
		}
	}
	line.SettledAmount = settled
	line.IsSettled = settled.GreaterThanOrEqual(line.TotalAmount)
	if err := tx.SetSettled(ctx, ref.Type, ref.ID, line.SettledAmount, line.IsSettled); err != nil {
		return SourceLine{}, err
	}
	return line, nil
}

// Rebuild recomputes the cache of every line of sourceType, or of all types
// when sourceType is empty. Concurrent requests for the same scope share one run.
func (c *Cache) Rebuild(ctx context.Context, sourceType SourceType) ([]RebuildResult, error) {
	types := SourceTypes
	scope := "all"
	if sourceType != "" {
		if !sourceType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
		}
		types = []SourceType{sourceType}
		scope = string(sourceType)
	}
	// The shared run outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	runCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(scope, func() (any, error) {
		return c.rebuild(runCtx, scope, types)
	})
	select {
	case res := <-ch:
		results, _ := res.Val.([]RebuildResult)
		return results, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) rebuild(ctx context.Context, scope string, types []SourceType) ([]RebuildResult, error) {
	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, shared.RebuildLockKey(scope), rebuildLockTTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return nil, fmt.Errorf("%w: %s", ErrRebuildRunning, scope)
			}
			return nil, err
		}
		defer release()
	}
	results := make([]RebuildResult, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, sourceType := range types {
		g.Go(func() error {
			result, err := c.rebuildType(gctx, sourceType)
			results[i] = result
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	violations := 0
	for _, result := range results {
		violations += result.Violations
	}
	if violations > 0 {
		return results, fmt.Errorf("%w: %d line(s)", ErrOverSettled, violations)
	}
	return results, nil
}

func (c *Cache) rebuildType(ctx context.Context, sourceType SourceType) (RebuildResult, error) {
	result := RebuildResult{SourceType: sourceType}
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = RebuildResult{SourceType: sourceType}
		states, err := tx.ScanSourceLines(ctx, sourceType)
		if err != nil {
			return err
		}
		result.Scanned = len(states)
		for _, state := range states {
			line := state.Line
			settled := clampZero(state.DetailSum.Round(2))
			isSettled := settled.GreaterThanOrEqual(line.TotalAmount)
			if settled.GreaterThan(line.TotalAmount.Add(Epsilon)) {
				result.Violations++
				c.logger.Error("source line over-settled",
					slog.String("source_type", string(sourceType)),
					slog.Int64("line_id", line.ID),
					slog.String("total", line.TotalAmount.StringFixed(2)),
					slog.String("settled", settled.StringFixed(2)))
			}
			if settled.Equal(line.SettledAmount) && isSettled == line.IsSettled {
				continue
			}
			c.logger.Warn("settled cache corrected",
				slog.String("source_type", string(sourceType)),
				slog.Int64("line_id", line.ID),
				slog.String("cached", line.SettledAmount.StringFixed(2)),
				slog.String("actual", settled.StringFixed(2)))
			if err := tx.SetSettled(ctx, sourceType, line.ID, settled, isSettled); err != nil {
				return err
			}
			result.Corrected++
		}
		return nil
	})
	if err != nil {
		return RebuildResult{SourceType: sourceType}, err
	}
	if c.metrics != nil {
		c.metrics.AddCacheCorrections(string(sourceType), result.Corrected)
	}
	c.logger.Info("settled cache rebuilt",
		slog.String("source_type", string(sourceType)),
		slog.Int("scanned", result.Scanned),
		slog.Int("corrected", result.Corrected))
	return result, nil
}

func checkWithin(line SourceLine, settled decimal.Decimal) error {
	if settled.IsNegative() {
		return fmt.Errorf("%w: %s line %d settled %s", ErrInvalidAmount, line.Type, line.ID, settled.StringFixed(2))
	}
	if settled.GreaterThan(line.TotalAmount.Add(Epsilon)) {
		return fmt.Errorf("%w: %s line %d settled %s of %s", ErrExceedsLineTotal, line.Type, line.ID,
			settled.StringFixed(2), line.TotalAmount.StringFixed(2))
	}
	return nil
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
