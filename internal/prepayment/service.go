package prepayment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Service maintains prepayment usages and the derived used amount.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the prepayment service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns a prepayment with its usages.
func (s *Service) Get(ctx context.Context, id int64) (Prepayment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Prepayment{}, err
	}
	p.Usages, err = s.repo.ListUsages(ctx, id)
	if err != nil {
		return Prepayment{}, err
	}
	return p, nil
}

// GetUsage returns one usage row without locking it.
func (s *Service) GetUsage(ctx context.Context, id int64) (Usage, error) {
	return s.repo.GetUsage(ctx, id)
}

// SetoffUsed sums the usage rows of a setoff, locking them for the caller's transaction.
func (s *Service) SetoffUsed(ctx context.Context, setoffID int64) (decimal.Decimal, error) {
	used := decimal.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		usages, err := tx.ListUsagesBySetoff(ctx, setoffID)
		if err != nil {
			return err
		}
		for _, usage := range usages {
			used = used.Add(usage.Amount)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return roundCents(used), nil
}

// Use consumes amount of the prepayment for a setoff.
func (s *Service) Use(ctx context.Context, prepaymentID, setoffID int64, amount decimal.Decimal) (Usage, error) {
	amount = roundCents(amount)
	if !amount.IsPositive() {
		return Usage{}, ErrInvalidAmount
	}
	var usage Usage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, prepaymentID)
		if err != nil {
			return err
		}
		if err := checkBalance(ctx, tx, p, 0, amount); err != nil {
			return err
		}
		usage, err = tx.InsertUsage(ctx, Usage{PrepaymentID: p.ID, SetoffID: setoffID, Amount: amount})
		if err != nil {
			return err
		}
		_, err = RecomputeUsed(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return Usage{}, err
	}
	return usage, nil
}

// Update changes a usage amount under the same bound as Use, excluding the usage itself.
func (s *Service) Update(ctx context.Context, usageID int64, amount decimal.Decimal) (Usage, error) {
	amount = roundCents(amount)
	if !amount.IsPositive() {
		return Usage{}, ErrInvalidAmount
	}
	var usage Usage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetUsageForUpdate(ctx, usageID)
		if err != nil {
			return err
		}
		p, err := tx.GetForUpdate(ctx, current.PrepaymentID)
		if err != nil {
			return err
		}
		if err := checkBalance(ctx, tx, p, usageID, amount); err != nil {
			return err
		}
		if err := tx.UpdateUsageAmount(ctx, usageID, amount); err != nil {
			return err
		}
		current.Amount = amount
		usage = current
		_, err = RecomputeUsed(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return Usage{}, err
	}
	return usage, nil
}

// Release deletes a usage and returns its amount to the balance.
func (s *Service) Release(ctx context.Context, usageID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		usage, err := tx.GetUsageForUpdate(ctx, usageID)
		if err != nil {
			return err
		}
		if _, err := tx.GetForUpdate(ctx, usage.PrepaymentID); err != nil {
			return err
		}
		if err := tx.DeleteUsage(ctx, usageID); err != nil {
			return err
		}
		_, err = RecomputeUsed(ctx, tx, usage.PrepaymentID)
		return err
	})
}

// ReleaseSetoff deletes every usage of a setoff and recomputes each affected
// prepayment. It returns the affected prepayment ids.
func (s *Service) ReleaseSetoff(ctx context.Context, setoffID int64) ([]int64, error) {
	var affected []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		usages, err := tx.ListUsagesBySetoff(ctx, setoffID)
		if err != nil {
			return err
		}
		seen := map[int64]bool{}
		affected = affected[:0]
		for _, usage := range usages {
			if !seen[usage.PrepaymentID] {
				if _, err := tx.GetForUpdate(ctx, usage.PrepaymentID); err != nil {
					return err
				}
				seen[usage.PrepaymentID] = true
				affected = append(affected, usage.PrepaymentID)
			}
			if err := tx.DeleteUsage(ctx, usage.ID); err != nil {
				return err
			}
		}
		for _, id := range affected {
			if _, err := RecomputeUsed(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(affected) > 0 {
		s.logger.Info("prepayment usages released", slog.Int64("setoff_id", setoffID), slog.Any("prepayments", affected))
	}
	return affected, nil
}

// RecomputeUsed sets used_amount to the sum of the remaining usage rows.
func RecomputeUsed(ctx context.Context, tx TxRepository, prepaymentID int64) (decimal.Decimal, error) {
	p, err := tx.GetForUpdate(ctx, prepaymentID)
	if err != nil {
		return decimal.Zero, err
	}
	used, err := tx.SumUsages(ctx, prepaymentID, 0)
	if err != nil {
		return decimal.Zero, err
	}
	used = roundCents(used)
	if used.IsNegative() || used.GreaterThan(p.Amount) {
		return decimal.Zero, fmt.Errorf("%w: prepayment %s used %s of %s", ErrUsedOutOfRange, p.Code, used.StringFixed(2), p.Amount.StringFixed(2))
	}
	if err := tx.SetUsedAmount(ctx, prepaymentID, used); err != nil {
		return decimal.Zero, err
	}
	return used, nil
}

func checkBalance(ctx context.Context, tx TxRepository, p Prepayment, excludeUsageID int64, amount decimal.Decimal) error {
	others, err := tx.SumUsages(ctx, p.ID, excludeUsageID)
	if err != nil {
		return err
	}
	available := p.Amount.Sub(others)
	if amount.GreaterThan(available) {
		return fmt.Errorf("%w: %s requested, %s available on %s", ErrExceedsBalance, amount.StringFixed(2), available.StringFixed(2), p.Code)
	}
	return nil
}
