package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-finance/internal/shared"
)

const (
	maxLevel        = 4
	maxCodeAttempts = 5
)

var (
	// ErrUnknownLinkKind indicates a kind without policy.
	ErrUnknownLinkKind = appshared.NewValidation("accounts: unknown link kind")
	// ErrCodeExhausted indicates no free sub-account code was found.
	ErrCodeExhausted = appshared.NewIntegrity("accounts: could not allocate sub-account code")
)

// Resolver picks the ledger account for a counterparty or product.
type Resolver struct {
	repo      Repository
	directory Directory
	policy    Policy
	cache     *ControlCache
	logger    *slog.Logger
}

func NewResolver(repo Repository, directory Directory, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, directory: directory, policy: policy, logger: logger}
}

// WithCache enables the Redis control account cache.
func (r *Resolver) WithCache(cache *ControlCache) *Resolver {
	r.cache = cache
	return r
}

// Resolve returns the sub-account linked to entityID under the kind's control
// account, creating it when the policy allows, else the control account.
// A zero entityID returns the control account.
func (r *Resolver) Resolve(ctx context.Context, kind LinkKind, entityID int64) (AccountItem, error) {
	kp, ok := r.policy.For(kind)
	if !ok {
		return AccountItem{}, fmt.Errorf("%w: %q", ErrUnknownLinkKind, kind)
	}
	var resolved AccountItem
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		control, err := r.control(ctx, tx, kind, kp.ControlCode)
		if err != nil {
			return err
		}
		if entityID == 0 {
			resolved = control
			return nil
		}
		sub, err := tx.FindLinked(ctx, control.ID, kind, entityID)
		if err == nil {
			resolved = sub
			return nil
		}
		if !errors.Is(err, shared.ErrAccountNotFound) {
			return err
		}
		if !kp.AutoCreate {
			resolved = control
			return nil
		}
		resolved, err = r.create(ctx, tx, control, kind, entityID)
		return err
	})
	if err != nil {
		return AccountItem{}, err
	}
	return resolved, nil
}

// Control returns the control account of kind.
func (r *Resolver) Control(ctx context.Context, kind LinkKind) (AccountItem, error) {
	return r.Resolve(ctx, kind, 0)
}

func (r *Resolver) control(ctx context.Context, tx TxRepository, kind LinkKind, code string) (AccountItem, error) {
	item, err := r.cache.Fetch(ctx, code, func(ctx context.Context) (AccountItem, error) {
		return tx.FindByCode(ctx, code)
	})
	if errors.Is(err, shared.ErrAccountNotFound) {
		r.logger.Error("control account missing", slog.String("kind", string(kind)), slog.String("code", code))
		return AccountItem{}, fmt.Errorf("%w: %s for %s", shared.ErrControlAccountMissing, code, kind)
	}
	return item, err
}

func (r *Resolver) create(ctx context.Context, tx TxRepository, control AccountItem, kind LinkKind, entityID int64) (AccountItem, error) {
	party, err := r.directory.Lookup(ctx, kind.Entity(), entityID)
	if err != nil {
		return AccountItem{}, err
	}
	seq, err := tx.CountChildren(ctx, control.ID)
	if err != nil {
		return AccountItem{}, err
	}
	useCode := r.policy.Suffix == SuffixCode && SanitizeCode(party.Code) != ""
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix := SequenceSuffix(seq + 1 + attempt)
		if useCode {
			suffix = SanitizeCode(party.Code)
			if attempt > 0 {
				suffix = fmt.Sprintf("%s%d", suffix, attempt+1)
			}
		}
		item := newSubAccount(control, kind, party, SubAccountCode(control.Code, suffix))
		created, ok, err := tx.InsertIfAbsent(ctx, item)
		if err != nil {
			return AccountItem{}, err
		}
		if ok {
			r.logger.Info("sub-account created",
				slog.String("code", created.Code),
				slog.String("kind", string(kind)),
				slog.Int64("entity_id", entityID))
			return created, nil
		}
		// Lost a race for the same link, or the code belongs to another entity.
		existing, err := tx.FindLinked(ctx, control.ID, kind, entityID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, shared.ErrAccountNotFound) {
			return AccountItem{}, err
		}
	}
	return AccountItem{}, fmt.Errorf("%w: under %s", ErrCodeExhausted, control.Code)
}

func newSubAccount(control AccountItem, kind LinkKind, party Counterparty, code string) AccountItem {
	level := control.Level + 1
	if level > maxLevel {
		level = maxLevel
	}
	parentID := control.ID
	entityID := party.ID
	return AccountItem{
		Code:            code,
		Name:            fmt.Sprintf("%s - %s", control.Name, party.Name),
		Level:           level,
		ParentID:        &parentID,
		Type:            control.Type,
		Side:            control.Side,
		IsDetail:        true,
		IsAutoGenerated: true,
		LinkKind:        kind,
		LinkedEntityID:  &entityID,
		IsActive:        true,
	}
}

// Reclassify changes an account's type and normal side unless posted lines reference it.
func (r *Resolver) Reclassify(ctx context.Context, accountID int64, accountType AccountType, side NormalSide) error {
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		used, err := tx.HasPostedLines(ctx, accountID)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("%w: %s", shared.ErrAccountInUse, account.Code)
		}
		return tx.UpdateClassification(ctx, accountID, accountType, side)
	})
	if err != nil {
		return err
	}
	if err := r.cache.Bump(ctx); err != nil {
		r.logger.Warn("control cache bump failed", slog.Any("error", err))
	}
	return nil
}

// List returns the chart of accounts.
func (r *Resolver) List(ctx context.Context) ([]AccountItem, error) {
	return r.repo.List(ctx)
}
