package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// Prepayments is the prepayment ledger used by setoffs.
type Prepayments interface {
	Get(ctx context.Context, id int64) (prepayment.Prepayment, error)
	GetUsage(ctx context.Context, id int64) (prepayment.Usage, error)
	Use(ctx context.Context, prepaymentID, setoffID int64, amount decimal.Decimal) (prepayment.Usage, error)
	Update(ctx context.Context, usageID int64, amount decimal.Decimal) (prepayment.Usage, error)
	Release(ctx context.Context, usageID int64) error
	ReleaseSetoff(ctx context.Context, setoffID int64) ([]int64, error)
	SetoffUsed(ctx context.Context, setoffID int64) (decimal.Decimal, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DetailInput settles part of one source line.
type DetailInput struct {
	SourceType   SourceType      `json:"source_type" validate:"required,oneof=PURCHASE_RECEIVING PURCHASE_RETURN SALES_DELIVERY SALES_RETURN"`
	SourceLineID int64           `json:"source_line_id" validate:"required,gt=0"`
	Amount       decimal.Decimal `json:"amount"`
}

// PrepaymentInput consumes part of an advance.
type PrepaymentInput struct {
	PrepaymentID int64           `json:"prepayment_id" validate:"required,gt=0"`
	Amount       decimal.Decimal `json:"amount"`
}

// CreateSetoffInput describes a new setoff document.
type CreateSetoffInput struct {
	Code           string            `json:"code" validate:"required,max=64"`
	Kind           SetoffKind        `json:"kind" validate:"required,oneof=RECEIVABLE PAYABLE"`
	CounterpartyID int64             `json:"counterparty_id" validate:"required,gt=0"`
	SetoffDate     time.Time         `json:"setoff_date" validate:"required"`
	Details        []DetailInput     `json:"details" validate:"required,min=1,dive"`
	Prepayments    []PrepaymentInput `json:"prepayments" validate:"dive"`
	ActorID        int64             `json:"-"`
}

// Service manages setoff documents and keeps source line caches in step.
type Service struct {
	repo        Repository
	cache       *Cache
	prepayments Prepayments
	audit       AuditPort
	logger      *slog.Logger
}

// NewService constructs the setoff service.
func NewService(repo Repository, cache *Cache, prepayments Prepayments, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, prepayments: prepayments, logger: logger}
}

// WithAudit attaches an audit trail sink.
func (s *Service) WithAudit(audit AuditPort) *Service {
	s.audit = audit
	return s
}

// GetSetoff returns a setoff with its details.
func (s *Service) GetSetoff(ctx context.Context, id int64) (Setoff, error) {
	return s.repo.GetSetoff(ctx, id)
}

// Outstanding returns a source line with its settled cache.
func (s *Service) Outstanding(ctx context.Context, sourceType SourceType, lineID int64) (SourceLine, error) {
	if !sourceType.Valid() {
		return SourceLine{}, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return s.repo.GetSourceLine(ctx, sourceType, lineID)
}

// Rebuild recomputes source line caches.
func (s *Service) Rebuild(ctx context.Context, sourceType SourceType) ([]RebuildResult, error) {
	return s.cache.Rebuild(ctx, sourceType)
}

// CreateSetoff stores a setoff, applies every detail to its source line and
// consumes prepayments, all in one transaction.
func (s *Service) CreateSetoff(ctx context.Context, input CreateSetoffInput) (Setoff, error) {
	if err := validateCreate(input); err != nil {
		return Setoff{}, err
	}
	var setoff Setoff
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.InsertSetoff(ctx, Setoff{
			Code:             strings.TrimSpace(input.Code),
			Kind:             input.Kind,
			CounterpartyID:   input.CounterpartyID,
			SetoffDate:       input.SetoffDate,
			TotalAmount:      decimal.Zero,
			PrepaymentAmount: decimal.Zero,
			CreatedBy:        input.ActorID,
		})
		if err != nil {
			return err
		}
		details := make([]SetoffDetail, 0, len(input.Details))
		for _, in := range input.Details {
			line, err := tx.LockSourceLine(ctx, in.SourceType, in.SourceLineID)
			if err != nil {
				return err
			}
			if line.CounterpartyID != header.CounterpartyID {
				return fmt.Errorf("%w: %s line %d", ErrCounterpartyMismatch, in.SourceType, in.SourceLineID)
			}
			detail, err := s.cache.Apply(ctx, tx, SetoffDetail{
				SetoffID:      header.ID,
				SourceType:    in.SourceType,
				SourceLineID:  in.SourceLineID,
				CurrentAmount: in.Amount,
			})
			if err != nil {
				return err
			}
			details = append(details, detail)
		}
		total := setoffTotal(details)
		if total.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeTotal, total.StringFixed(2))
		}
		header.TotalAmount = total
		for _, in := range input.Prepayments {
			if err := s.checkAdvance(ctx, header, in.PrepaymentID); err != nil {
				return err
			}
			if _, err := s.prepayments.Use(ctx, in.PrepaymentID, header.ID, in.Amount); err != nil {
				return err
			}
		}
		used, err := s.syncPrepaymentAmount(ctx, tx, header)
		if err != nil {
			return err
		}
		header.PrepaymentAmount = used
		header.Details = details
		setoff = header
		return nil
	})
	if err != nil {
		return Setoff{}, err
	}
	s.record(ctx, input.ActorID, "setoff.create", setoff.ID, map[string]any{"code": setoff.Code, "total": setoff.TotalAmount.StringFixed(2)})
	return setoff, nil
}

// UpdateDetail changes one detail amount and the setoff totals.
func (s *Service) UpdateDetail(ctx context.Context, detailID int64, amount decimal.Decimal) (SetoffDetail, error) {
	var detail SetoffDetail
	var setoffID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDetailForUpdate(ctx, detailID)
		if err != nil {
			return err
		}
		header, err := editableSetoff(ctx, tx, current.SetoffID)
		if err != nil {
			return err
		}
		detail, err = s.cache.Reapply(ctx, tx, detailID, amount)
		if err != nil {
			return err
		}
		details, err := tx.ListDetails(ctx, header.ID)
		if err != nil {
			return err
		}
		total := setoffTotal(details)
		if total.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeTotal, total.StringFixed(2))
		}
		if header.PrepaymentAmount.GreaterThan(total) {
			return fmt.Errorf("%w: %s of %s", ErrPrepaymentExceedsTotal, header.PrepaymentAmount.StringFixed(2), total.StringFixed(2))
		}
		setoffID = header.ID
		return tx.UpdateSetoffTotals(ctx, header.ID, total, header.PrepaymentAmount)
	})
	if err != nil {
		return SetoffDetail{}, err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "setoff.detail.update", setoffID, map[string]any{"detail_id": detailID, "amount": detail.CurrentAmount.StringFixed(2)})
	return detail, nil
}

// DeleteSetoff retracts every detail, releases prepayment usages and removes
// the setoff in one transaction.
func (s *Service) DeleteSetoff(ctx context.Context, id int64) error {
	var code string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := editableSetoff(ctx, tx, id)
		if err != nil {
			return err
		}
		details, err := tx.ListDetails(ctx, id)
		if err != nil {
			return err
		}
		if err := s.cache.Retract(ctx, tx, details); err != nil {
			return err
		}
		if _, err := s.prepayments.ReleaseSetoff(ctx, id); err != nil {
			return err
		}
		code = header.Code
		return tx.DeleteSetoff(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "setoff.delete", id, map[string]any{"code": code})
	return nil
}

// AddPrepaymentUsage consumes an advance for an existing setoff and refreshes
// the setoff's prepayment amount in the same transaction.
func (s *Service) AddPrepaymentUsage(ctx context.Context, prepaymentID, setoffID int64, amount decimal.Decimal) (prepayment.Usage, error) {
	var usage prepayment.Usage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := editableSetoff(ctx, tx, setoffID)
		if err != nil {
			return err
		}
		if err := s.checkAdvance(ctx, header, prepaymentID); err != nil {
			return err
		}
		usage, err = s.prepayments.Use(ctx, prepaymentID, header.ID, amount)
		if err != nil {
			return err
		}
		_, err = s.syncPrepaymentAmount(ctx, tx, header)
		return err
	})
	if err != nil {
		return prepayment.Usage{}, err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "setoff.prepayment.use", setoffID, map[string]any{"prepayment_id": prepaymentID, "amount": usage.Amount.StringFixed(2)})
	return usage, nil
}

// UpdatePrepaymentUsage changes a usage amount under the setoff rules.
func (s *Service) UpdatePrepaymentUsage(ctx context.Context, usageID int64, amount decimal.Decimal) (prepayment.Usage, error) {
	var usage prepayment.Usage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := s.prepayments.GetUsage(ctx, usageID)
		if err != nil {
			return err
		}
		header, err := editableSetoff(ctx, tx, current.SetoffID)
		if err != nil {
			return err
		}
		if err := s.checkAdvance(ctx, header, current.PrepaymentID); err != nil {
			return err
		}
		usage, err = s.prepayments.Update(ctx, usageID, amount)
		if err != nil {
			return err
		}
		_, err = s.syncPrepaymentAmount(ctx, tx, header)
		return err
	})
	if err != nil {
		return prepayment.Usage{}, err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "setoff.prepayment.update", usage.SetoffID, map[string]any{"usage_id": usageID, "amount": usage.Amount.StringFixed(2)})
	return usage, nil
}

// ReleasePrepaymentUsage deletes one usage of a setoff that is not journalized yet.
func (s *Service) ReleasePrepaymentUsage(ctx context.Context, usageID int64) error {
	var setoffID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := s.prepayments.GetUsage(ctx, usageID)
		if err != nil {
			return err
		}
		header, err := editableSetoff(ctx, tx, current.SetoffID)
		if err != nil {
			return err
		}
		if err := s.prepayments.Release(ctx, usageID); err != nil {
			return err
		}
		setoffID = header.ID
		_, err = s.syncPrepaymentAmount(ctx, tx, header)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "setoff.prepayment.release", setoffID, map[string]any{"usage_id": usageID})
	return nil
}

// editableSetoff locks a setoff header and refuses journalized ones.
func editableSetoff(ctx context.Context, tx TxRepository, id int64) (Setoff, error) {
	header, err := tx.GetSetoffForUpdate(ctx, id)
	if err != nil {
		return Setoff{}, err
	}
	if header.Journalized {
		return Setoff{}, fmt.Errorf("%w: %s", ErrSetoffJournalized, header.Code)
	}
	return header, nil
}

func (s *Service) checkAdvance(ctx context.Context, header Setoff, prepaymentID int64) error {
	advance, err := s.prepayments.Get(ctx, prepaymentID)
	if err != nil {
		return err
	}
	if advance.Kind != header.Kind.PrepaymentKind() {
		return fmt.Errorf("%w: prepayment %s is %s", ErrKindMismatch, advance.Code, advance.Kind)
	}
	if advance.CounterpartyID != header.CounterpartyID {
		return fmt.Errorf("%w: prepayment %s", ErrCounterpartyMismatch, advance.Code)
	}
	return nil
}

// syncPrepaymentAmount sets prepayment_amount to the sum of the setoff's usage
// rows, bounded by the setoff total.
func (s *Service) syncPrepaymentAmount(ctx context.Context, tx TxRepository, header Setoff) (decimal.Decimal, error) {
	used, err := s.prepayments.SetoffUsed(ctx, header.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if used.GreaterThan(header.TotalAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s of %s", ErrPrepaymentExceedsTotal, used.StringFixed(2), header.TotalAmount.StringFixed(2))
	}
	if err := tx.UpdateSetoffTotals(ctx, header.ID, header.TotalAmount, used); err != nil {
		return decimal.Zero, err
	}
	return used, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, setoffID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "setoff",
		EntityID: strconv.FormatInt(setoffID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}

func validateCreate(input CreateSetoffInput) error {
	if strings.TrimSpace(input.Code) == "" {
		return fmt.Errorf("%w: code required", ErrInvalidSetoff)
	}
	if input.Kind != KindReceivable && input.Kind != KindPayable {
		return fmt.Errorf("%w: kind %q", ErrInvalidSetoff, input.Kind)
	}
	if input.CounterpartyID <= 0 || input.SetoffDate.IsZero() {
		return fmt.Errorf("%w: counterparty and date required", ErrInvalidSetoff)
	}
	if len(input.Details) == 0 {
		return fmt.Errorf("%w: details required", ErrInvalidSetoff)
	}
	seen := map[lineRef]bool{}
	for _, in := range input.Details {
		if !in.SourceType.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownSourceType, in.SourceType)
		}
		if in.SourceType.Kind() != input.Kind {
			return fmt.Errorf("%w: %s in %s setoff", ErrKindMismatch, in.SourceType, input.Kind)
		}
		ref := lineRef{Type: in.SourceType, ID: in.SourceLineID}
		if seen[ref] {
			return fmt.Errorf("%w: %s line %d listed twice", ErrInvalidSetoff, in.SourceType, in.SourceLineID)
		}
		seen[ref] = true
		if !in.Amount.IsPositive() {
			return ErrInvalidAmount
		}
	}
	for _, in := range input.Prepayments {
		if !in.Amount.IsPositive() {
			return prepayment.ErrInvalidAmount
		}
	}
	return nil
}

// setoffTotal nets goods lines against return lines.
func setoffTotal(details []SetoffDetail) decimal.Decimal {
	total := decimal.Zero
	for _, detail := range details {
		if detail.SourceType.IsReturn() {
			total = total.Sub(detail.CurrentAmount)
		} else {
			total = total.Add(detail.CurrentAmount)
		}
	}
	return total
}
