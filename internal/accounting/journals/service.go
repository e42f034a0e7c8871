package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-finance/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service owns journal entries and their Draft -> Posted -> Reversed lifecycle.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) FindBySource(ctx context.Context, sourceType string, sourceID int64) (JournalEntry, error) {
	return s.repo.FindBySource(ctx, sourceType, sourceID)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]JournalEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// Save creates a draft or replaces every line of an existing draft.
func (s *Service) Save(ctx context.Context, input SaveInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saved, err := s.save(ctx, tx, input)
		entry = saved
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Post moves a balanced draft to POSTED.
func (s *Service) Post(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := s.post(ctx, tx, entryID, actorID)
		entry = posted
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, actorID, "journal.post", entry.ID, map[string]any{"code": entry.Code})
	return entry, nil
}

// Record saves and posts an entry as one unit inside the caller's transaction, if any.
// Auditing is left to the caller since the enclosing transaction may still roll back.
func (s *Service) Record(ctx context.Context, input SaveInput) (JournalEntry, error) {
	if input.ID != 0 {
		return JournalEntry{}, fmt.Errorf("%w: record creates new entries only", shared.ErrInvalidEntry)
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := s.save(ctx, tx, input)
		if err != nil {
			return err
		}
		posted, err := s.post(ctx, tx, draft.ID, input.ActorID)
		entry = posted
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Reverse books a posted mirror of a posted entry and marks the original REVERSED.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: entry id required", shared.ErrInvalidEntry)
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		switch {
		case original.Status == StatusReversed || original.ReversedBy != nil:
			return shared.ErrAlreadyReversed
		case !original.Status.CanTransition(StatusReversed):
			return shared.ErrInvalidStatus
		}
		date := input.Date
		if date.IsZero() {
			date = s.now()
		}
		now := s.now()
		lines := BuildLines(0, flipLines(original.Lines))
		debit, credit := Totals(lines)
		year, period := FiscalPeriodOf(date)
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			Code:         original.Code + "-REV",
			EntryDate:    date,
			FiscalYear:   year,
			FiscalPeriod: period,
			Type:         EntryTypeReversing,
			Status:       StatusPosted,
			TotalDebit:   debit,
			TotalCredit:  credit,
			ReversalOf:   &original.ID,
			Memo:         reversalMemo(input.Memo, original.Code),
			CreatedBy:    input.ActorID,
			PostedBy:     input.ActorID,
			PostedAt:     &now,
		})
		if err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, inserted.ID, lines); err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, original.ID, inserted.ID); err != nil {
			return err
		}
		for i := range lines {
			lines[i].EntryID = inserted.ID
		}
		inserted.Lines = lines
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.ActorID, "journal.reverse", input.EntryID, map[string]any{
		"reversal_id":   reversal.ID,
		"reversal_code": reversal.Code,
	})
	return reversal, nil
}

// CheckIntegrity lists booked entries whose lines disagree with their header.
func (s *Service) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	issues, err := s.repo.ListIntegrityIssues(ctx)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		s.logger.Error("journal integrity violation",
			slog.Int64("entry_id", issue.EntryID),
			slog.String("code", issue.Code),
			slog.String("total_debit", issue.TotalDebit.StringFixed(2)),
			slog.String("total_credit", issue.TotalCredit.StringFixed(2)),
			slog.String("line_debit", issue.LineDebit.StringFixed(2)),
			slog.String("line_credit", issue.LineCredit.StringFixed(2)))
	}
	return issues, nil
}

func (s *Service) save(ctx context.Context, tx TxRepository, input SaveInput) (JournalEntry, error) {
	lines := BuildLines(input.ID, input.Lines)
	debit, credit := Totals(lines)
	year, period := FiscalPeriodOf(input.EntryDate)

	if input.ID == 0 {
		entryType := input.Type
		if entryType == "" {
			entryType = EntryTypeManual
		}
		if entryType == EntryTypeReversing {
			return JournalEntry{}, fmt.Errorf("%w: reversing entries come from Reverse", shared.ErrInvalidEntry)
		}
		inserted, err := tx.InsertEntry(ctx, JournalEntry{
			Code:         input.Code,
			EntryDate:    input.EntryDate,
			FiscalYear:   year,
			FiscalPeriod: period,
			Type:         entryType,
			Status:       StatusDraft,
			TotalDebit:   debit,
			TotalCredit:  credit,
			Source:       input.Source,
			Memo:         input.Memo,
			CreatedBy:    input.ActorID,
		})
		if err != nil {
			if errors.Is(err, shared.ErrSourceConflict) {
				return JournalEntry{}, shared.ErrSourceAlreadyLinked
			}
			return JournalEntry{}, err
		}
		if input.Source != nil {
			if err := tx.LinkSource(ctx, *input.Source, inserted.ID); err != nil {
				if errors.Is(err, shared.ErrSourceConflict) {
					return JournalEntry{}, shared.ErrSourceAlreadyLinked
				}
				return JournalEntry{}, err
			}
		}
		if err := tx.ReplaceLines(ctx, inserted.ID, lines); err != nil {
			return JournalEntry{}, err
		}
		for i := range lines {
			lines[i].EntryID = inserted.ID
		}
		inserted.Lines = lines
		return inserted, nil
	}

	current, err := tx.GetForUpdate(ctx, input.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	if current.Status != StatusDraft {
		return JournalEntry{}, shared.ErrPostedImmutable
	}
	current.EntryDate = input.EntryDate
	current.FiscalYear, current.FiscalPeriod = year, period
	current.Memo = input.Memo
	current.TotalDebit, current.TotalCredit = debit, credit
	if err := tx.UpdateDraftHeader(ctx, current); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.ReplaceLines(ctx, current.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	current.Lines = lines
	return current, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, entryID, actorID int64) (JournalEntry, error) {
	current, err := tx.GetForUpdate(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !current.Status.CanTransition(StatusPosted) {
		return JournalEntry{}, shared.ErrInvalidStatus
	}
	if err := ValidatePosting(current.Lines); err != nil {
		return JournalEntry{}, err
	}
	now := s.now()
	if err := tx.MarkPosted(ctx, current.ID, actorID, now); err != nil {
		return JournalEntry{}, err
	}
	current.Status = StatusPosted
	current.PostedBy = actorID
	current.PostedAt = &now
	return current, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("entry_id", entryID), slog.Any("error", err))
	}
}

func reversalMemo(memo, code string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", code)
}
