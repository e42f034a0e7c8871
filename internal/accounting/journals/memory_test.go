package journals

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
)

// memoryRepo keeps entries in maps and restores a snapshot when fn fails.
type memoryRepo struct {
	nextID  int64
	entries map[int64]JournalEntry
	links   map[string]int64
	inTx    bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: map[int64]JournalEntry{}, links: map[string]int64{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	snapshot := m.clone()
	m.inTx = true
	err := fn(ctx, m)
	m.inTx = false
	if err != nil {
		m.nextID, m.entries, m.links = snapshot.nextID, snapshot.entries, snapshot.links
	}
	return err
}

func (m *memoryRepo) clone() *memoryRepo {
	out := newMemoryRepo()
	out.nextID = m.nextID
	for id, e := range m.entries {
		e.Lines = append([]JournalLine(nil), e.Lines...)
		out.entries[id] = e
	}
	for k, v := range m.links {
		out.links[k] = v
	}
	return out
}

func (m *memoryRepo) Get(_ context.Context, id int64) (JournalEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return e, nil
}

func (m *memoryRepo) FindBySource(_ context.Context, sourceType string, sourceID int64) (JournalEntry, error) {
	for _, e := range m.entries {
		if e.Source != nil && e.Source.Type == sourceType && e.Source.ID == sourceID {
			return e, nil
		}
	}
	return JournalEntry{}, shared.ErrJournalNotFound
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]JournalEntry, int, error) {
	var out []JournalEntry
	for _, e := range m.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) ListIntegrityIssues(context.Context) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue
	for _, e := range m.entries {
		if e.Status == StatusDraft {
			continue
		}
		debit, credit := Totals(e.Lines)
		if !debit.Equal(credit) || !debit.Equal(e.TotalDebit) || !credit.Equal(e.TotalCredit) {
			issues = append(issues, IntegrityIssue{EntryID: e.ID, Code: e.Code, Status: e.Status,
				TotalDebit: e.TotalDebit, TotalCredit: e.TotalCredit, LineDebit: debit, LineCredit: credit})
		}
	}
	return issues, nil
}

func (m *memoryRepo) InsertEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	for _, e := range m.entries {
		if e.Code == entry.Code {
			return JournalEntry{}, shared.ErrInvalidEntry
		}
		if entry.Source != nil && e.Source != nil && e.Source.Type == entry.Source.Type && e.Source.ID == entry.Source.ID {
			return JournalEntry{}, shared.ErrSourceConflict
		}
	}
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *memoryRepo) UpdateDraftHeader(_ context.Context, entry JournalEntry) error {
	current, ok := m.entries[entry.ID]
	if !ok || current.Status != StatusDraft {
		return shared.ErrPostedImmutable
	}
	current.EntryDate = entry.EntryDate
	current.FiscalYear, current.FiscalPeriod = entry.FiscalYear, entry.FiscalPeriod
	current.Memo = entry.Memo
	current.TotalDebit, current.TotalCredit = entry.TotalDebit, entry.TotalCredit
	m.entries[entry.ID] = current
	return nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) ReplaceLines(_ context.Context, entryID int64, lines []JournalLine) error {
	e, ok := m.entries[entryID]
	if !ok {
		return shared.ErrJournalNotFound
	}
	e.Lines = nil
	for i, line := range lines {
		line.ID = int64(i + 1)
		line.EntryID = entryID
		e.Lines = append(e.Lines, line)
	}
	m.entries[entryID] = e
	return nil
}

func (m *memoryRepo) MarkPosted(_ context.Context, id, actorID int64, at time.Time) error {
	e, ok := m.entries[id]
	if !ok || e.Status != StatusDraft {
		return shared.ErrInvalidStatus
	}
	e.Status = StatusPosted
	e.PostedBy = actorID
	e.PostedAt = &at
	m.entries[id] = e
	return nil
}

func (m *memoryRepo) MarkReversed(_ context.Context, id, reversalID int64) error {
	e, ok := m.entries[id]
	if !ok || e.Status != StatusPosted {
		return shared.ErrInvalidStatus
	}
	e.Status = StatusReversed
	e.ReversedBy = &reversalID
	m.entries[id] = e
	return nil
}

func (m *memoryRepo) LinkSource(_ context.Context, src SourceRef, entryID int64) error {
	key := src.Key().String()
	if _, ok := m.links[key]; ok {
		return shared.ErrSourceConflict
	}
	m.links[key] = entryID
	return nil
}
