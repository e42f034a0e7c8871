package journals

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-finance/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-finance/internal/shared"
)

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(_ context.Context, log internalShared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

var entryDate = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func balancedInput(code string) SaveInput {
	return SaveInput{
		Code:      code,
		EntryDate: entryDate,
		Memo:      "office supplies",
		ActorID:   7,
		Lines: []LineInput{
			{AccountID: 10, Direction: Debit, Amount: amt("150.00")},
			{AccountID: 20, Direction: Credit, Amount: amt("100.00")},
			{AccountID: 21, Direction: Credit, Amount: amt("50.00")},
		},
	}
}

func newTestService() (*Service, *memoryRepo, *auditSpy) {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC) })
	return svc, repo, audit
}

func TestSaveCreatesDraftWithTotals(t *testing.T) {
	svc, _, _ := newTestService()

	entry, err := svc.Save(context.Background(), balancedInput("JE-001"))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, entry.Status)
	assert.Equal(t, EntryTypeManual, entry.Type)
	assert.True(t, entry.TotalDebit.Equal(amt("150")))
	assert.True(t, entry.TotalCredit.Equal(amt("150")))
	assert.Equal(t, 2026, entry.FiscalYear)
	assert.Equal(t, 3, entry.FiscalPeriod)
	require.Len(t, entry.Lines, 3)
	for i, line := range entry.Lines {
		assert.Equal(t, i+1, line.LineNo)
	}
}

func TestSaveAllowsUnbalancedDraft(t *testing.T) {
	svc, _, _ := newTestService()
	input := balancedInput("JE-002")
	input.Lines = input.Lines[:2]

	entry, err := svc.Save(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, entry.TotalDebit.Equal(entry.TotalCredit))
}

func TestSaveReplacesDraftLines(t *testing.T) {
	svc, repo, _ := newTestService()
	entry, err := svc.Save(context.Background(), balancedInput("JE-003"))
	require.NoError(t, err)

	update := balancedInput("JE-003")
	update.ID = entry.ID
	update.Lines = []LineInput{
		{AccountID: 11, Direction: Debit, Amount: amt("80")},
		{AccountID: 22, Direction: Credit, Amount: amt("80")},
	}
	_, err = svc.Save(context.Background(), update)
	require.NoError(t, err)

	stored := repo.entries[entry.ID]
	require.Len(t, stored.Lines, 2)
	assert.Equal(t, int64(11), stored.Lines[0].AccountID)
	assert.True(t, stored.TotalDebit.Equal(amt("80")))
}

func TestSaveRejectsInvalidLines(t *testing.T) {
	svc, _, _ := newTestService()
	cases := map[string]LineInput{
		"zero amount":     {AccountID: 1, Direction: Debit, Amount: decimal.Zero},
		"negative amount": {AccountID: 1, Direction: Debit, Amount: amt("-5")},
		"net direction":   {AccountID: 1, Direction: "NET", Amount: amt("5")},
		"missing account": {Direction: Credit, Amount: amt("5")},
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			input := balancedInput("JE-X")
			input.Lines = append(input.Lines, line)
			_, err := svc.Save(context.Background(), input)
			require.ErrorIs(t, err, shared.ErrInvalidLine)
			require.ErrorIs(t, err, internalShared.ErrValidation)
		})
	}
}

func TestPostBalancedEntry(t *testing.T) {
	svc, _, audit := newTestService()
	entry, err := svc.Save(context.Background(), balancedInput("JE-010"))
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), entry.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, posted.Status)
	assert.Equal(t, int64(9), posted.PostedBy)
	require.NotNil(t, posted.PostedAt)
	assert.Equal(t, []string{"journal.post"}, audit.actions)
}

func TestPostRejections(t *testing.T) {
	cases := []struct {
		name  string
		lines []LineInput
		want  error
	}{
		{"no lines", nil, shared.ErrNoLines},
		{"unbalanced", []LineInput{
			{AccountID: 1, Direction: Debit, Amount: amt("100")},
			{AccountID: 2, Direction: Credit, Amount: amt("99.99")},
		}, shared.ErrUnbalanced},
		{"debit only", []LineInput{
			{AccountID: 1, Direction: Debit, Amount: amt("100")},
		}, shared.ErrOneSided},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			input := balancedInput("JE-" + tc.name)
			input.Lines = tc.lines
			entry, err := svc.Save(context.Background(), input)
			require.NoError(t, err)

			_, err = svc.Post(context.Background(), entry.ID, 1)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, StatusDraft, repo.entries[entry.ID].Status)
		})
	}
}

func TestPostedEntryIsImmutable(t *testing.T) {
	svc, _, _ := newTestService()
	entry, err := svc.Save(context.Background(), balancedInput("JE-020"))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), entry.ID, 1)
	require.NoError(t, err)

	update := balancedInput("JE-020")
	update.ID = entry.ID
	_, err = svc.Save(context.Background(), update)
	require.ErrorIs(t, err, shared.ErrPostedImmutable)

	_, err = svc.Post(context.Background(), entry.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestReverseFlipsLines(t *testing.T) {
	svc, repo, audit := newTestService()
	entry, err := svc.Save(context.Background(), balancedInput("JE-030"))
	require.NoError(t, err)
	original, err := svc.Post(context.Background(), entry.ID, 1)
	require.NoError(t, err)

	reversalDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	reversal, err := svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID, Date: reversalDate, ActorID: 3})
	require.NoError(t, err)

	assert.Equal(t, EntryTypeReversing, reversal.Type)
	assert.Equal(t, StatusPosted, reversal.Status)
	assert.Equal(t, "JE-030-REV", reversal.Code)
	assert.Equal(t, 4, reversal.FiscalPeriod)
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, original.ID, *reversal.ReversalOf)
	require.Len(t, reversal.Lines, len(original.Lines))
	for i, line := range reversal.Lines {
		assert.Equal(t, original.Lines[i].AccountID, line.AccountID)
		assert.Equal(t, original.Lines[i].Direction.Flip(), line.Direction)
		assert.True(t, original.Lines[i].Amount.Equal(line.Amount))
	}

	stored := repo.entries[original.ID]
	assert.Equal(t, StatusReversed, stored.Status)
	require.NotNil(t, stored.ReversedBy)
	assert.Equal(t, reversal.ID, *stored.ReversedBy)
	assert.Contains(t, audit.actions, "journal.reverse")

	_, err = svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID})
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
	_, err = svc.Post(context.Background(), original.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	update := balancedInput("JE-030")
	update.ID = original.ID
	_, err = svc.Save(context.Background(), update)
	require.ErrorIs(t, err, shared.ErrPostedImmutable)
}

func TestReverseRequiresPosted(t *testing.T) {
	svc, _, _ := newTestService()
	entry, err := svc.Save(context.Background(), balancedInput("JE-040"))
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), ReverseInput{EntryID: entry.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestRecordSavesAndPostsOnce(t *testing.T) {
	svc, repo, audit := newTestService()
	input := balancedInput("GRN-1001")
	input.Type = EntryTypeAuto
	input.Source = &SourceRef{Type: "PURCHASE_RECEIVING", ID: 1001, Code: "GRN-1001"}

	entry, err := svc.Record(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, entry.Status)
	assert.Empty(t, audit.actions)

	dup := balancedInput("GRN-1001-B")
	dup.Source = input.Source
	_, err = svc.Record(context.Background(), dup)
	require.ErrorIs(t, err, shared.ErrSourceAlreadyLinked)
	assert.Len(t, repo.entries, 1)
}

func TestRecordRollsBackWhenPostFails(t *testing.T) {
	svc, repo, _ := newTestService()
	input := balancedInput("GRN-2001")
	input.Source = &SourceRef{Type: "PURCHASE_RECEIVING", ID: 2001}
	input.Lines = input.Lines[:2]

	_, err := svc.Record(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	assert.Empty(t, repo.entries)
	assert.Empty(t, repo.links)
}

func TestCheckIntegrity(t *testing.T) {
	svc, repo, _ := newTestService()
	entry, err := svc.Record(context.Background(), balancedInput("JE-050"))
	require.NoError(t, err)

	issues, err := svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues)

	corrupted := repo.entries[entry.ID]
	corrupted.Lines = corrupted.Lines[:2]
	repo.entries[entry.ID] = corrupted

	issues, err = svc.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, entry.ID, issues[0].EntryID)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransition(StatusPosted))
	assert.True(t, StatusPosted.CanTransition(StatusReversed))
	assert.False(t, StatusDraft.CanTransition(StatusReversed))
	assert.False(t, StatusReversed.CanTransition(StatusPosted))
	assert.False(t, StatusReversed.CanTransition(StatusReversed))
	assert.False(t, StatusPosted.CanTransition(StatusDraft))
}
