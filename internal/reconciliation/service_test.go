package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

const customer = 5

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type harness struct {
	store   *store
	cache   *Cache
	service *Service
	metrics *correctionSpy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newStore()
	metrics := &correctionSpy{}
	c := NewCache(st, nil).WithMetrics(metrics)
	prepayments := prepayment.NewService(prepaymentRepo{s: st}, nil)
	return &harness{store: st, cache: c, service: NewService(st, c, prepayments, nil), metrics: metrics}
}

var setoffDate = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func receivable(code string, details ...DetailInput) CreateSetoffInput {
	return CreateSetoffInput{Code: code, Kind: KindReceivable, CounterpartyID: customer, SetoffDate: setoffDate, Details: details}
}

func delivery(lineID int64, amount string) DetailInput {
	return DetailInput{SourceType: SourceSalesDelivery, SourceLineID: lineID, Amount: d(amount)}
}

func assertLine(t *testing.T, h *harness, sourceType SourceType, id int64, settled string, isSettled bool) {
	t.Helper()
	line := h.store.line(sourceType, id)
	assert.True(t, line.SettledAmount.Equal(d(settled)), "settled %s, want %s", line.SettledAmount, settled)
	assert.Equal(t, isSettled, line.IsSettled)
}

func TestSetoffLifecycleKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()

	first, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "300")))
	require.NoError(t, err)
	assertLine(t, h, SourceSalesDelivery, 1, "300", false)
	assert.True(t, first.Details[0].TotalAmount.Equal(d("300")))

	second, err := h.service.CreateSetoff(ctx, receivable("ST-002", delivery(1, "700")))
	require.NoError(t, err)
	assertLine(t, h, SourceSalesDelivery, 1, "1000", true)
	assert.True(t, second.Details[0].TotalAmount.Equal(d("1000")))
	assert.True(t, second.TotalAmount.Equal(d("700")))

	require.NoError(t, h.service.DeleteSetoff(ctx, second.ID))
	assertLine(t, h, SourceSalesDelivery, 1, "300", false)
	_, err = h.service.GetSetoff(ctx, second.ID)
	require.ErrorIs(t, err, ErrSetoffNotFound)

	results, err := h.service.Rebuild(ctx, SourceSalesDelivery)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Scanned)
	assert.Zero(t, results[0].Corrected)
}

func TestSetoffRejectsExceedingLineTotal(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()

	_, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "1000")))
	require.NoError(t, err)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-002", delivery(1, "0.01")))
	require.ErrorIs(t, err, ErrExceedsLineTotal)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Len(t, h.store.setoffs, 1)
	assert.Len(t, h.store.details, 1)
	assertLine(t, h, SourceSalesDelivery, 1, "1000", true)
}

func TestSetoffFailureRollsBackEarlierDetails(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "100")
	h.store.addLine(SourceSalesDelivery, 2, customer, "100")

	_, err := h.service.CreateSetoff(context.Background(), receivable("ST-001", delivery(1, "50"), delivery(2, "150")))
	require.ErrorIs(t, err, ErrExceedsLineTotal)
	assertLine(t, h, SourceSalesDelivery, 1, "0", false)
	assert.Empty(t, h.store.setoffs)
	assert.Empty(t, h.store.details)
}

func TestUpdateDetailExcludesItself(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()

	first, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "300")))
	require.NoError(t, err)
	_, err = h.service.CreateSetoff(ctx, receivable("ST-002", delivery(1, "700")))
	require.NoError(t, err)

	_, err = h.service.UpdateDetail(ctx, first.Details[0].ID, d("300.01"))
	require.ErrorIs(t, err, ErrExceedsLineTotal)
	assertLine(t, h, SourceSalesDelivery, 1, "1000", true)

	detail, err := h.service.UpdateDetail(ctx, first.Details[0].ID, d("200"))
	require.NoError(t, err)
	assert.True(t, detail.TotalAmount.Equal(d("900")))
	assertLine(t, h, SourceSalesDelivery, 1, "900", false)
	assert.True(t, h.store.setoffs[first.ID].TotalAmount.Equal(d("200")))

	_, err = h.service.UpdateDetail(ctx, first.Details[0].ID, decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSetoffWithPrepaymentAndDelete(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "500")
	ctx := context.Background()

	input := receivable("ST-001", delivery(1, "800"))
	input.Prepayments = []PrepaymentInput{{PrepaymentID: 1, Amount: d("300")}}
	setoff, err := h.service.CreateSetoff(ctx, input)
	require.NoError(t, err)
	assert.True(t, setoff.PrepaymentAmount.Equal(d("300")))
	assert.True(t, h.store.prepayments[1].UsedAmount.Equal(d("300")))

	require.NoError(t, h.service.DeleteSetoff(ctx, setoff.ID))
	assert.True(t, h.store.prepayments[1].UsedAmount.IsZero())
	assert.Empty(t, h.store.usages)
	assertLine(t, h, SourceSalesDelivery, 1, "0", false)
}

func TestDeleteFailureRestoresEverything(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "500")
	ctx := context.Background()

	input := receivable("ST-001", delivery(1, "800"))
	input.Prepayments = []PrepaymentInput{{PrepaymentID: 1, Amount: d("300")}}
	setoff, err := h.service.CreateSetoff(ctx, input)
	require.NoError(t, err)

	h.store.failDelete = errors.New("connection reset")
	require.Error(t, h.service.DeleteSetoff(ctx, setoff.ID))
	assertLine(t, h, SourceSalesDelivery, 1, "800", false)
	assert.True(t, h.store.prepayments[1].UsedAmount.Equal(d("300")))
	assert.Len(t, h.store.details, 1)
	assert.Len(t, h.store.usages, 1)
}

func TestSetoffPrepaymentRules(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "500")
	h.store.addPrepayment(2, prepayment.KindPayment, customer, "500")
	h.store.addPrepayment(3, prepayment.KindReceipt, 99, "500")
	ctx := context.Background()

	cases := []struct {
		name    string
		input   PrepaymentInput
		wantErr error
	}{
		{"above total", PrepaymentInput{PrepaymentID: 1, Amount: d("250")}, ErrPrepaymentExceedsTotal},
		{"wrong kind", PrepaymentInput{PrepaymentID: 2, Amount: d("50")}, ErrKindMismatch},
		{"other counterparty", PrepaymentInput{PrepaymentID: 3, Amount: d("50")}, ErrCounterpartyMismatch},
		{"above balance", PrepaymentInput{PrepaymentID: 1, Amount: d("600")}, prepayment.ErrExceedsBalance},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := receivable(fmt.Sprintf("ST-%03d", i), delivery(1, "200"))
			if tc.name == "above balance" {
				input.Details = []DetailInput{delivery(1, "700")}
			}
			input.Prepayments = []PrepaymentInput{tc.input}
			_, err := h.service.CreateSetoff(ctx, input)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, h.store.setoffs)
			assert.Empty(t, h.store.usages)
			assertLine(t, h, SourceSalesDelivery, 1, "0", false)
		})
	}
}

func TestSetoffValidation(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addLine(SourceSalesDelivery, 2, 77, "1000")
	h.store.addLine(SourcePurchaseReceiving, 1, customer, "1000")
	ctx := context.Background()

	_, err := h.service.CreateSetoff(ctx, receivable("ST-001", DetailInput{SourceType: SourcePurchaseReceiving, SourceLineID: 1, Amount: d("10")}))
	require.ErrorIs(t, err, ErrKindMismatch)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-001", delivery(2, "10")))
	require.ErrorIs(t, err, ErrCounterpartyMismatch)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "0")))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "10"), delivery(1, "10")))
	require.ErrorIs(t, err, ErrInvalidSetoff)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-001", delivery(9, "10")))
	require.ErrorIs(t, err, ErrSourceLineNotFound)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-001"))
	require.ErrorIs(t, err, ErrInvalidSetoff)
	assert.Empty(t, h.store.setoffs)
}

func TestSetoffNetsReturns(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "500")
	h.store.addLine(SourceSalesReturn, 1, customer, "200")
	ctx := context.Background()

	setoff, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "500"),
		DetailInput{SourceType: SourceSalesReturn, SourceLineID: 1, Amount: d("200")}))
	require.NoError(t, err)
	assert.True(t, setoff.TotalAmount.Equal(d("300")))
	assertLine(t, h, SourceSalesReturn, 1, "200", true)

	_, err = h.service.CreateSetoff(ctx, receivable("ST-002",
		DetailInput{SourceType: SourceSalesReturn, SourceLineID: 1, Amount: d("0.01")}))
	require.ErrorIs(t, err, ErrExceedsLineTotal)
}

func TestJournalizedSetoffIsFrozen(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()

	setoff, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "300")))
	require.NoError(t, err)
	frozen := h.store.setoffs[setoff.ID]
	frozen.Journalized = true
	h.store.setoffs[setoff.ID] = frozen

	_, err = h.service.UpdateDetail(ctx, setoff.Details[0].ID, d("100"))
	require.ErrorIs(t, err, ErrSetoffJournalized)
	require.ErrorIs(t, h.service.DeleteSetoff(ctx, setoff.ID), ErrSetoffJournalized)
	assertLine(t, h, SourceSalesDelivery, 1, "300", false)
}

func TestDuplicateSetoffCode(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()

	_, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "10")))
	require.NoError(t, err)
	_, err = h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "10")))
	require.ErrorIs(t, err, ErrInvalidSetoff)
	assertLine(t, h, SourceSalesDelivery, 1, "10", false)
}

func TestOutstanding(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	ctx := context.Background()
	_, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "250")))
	require.NoError(t, err)

	line, err := h.service.Outstanding(ctx, SourceSalesDelivery, 1)
	require.NoError(t, err)
	assert.True(t, line.Remaining().Equal(d("750")))

	_, err = h.service.Outstanding(ctx, SourceType("INVOICE"), 1)
	require.ErrorIs(t, err, ErrUnknownSourceType)
}

// TestRandomOperationsMatchRebuild drives random creates, updates and deletes
// and checks that every cached value equals a full recomputation.
func TestRandomOperationsMatchRebuild(t *testing.T) {
	h := newHarness(t)
	for id := int64(1); id <= 4; id++ {
		h.store.addLine(SourceSalesDelivery, id, customer, "500")
		h.store.addLine(SourceSalesReturn, id, customer, "100")
	}
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "400")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	var live []Setoff
	amount := func(max int) decimal.Decimal { return decimal.New(int64(rng.Intn(max)+1), -2) }

	for i := 0; i < 250; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			input := receivable(fmt.Sprintf("ST-%04d", i), delivery(int64(rng.Intn(4)+1), "0"))
			input.Details[0].Amount = amount(30000)
			if rng.Intn(2) == 0 {
				input.Details = append(input.Details, DetailInput{
					SourceType: SourceSalesReturn, SourceLineID: int64(rng.Intn(4) + 1), Amount: amount(3000),
				})
			}
			if rng.Intn(3) == 0 {
				input.Prepayments = []PrepaymentInput{{PrepaymentID: 1, Amount: amount(5000)}}
			}
			setoff, err := h.service.CreateSetoff(ctx, input)
			if err == nil {
				live = append(live, setoff)
			} else {
				require.True(t, errors.Is(err, shared.ErrValidation), "unexpected error %v", err)
			}
		case op == 1:
			setoff := live[rng.Intn(len(live))]
			detail := setoff.Details[rng.Intn(len(setoff.Details))]
			_, err := h.service.UpdateDetail(ctx, detail.ID, amount(30000))
			if err != nil {
				require.True(t, errors.Is(err, shared.ErrValidation), "unexpected error %v", err)
			}
		default:
			idx := rng.Intn(len(live))
			require.NoError(t, h.service.DeleteSetoff(ctx, live[idx].ID))
			live = append(live[:idx], live[idx+1:]...)
		}

		for ref, line := range h.store.lines {
			sum, err := h.store.SumDetails(ctx, ref.Type, ref.ID, 0)
			require.NoError(t, err)
			require.True(t, line.SettledAmount.Equal(sum), "%s %d cached %s sum %s", ref.Type, ref.ID, line.SettledAmount, sum)
			require.True(t, line.SettledAmount.LessThanOrEqual(line.TotalAmount.Add(Epsilon)))
			require.Equal(t, sum.GreaterThanOrEqual(line.TotalAmount), line.IsSettled)
		}
		used, _ := prepaymentRepo{s: h.store}.SumUsages(ctx, 1, 0)
		require.True(t, h.store.prepayments[1].UsedAmount.Equal(used))
	}

	results, err := h.service.Rebuild(ctx, "")
	require.NoError(t, err)
	require.Len(t, results, len(SourceTypes))
	for _, result := range results {
		assert.Zero(t, result.Corrected, result.SourceType)
	}
}

func TestPrepaymentUsageFollowsSetoff(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "500")
	h.store.addPrepayment(2, prepayment.KindPayment, customer, "500")
	h.store.addPrepayment(3, prepayment.KindReceipt, 99, "500")
	h.store.addPrepayment(4, prepayment.KindReceipt, customer, "500")
	ctx := context.Background()

	setoff, err := h.service.CreateSetoff(ctx, receivable("ST-001", delivery(1, "300")))
	require.NoError(t, err)

	usage, err := h.service.AddPrepaymentUsage(ctx, 1, setoff.ID, d("100"))
	require.NoError(t, err)
	assert.True(t, h.store.setoffs[setoff.ID].PrepaymentAmount.Equal(d("100")))

	_, err = h.service.AddPrepaymentUsage(ctx, 2, setoff.ID, d("50"))
	require.ErrorIs(t, err, ErrKindMismatch)
	_, err = h.service.AddPrepaymentUsage(ctx, 3, setoff.ID, d("50"))
	require.ErrorIs(t, err, ErrCounterpartyMismatch)
	_, err = h.service.AddPrepaymentUsage(ctx, 4, setoff.ID, d("200.01"))
	require.ErrorIs(t, err, ErrPrepaymentExceedsTotal)
	assert.True(t, h.store.prepayments[4].UsedAmount.IsZero())

	_, err = h.service.UpdatePrepaymentUsage(ctx, usage.ID, d("300.01"))
	require.ErrorIs(t, err, ErrPrepaymentExceedsTotal)
	updated, err := h.service.UpdatePrepaymentUsage(ctx, usage.ID, d("250"))
	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(d("250")))
	assert.True(t, h.store.setoffs[setoff.ID].PrepaymentAmount.Equal(d("250")))
	assert.True(t, h.store.prepayments[1].UsedAmount.Equal(d("250")))

	require.NoError(t, h.service.ReleasePrepaymentUsage(ctx, usage.ID))
	assert.True(t, h.store.setoffs[setoff.ID].PrepaymentAmount.IsZero())
	assert.True(t, h.store.prepayments[1].UsedAmount.IsZero())
	assert.Empty(t, h.store.usages)
}

func TestPrepaymentUsageOfJournalizedSetoffIsFrozen(t *testing.T) {
	h := newHarness(t)
	h.store.addLine(SourceSalesDelivery, 1, customer, "1000")
	h.store.addPrepayment(1, prepayment.KindReceipt, customer, "500")
	h.store.addPrepayment(2, prepayment.KindReceipt, customer, "500")
	ctx := context.Background()

	input := receivable("ST-001", delivery(1, "300"))
	input.Prepayments = []PrepaymentInput{{PrepaymentID: 1, Amount: d("100")}}
	setoff, err := h.service.CreateSetoff(ctx, input)
	require.NoError(t, err)
	frozen := h.store.setoffs[setoff.ID]
	frozen.Journalized = true
	h.store.setoffs[setoff.ID] = frozen
	var usageID int64
	for id := range h.store.usages {
		usageID = id
	}

	_, err = h.service.AddPrepaymentUsage(ctx, 2, setoff.ID, d("50"))
	require.ErrorIs(t, err, ErrSetoffJournalized)
	_, err = h.service.UpdatePrepaymentUsage(ctx, usageID, d("50"))
	require.ErrorIs(t, err, ErrSetoffJournalized)
	require.ErrorIs(t, h.service.ReleasePrepaymentUsage(ctx, usageID), ErrSetoffJournalized)

	assert.True(t, h.store.setoffs[setoff.ID].PrepaymentAmount.Equal(d("100")))
	assert.True(t, h.store.prepayments[1].UsedAmount.Equal(d("100")))
	assert.True(t, h.store.prepayments[2].UsedAmount.IsZero())
	assert.Len(t, h.store.usages, 1)
}
