package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-finance/internal/prepayment"
)

// store backs both the reconciliation and prepayment fakes so one rollback
// restores every table, like a shared database transaction.
type store struct {
	mu          sync.Mutex
	nextSetoff  int64
	nextDetail  int64
	nextUsage   int64
	lines       map[lineRef]SourceLine
	setoffs     map[int64]Setoff
	details     map[int64]SetoffDetail
	prepayments map[int64]prepayment.Prepayment
	usages      map[int64]prepayment.Usage
	failDelete  error
}

func newStore() *store {
	return &store{
		lines:       map[lineRef]SourceLine{},
		setoffs:     map[int64]Setoff{},
		details:     map[int64]SetoffDetail{},
		prepayments: map[int64]prepayment.Prepayment{},
		usages:      map[int64]prepayment.Usage{},
	}
}

func (s *store) addLine(sourceType SourceType, id, counterparty int64, total string) {
	s.lines[lineRef{sourceType, id}] = SourceLine{
		Type: sourceType, ID: id, DocumentID: id * 10, CounterpartyID: counterparty,
		TotalAmount: decimal.RequireFromString(total), SettledAmount: decimal.Zero,
	}
}

func (s *store) addPrepayment(id int64, kind prepayment.Kind, counterparty int64, amount string) {
	s.prepayments[id] = prepayment.Prepayment{
		ID: id, Code: fmt.Sprintf("ADV-%03d", id), Kind: kind, CounterpartyID: counterparty,
		Amount: decimal.RequireFromString(amount), UsedAmount: decimal.Zero,
	}
}

func (s *store) line(sourceType SourceType, id int64) SourceLine {
	return s.lines[lineRef{sourceType, id}]
}

type txMarker struct{}

// atomic runs fn as one transaction; calls whose ctx already carries the
// marker join the enclosing one.
func (s *store) atomic(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nextSetoff, nextDetail, nextUsage := s.nextSetoff, s.nextDetail, s.nextUsage
	lines, setoffs, details := cloneMap(s.lines), cloneMap(s.setoffs), cloneMap(s.details)
	prepayments, usages := cloneMap(s.prepayments), cloneMap(s.usages)
	err := fn(context.WithValue(ctx, txMarker{}, true))
	if err != nil {
		s.nextSetoff, s.nextDetail, s.nextUsage = nextSetoff, nextDetail, nextUsage
		s.lines, s.setoffs, s.details = lines, setoffs, details
		s.prepayments, s.usages = prepayments, usages
	}
	return err
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *store) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return s.atomic(ctx, func(ctx context.Context) error { return fn(ctx, s) })
}

func (s *store) GetSetoff(_ context.Context, id int64) (Setoff, error) {
	setoff, ok := s.setoffs[id]
	if !ok {
		return Setoff{}, ErrSetoffNotFound
	}
	setoff.Details = s.detailsOf(id)
	return setoff, nil
}

func (s *store) GetSourceLine(_ context.Context, sourceType SourceType, id int64) (SourceLine, error) {
	line, ok := s.lines[lineRef{sourceType, id}]
	if !ok {
		return SourceLine{}, fmt.Errorf("%w: %s %d", ErrSourceLineNotFound, sourceType, id)
	}
	return line, nil
}

func (s *store) LockSourceLine(ctx context.Context, sourceType SourceType, id int64) (SourceLine, error) {
	return s.GetSourceLine(ctx, sourceType, id)
}

func (s *store) SumDetails(_ context.Context, sourceType SourceType, lineID, excludeDetailID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range s.details {
		if d.SourceType == sourceType && d.SourceLineID == lineID && d.ID != excludeDetailID {
			sum = sum.Add(d.CurrentAmount)
		}
	}
	return sum, nil
}

func (s *store) SetSettled(_ context.Context, sourceType SourceType, lineID int64, settled decimal.Decimal, isSettled bool) error {
	ref := lineRef{sourceType, lineID}
	line, ok := s.lines[ref]
	if !ok {
		return ErrSourceLineNotFound
	}
	line.SettledAmount, line.IsSettled = settled, isSettled
	s.lines[ref] = line
	return nil
}

func (s *store) ScanSourceLines(ctx context.Context, sourceType SourceType) ([]LineState, error) {
	var states []LineState
	for ref, line := range s.lines {
		if ref.Type != sourceType {
			continue
		}
		sum, _ := s.SumDetails(ctx, sourceType, ref.ID, 0)
		states = append(states, LineState{Line: line, DetailSum: sum})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Line.ID < states[j].Line.ID })
	return states, nil
}

func (s *store) InsertSetoff(_ context.Context, setoff Setoff) (Setoff, error) {
	for _, existing := range s.setoffs {
		if existing.Code == setoff.Code {
			return Setoff{}, fmt.Errorf("%w: code %s already used", ErrInvalidSetoff, setoff.Code)
		}
	}
	s.nextSetoff++
	setoff.ID = s.nextSetoff
	s.setoffs[setoff.ID] = setoff
	return setoff, nil
}

func (s *store) GetSetoffForUpdate(ctx context.Context, id int64) (Setoff, error) {
	setoff, ok := s.setoffs[id]
	if !ok {
		return Setoff{}, ErrSetoffNotFound
	}
	return setoff, nil
}

func (s *store) UpdateSetoffTotals(_ context.Context, id int64, total, prepaid decimal.Decimal) error {
	setoff, ok := s.setoffs[id]
	if !ok {
		return ErrSetoffNotFound
	}
	setoff.TotalAmount, setoff.PrepaymentAmount = total, prepaid
	s.setoffs[id] = setoff
	return nil
}

func (s *store) DeleteSetoff(_ context.Context, id int64) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	if _, ok := s.setoffs[id]; !ok {
		return ErrSetoffNotFound
	}
	for _, d := range s.details {
		if d.SetoffID == id {
			return errors.New("fk violation: setoff_details")
		}
	}
	for _, u := range s.usages {
		if u.SetoffID == id {
			return errors.New("fk violation: prepayment_usages")
		}
	}
	delete(s.setoffs, id)
	return nil
}

func (s *store) InsertDetail(_ context.Context, detail SetoffDetail) (SetoffDetail, error) {
	if !detail.CurrentAmount.IsPositive() {
		return SetoffDetail{}, errors.New("check violation: current_amount")
	}
	s.nextDetail++
	detail.ID = s.nextDetail
	s.details[detail.ID] = detail
	return detail, nil
}

func (s *store) GetDetailForUpdate(_ context.Context, id int64) (SetoffDetail, error) {
	d, ok := s.details[id]
	if !ok {
		return SetoffDetail{}, ErrDetailNotFound
	}
	return d, nil
}

func (s *store) UpdateDetail(_ context.Context, id int64, current, total decimal.Decimal) error {
	d, ok := s.details[id]
	if !ok {
		return ErrDetailNotFound
	}
	d.CurrentAmount, d.TotalAmount = current, total
	s.details[id] = d
	return nil
}

func (s *store) DeleteDetail(_ context.Context, id int64) error {
	if _, ok := s.details[id]; !ok {
		return ErrDetailNotFound
	}
	delete(s.details, id)
	return nil
}

func (s *store) ListDetails(_ context.Context, setoffID int64) ([]SetoffDetail, error) {
	return s.detailsOf(setoffID), nil
}

func (s *store) detailsOf(setoffID int64) []SetoffDetail {
	var out []SetoffDetail
	for _, d := range s.details {
		if d.SetoffID == setoffID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// prepaymentRepo exposes store as the prepayment repository.
type prepaymentRepo struct{ s *store }

func (p prepaymentRepo) WithTx(ctx context.Context, fn func(context.Context, prepayment.TxRepository) error) error {
	return p.s.atomic(ctx, func(ctx context.Context) error { return fn(ctx, p) })
}

func (p prepaymentRepo) Get(_ context.Context, id int64) (prepayment.Prepayment, error) {
	pp, ok := p.s.prepayments[id]
	if !ok {
		return prepayment.Prepayment{}, prepayment.ErrNotFound
	}
	return pp, nil
}

func (p prepaymentRepo) ListUsages(_ context.Context, prepaymentID int64) ([]prepayment.Usage, error) {
	var out []prepayment.Usage
	for _, u := range p.s.usages {
		if u.PrepaymentID == prepaymentID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p prepaymentRepo) GetUsage(ctx context.Context, id int64) (prepayment.Usage, error) {
	return p.GetUsageForUpdate(ctx, id)
}

func (p prepaymentRepo) GetForUpdate(ctx context.Context, id int64) (prepayment.Prepayment, error) {
	return p.Get(ctx, id)
}

func (p prepaymentRepo) SumUsages(_ context.Context, prepaymentID, excludeUsageID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, u := range p.s.usages {
		if u.PrepaymentID == prepaymentID && u.ID != excludeUsageID {
			sum = sum.Add(u.Amount)
		}
	}
	return sum, nil
}

func (p prepaymentRepo) InsertUsage(_ context.Context, usage prepayment.Usage) (prepayment.Usage, error) {
	p.s.nextUsage++
	usage.ID = p.s.nextUsage
	p.s.usages[usage.ID] = usage
	return usage, nil
}

func (p prepaymentRepo) GetUsageForUpdate(_ context.Context, id int64) (prepayment.Usage, error) {
	u, ok := p.s.usages[id]
	if !ok {
		return prepayment.Usage{}, prepayment.ErrUsageNotFound
	}
	return u, nil
}

func (p prepaymentRepo) UpdateUsageAmount(_ context.Context, id int64, amount decimal.Decimal) error {
	u, ok := p.s.usages[id]
	if !ok {
		return prepayment.ErrUsageNotFound
	}
	u.Amount = amount
	p.s.usages[id] = u
	return nil
}

func (p prepaymentRepo) DeleteUsage(_ context.Context, id int64) error {
	if _, ok := p.s.usages[id]; !ok {
		return prepayment.ErrUsageNotFound
	}
	delete(p.s.usages, id)
	return nil
}

func (p prepaymentRepo) ListUsagesBySetoff(_ context.Context, setoffID int64) ([]prepayment.Usage, error) {
	var out []prepayment.Usage
	for _, u := range p.s.usages {
		if u.SetoffID == setoffID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p prepaymentRepo) SetUsedAmount(_ context.Context, id int64, used decimal.Decimal) error {
	pp, ok := p.s.prepayments[id]
	if !ok {
		return prepayment.ErrNotFound
	}
	pp.UsedAmount = used
	p.s.prepayments[id] = pp
	return nil
}

type correctionSpy struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *correctionSpy) AddCacheCorrections(sourceType string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[sourceType] += n
}
