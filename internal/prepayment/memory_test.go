package prepayment

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// memoryRepo keeps prepayments and usages in maps and restores a snapshot when fn fails.
type memoryRepo struct {
	nextUsage   int64
	prepayments map[int64]Prepayment
	usages      map[int64]Usage
	inTx        bool
}

func newMemoryRepo(prepayments ...Prepayment) *memoryRepo {
	m := &memoryRepo{prepayments: map[int64]Prepayment{}, usages: map[int64]Usage{}}
	for _, p := range prepayments {
		if p.UsedAmount.IsZero() {
			p.UsedAmount = decimal.Zero
		}
		m.prepayments[p.ID] = p
	}
	return m
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	nextUsage := m.nextUsage
	prepayments := make(map[int64]Prepayment, len(m.prepayments))
	for k, v := range m.prepayments {
		prepayments[k] = v
	}
	usages := make(map[int64]Usage, len(m.usages))
	for k, v := range m.usages {
		usages[k] = v
	}
	m.inTx = true
	err := fn(ctx, m)
	m.inTx = false
	if err != nil {
		m.nextUsage, m.prepayments, m.usages = nextUsage, prepayments, usages
	}
	return err
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Prepayment, error) {
	p, ok := m.prepayments[id]
	if !ok {
		return Prepayment{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) ListUsages(_ context.Context, prepaymentID int64) ([]Usage, error) {
	var out []Usage
	for _, u := range m.usages {
		if u.PrepaymentID == prepaymentID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetUsage(ctx context.Context, id int64) (Usage, error) {
	return m.GetUsageForUpdate(ctx, id)
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Prepayment, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) SumUsages(_ context.Context, prepaymentID, excludeUsageID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, u := range m.usages {
		if u.PrepaymentID == prepaymentID && u.ID != excludeUsageID {
			sum = sum.Add(u.Amount)
		}
	}
	return sum, nil
}

func (m *memoryRepo) InsertUsage(_ context.Context, usage Usage) (Usage, error) {
	m.nextUsage++
	usage.ID = m.nextUsage
	usage.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.usages[usage.ID] = usage
	return usage, nil
}

func (m *memoryRepo) GetUsageForUpdate(_ context.Context, id int64) (Usage, error) {
	u, ok := m.usages[id]
	if !ok {
		return Usage{}, ErrUsageNotFound
	}
	return u, nil
}

func (m *memoryRepo) UpdateUsageAmount(_ context.Context, id int64, amount decimal.Decimal) error {
	u, ok := m.usages[id]
	if !ok {
		return ErrUsageNotFound
	}
	u.Amount = amount
	m.usages[id] = u
	return nil
}

func (m *memoryRepo) DeleteUsage(_ context.Context, id int64) error {
	if _, ok := m.usages[id]; !ok {
		return ErrUsageNotFound
	}
	delete(m.usages, id)
	return nil
}

func (m *memoryRepo) ListUsagesBySetoff(_ context.Context, setoffID int64) ([]Usage, error) {
	var out []Usage
	for _, u := range m.usages {
		if u.SetoffID == setoffID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) SetUsedAmount(_ context.Context, id int64, used decimal.Decimal) error {
	p, ok := m.prepayments[id]
	if !ok {
		return ErrNotFound
	}
	p.UsedAmount = used
	m.prepayments[id] = p
	return nil
}
