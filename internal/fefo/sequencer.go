// Package fefo выбирает партии для списания: сначала с ближайшим сроком
// годности, партии без срока в конце, внутри одного срока: по порядку поступления.
package fefo

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/binledger/internal/binalloc"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

// Step: сколько взять из конкретной партии в конкретной ячейке.
type Step struct {
	LotID      string     `json:"lot_id"`
	LotNo      string     `json:"lot_no,omitempty"`
	BinCode    string     `json:"bin_code"`
	Qty        int64      `json:"qty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

type Plan []Step

func (p Plan) Total() int64 {
	var n int64
	for _, s := range p {
		n += s.Qty
	}
	return n
}

type Sequencer struct {
	bins *binalloc.Allocator
	now  func() time.Time
}

func New(bins *binalloc.Allocator, now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{bins: bins, now: now}
}

func order(list []lots.Lot) {
	sort.SliceStable(list, func(i, j int) bool { return lots.Before(list[i], list[j]) })
}

// walk набирает qty по уже упорядоченным партиям; возвращает план и сколько набрано.
func walk(list []lots.Lot, qty int64) (Plan, int64) {
	var plan Plan
	var got int64
	for _, l := range list {
		if got == qty {
			break
		}
		if !l.Drawable() {
			continue
		}
		take := min(l.RemainingQty, qty-got)
		plan = append(plan, Step{LotID: l.ID, LotNo: l.LotNo, BinCode: l.BinCode, Qty: take, ExpiryDate: l.ExpiryDate})
		got += take
	}
	return plan, got
}

// Plan строит план списания; ничего не изменяет. Партии в ячейках Locked
// и Inactive в план не попадают.
func (s *Sequencer) Plan(ctx context.Context, tx store.Tx, key materials.Key, qty int64) (Plan, error) {
	if qty <= 0 {
		return nil, errs.New(errs.Validation, "qty must be > 0")
	}
	list, err := tx.Lots().ListDrawable(ctx, key)
	if err != nil {
		return nil, err
	}
	if list, err = reachable(ctx, tx, list); err != nil {
		return nil, err
	}
	order(list)

	plan, got := walk(list, qty)
	if got < qty {
		return nil, errs.New(errs.InsufficientLots, "lots of %s cover %d, requested %d", key, got, qty).
			With("available", got)
	}
	return plan, nil
}

// reachable отбрасывает партии в закрытых ячейках. Пропавшую ячейку
// обнаружит Apply.
func reachable(ctx context.Context, tx store.Tx, list []lots.Lot) ([]lots.Lot, error) {
	open := map[string]bool{}
	out := list[:0]
	for _, l := range list {
		ok, seen := open[l.BinCode]
		if !seen {
			b, err := tx.Bins().Get(ctx, l.BinCode)
			if err != nil {
				return nil, err
			}
			ok = b == nil || !b.Blocked()
			open[l.BinCode] = ok
		}
		if ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// Apply списывает план с партий и ячеек в транзакции вызывающего. В план
// попадают только пригодные партии, поэтому карантинная ячейка здесь не помеха:
// её пригодные партии уже выпущены после проверки.
func (s *Sequencer) Apply(ctx context.Context, tx store.Tx, key materials.Key, plan Plan, actor string) error {
	for _, st := range plan {
		l, err := tx.Lots().Get(ctx, st.LotID)
		if err != nil {
			return err
		}
		if l == nil || l.RemainingQty < st.Qty {
			return errs.New(errs.InsufficientLots, "lot %s no longer holds %d", st.LotID, st.Qty)
		}
		l.RemainingQty -= st.Qty
		if err := tx.Lots().Update(ctx, l); err != nil {
			return err
		}
		if _, err := s.bins.RemoveInspected(ctx, tx, st.BinCode, key, st.Qty, actor); err != nil {
			return err
		}
	}
	return nil
}

// DrainBin списывает до qty с партий одной ячейки в порядке FEFO. Ячейку не трогает:
// остаток без партий (старые приходы) допустим, поэтому набранное может быть меньше qty.
func (s *Sequencer) DrainBin(ctx context.Context, tx store.Tx, key materials.Key, binCode string, qty int64) (Plan, error) {
	list, err := tx.Lots().ListInBin(ctx, binCode, key)
	if err != nil {
		return nil, err
	}
	order(list)

	plan, _ := walk(list, qty)
	for _, st := range plan {
		for i := range list {
			if list[i].ID != st.LotID {
				continue
			}
			list[i].RemainingQty -= st.Qty
			if err := tx.Lots().Update(ctx, &list[i]); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

// Release делает непригодные партии ячейки пригодными в пределах qty (после проверки).
// Если партия проходит проверку частично, она делится.
func (s *Sequencer) Release(ctx context.Context, tx store.Tx, key materials.Key, binCode string, qty int64) (int64, error) {
	list, err := tx.Lots().ListInBin(ctx, binCode, key)
	if err != nil {
		return 0, err
	}
	order(list)

	var released int64
	for i := range list {
		l := &list[i]
		need := qty - released
		if need == 0 {
			break
		}
		if l.Usable {
			continue
		}
		if l.RemainingQty <= need {
			l.Usable = true
			if err := tx.Lots().Update(ctx, l); err != nil {
				return 0, err
			}
			released += l.RemainingQty
			continue
		}

		l.RemainingQty -= need
		if err := tx.Lots().Update(ctx, l); err != nil {
			return 0, err
		}
		part := lots.Lot{
			ID:           uuid.NewString(),
			LotNo:        l.LotNo,
			MaterialCode: l.MaterialCode,
			VendorCode:   l.VendorCode,
			BinCode:      l.BinCode,
			ExpiryDate:   l.ExpiryDate,
			ReceivedSeq:  l.ReceivedSeq,
			ReceivedQty:  need,
			RemainingQty: need,
			Usable:       true,
			CreatedAt:    s.now(),
		}
		if err := tx.Lots().Insert(ctx, &part); err != nil {
			return 0, err
		}
		released += need
	}
	return released, nil
}
