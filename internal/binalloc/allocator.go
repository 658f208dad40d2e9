// Package binalloc размещает и перемещает материал по ячейкам склада.
// Все методы работают внутри транзакции вызывающего и своих транзакций не открывают.
package binalloc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

type Allocator struct {
	now func() time.Time
}

func New(now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{now: now}
}

// CheckAssignable: BinConflict, если ячейка закреплена за другим материалом.
func CheckAssignable(b *bins.Bin, key materials.Key) error {
	if b.Accepts(key) {
		return nil
	}
	return errs.New(errs.BinConflict, "bin %s holds %s, cannot place %s", b.Code, b.MaterialKey(), key).
		With("bin_code", b.Code).
		With("material_code", b.MaterialCode).
		With("vendor_code", b.VendorCode)
}

// AssignToBin кладёт qty в OccupiedQty ячейки; несуществующая ячейка создаётся по коду.
// Статус Quarantine/Locked/Inactive применяется как переопределение, иначе статус пересчитывается.
func (a *Allocator) AssignToBin(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, status bins.Status, actor string) (*bins.Bin, error) {
	return a.assign(ctx, tx, code, key, qty, status, actor, false)
}

// AssignDefective: то же, но в DefectiveQty (брак с линии).
func (a *Allocator) AssignDefective(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, actor string) (*bins.Bin, error) {
	return a.assign(ctx, tx, code, key, qty, "", actor, true)
}

func (a *Allocator) assign(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, status bins.Status, actor string, defective bool) (*bins.Bin, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errs.New(errs.Validation, "bin code is required")
	}
	if qty <= 0 {
		return nil, errs.New(errs.Validation, "qty must be > 0")
	}

	b, err := tx.Bins().Get(ctx, code)
	if err != nil {
		return nil, err
	}
	created := b == nil
	if created {
		b = bins.NewAt(code)
	} else if err := CheckAssignable(b, key); err != nil {
		return nil, err
	}

	if !defective && !b.HasRoomFor(qty) {
		return nil, errs.New(errs.CapacityExceeded, "bin %s: capacity %d, occupied %d, incoming %d",
			b.Code, *b.Capacity, b.OccupiedQty, qty)
	}

	b.Claim(key)
	if defective {
		b.DefectiveQty += qty
	} else {
		b.OccupiedQty += qty
	}
	if status.IsOverride() {
		b.Status = status
	} else {
		b.RecomputeStatus()
	}
	b.UpdatedBy, b.UpdatedAt = actor, a.now()

	if created {
		err = tx.Bins().Insert(ctx, b)
	} else {
		err = tx.Bins().Update(ctx, b)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveFromBin снимает qty с OccupiedQty; опустевшая ячейка освобождается.
// Из ячеек с переопределённым статусом (Quarantine, Locked, Inactive) не снимает.
func (a *Allocator) RemoveFromBin(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, actor string) (*bins.Bin, error) {
	return a.remove(ctx, tx, code, key, qty, actor, false)
}

// RemoveInspected то же, но пропускает карантин: вызывается только для партий,
// выпущенных после проверки. Locked и Inactive закрыты и здесь.
func (a *Allocator) RemoveInspected(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, actor string) (*bins.Bin, error) {
	return a.remove(ctx, tx, code, key, qty, actor, true)
}

func (a *Allocator) remove(ctx context.Context, tx store.Tx, code string, key materials.Key, qty int64, actor string, inspected bool) (*bins.Bin, error) {
	if qty <= 0 {
		return nil, errs.New(errs.Validation, "qty must be > 0")
	}
	b, err := tx.Bins().Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.New(errs.BinNotFound, "bin %s not found", code)
	}
	if b.Blocked() || (b.Status == bins.StatusQuarantine && !inspected) {
		return nil, errs.New(errs.InsufficientBinStock, "bin %s is %s, nothing can be taken from it", b.Code, b.Status).
			With("bin_code", b.Code).
			With("status", string(b.Status)).
			With("available", int64(0))
	}
	if !b.Holds(key) || b.OccupiedQty < qty {
		var have int64
		if b.Holds(key) {
			have = b.OccupiedQty
		}
		return nil, errs.New(errs.InsufficientBinStock, "bin %s has %d of %s, requested %d", b.Code, have, key, qty).
			With("bin_code", b.Code).
			With("available", have)
	}

	b.OccupiedQty -= qty
	b.ReleaseIfEmpty()
	b.RecomputeStatus()
	b.UpdatedBy, b.UpdatedAt = actor, a.now()
	if err := tx.Bins().Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

type Transfer struct {
	Key   materials.Key
	Qty   int64
	From  string
	To    string
	Actor string
	Note  string
}

type TransferResult struct {
	Source   *bins.Bin          `json:"source"`
	Dest     *bins.Bin          `json:"destination"`
	Movement inventory.Movement `json:"movement"`
}

// TransferBetweenBins: проверка и списание источника, затем приход в назначение
// (создать, слить или занять свободную), перенос партий и одна запись журнала.
// Ошибка на любом шаге откатывается вместе с транзакцией вызывающего.
func (a *Allocator) TransferBetweenBins(ctx context.Context, tx store.Tx, t Transfer) (*TransferResult, error) {
	t.From, t.To = strings.TrimSpace(t.From), strings.TrimSpace(t.To)
	switch {
	case t.Key.Code == "":
		return nil, errs.New(errs.Validation, "material code is required")
	case t.From == "" || t.To == "":
		return nil, errs.New(errs.Validation, "source and destination bins are required")
	case t.From == t.To:
		return nil, errs.New(errs.Validation, "source and destination are the same bin %s", t.From)
	case t.Qty <= 0:
		return nil, errs.New(errs.Validation, "qty must be > 0")
	}

	src, err := tx.Bins().Get(ctx, t.From)
	if err != nil {
		return nil, err
	}
	var before int64
	if src != nil && src.Holds(t.Key) {
		before = src.OccupiedQty
	}

	src, err = a.RemoveFromBin(ctx, tx, t.From, t.Key, t.Qty, t.Actor)
	if err != nil {
		return nil, err
	}
	dst, err := a.AssignToBin(ctx, tx, t.To, t.Key, t.Qty, "", t.Actor)
	if err != nil {
		return nil, err
	}
	if err := a.relocateLots(ctx, tx, t); err != nil {
		return nil, err
	}

	mv := inventory.Movement{
		Op:           inventory.OpTransfer,
		Direction:    inventory.MoveTransfer,
		MaterialCode: t.Key.Code,
		VendorCode:   t.Key.Vendor,
		BinCode:      t.From,
		ToBinCode:    t.To,
		Before:       before,
		Delta:        -t.Qty,
		After:        src.OccupiedQty,
		Actor:        t.Actor,
		Note:         t.Note,
		CreatedAt:    a.now(),
	}
	if err := tx.Journal().Append(ctx, &mv); err != nil {
		return nil, err
	}
	return &TransferResult{Source: src, Dest: dst, Movement: mv}, nil
}

// relocateLots переносит партии вслед за количеством в порядке FEFO.
// Частично перемещаемая партия делится: остаток остаётся, новая часть
// наследует номер, срок и порядок поступления.
func (a *Allocator) relocateLots(ctx context.Context, tx store.Tx, t Transfer) error {
	resident, err := tx.Lots().ListInBin(ctx, t.From, t.Key)
	if err != nil {
		return err
	}
	left := t.Qty
	for i := range resident {
		if left == 0 {
			break
		}
		l := resident[i]
		take := min(l.RemainingQty, left)
		left -= take

		if take == l.RemainingQty {
			l.BinCode = t.To
			if err := tx.Lots().Update(ctx, &l); err != nil {
				return err
			}
			continue
		}

		l.RemainingQty -= take
		if err := tx.Lots().Update(ctx, &l); err != nil {
			return err
		}
		part := lots.Lot{
			ID:           uuid.NewString(),
			LotNo:        l.LotNo,
			MaterialCode: l.MaterialCode,
			VendorCode:   l.VendorCode,
			BinCode:      t.To,
			ExpiryDate:   l.ExpiryDate,
			ReceivedSeq:  l.ReceivedSeq,
			ReceivedQty:  take,
			RemainingQty: take,
			Usable:       l.Usable,
			CreatedAt:    a.now(),
		}
		if err := tx.Lots().Insert(ctx, &part); err != nil {
			return err
		}
	}
	return nil
}

// SuggestPutawayBin: первая подходящая ячейка в порядке (Layout, Rack, Bin).
// nil, если подходящих нет.
func (a *Allocator) SuggestPutawayBin(ctx context.Context, tx store.Tx, key materials.Key) (*bins.Bin, error) {
	list, err := tx.Bins().ListOrdered(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].PutawayCandidate(key) {
			return &list[i], nil
		}
	}
	return nil, nil
}

// SetStatus: административная смена статуса. Empty/Occupied снимают
// переопределение, и статус снова следует за количеством.
func (a *Allocator) SetStatus(ctx context.Context, tx store.Tx, code string, status bins.Status, actor string) (*bins.Bin, bins.Status, error) {
	b, err := tx.Bins().Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, "", err
	}
	if b == nil {
		return nil, "", errs.New(errs.BinNotFound, "bin %s not found", code)
	}
	prev := b.Status
	if status.IsOverride() {
		b.Status = status
	} else {
		b.Status = bins.StatusEmpty
		b.RecomputeStatus()
	}
	b.UpdatedBy, b.UpdatedAt = actor, a.now()
	if err := tx.Bins().Update(ctx, b); err != nil {
		return nil, "", err
	}
	return b, prev, nil
}
