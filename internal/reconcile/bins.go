package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/binledger/internal/binalloc"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

type binRows struct{}

func (binRows) schema() *Schema { return BinSchema }

// location: явные Rack/Layout/Bin важнее разбора кода.
func location(r Row) bins.Location {
	if r.Str(FieldRack) != "" {
		return bins.Location{Rack: r.Str(FieldRack), Layout: r.Str(FieldLayout), Slot: r.Str(FieldSlot)}
	}
	return bins.ParseCode(r.Str(FieldBinCode))
}

func binCode(r Row) string {
	if c := r.Str(FieldBinCode); c != "" {
		return c
	}
	return location(r).Code()
}

func (binRows) check(r Row) (bool, error) {
	if r.Str(FieldBinCode) == "" && (r.Str(FieldRack) == "" || r.Str(FieldSlot) == "") {
		return true, errs.New(errs.Validation, "row %d: bin code or rack and bin are required", r.Index+1)
	}
	for _, f := range []string{FieldOccupied, FieldBinNG, FieldStock, FieldCapacity} {
		if v, ok := r.Int(f); ok && v < 0 {
			return false, errs.New(errs.Validation, "row %d: %s is negative (%d)", r.Index+1, f, v)
		}
	}
	if raw, ok := r.Text[FieldStatus]; ok {
		if _, known := bins.ParseStatus(raw); !known {
			return false, errs.New(errs.Validation, "row %d: unknown bin status %q", r.Index+1, raw)
		}
	}
	return false, nil
}

func (binRows) key(r Row) string {
	if seq, ok := r.Int(FieldSeq); ok {
		return fmt.Sprintf("seq=%d", seq)
	}
	loc := location(r)
	return fmt.Sprintf("code=%s::combo=%s|%s|%s|%s|%s::idx=%d",
		escapeKey(binCode(r)),
		escapeKey(loc.Rack), escapeKey(loc.Layout), escapeKey(loc.Slot),
		escapeKey(r.Str(FieldVendorCode)), escapeKey(r.Str(FieldMaterialCode)),
		r.Index)
}

func (binRows) natural(r Row) string { return escapeKey(binCode(r)) }

func (binRows) lookup(ctx context.Context, tx store.Tx, r Row) (*bins.Bin, error) {
	if seq, ok := r.Int(FieldSeq); ok {
		b, err := tx.Bins().GetBySeq(ctx, seq)
		if err != nil || b != nil {
			return b, err
		}
	}
	b, err := tx.Bins().Get(ctx, binCode(r))
	if err != nil || b != nil {
		return b, err
	}
	return tx.Bins().FindByLocation(ctx, location(r), materials.Key{
		Code:   r.Str(FieldMaterialCode),
		Vendor: r.Str(FieldVendorCode),
	})
}

func (br binRows) find(ctx context.Context, tx store.Tx, r Row) (any, error) {
	b, err := br.lookup(ctx, tx, r)
	if err != nil || b == nil {
		return nil, err
	}
	return b, nil
}

func (br binRows) apply(ctx context.Context, tx store.Tx, r Row, actor string, now time.Time) (bool, error) {
	b, err := br.lookup(ctx, tx, r)
	if err != nil {
		return false, err
	}
	inserted := b == nil
	if inserted {
		b = &bins.Bin{Code: binCode(r), Location: location(r), Status: bins.StatusEmpty}
	}

	key := materials.Key{Code: r.Str(FieldMaterialCode), Vendor: r.Str(FieldVendorCode)}
	if key.Code != "" {
		if err := binalloc.CheckAssignable(b, key); err != nil {
			return false, err
		}
		b.Claim(key)
	}

	before := b.OccupiedQty
	occupied, _ := r.Int(FieldOccupied)
	defective, _ := r.Int(FieldBinNG)
	stock, _ := r.Int(FieldStock)
	b.OccupiedQty += occupied
	b.DefectiveQty += defective
	b.StockQty += stock
	if v, ok := r.Int(FieldCapacity); ok {
		b.Capacity = &v
	}
	for field, dst := range map[string]*string{
		FieldName: &b.Name,
		FieldUnit: &b.Unit,
		FieldZone: &b.Zone,
		FieldNote: &b.Note,
	} {
		if v, ok := r.Text[field]; ok {
			*dst = v
		}
	}
	if v, ok := r.Int(FieldSeq); ok && b.Seq == nil {
		b.Seq = &v
	}

	// явный статус из файла: административный ставится как есть,
	// Empty/Occupied снимают переопределение и статус считается по количеству
	if raw, ok := r.Text[FieldStatus]; ok {
		st, _ := bins.ParseStatus(raw)
		if st.IsOverride() {
			b.Status = st
		} else {
			b.Status = bins.StatusEmpty
		}
	}
	b.RecomputeStatus()
	if b.Capacity != nil && b.OccupiedQty > *b.Capacity {
		return false, errs.New(errs.CapacityExceeded, "bin %s: %d exceeds capacity %d", b.Code, b.OccupiedQty, *b.Capacity)
	}
	b.UpdatedBy, b.UpdatedAt = actor, now

	if inserted {
		err = tx.Bins().Insert(ctx, b)
	} else {
		err = tx.Bins().Update(ctx, b)
	}
	if err != nil {
		return false, err
	}

	mv := inventory.Movement{
		Op:           inventory.OpBinImport,
		Direction:    inventory.MoveAdjust,
		MaterialCode: b.MaterialCode,
		VendorCode:   b.VendorCode,
		BinCode:      b.Code,
		Before:       before,
		Delta:        occupied,
		After:        b.OccupiedQty,
		Actor:        actor,
		Note:         fmt.Sprintf("import row %d", r.Index+1),
		CreatedAt:    now,
	}
	if err := tx.Journal().Append(ctx, &mv); err != nil {
		return false, err
	}
	return inserted, nil
}
