package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

var bucketColumns = []struct {
	field  string
	bucket materials.Bucket
}{
	{FieldAvailable, materials.BucketAvailable},
	{FieldLineReserved, materials.BucketLineReserved},
	{FieldImprovementHold, materials.BucketImprovementHold},
	{FieldBorrowed, materials.BucketBorrowed},
	{FieldDefective, materials.BucketDefective},
	{FieldPending, materials.BucketPendingInspection},
}

type materialRows struct{}

func (materialRows) schema() *Schema { return MaterialSchema }

func materialKey(r Row) materials.Key {
	return materials.Key{Code: r.Str(FieldMaterialCode), Vendor: r.Str(FieldVendorCode)}
}

func (materialRows) check(r Row) (bool, error) {
	if r.Str(FieldMaterialCode) == "" {
		return true, errs.New(errs.Validation, "row %d: material code is missing", r.Index+1)
	}
	for _, c := range bucketColumns {
		if v, ok := r.Int(c.field); ok && v < 0 {
			return false, errs.New(errs.Validation, "row %d: %s is negative (%d)", r.Index+1, c.field, v)
		}
	}
	return false, nil
}

func (materialRows) key(r Row) string {
	if seq, ok := r.Int(FieldSeq); ok {
		return fmt.Sprintf("seq=%d", seq)
	}
	k := materialKey(r)
	if k.Vendor == "" {
		return fmt.Sprintf("%s::idx%d", escapeKey(k.Code), r.Index)
	}
	return fmt.Sprintf("%s::%s::idx%d", escapeKey(k.Code), escapeKey(k.Vendor), r.Index)
}

func (materialRows) natural(r Row) string {
	k := materialKey(r)
	return escapeKey(k.Code) + "::" + escapeKey(k.Vendor)
}

func (materialRows) lookup(ctx context.Context, tx store.Tx, r Row) (*materials.Material, error) {
	if seq, ok := r.Int(FieldSeq); ok {
		m, err := tx.Materials().GetBySeq(ctx, seq)
		if err != nil || m != nil {
			return m, err
		}
	}
	return tx.Materials().Get(ctx, materialKey(r))
}

func (mr materialRows) find(ctx context.Context, tx store.Tx, r Row) (any, error) {
	m, err := mr.lookup(ctx, tx, r)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

// apply: найденная запись получает existing + incoming по каждому бакету,
// новая заводится только из заполненных полей.
func (mr materialRows) apply(ctx context.Context, tx store.Tx, r Row, actor string, now time.Time) (bool, error) {
	m, err := mr.lookup(ctx, tx, r)
	if err != nil {
		return false, err
	}
	var incoming materials.Buckets
	for _, c := range bucketColumns {
		if v, ok := r.Int(c.field); ok {
			*incoming.Ref(c.bucket) = v
		}
	}

	inserted := m == nil
	var before int64
	if inserted {
		m = &materials.Material{Key: materialKey(r)}
	} else {
		before = m.Available
	}
	m.Buckets = m.Buckets.Add(incoming)
	overlayMaterial(m, r)
	m.Touch(actor, now)
	if err := m.Validate(); err != nil {
		return false, err
	}
	if inserted {
		err = tx.Materials().Insert(ctx, m)
	} else {
		err = tx.Materials().Update(ctx, m)
	}
	if err != nil {
		return false, err
	}

	// остаток из загрузки считается приходом для проверки перерасхода
	if incoming.Available > 0 {
		op := inventory.OpImportMerge
		if inserted {
			op = inventory.OpImportInsert
		}
		mv := inventory.Movement{
			Op:           op,
			Direction:    inventory.MoveIn,
			MaterialCode: m.Code,
			VendorCode:   m.Vendor,
			Bucket:       materials.BucketAvailable,
			Before:       before,
			Delta:        incoming.Available,
			After:        m.Available,
			Actor:        actor,
			Note:         fmt.Sprintf("import row %d", r.Index+1),
			CreatedAt:    now,
		}
		if err := tx.Journal().Append(ctx, &mv); err != nil {
			return false, err
		}
	}
	return inserted, nil
}

func overlayMaterial(m *materials.Material, r Row) {
	for field, dst := range map[string]*string{
		FieldName:     &m.Name,
		FieldSpec:     &m.Spec,
		FieldModel:    &m.Model,
		FieldItemType: &m.ItemType,
		FieldUnit:     &m.Unit,
		FieldNote:     &m.Note,
	} {
		if v, ok := r.Text[field]; ok {
			*dst = v
		}
	}
	if v, ok := r.Int(FieldMinThreshold); ok {
		m.MinThreshold = &v
	}
	if v, ok := r.Int(FieldMaxThreshold); ok {
		m.MaxThreshold = &v
	}
	if v, ok := r.Int(FieldSeq); ok && m.Seq == nil {
		m.Seq = &v
	}
}
