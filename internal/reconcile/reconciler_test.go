package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
	"github.com/Spok95/binledger/internal/store/storetest"
)

var (
	ctx   = context.Background()
	glue  = materials.Key{Code: "GLUE-01", Vendor: "V1"}
	fixed = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

func newReconciler(st store.Store) *Reconciler {
	return New(Deps{Store: st, Now: func() time.Time { return fixed }})
}

func indexes(rs []RowResult) []int {
	out := make([]int, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Index)
	}
	return out
}

func TestPreviewClassifiesRows(t *testing.T) {
	st := storetest.New()
	st.PutMaterial(materials.Material{Key: glue, Buckets: materials.Buckets{Available: 10}})
	rec := newReconciler(st)

	batch := []RawRow{
		{"Mã vật tư": "GLUE-01", "Mã NCC": "V1", "Kho OK": "5"},
		{"Mã vật tư": "NEW-1", "Kho OK": "3"},
		{"Mã vật tư": "NEW-1", "Kho OK": "2"},
		{"Mã NCC": "V9", "Kho OK": "1"},
	}
	p, err := rec.Preview(ctx, "materials", batch)
	require.NoError(t, err)

	require.Len(t, p.Summary.Overwrites, 2)
	assert.Equal(t, 0, p.Summary.Overwrites[0].Index)
	assert.NotNil(t, p.Summary.Overwrites[0].Existing)
	assert.Equal(t, 2, p.Summary.Overwrites[1].Index)
	assert.Equal(t, "NEW-1::idx1", p.Summary.Overwrites[1].PendingKey)

	require.Len(t, p.Summary.Inserts, 1)
	assert.Equal(t, "NEW-1::idx1", p.Summary.Inserts[0].Key)

	require.Len(t, p.Summary.Invalid, 1)
	assert.Equal(t, OutcomeInvalid, p.Summary.Invalid[0].Outcome)
	assert.Equal(t, 1, p.Headers.MissingKeyCount)
	assert.Len(t, p.Records, 3)

	again, err := rec.Preview(ctx, "materials", batch)
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, 0, st.Commits())
	assert.Equal(t, 1, st.MaterialCount())
}

func TestPreviewRejectsUnknownEntityAndEmptyBatch(t *testing.T) {
	rec := newReconciler(storetest.New())

	_, err := rec.Preview(ctx, "suppliers", []RawRow{{"code": "A"}})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	_, err = rec.Preview(ctx, "materials", nil)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	_, err = rec.Run(ctx, "materials", Request{Mode: "dry-run", Records: []RawRow{{"code": "A"}}})
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	limited := New(Deps{Store: storetest.New(), MaxRows: 1})
	_, err = limited.Preview(ctx, "materials", []RawRow{{"code": "A"}, {"code": "B"}})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.Equal(t, 1, errs.DetailsOf(err)["max_rows"])
}

func TestCommitMergesAdditively(t *testing.T) {
	st := storetest.New()
	minStock := int64(2)
	st.PutMaterial(materials.Material{
		Key:          glue,
		Buckets:      materials.Buckets{Available: 10},
		Name:         "Glue",
		Unit:         "pcs",
		MinThreshold: &minStock,
	})
	rec := newReconciler(st)

	res, err := rec.Commit(ctx, "materials", []RawRow{
		{"ss_code": "GLUE-01", "vendor_code": "V1", "kho_ok": "5", "ton_line": "1", "ten_vat_tu": ""},
		{"ss_code": "NEW-1", "kho_ok": 3, "don_vi": "kg"},
		{"ss_code": "NEW-1", "kho_ok": 2},
	}, nil, "u-1")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, indexes(res.Inserted))
	assert.Equal(t, []int{0, 2}, indexes(res.Updated))
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 3, res.Rows)

	m := st.Material(glue)
	assert.Equal(t, int64(15), m.Available)
	assert.Equal(t, int64(1), m.LineReserved)
	assert.Equal(t, int64(16), m.Total)
	assert.Equal(t, "Glue", m.Name, "blank cell does not overwrite")
	assert.Equal(t, "pcs", m.Unit)
	require.NotNil(t, m.MinThreshold)
	assert.Equal(t, int64(2), *m.MinThreshold)
	assert.Equal(t, "u-1", m.UpdatedBy)

	fresh := st.Material(materials.Key{Code: "NEW-1"})
	require.NotNil(t, fresh)
	assert.Equal(t, int64(5), fresh.Available)
	assert.Equal(t, "kg", fresh.Unit)

	mv := st.Movements()
	require.Len(t, mv, 3)
	assert.Equal(t, inventory.OpImportMerge, mv[0].Op)
	assert.Equal(t, int64(10), mv[0].Before)
	assert.Equal(t, int64(15), mv[0].After)
	assert.Equal(t, inventory.OpImportInsert, mv[1].Op)
	assert.Equal(t, inventory.OpImportMerge, mv[2].Op)
	for _, m := range mv {
		assert.Equal(t, inventory.MoveIn, m.Direction)
	}
}

func TestCommitHonoursSkipDecision(t *testing.T) {
	st := storetest.New()
	st.PutMaterial(materials.Material{Key: glue, Buckets: materials.Buckets{Available: 10}})
	rec := newReconciler(st)

	out, err := rec.Run(ctx, "materials", Request{
		Mode:      "commit",
		Records:   []RawRow{{"code": "GLUE-01", "vendor": "V1", "ok": "5"}, {"code": "INK-2", "ok": "1"}},
		Decisions: map[string]string{"GLUE-01::V1::idx0": " Skip "},
		Actor:     "u-1",
	})
	require.NoError(t, err)
	res := out.(*Commit).Result

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, errs.RowSkipped, res.Skipped[0].Kind)
	assert.Equal(t, []int{1}, indexes(res.Inserted))
	assert.Equal(t, int64(10), st.Material(glue).Available)
}

func TestPreviewAgreesWithCommitOnRepeatedSeq(t *testing.T) {
	st := storetest.New()
	rec := newReconciler(st)
	batch := []RawRow{
		{"STT": 7, "code": "NEW-1", "ok": "3"},
		{"STT": 7, "code": "NEW-1", "ok": "2"},
	}

	p, err := rec.Preview(ctx, "materials", batch)
	require.NoError(t, err)
	require.Len(t, p.Summary.Inserts, 1)
	assert.Equal(t, 0, p.Summary.Inserts[0].Index)
	assert.Empty(t, p.Summary.Overwrites)
	require.Len(t, p.Summary.Skipped, 1)
	assert.Equal(t, 1, p.Summary.Skipped[0].Index)
	assert.Equal(t, OutcomeSkip, p.Summary.Skipped[0].Outcome)
	assert.Equal(t, "seq=7", p.Summary.Skipped[0].Key)

	res, err := rec.Commit(ctx, "materials", batch, nil, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, indexes(res.Inserted))
	assert.Empty(t, res.Updated)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, p.Summary.Skipped[0].Index, res.Skipped[0].Index)
	assert.Equal(t, p.Summary.Skipped[0].Reason, res.Skipped[0].Reason)
	assert.Equal(t, int64(3), st.Material(materials.Key{Code: "NEW-1"}).Available)
}

func TestCommitRejectsNegativeAndMissingKey(t *testing.T) {
	st := storetest.New()
	rec := newReconciler(st)

	res, err := rec.Commit(ctx, "materials", []RawRow{
		{"code": "A", "ok": "-4"},
		{"ok": "4"},
		{"code": "B", "ok": "4"},
	}, nil, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indexes(res.Invalid))
	assert.Equal(t, []int{2}, indexes(res.Inserted))
}

// failingStore подменяет вставку материала с заданным кодом ошибкой.
type failingStore struct {
	*storetest.Store
	code string
	err  error
}

func (f failingStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return f.Store.InTx(ctx, func(tx store.Tx) error { return fn(failingTx{Tx: tx, f: f}) })
}

type failingTx struct {
	store.Tx
	f failingStore
}

func (t failingTx) Materials() materials.Store { return failingMaterials{Store: t.Tx.Materials(), f: t.f} }

func (t failingTx) Savepoint(ctx context.Context, fn func(store.Tx) error) error {
	return t.Tx.Savepoint(ctx, func(sp store.Tx) error { return fn(failingTx{Tx: sp, f: t.f}) })
}

type failingMaterials struct {
	materials.Store
	f failingStore
}

func (m failingMaterials) Insert(ctx context.Context, rec *materials.Material) error {
	if rec.Code == m.f.code {
		return m.f.err
	}
	return m.Store.Insert(ctx, rec)
}

func TestCommitSkipsRowOnUniqueViolation(t *testing.T) {
	st := storetest.New()
	rec := newReconciler(failingStore{Store: st, code: "B", err: errs.New(errs.Duplicate, "material B already exists")})

	res, err := rec.Commit(ctx, "materials", []RawRow{
		{"code": "A", "ok": "1"},
		{"code": "B", "ok": "2"},
		{"code": "C", "ok": "3"},
	}, nil, "u-1")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, indexes(res.Inserted))
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, errs.Duplicate, res.Skipped[0].Kind)
	assert.Equal(t, 2, st.MaterialCount())
	assert.Len(t, st.Movements(), 2)
}

func TestCommitStructuralFailureRollsBackBatch(t *testing.T) {
	st := storetest.New()
	rec := newReconciler(failingStore{Store: st, code: "B", err: errors.New("connection reset by peer")})

	_, err := rec.Commit(ctx, "materials", []RawRow{
		{"code": "A", "ok": "1"},
		{"code": "B", "ok": "2"},
	}, nil, "u-1")
	assert.Equal(t, errs.StructuralImport, errs.KindOf(err))
	assert.Equal(t, 0, st.MaterialCount())
	assert.Empty(t, st.Movements())

	st.BeginErr = errors.New("too many connections")
	_, err = newReconciler(st).Commit(ctx, "materials", []RawRow{{"code": "A"}}, nil, "u-1")
	assert.Equal(t, errs.StructuralImport, errs.KindOf(err))
}

func TestCommitRequiresPermission(t *testing.T) {
	st := storetest.New()
	rec := New(Deps{
		Store: st,
		Access: access.CheckerFunc(func(_ context.Context, _, action string) (access.Decision, error) {
			return access.Decision{Allowed: action != access.ActionImportCommit, Role: "viewer"}, nil
		}),
	})

	_, err := rec.Commit(ctx, "materials", []RawRow{{"code": "A", "ok": "1"}}, nil, "u-1")
	assert.Equal(t, errs.PermissionDenied, errs.KindOf(err))
	assert.Equal(t, 0, st.MaterialCount())

	_, err = rec.Preview(ctx, "materials", []RawRow{{"code": "A", "ok": "1"}})
	assert.NoError(t, err)
}

func TestCommitBins(t *testing.T) {
	st := storetest.New()
	capacity := int64(10)
	st.PutBin(bins.Bin{
		Code: "A-1", Location: bins.ParseCode("A-1"),
		MaterialCode: "GLUE-01", OccupiedQty: 3, Capacity: &capacity, Status: bins.StatusOccupied,
	})
	rec := newReconciler(st)

	res, err := rec.Commit(ctx, "bins", []RawRow{
		{"Rack": "A", "Bin": "1", "SS_Code": "GLUE-01", "OK": "2"},
		{"Bin Code": "A-1", "SS_Code": "INK-9", "OK": "1"},
		{"Kệ": "B", "Tầng": "01", "Ô": "02", "OK": "4", "Sức chứa": "3"},
		{"Bin Code": "C-1", "Trạng thái": "Khoá"},
		{"Ô": "5"},
		{"STT": "4", "Bin Code": "D-1", "OK": "1"},
		{"STT": "4", "Bin Code": "D-1", "OK": "1"},
	}, nil, "u-1")
	require.NoError(t, err)

	assert.Equal(t, []int{3, 5}, indexes(res.Inserted))
	assert.Equal(t, []int{0}, indexes(res.Updated))
	assert.Equal(t, []int{1, 2, 6}, indexes(res.Skipped))
	assert.Equal(t, errs.BinConflict, res.Skipped[0].Kind)
	assert.Equal(t, errs.CapacityExceeded, res.Skipped[1].Kind)
	assert.Equal(t, errs.RowSkipped, res.Skipped[2].Kind)
	assert.Equal(t, []int{4}, indexes(res.Invalid))

	a1 := st.Bin("A-1")
	assert.Equal(t, int64(5), a1.OccupiedQty)
	assert.Equal(t, bins.StatusOccupied, a1.Status)
	assert.Equal(t, bins.StatusLocked, st.Bin("C-1").Status)
	assert.Nil(t, st.Bin("B-01-02"))

	d1 := st.Bin("D-1")
	require.NotNil(t, d1)
	require.NotNil(t, d1.Seq)
	assert.Equal(t, int64(4), *d1.Seq)
	assert.Equal(t, int64(1), d1.OccupiedQty)
	assert.Equal(t, "D", d1.Rack)
}

func TestCommitBinStatusOverrideCleared(t *testing.T) {
	st := storetest.New()
	st.PutBin(bins.Bin{Code: "A-1", Location: bins.ParseCode("A-1"), MaterialCode: "GLUE-01", OccupiedQty: 2, Status: bins.StatusLocked})
	rec := newReconciler(st)

	_, err := rec.Commit(ctx, "bins", []RawRow{{"bin_code": "A-1", "status": "Trống"}}, nil, "u-1")
	require.NoError(t, err)
	assert.Equal(t, bins.StatusOccupied, st.Bin("A-1").Status)

	res, err := rec.Commit(ctx, "bins", []RawRow{{"bin_code": "A-1", "status": "broken"}}, nil, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, indexes(res.Invalid))
}
