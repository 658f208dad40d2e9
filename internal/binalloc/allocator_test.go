package binalloc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
	"github.com/Spok95/binledger/internal/store/storetest"
)

var (
	ctx     = context.Background()
	fixedAt = time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)
	matA    = materials.Key{Code: "M-A", Vendor: "V1"}
	matB    = materials.Key{Code: "M-B", Vendor: "V1"}
)

func newAllocator() *Allocator { return New(func() time.Time { return fixedAt }) }

func occupied(code string, key materials.Key, qty int64) bins.Bin {
	b := bins.NewAt(code)
	b.Claim(key)
	b.OccupiedQty = qty
	b.RecomputeStatus()
	return *b
}

func TestAssignToBinCreatesFromCode(t *testing.T) {
	s := storetest.New()
	a := newAllocator()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignToBin(ctx, tx, "R1-L2-B3", matA, 7, "", "u-1")
		return err
	})
	require.NoError(t, err)

	b := s.Bin("R1-L2-B3")
	require.NotNil(t, b)
	assert.Equal(t, bins.Location{Rack: "R1", Layout: "L2", Slot: "B3"}, b.Location)
	assert.Equal(t, int64(7), b.OccupiedQty)
	assert.Equal(t, bins.StatusOccupied, b.Status)
	assert.True(t, b.Holds(matA))
	assert.Equal(t, "u-1", b.UpdatedBy)
}

func TestAssignToBinAddsForSameMaterial(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 5))
	a := newAllocator()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignToBin(ctx, tx, "A-1", matA, 3, "", "u-1")
		return err
	}))
	assert.Equal(t, int64(8), s.Bin("A-1").OccupiedQty)
}

func TestAssignToBinConflictLeavesBinUnchanged(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("X", matA, 5))
	before := s.Bin("X")
	a := newAllocator()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignToBin(ctx, tx, "X", matB, 1, "", "u-1")
		return err
	})
	assert.Equal(t, errs.BinConflict, errs.KindOf(err))
	assert.Equal(t, before, s.Bin("X"))
}

func TestAssignToBinQuarantineOverride(t *testing.T) {
	s := storetest.New()
	a := newAllocator()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignToBin(ctx, tx, "TEMP-BIN-01", matA, 4, bins.StatusQuarantine, "u-1")
		return err
	}))
	assert.Equal(t, bins.StatusQuarantine, s.Bin("TEMP-BIN-01").Status)
}

func TestAssignToBinCapacity(t *testing.T) {
	s := storetest.New()
	b := occupied("C-1", matA, 8)
	capacity := int64(10)
	b.Capacity = &capacity
	s.PutBin(b)
	a := newAllocator()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignToBin(ctx, tx, "C-1", matA, 3, "", "u-1")
		return err
	})
	assert.Equal(t, errs.CapacityExceeded, errs.KindOf(err))
	assert.Equal(t, int64(8), s.Bin("C-1").OccupiedQty)
}

func TestAssignDefective(t *testing.T) {
	s := storetest.New()
	a := newAllocator()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.AssignDefective(ctx, tx, "NG-1", matA, 2, "u-1")
		return err
	}))
	b := s.Bin("NG-1")
	assert.Equal(t, int64(2), b.DefectiveQty)
	assert.Equal(t, int64(0), b.OccupiedQty)
	assert.Equal(t, bins.StatusOccupied, b.Status)
}

func TestRemoveFromBin(t *testing.T) {
	tests := []struct {
		name     string
		qty      int64
		wantKind errs.Kind
		wantQty  int64
		empty    bool
	}{
		{name: "partial", qty: 2, wantQty: 3},
		{name: "to zero releases bin", qty: 5, wantQty: 0, empty: true},
		{name: "short", qty: 6, wantKind: errs.InsufficientBinStock, wantQty: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storetest.New()
			s.PutBin(occupied("A-1", matA, 5))
			a := newAllocator()

			err := s.InTx(ctx, func(tx store.Tx) error {
				_, err := a.RemoveFromBin(ctx, tx, "A-1", matA, tt.qty, "u-1")
				return err
			})
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			b := s.Bin("A-1")
			assert.Equal(t, tt.wantQty, b.OccupiedQty)
			if tt.empty {
				assert.Equal(t, bins.StatusEmpty, b.Status)
				assert.False(t, b.Assigned())
			}
		})
	}
}

func TestRemoveFromBinOtherMaterial(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 5))
	a := newAllocator()
	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.RemoveFromBin(ctx, tx, "A-1", matB, 1, "u-1")
		return err
	})
	assert.Equal(t, errs.InsufficientBinStock, errs.KindOf(err))
}

func TestTransferBetweenBins(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 10))
	s.PutBin(*bins.NewAt("B-1"))
	s.PutLot(lots.Lot{ID: "lot-old", MaterialCode: matA.Code, VendorCode: matA.Vendor, BinCode: "A-1", RemainingQty: 4, ReceivedQty: 4, Usable: true})
	s.PutLot(lots.Lot{ID: "lot-new", MaterialCode: matA.Code, VendorCode: matA.Vendor, BinCode: "A-1", RemainingQty: 6, ReceivedQty: 6, Usable: true})
	a := newAllocator()

	var res *TransferResult
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = a.TransferBetweenBins(ctx, tx, Transfer{Key: matA, Qty: 7, From: "A-1", To: "B-1", Actor: "u-2"})
		return err
	}))

	assert.Equal(t, int64(3), s.Bin("A-1").OccupiedQty)
	dst := s.Bin("B-1")
	assert.Equal(t, int64(7), dst.OccupiedQty)
	assert.True(t, dst.Holds(matA))
	assert.Equal(t, bins.StatusOccupied, dst.Status)

	assert.Equal(t, "B-1", s.Lot("lot-old").BinCode)
	old := s.Lot("lot-new")
	assert.Equal(t, "A-1", old.BinCode)
	assert.Equal(t, int64(3), old.RemainingQty)

	var movedNew int64
	for _, l := range s.LotsOf(matA) {
		if l.BinCode == "B-1" && l.ID != "lot-old" {
			movedNew += l.RemainingQty
			assert.Equal(t, old.ReceivedSeq, l.ReceivedSeq)
		}
	}
	assert.Equal(t, int64(3), movedNew)

	mv := s.Movements()
	require.Len(t, mv, 1)
	assert.Equal(t, inventory.OpTransfer, mv[0].Op)
	assert.Equal(t, int64(10), mv[0].Before)
	assert.Equal(t, int64(-7), mv[0].Delta)
	assert.Equal(t, int64(3), mv[0].After)
	assert.Equal(t, res.Movement.ID, mv[0].ID)
}

func TestTransferToZeroResetsSource(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 4))
	a := newAllocator()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.TransferBetweenBins(ctx, tx, Transfer{Key: matA, Qty: 4, From: "A-1", To: "NEW-9", Actor: "u-2"})
		return err
	}))
	src := s.Bin("A-1")
	assert.Equal(t, bins.StatusEmpty, src.Status)
	assert.False(t, src.Assigned())
	assert.Equal(t, int64(4), s.Bin("NEW-9").OccupiedQty)
}

func TestTransferAtomicWhenDestinationConflicts(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 10))
	s.PutBin(occupied("B-1", matB, 1))
	a := newAllocator()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.TransferBetweenBins(ctx, tx, Transfer{Key: matA, Qty: 5, From: "A-1", To: "B-1", Actor: "u-2"})
		return err
	})
	assert.Equal(t, errs.BinConflict, errs.KindOf(err))
	assert.Equal(t, int64(10), s.Bin("A-1").OccupiedQty)
	assert.Empty(t, s.Movements())
}

func TestTransferValidation(t *testing.T) {
	s := storetest.New()
	a := newAllocator()
	tests := []Transfer{
		{Key: matA, Qty: 1, From: "A", To: "A"},
		{Key: matA, Qty: 0, From: "A", To: "B"},
		{Key: matA, Qty: 1, From: "", To: "B"},
		{Key: materials.Key{}, Qty: 1, From: "A", To: "B"},
	}
	for _, tr := range tests {
		err := s.InTx(ctx, func(tx store.Tx) error {
			_, err := a.TransferBetweenBins(ctx, tx, tr)
			return err
		})
		assert.Equal(t, errs.Validation, errs.KindOf(err), "%+v", tr)
	}
}

func TestTransferInsufficientSource(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 2))
	a := newAllocator()
	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.TransferBetweenBins(ctx, tx, Transfer{Key: matA, Qty: 3, From: "A-1", To: "B-1"})
		return err
	})
	assert.Equal(t, errs.InsufficientBinStock, errs.KindOf(err))
	assert.Nil(t, s.Bin("B-1"))
}

func TestSuggestPutawayBin(t *testing.T) {
	s := storetest.New()
	capacity := int64(5)

	full := occupied("A-1-01", matA, 5)
	full.Capacity = &capacity
	s.PutBin(full)
	s.PutBin(occupied("A-1-02", matB, 1))
	locked := *bins.NewAt("A-1-03")
	locked.Status = bins.StatusLocked
	s.PutBin(locked)
	s.PutBin(*bins.NewAt("B-1-01"))
	s.PutBin(*bins.NewAt("A-2-01"))
	a := newAllocator()

	var got *bins.Bin
	require.NoError(t, s.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		got, err = a.SuggestPutawayBin(ctx, tx, matA)
		return err
	}))
	require.NotNil(t, got)
	assert.Equal(t, "B-1-01", got.Code)
}

func TestSuggestPutawayBinNone(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matB, 1))
	a := newAllocator()

	var got *bins.Bin
	require.NoError(t, s.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		got, err = a.SuggestPutawayBin(ctx, tx, matA)
		return err
	}))
	assert.Nil(t, got)
}

func TestSetStatus(t *testing.T) {
	s := storetest.New()
	s.PutBin(occupied("A-1", matA, 3))
	a := newAllocator()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, prev, err := a.SetStatus(ctx, tx, "A-1", bins.StatusLocked, "admin")
		assert.Equal(t, bins.StatusOccupied, prev)
		return err
	}))
	assert.Equal(t, bins.StatusLocked, s.Bin("A-1").Status)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, _, err := a.SetStatus(ctx, tx, "A-1", bins.StatusEmpty, "admin")
		return err
	}))
	assert.Equal(t, bins.StatusOccupied, s.Bin("A-1").Status)
}

func TestRemoveFromOverrideBin(t *testing.T) {
	for _, status := range []bins.Status{bins.StatusQuarantine, bins.StatusLocked, bins.StatusInactive} {
		t.Run(string(status), func(t *testing.T) {
			s := storetest.New()
			b := occupied("TEMP-BIN-01", matA, 5)
			b.Status = status
			s.PutBin(b)
			a := newAllocator()

			err := s.InTx(ctx, func(tx store.Tx) error {
				_, err := a.RemoveFromBin(ctx, tx, "TEMP-BIN-01", matA, 5, "u-1")
				return err
			})
			assert.Equal(t, errs.InsufficientBinStock, errs.KindOf(err))
			assert.Equal(t, string(status), errs.DetailsOf(err)["status"])
			got := s.Bin("TEMP-BIN-01")
			assert.Equal(t, int64(5), got.OccupiedQty)
			assert.Equal(t, status, got.Status)
			assert.True(t, got.Holds(matA))
		})
	}
}

func TestRemoveInspectedKeepsQuarantine(t *testing.T) {
	s := storetest.New()
	b := occupied("TEMP-BIN-01", matA, 5)
	b.Status = bins.StatusQuarantine
	s.PutBin(b)
	a := newAllocator()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.RemoveInspected(ctx, tx, "TEMP-BIN-01", matA, 5, "u-1")
		return err
	}))
	got := s.Bin("TEMP-BIN-01")
	assert.Equal(t, int64(0), got.OccupiedQty)
	assert.False(t, got.Assigned())
	assert.Equal(t, bins.StatusQuarantine, got.Status)

	locked := occupied("A-1", matA, 5)
	locked.Status = bins.StatusLocked
	s.PutBin(locked)
	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.RemoveInspected(ctx, tx, "A-1", matA, 1, "u-1")
		return err
	})
	assert.Equal(t, errs.InsufficientBinStock, errs.KindOf(err))
}

func TestTransferOutOfQuarantineRefused(t *testing.T) {
	s := storetest.New()
	src := occupied("TEMP-BIN-01", matA, 5)
	src.Status = bins.StatusQuarantine
	s.PutBin(src)
	s.PutLot(lots.Lot{ID: "staged", MaterialCode: matA.Code, VendorCode: matA.Vendor, BinCode: "TEMP-BIN-01", RemainingQty: 5, ReceivedQty: 5})
	a := newAllocator()

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := a.TransferBetweenBins(ctx, tx, Transfer{Key: matA, Qty: 5, From: "TEMP-BIN-01", To: "B-1", Actor: "u-1"})
		return err
	})
	assert.Equal(t, errs.InsufficientBinStock, errs.KindOf(err))
	assert.Equal(t, int64(5), s.Bin("TEMP-BIN-01").OccupiedQty)
	assert.Nil(t, s.Bin("B-1"))
	assert.Equal(t, "TEMP-BIN-01", s.Lot("staged").BinCode)
	assert.Empty(t, s.Movements())
}
