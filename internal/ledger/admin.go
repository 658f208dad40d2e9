package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/binalloc"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/fefo"
	"github.com/Spok95/binledger/internal/store"
)

// RecalculateTotal пересчитывает итог по бакетам и пишет корректировку в журнал.
func (s *Service) RecalculateTotal(ctx context.Context, key materials.Key, actor string) (m *materials.Material, err error) {
	defer func(start time.Time) { s.observe("recalculate", "", start, err) }(time.Now())

	key = key.Trim()
	if key.Code == "" {
		return nil, errs.New(errs.Validation, "material_code is required")
	}
	if err := access.Require(ctx, s.access, actor, access.ActionAdjustMaterial); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		rec, _, err := resolve(ctx, tx, key, false)
		if err != nil {
			return err
		}
		before := rec.Total
		if err := s.save(ctx, tx, rec, false, actor); err != nil {
			return err
		}
		mv := inventory.Movement{
			Op:           inventory.OpRecalculate,
			Direction:    inventory.MoveAdjust,
			MaterialCode: rec.Code,
			VendorCode:   rec.Vendor,
			Before:       before,
			Delta:        rec.Total - before,
			After:        rec.Total,
			Actor:        actor,
			CreatedAt:    s.now(),
		}
		if err := tx.Journal().Append(ctx, &mv); err != nil {
			return err
		}
		m = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

type TransferRequest struct {
	materials.Key
	Qty   int64  `json:"qty"`
	From  string `json:"from_bin"`
	To    string `json:"to_bin"`
	Note  string `json:"note,omitempty"`
	Actor string `json:"-"`
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (res *binalloc.TransferResult, err error) {
	defer func(start time.Time) { s.observe("transfer", "", start, err) }(time.Now())

	if err := access.Require(ctx, s.access, req.Actor, access.ActionTransfer); err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.bins.TransferBetweenBins(ctx, tx, binalloc.Transfer{
			Key:   req.Key.Trim(),
			Qty:   req.Qty,
			From:  req.From,
			To:    req.To,
			Actor: req.Actor,
			Note:  req.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transfer recorded",
		"material", req.Key.Trim().String(), "qty", req.Qty, "from", res.Source.Code, "to", res.Dest.Code, "actor", req.Actor)
	s.alertBin(ctx, res.Dest)
	return res, nil
}

// SetBinStatus: ручная смена статуса. Понимает синонимы (trong, khoa, cach ly…).
func (s *Service) SetBinStatus(ctx context.Context, code, status, actor string) (b *bins.Bin, err error) {
	defer func(start time.Time) { s.observe("bin_status", status, start, err) }(time.Now())

	code = strings.TrimSpace(code)
	st, ok := bins.ParseStatus(status)
	switch {
	case code == "":
		return nil, errs.New(errs.Validation, "bin code is required")
	case strings.TrimSpace(status) == "" || !ok:
		return nil, errs.New(errs.Validation, "unknown bin status %q", status)
	}
	if err := access.Require(ctx, s.access, actor, access.ActionBinStatus); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		rec, prev, err := s.bins.SetStatus(ctx, tx, code, st, actor)
		if err != nil {
			return err
		}
		mv := inventory.Movement{
			Op:           inventory.OpBinStatus,
			Direction:    inventory.MoveAdjust,
			MaterialCode: rec.MaterialCode,
			VendorCode:   rec.VendorCode,
			BinCode:      rec.Code,
			Before:       rec.OccupiedQty,
			After:        rec.OccupiedQty,
			Actor:        actor,
			Note:         fmt.Sprintf("%s -> %s", prev, rec.Status),
			CreatedAt:    s.now(),
		}
		if err := tx.Journal().Append(ctx, &mv); err != nil {
			return err
		}
		b = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveMaterial удаляет карточку материала. С остатком в любом бакете: отказ.
func (s *Service) RemoveMaterial(ctx context.Context, key materials.Key, actor string) (err error) {
	defer func(start time.Time) { s.observe("remove", "", start, err) }(time.Now())

	key = key.Trim()
	if key.Code == "" {
		return errs.New(errs.Validation, "material_code is required")
	}
	if err := access.Require(ctx, s.access, actor, access.ActionRemoveMaterial); err != nil {
		return err
	}

	return s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.Materials().Get(ctx, key)
		if err != nil {
			return err
		}
		if m == nil {
			return errs.New(errs.MaterialNotFound, "material %s not found", key)
		}
		if !m.Buckets.IsZero() {
			return errs.New(errs.Validation, "material %s still holds %d", key, m.Buckets.Sum()).
				With("buckets", m.Buckets)
		}
		if err := tx.Materials().Delete(ctx, key); err != nil {
			return err
		}
		mv := inventory.Movement{
			Op:           inventory.OpRemove,
			Direction:    inventory.MoveAdjust,
			MaterialCode: key.Code,
			VendorCode:   key.Vendor,
			Actor:        actor,
			CreatedAt:    s.now(),
		}
		return tx.Journal().Append(ctx, &mv)
	})
}

// PlanPick показывает, из каких партий будет собран заказ, ничего не меняя.
func (s *Service) PlanPick(ctx context.Context, key materials.Key, qty int64) (fefo.Plan, error) {
	if strings.TrimSpace(key.Code) == "" {
		return nil, errs.New(errs.Validation, "material_code is required")
	}
	var plan fefo.Plan
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		m, _, err := resolve(ctx, tx, key.Trim(), false)
		if err != nil {
			return err
		}
		plan, err = s.fefo.Plan(ctx, tx, m.Key, qty)
		return err
	})
	return plan, err
}

// SuggestPutaway: nil, если свободной подходящей ячейки нет.
func (s *Service) SuggestPutaway(ctx context.Context, key materials.Key) (*bins.Bin, error) {
	key = key.Trim()
	if key.Code == "" {
		return nil, errs.New(errs.Validation, "material_code is required")
	}
	var b *bins.Bin
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		b, err = s.bins.SuggestPutawayBin(ctx, tx, key)
		return err
	})
	return b, err
}

func (s *Service) History(ctx context.Context, key materials.Key, limit int) ([]inventory.Movement, error) {
	key = key.Trim()
	if key.Code == "" {
		return nil, errs.New(errs.Validation, "material_code is required")
	}
	var out []inventory.Movement
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Journal().List(ctx, key, limit)
		return err
	})
	return out, err
}
