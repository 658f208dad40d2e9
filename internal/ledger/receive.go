package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/infra/notify"
	"github.com/Spok95/binledger/internal/store"
)

type ReceiveMode string

const (
	ReceiveLineReturn        ReceiveMode = "line_return"
	ReceiveLineDefect        ReceiveMode = "line_defect"
	ReceiveExternalNew       ReceiveMode = "external_new"
	ReceiveImprovement       ReceiveMode = "improvement"
	ReceiveBorrowReturn      ReceiveMode = "borrow_return"
	ReceiveStaging           ReceiveMode = "staging"
	ReceiveInspectionRelease ReceiveMode = "inspection_release"
)

var receipts = map[ReceiveMode]transition{
	ReceiveLineReturn:        {from: materials.BucketLineReserved, to: materials.BucketAvailable, short: errs.InsufficientBalance},
	ReceiveLineDefect:        {from: materials.BucketLineReserved, to: materials.BucketDefective, short: errs.InsufficientBalance},
	ReceiveExternalNew:       {to: materials.BucketAvailable},
	ReceiveImprovement:       {to: materials.BucketImprovementHold},
	ReceiveBorrowReturn:      {from: materials.BucketBorrowed, to: materials.BucketAvailable, short: errs.InsufficientBalance},
	ReceiveStaging:           {to: materials.BucketPendingInspection},
	ReceiveInspectionRelease: {from: materials.BucketPendingInspection, to: materials.BucketAvailable, short: errs.InsufficientBalance},
}

// createsMaterial: режимы, которые заводят неизвестный материал.
func (m ReceiveMode) createsMaterial() bool {
	return m == ReceiveExternalNew || m == ReceiveStaging
}

// lotPolicy: заводится ли партия и можно ли сразу из неё списывать.
func (m ReceiveMode) lotPolicy() (create, usable bool) {
	switch m {
	case ReceiveLineReturn, ReceiveExternalNew, ReceiveBorrowReturn:
		return true, true
	case ReceiveStaging:
		return true, false
	}
	return false, false
}

type ReceiveRequest struct {
	materials.Key
	Qty        int64       `json:"qty"`
	Mode       ReceiveMode `json:"mode"`
	Unit       string      `json:"unit,omitempty"`
	BinCode    string      `json:"bin_code,omitempty"`
	LotNo      string      `json:"lot_no,omitempty"`
	ExpiryDate *time.Time  `json:"-"`
	Name       string      `json:"name,omitempty"`
	Note       string      `json:"note,omitempty"`
	// Putaway: подобрать ячейку, если BinCode не задан.
	Putaway bool   `json:"putaway,omitempty"`
	Actor   string `json:"-"`
}

func (r *ReceiveRequest) validate() (transition, error) {
	t, ok := receipts[r.Mode]
	switch {
	case r.Code == "":
		return t, errs.New(errs.Validation, "material_code is required")
	case r.Qty <= 0:
		return t, errs.New(errs.Validation, "qty must be > 0")
	case !ok:
		return t, errs.New(errs.Validation, "unknown receive mode %q", r.Mode)
	}
	return t, nil
}

// Receive проводит приход по режиму одной транзакцией.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (res *Result, err error) {
	defer func(start time.Time) { s.observe("receive", string(req.Mode), start, err) }(time.Now())

	req.Key = req.Key.Trim()
	t, err := req.validate()
	if err != nil {
		return nil, err
	}
	if err := access.Require(ctx, s.access, req.Actor, access.ActionReceive); err != nil {
		return nil, err
	}

	var defect *inventory.DefectNote
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		m, created, err := resolve(ctx, tx, req.Key, req.Mode.createsMaterial())
		if err != nil {
			return err
		}
		if err := checkUnit(m, req.Unit); err != nil {
			return err
		}
		if created {
			m.Name = strings.TrimSpace(req.Name)
			m.Unit = strings.TrimSpace(req.Unit)
		}

		before := m.Buckets.Get(t.to)
		if err := t.apply(m, req.Qty); err != nil {
			return err
		}
		if err := s.save(ctx, tx, m, created, req.Actor); err != nil {
			return err
		}

		out := &Result{Material: m}
		if err := s.placeReceipt(ctx, tx, m.Key, req, out); err != nil {
			return err
		}

		dir := inventory.MoveIn
		if req.Mode == ReceiveInspectionRelease {
			// товар уже учтён приходом в staging
			dir = inventory.MoveAdjust
		}
		out.Movement = inventory.Movement{
			Op:           inventory.ReceiveOp(string(req.Mode)),
			Direction:    dir,
			MaterialCode: m.Code,
			VendorCode:   m.Vendor,
			Bucket:       t.to,
			Before:       before,
			Delta:        req.Qty,
			After:        m.Buckets.Get(t.to),
			Actor:        req.Actor,
			Note:         req.Note,
			CreatedAt:    s.now(),
		}
		if out.Bin != nil {
			out.Movement.BinCode = out.Bin.Code
		}
		if err := tx.Journal().Append(ctx, &out.Movement); err != nil {
			return err
		}

		if req.Mode == ReceiveLineDefect {
			defect = &inventory.DefectNote{
				MaterialCode: m.Code,
				VendorCode:   m.Vendor,
				Qty:          req.Qty,
				BinCode:      out.Movement.BinCode,
				Actor:        req.Actor,
				Note:         req.Note,
				CreatedAt:    s.now(),
			}
			if err := tx.Journal().AppendDefect(ctx, defect); err != nil {
				return err
			}
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("receipt recorded",
		"material", res.Material.Key.String(), "mode", req.Mode, "qty", req.Qty,
		"bin", res.Movement.BinCode, "actor", req.Actor)
	if defect != nil {
		notify.Send(ctx, s.notify, s.log, notify.DefectText(*defect))
	}
	s.alertBin(ctx, res.Bin)
	return res, nil
}

func (s *Service) placeReceipt(ctx context.Context, tx store.Tx, key materials.Key, req ReceiveRequest, out *Result) error {
	if req.Mode == ReceiveInspectionRelease {
		return s.releaseInspected(ctx, tx, key, req, out)
	}

	code := strings.TrimSpace(req.BinCode)
	if code == "" && req.Mode == ReceiveStaging {
		code = s.stagingBin
	}
	if code == "" && req.Putaway {
		b, err := s.bins.SuggestPutawayBin(ctx, tx, key)
		if err != nil {
			return err
		}
		if b == nil {
			return errs.New(errs.BinNotFound, "no bin can take %s", key)
		}
		code = b.Code
	}
	if code == "" {
		return nil
	}

	var (
		b   *bins.Bin
		err error
	)
	switch req.Mode {
	case ReceiveLineDefect:
		b, err = s.bins.AssignDefective(ctx, tx, code, key, req.Qty, req.Actor)
	case ReceiveStaging:
		b, err = s.bins.AssignToBin(ctx, tx, code, key, req.Qty, bins.StatusQuarantine, req.Actor)
	default:
		b, err = s.bins.AssignToBin(ctx, tx, code, key, req.Qty, "", req.Actor)
	}
	if err != nil {
		return err
	}
	out.Bin = b

	create, usable := req.Mode.lotPolicy()
	if !create {
		return nil
	}
	l := &lots.Lot{
		ID:           uuid.NewString(),
		LotNo:        strings.TrimSpace(req.LotNo),
		MaterialCode: key.Code,
		VendorCode:   key.Vendor,
		BinCode:      b.Code,
		ExpiryDate:   req.ExpiryDate,
		ReceivedQty:  req.Qty,
		RemainingQty: req.Qty,
		Usable:       usable,
		CreatedAt:    s.now(),
	}
	if err := tx.Lots().Insert(ctx, l); err != nil {
		return err
	}
	out.Lot = l
	return nil
}

// releaseInspected открывает для списания партии, прошедшие проверку. Карантин
// снимается, когда в ячейке не осталось непроверенных партий.
func (s *Service) releaseInspected(ctx context.Context, tx store.Tx, key materials.Key, req ReceiveRequest, out *Result) error {
	code := strings.TrimSpace(req.BinCode)
	if code == "" {
		code = s.stagingBin
	}
	released, err := s.fefo.Release(ctx, tx, key, code, req.Qty)
	if err != nil {
		return err
	}
	if released < req.Qty {
		return errs.New(errs.InsufficientLots, "bin %s holds %d uninspected %s, release of %d refused", code, released, key, req.Qty).
			With("bin_code", code).
			With("available", released)
	}

	b, err := tx.Bins().Get(ctx, code)
	if err != nil || b == nil {
		return err
	}
	resident, err := tx.Lots().ListInBin(ctx, code, key)
	if err != nil {
		return err
	}
	for _, l := range resident {
		if !l.Usable {
			out.Bin = b
			return nil
		}
	}
	if b.Status == bins.StatusQuarantine {
		if b, _, err = s.bins.SetStatus(ctx, tx, code, bins.StatusOccupied, req.Actor); err != nil {
			return err
		}
	}
	out.Bin = b
	return nil
}
