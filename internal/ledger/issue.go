package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

type IssueMode string

const (
	IssueToLine            IssueMode = "to_line"
	IssueToImprovement     IssueMode = "to_improvement"
	IssueExternalOut       IssueMode = "external_out"
	IssueImprovementReturn IssueMode = "improvement_return"
)

var issues = map[IssueMode]transition{
	IssueToLine:            {from: materials.BucketAvailable, to: materials.BucketLineReserved, short: errs.InsufficientStock},
	IssueToImprovement:     {from: materials.BucketAvailable, to: materials.BucketImprovementHold, short: errs.InsufficientStock},
	IssueExternalOut:       {from: materials.BucketAvailable, short: errs.InsufficientStock},
	IssueImprovementReturn: {from: materials.BucketImprovementHold, to: materials.BucketAvailable, short: errs.InsufficientBalance},
}

type IssueRequest struct {
	materials.Key
	Qty     int64     `json:"qty"`
	Mode    IssueMode `json:"mode"`
	Unit    string    `json:"unit,omitempty"`
	BinCode string    `json:"bin_code,omitempty"`
	FEFO    bool      `json:"fefo,omitempty"`
	Note    string    `json:"note,omitempty"`
	Actor   string    `json:"-"`
}

func (r *IssueRequest) validate() (transition, error) {
	t, ok := issues[r.Mode]
	switch {
	case r.Code == "":
		return t, errs.New(errs.Validation, "material_code is required")
	case r.Qty <= 0:
		return t, errs.New(errs.Validation, "qty must be > 0")
	case !ok:
		return t, errs.New(errs.Validation, "unknown issue mode %q", r.Mode)
	}
	return t, nil
}

// Issue проводит расход. Всё, кроме external_out, сверяется с журналом:
// выдать больше, чем когда-либо пришло, нельзя.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (res *Result, err error) {
	defer func(start time.Time) { s.observe("issue", string(req.Mode), start, err) }(time.Now())

	req.Key = req.Key.Trim()
	t, err := req.validate()
	if err != nil {
		return nil, err
	}
	if err := access.Require(ctx, s.access, req.Actor, access.ActionIssue); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		m, _, err := resolve(ctx, tx, req.Key, false)
		if err != nil {
			return err
		}
		if err := checkUnit(m, req.Unit); err != nil {
			return err
		}

		before := m.Buckets.Get(t.from)
		if err := t.apply(m, req.Qty); err != nil {
			return err
		}
		if req.Mode != IssueExternalOut {
			totals, err := tx.Journal().Totals(ctx, m.Key)
			if err != nil {
				return err
			}
			if totals.Out+req.Qty > totals.In {
				return errs.New(errs.OverIssue, "%s: issued %d of %d received, requested %d more", m.Key, totals.Out, totals.In, req.Qty).
					With("received", totals.In).
					With("issued", totals.Out)
			}
		}

		out := &Result{Material: m}
		if t.from == materials.BucketAvailable {
			if err := s.pick(ctx, tx, m.Key, req, out); err != nil {
				return err
			}
		}
		if err := s.save(ctx, tx, m, false, req.Actor); err != nil {
			return err
		}

		out.Movement = inventory.Movement{
			Op:           inventory.IssueOp(string(req.Mode)),
			Direction:    inventory.MoveOut,
			MaterialCode: m.Code,
			VendorCode:   m.Vendor,
			Bucket:       t.from,
			Before:       before,
			Delta:        -req.Qty,
			After:        m.Buckets.Get(t.from),
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
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("issue recorded",
		"material", res.Material.Key.String(), "mode", req.Mode, "qty", req.Qty,
		"fefo", req.FEFO, "actor", req.Actor)
	s.alertLowStock(ctx, res.Material)
	return res, nil
}

// pick снимает товар с ячеек: по плану FEFO или из указанной ячейки.
// Без того и другого меняются только бакеты.
func (s *Service) pick(ctx context.Context, tx store.Tx, key materials.Key, req IssueRequest, out *Result) error {
	code := strings.TrimSpace(req.BinCode)
	switch {
	case req.FEFO:
		plan, err := s.fefo.Plan(ctx, tx, key, req.Qty)
		if err != nil {
			return err
		}
		if err := s.fefo.Apply(ctx, tx, key, plan, req.Actor); err != nil {
			return err
		}
		out.Plan = plan
	case code != "":
		b, err := s.bins.RemoveFromBin(ctx, tx, code, key, req.Qty, req.Actor)
		if err != nil {
			return err
		}
		plan, err := s.fefo.DrainBin(ctx, tx, key, code, req.Qty)
		if err != nil {
			return err
		}
		out.Bin, out.Plan = b, plan
	}
	return nil
}
