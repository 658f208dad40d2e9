package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

// CountRequest: что кладовщик отсканировал в ячейке. Партия узнаётся по
// номеру, а без номера по идентификатору.
type CountRequest struct {
	BinCode string   `json:"bin_code"`
	Scanned []string `json:"scanned"`
	Actor   string   `json:"-"`
}

type CountResult struct {
	Bin       *bins.Bin          `json:"bin"`
	Missing   []string           `json:"missing"`
	Extra     []string           `json:"extra"`
	// Suggested: статус, который подтвердит пересчёт, когда ячейку разблокируют.
	Suggested bins.Status        `json:"suggested_status"`
	Movement  inventory.Movement `json:"movement"`
}

func lotRef(id, no string) string {
	if no = strings.TrimSpace(no); no != "" {
		return no
	}
	return id
}

// CountBin сверяет отсканированные партии с учётными и блокирует ячейку
// на время разбора расхождений. Количества не меняются.
func (s *Service) CountBin(ctx context.Context, req CountRequest) (res *CountResult, err error) {
	defer func(start time.Time) { s.observe("bin_count", "", start, err) }(time.Now())

	code := strings.TrimSpace(req.BinCode)
	if code == "" {
		return nil, errs.New(errs.Validation, "bin code is required")
	}
	if err := access.Require(ctx, s.access, req.Actor, access.ActionBinStatus); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.Bins().Get(ctx, code)
		if err != nil {
			return err
		}
		if b == nil {
			return errs.New(errs.BinNotFound, "bin %s not found", code)
		}

		system := map[string]bool{}
		if b.Assigned() {
			resident, err := tx.Lots().ListInBin(ctx, code, materials.Key{Code: b.MaterialCode, Vendor: b.VendorCode})
			if err != nil {
				return err
			}
			for _, l := range resident {
				system[lotRef(l.ID, l.LotNo)] = true
			}
		}
		actual := map[string]bool{}
		for _, ref := range req.Scanned {
			if ref = strings.TrimSpace(ref); ref != "" {
				actual[ref] = true
			}
		}

		out := &CountResult{Missing: []string{}, Extra: []string{}, Suggested: bins.StatusOccupied}
		for ref := range system {
			if !actual[ref] {
				out.Missing = append(out.Missing, ref)
			}
		}
		for ref := range actual {
			if !system[ref] {
				out.Extra = append(out.Extra, ref)
			}
		}
		sort.Strings(out.Missing)
		sort.Strings(out.Extra)
		if len(actual) == 0 {
			out.Suggested = bins.StatusEmpty
		}

		rec, prev, err := s.bins.SetStatus(ctx, tx, code, bins.StatusLocked, req.Actor)
		if err != nil {
			return err
		}
		out.Bin = rec
		out.Movement = inventory.Movement{
			Op:           inventory.OpBinCount,
			Direction:    inventory.MoveAdjust,
			MaterialCode: rec.MaterialCode,
			VendorCode:   rec.VendorCode,
			BinCode:      rec.Code,
			Before:       rec.OccupiedQty,
			After:        rec.OccupiedQty,
			Actor:        req.Actor,
			Note:         fmt.Sprintf("%s -> %s, missing %d, extra %d", prev, rec.Status, len(out.Missing), len(out.Extra)),
			CreatedAt:    s.now(),
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

	s.log.Info("bin counted", "bin", code, "missing", len(res.Missing), "extra", len(res.Extra), "actor", req.Actor)
	return res, nil
}
