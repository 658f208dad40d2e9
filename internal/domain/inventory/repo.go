package inventory

import (
	"context"
	"fmt"

	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/infra/db"
)

type Store interface {
	Append(ctx context.Context, m *Movement) error
	// Totals суммирует модули дельт приходов (in) и расходов (out) материала.
	Totals(ctx context.Context, key materials.Key) (Totals, error)
	// List: последние движения материала, новые первыми.
	List(ctx context.Context, key materials.Key, limit int) ([]Movement, error)
	AppendDefect(ctx context.Context, n *DefectNote) error
}

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

func (r *Repo) Append(ctx context.Context, m *Movement) error {
	m.EnsureID()
	if _, err := r.q.Exec(ctx, `
		INSERT INTO movements (
			id, op, direction, material_code, vendor_code, bucket, bin_code, to_bin_code,
			before_qty, delta_qty, after_qty, actor, note, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		m.ID, string(m.Op), string(m.Direction), m.MaterialCode, m.VendorCode, string(m.Bucket), m.BinCode, m.ToBinCode,
		m.Before, m.Delta, m.After, m.Actor, m.Note, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

func (r *Repo) Totals(ctx context.Context, key materials.Key) (Totals, error) {
	var t Totals
	err := r.q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(ABS(delta_qty)) FILTER (WHERE direction = 'in'), 0),
			COALESCE(SUM(ABS(delta_qty)) FILTER (WHERE direction = 'out'), 0)
		FROM movements
		WHERE material_code = $1 AND vendor_code = $2
	`, key.Code, key.Vendor).Scan(&t.In, &t.Out)
	if err != nil {
		return t, fmt.Errorf("movement totals: %w", err)
	}
	return t, nil
}

func (r *Repo) List(ctx context.Context, key materials.Key, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, op, direction, material_code, vendor_code, bucket, bin_code, to_bin_code,
		       before_qty, delta_qty, after_qty, actor, note, created_at
		FROM movements
		WHERE material_code = $1 AND vendor_code = $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, key.Code, key.Vendor, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var op, dir, bucket string
		if err := rows.Scan(
			&m.ID, &op, &dir, &m.MaterialCode, &m.VendorCode, &bucket, &m.BinCode, &m.ToBinCode,
			&m.Before, &m.Delta, &m.After, &m.Actor, &m.Note, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Op, m.Direction, m.Bucket = OpType(op), MoveType(dir), materials.Bucket(bucket)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) AppendDefect(ctx context.Context, n *DefectNote) error {
	n.EnsureID()
	if _, err := r.q.Exec(ctx, `
		INSERT INTO defect_notes (id, material_code, vendor_code, qty, bin_code, actor, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, n.ID, n.MaterialCode, n.VendorCode, n.Qty, n.BinCode, n.Actor, n.Note, n.CreatedAt); err != nil {
		return fmt.Errorf("append defect note: %w", err)
	}
	return nil
}
