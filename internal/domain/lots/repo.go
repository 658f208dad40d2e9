package lots

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/infra/db"
)

type Store interface {
	Get(ctx context.Context, id string) (*Lot, error)
	// ListDrawable: пригодные партии с остатком > 0, уже в порядке FEFO.
	ListDrawable(ctx context.Context, key materials.Key) ([]Lot, error)
	// ListInBin: все партии материала в ячейке с остатком > 0 (включая непригодные).
	ListInBin(ctx context.Context, binCode string, key materials.Key) ([]Lot, error)
	// Insert присваивает ReceivedSeq из последовательности, если он не задан.
	Insert(ctx context.Context, l *Lot) error
	Update(ctx context.Context, l *Lot) error
}

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

const selectColumns = `
	id, lot_no, material_code, vendor_code, bin_code, expiry_date,
	received_seq, received_qty, remaining_qty, usable, created_at, version`

func scanLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(
			&l.ID, &l.LotNo, &l.MaterialCode, &l.VendorCode, &l.BinCode, &l.ExpiryDate,
			&l.ReceivedSeq, &l.ReceivedQty, &l.RemainingQty, &l.Usable, &l.CreatedAt, &l.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (*Lot, error) {
	rows, err := r.q.Query(ctx, `SELECT `+selectColumns+` FROM lots WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("select lot: %w", err)
	}
	list, err := scanLots(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *Repo) ListDrawable(ctx context.Context, key materials.Key) ([]Lot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+selectColumns+`
		FROM lots
		WHERE material_code = $1 AND vendor_code = $2 AND usable AND remaining_qty > 0
		ORDER BY expiry_date ASC NULLS LAST, received_seq ASC
	`, key.Code, key.Vendor)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return scanLots(rows)
}

func (r *Repo) ListInBin(ctx context.Context, binCode string, key materials.Key) ([]Lot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+selectColumns+`
		FROM lots
		WHERE bin_code = $1 AND material_code = $2 AND vendor_code = $3 AND remaining_qty > 0
		ORDER BY expiry_date ASC NULLS LAST, received_seq ASC
	`, binCode, key.Code, key.Vendor)
	if err != nil {
		return nil, fmt.Errorf("list lots in bin: %w", err)
	}
	return scanLots(rows)
}

func (r *Repo) Insert(ctx context.Context, l *Lot) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO lots (
			id, lot_no, material_code, vendor_code, bin_code, expiry_date,
			received_seq, received_qty, remaining_qty, usable, created_at
		) VALUES ($1,$2,$3,$4,$5,$6, COALESCE(NULLIF($7::bigint, 0), nextval('lot_received_seq')), $8,$9,$10,$11)
		RETURNING received_seq, version
	`,
		l.ID, l.LotNo, l.MaterialCode, l.VendorCode, l.BinCode, l.ExpiryDate,
		l.ReceivedSeq, l.ReceivedQty, l.RemainingQty, l.Usable, l.CreatedAt,
	).Scan(&l.ReceivedSeq, &l.Version)
	if db.IsUniqueViolation(err) {
		return errs.Wrap(errs.Duplicate, err, fmt.Sprintf("lot %s already exists", l.ID))
	}
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, l *Lot) error {
	err := r.q.QueryRow(ctx, `
		UPDATE lots SET bin_code=$3, remaining_qty=$4, usable=$5, version = version + 1
		WHERE id=$1 AND version=$2
		RETURNING version
	`, l.ID, l.Version, l.BinCode, l.RemainingQty, l.Usable).Scan(&l.Version)
	if err == pgx.ErrNoRows {
		return errs.New(errs.Conflict, "lot %s was changed concurrently", l.ID)
	}
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	return nil
}
