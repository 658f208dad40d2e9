package bins

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/infra/db"
)

// Store: хранилище ячеек. Get* возвращают (nil, nil), если ячейки нет.
type Store interface {
	Get(ctx context.Context, code string) (*Bin, error)
	GetBySeq(ctx context.Context, seq int64) (*Bin, error)
	FindByLocation(ctx context.Context, loc Location, key materials.Key) (*Bin, error)
	// ListOrdered: все ячейки в порядке (Layout, Rack, Bin).
	ListOrdered(ctx context.Context) ([]Bin, error)
	Insert(ctx context.Context, b *Bin) error
	Update(ctx context.Context, b *Bin) error
}

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

const selectColumns = `
	id, seq, code, rack, layout, slot, zone,
	material_code, vendor_code, name, unit,
	occupied_qty, defective_qty, stock_qty, capacity, status, note,
	updated_by, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanBin(row scanner) (*Bin, error) {
	var b Bin
	var status string
	if err := row.Scan(
		&b.ID, &b.Seq, &b.Code, &b.Rack, &b.Layout, &b.Slot, &b.Zone,
		&b.MaterialCode, &b.VendorCode, &b.Name, &b.Unit,
		&b.OccupiedQty, &b.DefectiveQty, &b.StockQty, &b.Capacity, &status, &b.Note,
		&b.UpdatedBy, &b.UpdatedAt, &b.Version,
	); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}

func (r *Repo) getOne(ctx context.Context, where string, args ...any) (*Bin, error) {
	b, err := scanBin(r.q.QueryRow(ctx, `SELECT `+selectColumns+` FROM bins WHERE `+where+` LIMIT 1`, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select bin: %w", err)
	}
	return b, nil
}

func (r *Repo) Get(ctx context.Context, code string) (*Bin, error) {
	return r.getOne(ctx, `code = $1`, code)
}

func (r *Repo) GetBySeq(ctx context.Context, seq int64) (*Bin, error) {
	return r.getOne(ctx, `seq = $1`, seq)
}

func (r *Repo) FindByLocation(ctx context.Context, loc Location, key materials.Key) (*Bin, error) {
	return r.getOne(ctx, `
		rack = $1 AND slot = $2 AND layout = $3 AND vendor_code = $4 AND material_code = $5
		ORDER BY id`,
		loc.Rack, loc.Slot, loc.Layout, key.Vendor, key.Code)
}

func (r *Repo) ListOrdered(ctx context.Context) ([]Bin, error) {
	rows, err := r.q.Query(ctx, `SELECT `+selectColumns+` FROM bins ORDER BY layout, rack, slot, code`)
	if err != nil {
		return nil, fmt.Errorf("list bins: %w", err)
	}
	defer rows.Close()

	var out []Bin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repo) Insert(ctx context.Context, b *Bin) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO bins (
			seq, code, rack, layout, slot, zone,
			material_code, vendor_code, name, unit,
			occupied_qty, defective_qty, stock_qty, capacity, status, note,
			updated_by, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id, version
	`,
		b.Seq, b.Code, b.Rack, b.Layout, b.Slot, b.Zone,
		b.MaterialCode, b.VendorCode, b.Name, b.Unit,
		b.OccupiedQty, b.DefectiveQty, b.StockQty, b.Capacity, string(b.Status), b.Note,
		b.UpdatedBy, b.UpdatedAt,
	).Scan(&b.ID, &b.Version)
	if db.IsUniqueViolation(err) {
		return errs.Wrap(errs.Duplicate, err, fmt.Sprintf("bin %s already exists", b.Code))
	}
	if err != nil {
		return fmt.Errorf("insert bin: %w", err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, b *Bin) error {
	err := r.q.QueryRow(ctx, `
		UPDATE bins SET
			seq=$3, code=$4, rack=$5, layout=$6, slot=$7, zone=$8,
			material_code=$9, vendor_code=$10, name=$11, unit=$12,
			occupied_qty=$13, defective_qty=$14, stock_qty=$15, capacity=$16, status=$17, note=$18,
			updated_by=$19, updated_at=$20, version = version + 1
		WHERE id=$1 AND version=$2
		RETURNING version
	`,
		b.ID, b.Version,
		b.Seq, b.Code, b.Rack, b.Layout, b.Slot, b.Zone,
		b.MaterialCode, b.VendorCode, b.Name, b.Unit,
		b.OccupiedQty, b.DefectiveQty, b.StockQty, b.Capacity, string(b.Status), b.Note,
		b.UpdatedBy, b.UpdatedAt,
	).Scan(&b.Version)
	if err == pgx.ErrNoRows {
		return errs.New(errs.Conflict, "bin %s was changed concurrently", b.Code)
	}
	if db.IsUniqueViolation(err) {
		return errs.Wrap(errs.Duplicate, err, fmt.Sprintf("bin code %s is already used", b.Code))
	}
	if err != nil {
		return fmt.Errorf("update bin: %w", err)
	}
	return nil
}
