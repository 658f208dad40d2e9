package materials

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/infra/db"
)

// Store: то, что ядру нужно от хранилища материалов.
// Get/GetBySeq возвращают (nil, nil), если записи нет.
type Store interface {
	Get(ctx context.Context, key Key) (*Material, error)
	GetBySeq(ctx context.Context, seq int64) (*Material, error)
	ListByCode(ctx context.Context, code string) ([]Material, error)
	Insert(ctx context.Context, m *Material) error
	Update(ctx context.Context, m *Material) error
	Delete(ctx context.Context, key Key) error
}

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

const selectColumns = `
	id, seq, code, vendor_code,
	available, line_reserved, improvement_hold, borrowed, defective, pending_inspection,
	total, min_threshold, max_threshold,
	name, spec, model, item_type, unit, note,
	updated_by, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row scanner) (*Material, error) {
	var m Material
	if err := row.Scan(
		&m.ID, &m.Seq, &m.Code, &m.Vendor,
		&m.Available, &m.LineReserved, &m.ImprovementHold, &m.Borrowed, &m.Defective, &m.PendingInspection,
		&m.Total, &m.MinThreshold, &m.MaxThreshold,
		&m.Name, &m.Spec, &m.Model, &m.ItemType, &m.Unit, &m.Note,
		&m.UpdatedBy, &m.UpdatedAt, &m.Version,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) getOne(ctx context.Context, where string, args ...any) (*Material, error) {
	row := r.q.QueryRow(ctx, `SELECT `+selectColumns+` FROM materials WHERE `+where, args...)
	m, err := scanMaterial(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select material: %w", err)
	}
	return m, nil
}

func (r *Repo) Get(ctx context.Context, key Key) (*Material, error) {
	return r.getOne(ctx, `code = $1 AND vendor_code = $2`, key.Code, key.Vendor)
}

func (r *Repo) GetBySeq(ctx context.Context, seq int64) (*Material, error) {
	return r.getOne(ctx, `seq = $1`, seq)
}

func (r *Repo) ListByCode(ctx context.Context, code string) ([]Material, error) {
	rows, err := r.q.Query(ctx, `SELECT `+selectColumns+` FROM materials WHERE code = $1 ORDER BY vendor_code`, code)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *Repo) Insert(ctx context.Context, m *Material) error {
	m.RecalculateTotal()
	err := r.q.QueryRow(ctx, `
		INSERT INTO materials (
			seq, code, vendor_code,
			available, line_reserved, improvement_hold, borrowed, defective, pending_inspection,
			total, min_threshold, max_threshold,
			name, spec, model, item_type, unit, note, updated_by, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id, version
	`,
		m.Seq, m.Code, m.Vendor,
		m.Available, m.LineReserved, m.ImprovementHold, m.Borrowed, m.Defective, m.PendingInspection,
		m.Total, m.MinThreshold, m.MaxThreshold,
		m.Name, m.Spec, m.Model, m.ItemType, m.Unit, m.Note, m.UpdatedBy, m.UpdatedAt,
	).Scan(&m.ID, &m.Version)
	if db.IsUniqueViolation(err) {
		return errs.Wrap(errs.Duplicate, err, fmt.Sprintf("material %s already exists", m.Key))
	}
	if err != nil {
		return fmt.Errorf("insert material: %w", err)
	}
	return nil
}

// Update пишет запись целиком при совпадении версии (оптимистичная блокировка).
func (r *Repo) Update(ctx context.Context, m *Material) error {
	m.RecalculateTotal()
	err := r.q.QueryRow(ctx, `
		UPDATE materials SET
			seq=$3, vendor_code=$4,
			available=$5, line_reserved=$6, improvement_hold=$7, borrowed=$8, defective=$9, pending_inspection=$10,
			total=$11, min_threshold=$12, max_threshold=$13,
			name=$14, spec=$15, model=$16, item_type=$17, unit=$18, note=$19,
			updated_by=$20, updated_at=$21, version = version + 1
		WHERE id=$1 AND version=$2
		RETURNING version
	`,
		m.ID, m.Version,
		m.Seq, m.Vendor,
		m.Available, m.LineReserved, m.ImprovementHold, m.Borrowed, m.Defective, m.PendingInspection,
		m.Total, m.MinThreshold, m.MaxThreshold,
		m.Name, m.Spec, m.Model, m.ItemType, m.Unit, m.Note,
		m.UpdatedBy, m.UpdatedAt,
	).Scan(&m.Version)
	if err == pgx.ErrNoRows {
		return errs.New(errs.Conflict, "material %s was changed concurrently", m.Key)
	}
	if db.IsUniqueViolation(err) {
		return errs.Wrap(errs.Duplicate, err, fmt.Sprintf("material %s conflicts with an existing record", m.Key))
	}
	if err != nil {
		return fmt.Errorf("update material: %w", err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, key Key) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM materials WHERE code=$1 AND vendor_code=$2`, key.Code, key.Vendor)
	if err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.MaterialNotFound, "material %s not found", key)
	}
	return nil
}
