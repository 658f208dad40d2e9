package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/infra/metrics"
	"github.com/Spok95/binledger/internal/infra/notify"
	"github.com/Spok95/binledger/internal/store"
)

const (
	ModePreview = "preview"
	ModeCommit  = "commit"

	DecisionSkip = "skip"
)

type Outcome string

const (
	OutcomeMatch   Outcome = "match"
	OutcomeNew     Outcome = "new"
	OutcomeInvalid Outcome = "invalid"
	OutcomeSkip    Outcome = "skip"
)

const reasonRepeatedKey = "duplicate decision key in batch"

// entity: правила одной сущности поверх общего нормализатора.
type entity interface {
	schema() *Schema
	// check: missing=true, когда у строки нет ключевых полей.
	check(r Row) (missing bool, err error)
	key(r Row) string
	natural(r Row) string
	find(ctx context.Context, tx store.Tx, r Row) (any, error)
	apply(ctx context.Context, tx store.Tx, r Row, actor string, now time.Time) (inserted bool, err error)
}

var entities = map[string]entity{
	MaterialSchema.Entity: materialRows{},
	BinSchema.Entity:      binRows{},
}

// SchemaFor: схема по имени сущности из URL.
func SchemaFor(name string) (*Schema, error) {
	e, ok := entities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errs.New(errs.Validation, "unknown import entity %q", name)
	}
	return e.schema(), nil
}

type Decision struct {
	Index      int     `json:"index"`
	Key        string  `json:"key"`
	Outcome    Outcome `json:"outcome"`
	Record     Row     `json:"record"`
	Existing   any     `json:"existing,omitempty"`
	PendingKey string  `json:"pending_key,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type Summary struct {
	Inserts    []Decision `json:"inserts"`
	Overwrites []Decision `json:"overwrites"`
	Invalid    []Decision `json:"invalid"`
	// Skipped: строки, которые commit пропустит в любом случае (повтор ключа решения).
	Skipped    []Decision `json:"skipped"`
}

type Preview struct {
	Records []Row   `json:"records"`
	Summary Summary `json:"summary"`
	Headers Headers `json:"headers"`
}

type RowResult struct {
	Index  int       `json:"index"`
	Key    string    `json:"key"`
	Kind   errs.Kind `json:"kind,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type CommitResult struct {
	Inserted []RowResult `json:"inserted"`
	Updated  []RowResult `json:"updated"`
	Skipped  []RowResult `json:"skipped"`
	Invalid  []RowResult `json:"invalid"`
	Rows     int         `json:"rows"`
}

type Commit struct {
	Result CommitResult `json:"result"`
}

// Request: тело запроса импорта.
type Request struct {
	Records   []RawRow          `json:"records"`
	Mode      string            `json:"mode"`
	Decisions map[string]string `json:"decisions,omitempty"`
	Actor     string            `json:"-"`
}

type Deps struct {
	Store   store.Store
	Access  access.Checker
	Notify  notify.Notifier
	Metrics *metrics.Metrics
	Log     *slog.Logger
	Now     func() time.Time
	// MaxRows: предел строк в одной загрузке, 0 снимает предел.
	MaxRows int
}

type Reconciler struct {
	store   store.Store
	access  access.Checker
	notify  notify.Notifier
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
	maxRows int
}

func New(d Deps) *Reconciler {
	if d.Access == nil {
		d.Access = access.AllowAll{}
	}
	if d.Notify == nil {
		d.Notify = notify.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Reconciler{
		store:   d.Store,
		access:  d.Access,
		notify:  d.Notify,
		metrics: d.Metrics,
		log:     d.Log,
		now:     d.Now,
		maxRows: d.MaxRows,
	}
}

// Run разбирает режим запроса: preview (по умолчанию) или commit.
func (r *Reconciler) Run(ctx context.Context, name string, req Request) (any, error) {
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", ModePreview:
		return r.Preview(ctx, name, req.Records)
	case ModeCommit:
		res, err := r.Commit(ctx, name, req.Records, req.Decisions, req.Actor)
		if err != nil {
			return nil, err
		}
		return &Commit{Result: *res}, nil
	default:
		return nil, errs.New(errs.Validation, "unknown import mode %q", req.Mode)
	}
}

func (r *Reconciler) lookupEntity(name string, rows []RawRow) (entity, error) {
	e, ok := entities[strings.ToLower(strings.TrimSpace(name))]
	switch {
	case !ok:
		return nil, errs.New(errs.Validation, "unknown import entity %q", name)
	case len(rows) == 0:
		return nil, errs.New(errs.Validation, "no records to import")
	case r.maxRows > 0 && len(rows) > r.maxRows:
		return nil, errs.New(errs.Validation, "%d rows exceed the limit of %d", len(rows), r.maxRows).
			With("max_rows", r.maxRows)
	}
	return e, nil
}

// Preview классифицирует строки, ничего не записывая, так же как их проведёт Commit.
// Повторная строка с тем же естественным ключом, что и новая строка выше, считается
// совпадением с ней; повтор ключа решения попадает в Skipped.
func (r *Reconciler) Preview(ctx context.Context, name string, raw []RawRow) (p *Preview, err error) {
	defer func(start time.Time) { r.metrics.ObserveOp("import", ModePreview, err, time.Since(start)) }(time.Now())

	e, err := r.lookupEntity(name, raw)
	if err != nil {
		return nil, err
	}
	rows, headers := e.schema().Normalize(raw)
	out := &Preview{
		Records: make([]Row, 0, len(rows)),
		Summary: Summary{Inserts: []Decision{}, Overwrites: []Decision{}, Invalid: []Decision{}, Skipped: []Decision{}},
	}

	err = r.store.ReadOnly(ctx, func(tx store.Tx) error {
		pending := map[string]string{}
		seen := map[string]bool{}
		for _, row := range rows {
			d := Decision{Index: row.Index, Key: e.key(row), Record: row}
			if missing, err := e.check(row); err != nil {
				if missing {
					headers.MissingKeyCount++
				}
				d.Outcome, d.Reason = OutcomeInvalid, errs.Message(err)
				out.Summary.Invalid = append(out.Summary.Invalid, d)
				continue
			}
			if seen[d.Key] {
				d.Outcome, d.Reason = OutcomeSkip, reasonRepeatedKey
				out.Summary.Skipped = append(out.Summary.Skipped, d)
				continue
			}
			seen[d.Key] = true
			out.Records = append(out.Records, row)

			existing, err := e.find(ctx, tx, row)
			if err != nil {
				return err
			}
			nat := e.natural(row)
			switch {
			case existing != nil:
				d.Outcome, d.Existing = OutcomeMatch, existing
				out.Summary.Overwrites = append(out.Summary.Overwrites, d)
			case pending[nat] != "":
				d.Outcome, d.PendingKey = OutcomeMatch, pending[nat]
				out.Summary.Overwrites = append(out.Summary.Overwrites, d)
			default:
				pending[nat] = d.Key
				d.Outcome = OutcomeNew
				out.Summary.Inserts = append(out.Summary.Inserts, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Headers = headers
	return out, nil
}

// rowLevel: при таких ошибках строка пропускается, пакет продолжается.
func rowLevel(err error) bool {
	switch errs.KindOf(err) {
	case errs.Duplicate, errs.Conflict, errs.BinConflict, errs.Validation, errs.CapacityExceeded:
		return true
	}
	return false
}

// Commit проводит пакет одной транзакцией, каждую строку в своей точке сохранения.
// Любая ошибка вне списка строковых откатывает весь пакет как StructuralImport.
func (r *Reconciler) Commit(ctx context.Context, name string, raw []RawRow, decisions map[string]string, actor string) (res *CommitResult, err error) {
	defer func(start time.Time) { r.metrics.ObserveOp("import", ModeCommit, err, time.Since(start)) }(time.Now())

	e, err := r.lookupEntity(name, raw)
	if err != nil {
		return nil, err
	}
	if err := access.Require(ctx, r.access, actor, access.ActionImportCommit); err != nil {
		return nil, err
	}
	rows, _ := e.schema().Normalize(raw)
	now := r.now()

	err = r.store.InTx(ctx, func(tx store.Tx) error {
		out := &CommitResult{
			Inserted: []RowResult{}, Updated: []RowResult{}, Skipped: []RowResult{}, Invalid: []RowResult{},
			Rows: len(rows),
		}
		seen := map[string]bool{}
		for _, row := range rows {
			rr := RowResult{Index: row.Index, Key: e.key(row)}
			if _, err := e.check(row); err != nil {
				rr.Kind, rr.Reason = errs.KindOf(err), errs.Message(err)
				out.Invalid = append(out.Invalid, rr)
				continue
			}
			if seen[rr.Key] {
				rr.Kind, rr.Reason = errs.RowSkipped, reasonRepeatedKey
				out.Skipped = append(out.Skipped, rr)
				continue
			}
			seen[rr.Key] = true
			if strings.EqualFold(strings.TrimSpace(decisions[rr.Key]), DecisionSkip) {
				rr.Kind, rr.Reason = errs.RowSkipped, "skipped by decision"
				out.Skipped = append(out.Skipped, rr)
				continue
			}

			var inserted bool
			err := tx.Savepoint(ctx, func(sp store.Tx) error {
				var err error
				inserted, err = e.apply(ctx, sp, row, actor, now)
				return err
			})
			switch {
			case err == nil && inserted:
				out.Inserted = append(out.Inserted, rr)
			case err == nil:
				out.Updated = append(out.Updated, rr)
			case rowLevel(err):
				rr.Kind, rr.Reason = errs.KindOf(err), errs.Message(err)
				out.Skipped = append(out.Skipped, rr)
				r.log.Debug("import row skipped", "entity", name, "row", row.Index+1, "key", rr.Key, "err", err)
			default:
				return errs.Wrap(errs.StructuralImport, err, fmt.Sprintf("row %d", row.Index+1))
			}
		}
		res = out
		return nil
	})
	if err != nil {
		r.log.Error("import aborted", "entity", name, "rows", len(rows), "actor", actor, "err", err)
		if !errs.Is(err, errs.StructuralImport) {
			err = errs.Wrap(errs.StructuralImport, err, "import aborted")
		}
		return nil, err
	}

	ent := e.schema().Entity
	r.metrics.ImportRows(ent, "inserted", len(res.Inserted))
	r.metrics.ImportRows(ent, "updated", len(res.Updated))
	r.metrics.ImportRows(ent, "skipped", len(res.Skipped))
	r.metrics.ImportRows(ent, "invalid", len(res.Invalid))
	r.log.Info("import committed",
		"entity", ent, "rows", res.Rows, "inserted", len(res.Inserted), "updated", len(res.Updated),
		"skipped", len(res.Skipped), "invalid", len(res.Invalid), "actor", actor)
	notify.Send(ctx, r.notify, r.log, fmt.Sprintf("📥 Импорт %s: добавлено %d, обновлено %d, пропущено %d, с ошибками %d",
		ent, len(res.Inserted), len(res.Updated), len(res.Skipped), len(res.Invalid)))
	return res, nil
}
