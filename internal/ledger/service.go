// Package ledger: точки входа складского учёта. Каждая операция проверяет права,
// открывает ровно одну транзакцию и пишет одну запись журнала; оповещения и
// метрики отправляются уже после коммита.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/binalloc"
	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/fefo"
	"github.com/Spok95/binledger/internal/infra/metrics"
	"github.com/Spok95/binledger/internal/infra/notify"
	"github.com/Spok95/binledger/internal/store"
)

const DefaultStagingBin = "TEMP-BIN-01"

type Deps struct {
	Store   store.Store
	Access  access.Checker
	Notify  notify.Notifier
	Metrics *metrics.Metrics
	Log     *slog.Logger
	Now     func() time.Time

	// StagingBin: куда кладётся приёмка без указанной ячейки.
	StagingBin string
}

type Service struct {
	store      store.Store
	bins       *binalloc.Allocator
	fefo       *fefo.Sequencer
	access     access.Checker
	notify     notify.Notifier
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
	stagingBin string
}

func New(d Deps) *Service {
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
	if d.StagingBin == "" {
		d.StagingBin = DefaultStagingBin
	}
	alloc := binalloc.New(d.Now)
	return &Service{
		store:      d.Store,
		bins:       alloc,
		fefo:       fefo.New(alloc, d.Now),
		access:     d.Access,
		notify:     d.Notify,
		metrics:    d.Metrics,
		log:        d.Log,
		now:        d.Now,
		stagingBin: d.StagingBin,
	}
}

// Result: состояние после операции.
type Result struct {
	Material *materials.Material `json:"material"`
	Bin      *bins.Bin           `json:"bin,omitempty"`
	Lot      *lots.Lot           `json:"lot,omitempty"`
	Plan     fefo.Plan           `json:"plan,omitempty"`
	Movement inventory.Movement  `json:"movement"`
}

// transition переносит qty между бакетами. Пустой from означает приход извне, пустой to уход со склада.
type transition struct {
	from, to materials.Bucket
	short    errs.Kind
}

func (t transition) apply(m *materials.Material, qty int64) error {
	if t.from != "" {
		have := m.Buckets.Ref(t.from)
		if *have < qty {
			return errs.New(t.short, "%s of %s is %d, requested %d", t.from, m.Key, *have, qty).
				With("bucket", string(t.from)).
				With("available", *have)
		}
		*have -= qty
	}
	if t.to != "" {
		*m.Buckets.Ref(t.to) += qty
	}
	return nil
}

// resolve находит материал по ключу. Без вендора подходит единственная запись
// с этим кодом; несколько: AmbiguousVendor. create разрешает завести новый.
func resolve(ctx context.Context, tx store.Tx, key materials.Key, create bool) (*materials.Material, bool, error) {
	m, err := tx.Materials().Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if m != nil {
		return m, false, nil
	}
	if key.Vendor == "" {
		list, err := tx.Materials().ListByCode(ctx, key.Code)
		if err != nil {
			return nil, false, err
		}
		switch {
		case len(list) == 1:
			return &list[0], false, nil
		case len(list) > 1:
			vendors := make([]string, 0, len(list))
			for _, rec := range list {
				vendors = append(vendors, rec.Vendor)
			}
			return nil, false, errs.New(errs.AmbiguousVendor, "material %s exists under %d vendors", key.Code, len(list)).
				With("vendors", vendors)
		}
	}
	if !create {
		return nil, false, errs.New(errs.MaterialNotFound, "material %s not found", key)
	}
	return &materials.Material{Key: key}, true, nil
}

func checkUnit(m *materials.Material, unit string) error {
	if materials.SameUnit(m.Unit, unit) {
		return nil
	}
	return errs.New(errs.UnitMismatch, "%s is kept in %q, request uses %q", m.Key, m.Unit, unit).
		With("expected", m.Unit).
		With("got", unit)
}

// save пересчитывает итог, проверяет бакеты и пишет запись.
func (s *Service) save(ctx context.Context, tx store.Tx, m *materials.Material, created bool, actor string) error {
	m.Touch(actor, s.now())
	if err := m.Validate(); err != nil {
		return err
	}
	if created {
		return tx.Materials().Insert(ctx, m)
	}
	return tx.Materials().Update(ctx, m)
}

// observe пишет метрику операции; неожиданные ошибки ещё и в лог.
func (s *Service) observe(op, mode string, start time.Time, err error) {
	s.metrics.ObserveOp(op, mode, err, time.Since(start))
	if err != nil && errs.KindOf(err) == errs.Internal {
		s.log.Error("ledger operation failed", "op", op, "mode", mode, "err", err)
	}
}

func (s *Service) alertBin(ctx context.Context, b *bins.Bin) {
	if b != nil && b.Full() {
		notify.Send(ctx, s.notify, s.log, notify.BinFullText(*b))
	}
}

func (s *Service) alertLowStock(ctx context.Context, m *materials.Material) {
	if m != nil && m.BelowMin() {
		notify.Send(ctx, s.notify, s.log, notify.LowStockText(*m))
	}
}
