// Package store связывает репозитории домена в одну транзакцию.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
)

// Tx: репозитории, привязанные к одной открытой транзакции.
type Tx interface {
	Materials() materials.Store
	Bins() bins.Store
	Lots() lots.Store
	Journal() inventory.Store
	// Savepoint выполняет fn во вложенной транзакции: ошибка fn откатывает
	// только её изменения, внешняя транзакция продолжается.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

type Store interface {
	// InTx открывает транзакцию, коммитит при nil от fn и откатывает иначе.
	InTx(ctx context.Context, fn func(Tx) error) error
	// ReadOnly: транзакция только на чтение, никогда не коммитит изменений.
	ReadOnly(ctx context.Context, fn func(Tx) error) error
}

type Postgres struct{ pool *pgxpool.Pool }

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	return p.run(ctx, pgx.TxOptions{}, fn)
}

func (p *Postgres) ReadOnly(ctx context.Context, fn func(Tx) error) error {
	return p.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (p *Postgres) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) Materials() materials.Store { return materials.NewRepo(t.tx) }
func (t pgTx) Bins() bins.Store           { return bins.NewRepo(t.tx) }
func (t pgTx) Lots() lots.Store           { return lots.NewRepo(t.tx) }
func (t pgTx) Journal() inventory.Store   { return inventory.NewRepo(t.tx) }

// Savepoint: pgx.Tx.Begin внутри транзакции создаёт SAVEPOINT.
func (t pgTx) Savepoint(ctx context.Context, fn func(Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(pgTx{tx: sp}); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
