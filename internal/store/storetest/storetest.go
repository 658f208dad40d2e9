// Package storetest: транзакционная реализация store.Store в памяти для тестов.
// Каждая транзакция работает на копии состояния; коммит подменяет состояние целиком.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Spok95/binledger/internal/domain/bins"
	"github.com/Spok95/binledger/internal/domain/inventory"
	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/store"
)

var ErrReadOnly = errors.New("storetest: write in read-only transaction")

type state struct {
	materials map[int64]materials.Material
	bins      map[int64]bins.Bin
	lots      map[string]lots.Lot
	movements []inventory.Movement
	defects   []inventory.DefectNote

	nextMaterialID int64
	nextBinID      int64
	nextLotSeq     int64
	nextLotID      int64
}

func newState() *state {
	return &state{
		materials: make(map[int64]materials.Material),
		bins:      make(map[int64]bins.Bin),
		lots:      make(map[string]lots.Lot),
	}
}

func ptr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *state) clone() *state {
	c := *s
	c.materials = make(map[int64]materials.Material, len(s.materials))
	for id, m := range s.materials {
		m.Seq, m.MinThreshold, m.MaxThreshold = ptr(m.Seq), ptr(m.MinThreshold), ptr(m.MaxThreshold)
		c.materials[id] = m
	}
	c.bins = make(map[int64]bins.Bin, len(s.bins))
	for id, b := range s.bins {
		b.Seq, b.Capacity = ptr(b.Seq), ptr(b.Capacity)
		c.bins[id] = b
	}
	c.lots = make(map[string]lots.Lot, len(s.lots))
	for id, l := range s.lots {
		l.ExpiryDate = ptr(l.ExpiryDate)
		c.lots[id] = l
	}
	c.movements = append([]inventory.Movement(nil), s.movements...)
	c.defects = append([]inventory.DefectNote(nil), s.defects...)
	return &c
}

type Store struct {
	mu sync.Mutex
	st *state

	// BeginErr/CommitErr имитируют отказ хранилища.
	BeginErr  error
	CommitErr error

	commits int
}

func New() *Store { return &Store{st: newState()} }

var _ store.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	if s.BeginErr != nil {
		return fmt.Errorf("begin tx: %w", s.BeginErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if s.CommitErr != nil {
		return fmt.Errorf("commit tx: %w", s.CommitErr)
	}
	s.st = work
	s.commits++
	return nil
}

func (s *Store) ReadOnly(ctx context.Context, fn func(store.Tx) error) error {
	if s.BeginErr != nil {
		return fmt.Errorf("begin tx: %w", s.BeginErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{st: s.st.clone(), readOnly: true})
}

// Commits: число успешных коммитов.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) Materials() materials.Store { return materialStore{t} }
func (t *tx) Bins() bins.Store           { return binStore{t} }
func (t *tx) Lots() lots.Store           { return lotStore{t} }
func (t *tx) Journal() inventory.Store   { return journal{t} }

func (t *tx) Savepoint(ctx context.Context, fn func(store.Tx) error) error {
	child := &tx{st: t.st.clone(), readOnly: t.readOnly}
	if err := fn(child); err != nil {
		return err
	}
	*t.st = *child.st
	return nil
}

func (t *tx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

/* materials */

type materialStore struct{ t *tx }

func (m materialStore) find(pred func(materials.Material) bool) *materials.Material {
	ids := make([]int64, 0, len(m.t.st.materials))
	for id := range m.t.st.materials {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec := m.t.st.materials[id]
		if pred(rec) {
			rec.Seq, rec.MinThreshold, rec.MaxThreshold = ptr(rec.Seq), ptr(rec.MinThreshold), ptr(rec.MaxThreshold)
			return &rec
		}
	}
	return nil
}

func (m materialStore) Get(_ context.Context, key materials.Key) (*materials.Material, error) {
	return m.find(func(r materials.Material) bool { return r.Key == key }), nil
}

func (m materialStore) GetBySeq(_ context.Context, seq int64) (*materials.Material, error) {
	return m.find(func(r materials.Material) bool { return r.Seq != nil && *r.Seq == seq }), nil
}

func (m materialStore) ListByCode(_ context.Context, code string) ([]materials.Material, error) {
	var out []materials.Material
	for _, r := range m.t.st.materials {
		if r.Code == code {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vendor < out[j].Vendor })
	return out, nil
}

func (m materialStore) unique(rec *materials.Material) error {
	for id, other := range m.t.st.materials {
		if id == rec.ID {
			continue
		}
		if other.Key == rec.Key {
			return errs.New(errs.Duplicate, "material %s already exists", rec.Key)
		}
		if rec.Seq != nil && other.Seq != nil && *rec.Seq == *other.Seq {
			return errs.New(errs.Duplicate, "material seq %d already used", *rec.Seq)
		}
	}
	return nil
}

func (m materialStore) Insert(_ context.Context, rec *materials.Material) error {
	if err := m.t.writable(); err != nil {
		return err
	}
	if err := m.unique(rec); err != nil {
		return err
	}
	m.t.st.nextMaterialID++
	rec.ID = m.t.st.nextMaterialID
	rec.Version = 1
	rec.RecalculateTotal()
	m.t.st.materials[rec.ID] = *rec
	return nil
}

func (m materialStore) Update(_ context.Context, rec *materials.Material) error {
	if err := m.t.writable(); err != nil {
		return err
	}
	cur, ok := m.t.st.materials[rec.ID]
	if !ok || cur.Version != rec.Version {
		return errs.New(errs.Conflict, "material %s was changed concurrently", rec.Key)
	}
	if err := m.unique(rec); err != nil {
		return err
	}
	rec.Version++
	rec.RecalculateTotal()
	m.t.st.materials[rec.ID] = *rec
	return nil
}

func (m materialStore) Delete(_ context.Context, key materials.Key) error {
	if err := m.t.writable(); err != nil {
		return err
	}
	for id, r := range m.t.st.materials {
		if r.Key == key {
			delete(m.t.st.materials, id)
			return nil
		}
	}
	return errs.New(errs.MaterialNotFound, "material %s not found", key)
}

/* bins */

type binStore struct{ t *tx }

func (b binStore) find(pred func(bins.Bin) bool) *bins.Bin {
	for _, rec := range b.sorted() {
		if pred(rec) {
			rec.Seq, rec.Capacity = ptr(rec.Seq), ptr(rec.Capacity)
			return &rec
		}
	}
	return nil
}

func (b binStore) sorted() []bins.Bin {
	out := make([]bins.Bin, 0, len(b.t.st.bins))
	for _, rec := range b.t.st.bins {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b binStore) Get(_ context.Context, code string) (*bins.Bin, error) {
	return b.find(func(r bins.Bin) bool { return r.Code == code }), nil
}

func (b binStore) GetBySeq(_ context.Context, seq int64) (*bins.Bin, error) {
	return b.find(func(r bins.Bin) bool { return r.Seq != nil && *r.Seq == seq }), nil
}

func (b binStore) FindByLocation(_ context.Context, loc bins.Location, key materials.Key) (*bins.Bin, error) {
	return b.find(func(r bins.Bin) bool { return r.Location == loc && r.Holds(key) }), nil
}

func (b binStore) ListOrdered(_ context.Context) ([]bins.Bin, error) {
	out := b.sorted()
	sort.SliceStable(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Layout != y.Layout {
			return x.Layout < y.Layout
		}
		if x.Rack != y.Rack {
			return x.Rack < y.Rack
		}
		if x.Slot != y.Slot {
			return x.Slot < y.Slot
		}
		return x.Code < y.Code
	})
	for i := range out {
		out[i].Seq, out[i].Capacity = ptr(out[i].Seq), ptr(out[i].Capacity)
	}
	return out, nil
}

func (b binStore) unique(rec *bins.Bin) error {
	for id, other := range b.t.st.bins {
		if id == rec.ID {
			continue
		}
		if other.Code == rec.Code {
			return errs.New(errs.Duplicate, "bin %s already exists", rec.Code)
		}
		if rec.Seq != nil && other.Seq != nil && *rec.Seq == *other.Seq {
			return errs.New(errs.Duplicate, "bin seq %d already used", *rec.Seq)
		}
	}
	return nil
}

func (b binStore) Insert(_ context.Context, rec *bins.Bin) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	if err := b.unique(rec); err != nil {
		return err
	}
	b.t.st.nextBinID++
	rec.ID = b.t.st.nextBinID
	rec.Version = 1
	b.t.st.bins[rec.ID] = *rec
	return nil
}

func (b binStore) Update(_ context.Context, rec *bins.Bin) error {
	if err := b.t.writable(); err != nil {
		return err
	}
	cur, ok := b.t.st.bins[rec.ID]
	if !ok || cur.Version != rec.Version {
		return errs.New(errs.Conflict, "bin %s was changed concurrently", rec.Code)
	}
	if err := b.unique(rec); err != nil {
		return err
	}
	rec.Version++
	b.t.st.bins[rec.ID] = *rec
	return nil
}

/* lots */

type lotStore struct{ t *tx }

func (l lotStore) Get(_ context.Context, id string) (*lots.Lot, error) {
	rec, ok := l.t.st.lots[id]
	if !ok {
		return nil, nil
	}
	rec.ExpiryDate = ptr(rec.ExpiryDate)
	return &rec, nil
}

func (l lotStore) list(pred func(lots.Lot) bool) []lots.Lot {
	var out []lots.Lot
	for _, rec := range l.t.st.lots {
		if pred(rec) {
			rec.ExpiryDate = ptr(rec.ExpiryDate)
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if lots.Before(out[i], out[j]) != lots.Before(out[j], out[i]) {
			return lots.Before(out[i], out[j])
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l lotStore) ListDrawable(_ context.Context, key materials.Key) ([]lots.Lot, error) {
	return l.list(func(r lots.Lot) bool { return r.MaterialKey() == key && r.Drawable() }), nil
}

func (l lotStore) ListInBin(_ context.Context, binCode string, key materials.Key) ([]lots.Lot, error) {
	return l.list(func(r lots.Lot) bool {
		return r.BinCode == binCode && r.MaterialKey() == key && r.RemainingQty > 0
	}), nil
}

func (l lotStore) Insert(_ context.Context, rec *lots.Lot) error {
	if err := l.t.writable(); err != nil {
		return err
	}
	if rec.ID == "" {
		l.t.st.nextLotID++
		rec.ID = fmt.Sprintf("lot-%d", l.t.st.nextLotID)
	}
	if _, ok := l.t.st.lots[rec.ID]; ok {
		return errs.New(errs.Duplicate, "lot %s already exists", rec.ID)
	}
	if rec.ReceivedSeq == 0 {
		l.t.st.nextLotSeq++
		rec.ReceivedSeq = l.t.st.nextLotSeq
	}
	rec.Version = 1
	l.t.st.lots[rec.ID] = *rec
	return nil
}

func (l lotStore) Update(_ context.Context, rec *lots.Lot) error {
	if err := l.t.writable(); err != nil {
		return err
	}
	cur, ok := l.t.st.lots[rec.ID]
	if !ok || cur.Version != rec.Version {
		return errs.New(errs.Conflict, "lot %s was changed concurrently", rec.ID)
	}
	cur.BinCode, cur.RemainingQty, cur.Usable = rec.BinCode, rec.RemainingQty, rec.Usable
	cur.Version++
	rec.Version = cur.Version
	l.t.st.lots[rec.ID] = cur
	return nil
}

/* journal */

type journal struct{ t *tx }

func (j journal) Append(_ context.Context, m *inventory.Movement) error {
	if err := j.t.writable(); err != nil {
		return err
	}
	m.EnsureID()
	j.t.st.movements = append(j.t.st.movements, *m)
	return nil
}

func (j journal) Totals(_ context.Context, key materials.Key) (inventory.Totals, error) {
	var t inventory.Totals
	for _, m := range j.t.st.movements {
		if m.MaterialCode != key.Code || m.VendorCode != key.Vendor {
			continue
		}
		d := m.Delta
		if d < 0 {
			d = -d
		}
		switch m.Direction {
		case inventory.MoveIn:
			t.In += d
		case inventory.MoveOut:
			t.Out += d
		}
	}
	return t, nil
}

func (j journal) List(_ context.Context, key materials.Key, limit int) ([]inventory.Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []inventory.Movement
	for i := len(j.t.st.movements) - 1; i >= 0 && len(out) < limit; i-- {
		m := j.t.st.movements[i]
		if m.MaterialCode == key.Code && m.VendorCode == key.Vendor {
			out = append(out, m)
		}
	}
	return out, nil
}

func (j journal) AppendDefect(_ context.Context, n *inventory.DefectNote) error {
	if err := j.t.writable(); err != nil {
		return err
	}
	n.EnsureID()
	j.t.st.defects = append(j.t.st.defects, *n)
	return nil
}

/* helpers для подготовки и проверки состояния в тестах */

func (s *Store) mustTx(fn func(store.Tx) error) {
	if err := s.InTx(context.Background(), fn); err != nil {
		panic(err)
	}
}

func (s *Store) PutMaterial(m materials.Material) materials.Material {
	s.mustTx(func(t store.Tx) error { return t.Materials().Insert(context.Background(), &m) })
	return m
}

func (s *Store) PutBin(b bins.Bin) bins.Bin {
	if b.Status == "" {
		b.RecomputeStatus()
	}
	s.mustTx(func(t store.Tx) error { return t.Bins().Insert(context.Background(), &b) })
	return b
}

func (s *Store) PutLot(l lots.Lot) lots.Lot {
	s.mustTx(func(t store.Tx) error { return t.Lots().Insert(context.Background(), &l) })
	return l
}

// AppendMovement добавляет запись журнала в обход сервисов (история приходов).
func (s *Store) AppendMovement(m inventory.Movement) {
	s.mustTx(func(t store.Tx) error { return t.Journal().Append(context.Background(), &m) })
}

func (s *Store) Material(key materials.Key) *materials.Material {
	var out *materials.Material
	_ = s.ReadOnly(context.Background(), func(t store.Tx) error {
		out, _ = t.Materials().Get(context.Background(), key)
		return nil
	})
	return out
}

func (s *Store) Bin(code string) *bins.Bin {
	var out *bins.Bin
	_ = s.ReadOnly(context.Background(), func(t store.Tx) error {
		out, _ = t.Bins().Get(context.Background(), code)
		return nil
	})
	return out
}

func (s *Store) Lot(id string) *lots.Lot {
	var out *lots.Lot
	_ = s.ReadOnly(context.Background(), func(t store.Tx) error {
		out, _ = t.Lots().Get(context.Background(), id)
		return nil
	})
	return out
}

// LotsOf: все партии материала, включая исчерпанные, в порядке FEFO.
func (s *Store) LotsOf(key materials.Key) []lots.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lotStore{&tx{st: s.st}}.list(func(r lots.Lot) bool { return r.MaterialKey() == key })
}

func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Movement(nil), s.st.movements...)
}

func (s *Store) DefectNotes() []inventory.DefectNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.DefectNote(nil), s.st.defects...)
}

func (s *Store) MaterialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.materials)
}

func (s *Store) BinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.bins)
}
