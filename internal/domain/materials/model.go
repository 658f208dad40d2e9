package materials

import (
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/errs"
)

// Key: естественный ключ материала. Пустой Vendor означает «вендор не указан».
type Key struct {
	Code   string `json:"material_code"`
	Vendor string `json:"vendor_code,omitempty"`
}

func (k Key) Trim() Key {
	return Key{Code: strings.TrimSpace(k.Code), Vendor: strings.TrimSpace(k.Vendor)}
}

func (k Key) String() string {
	if k.Vendor == "" {
		return k.Code
	}
	return k.Code + "/" + k.Vendor
}

type Bucket string

const (
	BucketAvailable         Bucket = "available"
	BucketLineReserved      Bucket = "line_reserved"
	BucketImprovementHold   Bucket = "improvement_hold"
	BucketBorrowed          Bucket = "borrowed"
	BucketDefective         Bucket = "defective"
	BucketPendingInspection Bucket = "pending_inspection"
)

type Buckets struct {
	Available         int64 `json:"available"`
	LineReserved      int64 `json:"line_reserved"`
	ImprovementHold   int64 `json:"improvement_hold"`
	Borrowed          int64 `json:"borrowed"`
	Defective         int64 `json:"defective"`
	PendingInspection int64 `json:"pending_inspection"`
}

// Ref возвращает указатель на ячейку бакета; nil для неизвестного имени.
func (b *Buckets) Ref(name Bucket) *int64 {
	switch name {
	case BucketAvailable:
		return &b.Available
	case BucketLineReserved:
		return &b.LineReserved
	case BucketImprovementHold:
		return &b.ImprovementHold
	case BucketBorrowed:
		return &b.Borrowed
	case BucketDefective:
		return &b.Defective
	case BucketPendingInspection:
		return &b.PendingInspection
	}
	return nil
}

func (b Buckets) Get(name Bucket) int64 {
	if p := b.Ref(name); p != nil {
		return *p
	}
	return 0
}

func (b Buckets) Sum() int64 {
	return b.Available + b.LineReserved + b.ImprovementHold + b.Borrowed + b.Defective + b.PendingInspection
}

func (b Buckets) Add(o Buckets) Buckets {
	return Buckets{
		Available:         b.Available + o.Available,
		LineReserved:      b.LineReserved + o.LineReserved,
		ImprovementHold:   b.ImprovementHold + o.ImprovementHold,
		Borrowed:          b.Borrowed + o.Borrowed,
		Defective:         b.Defective + o.Defective,
		PendingInspection: b.PendingInspection + o.PendingInspection,
	}
}

func (b Buckets) IsZero() bool { return b == Buckets{} }

// AllBuckets: порядок бакетов для отчётов и валидации.
var AllBuckets = []Bucket{
	BucketAvailable, BucketLineReserved, BucketImprovementHold,
	BucketBorrowed, BucketDefective, BucketPendingInspection,
}

type Material struct {
	ID  int64  `json:"id"`
	Seq *int64 `json:"seq,omitempty"`
	Key
	Buckets
	Total        int64     `json:"total"`
	MinThreshold *int64    `json:"min_threshold,omitempty"`
	MaxThreshold *int64    `json:"max_threshold,omitempty"`
	Name         string    `json:"name,omitempty"`
	Spec         string    `json:"spec,omitempty"`
	Model        string    `json:"model,omitempty"`
	ItemType     string    `json:"item_type,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Note         string    `json:"note,omitempty"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// RecalculateTotal пересчитывает итог; отрицательная сумма обрезается до нуля.
func (m *Material) RecalculateTotal() {
	total := m.Buckets.Sum()
	if total < 0 {
		total = 0
	}
	m.Total = total
}

// Validate проверяет инвариант: ни один бакет не уходит в минус.
func (m *Material) Validate() error {
	for _, name := range AllBuckets {
		if v := m.Buckets.Get(name); v < 0 {
			return errs.New(errs.Validation, "bucket %s of %s would be negative (%d)", name, m.Key, v)
		}
	}
	return nil
}

// Touch фиксирует автора и время изменения и пересчитывает итог.
func (m *Material) Touch(actor string, now time.Time) {
	m.UpdatedBy = actor
	m.UpdatedAt = now
	m.RecalculateTotal()
}

// BelowMin: сработал ли порог минимального остатка по Available.
func (m *Material) BelowMin() bool {
	return m.MinThreshold != nil && m.Available < *m.MinThreshold
}

// SameUnit сравнивает единицы измерения без учёта регистра; пустая сторона не конфликтует.
func SameUnit(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}
