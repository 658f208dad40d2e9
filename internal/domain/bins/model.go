package bins

import (
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/textnorm"
)

type Status string

const (
	StatusEmpty      Status = "Empty"
	StatusOccupied   Status = "Occupied"
	StatusQuarantine Status = "Quarantine" // приёмка/карантин, ждёт проверки
	StatusLocked     Status = "Locked"     // инвентаризация
	StatusInactive   Status = "Inactive"   // выведен из эксплуатации
)

// IsOverride: административные статусы, которые не снимаются изменением количества.
func (s Status) IsOverride() bool {
	switch s {
	case StatusQuarantine, StatusLocked, StatusInactive:
		return true
	}
	return false
}

var statusAliases = map[string]Status{
	"":              StatusEmpty,
	"empty":         StatusEmpty,
	"trong":         StatusEmpty,
	"occupied":      StatusOccupied,
	"co hang":       StatusOccupied,
	"dang su dung":  StatusOccupied,
	"quarantine":    StatusQuarantine,
	"cach ly":       StatusQuarantine,
	"cho kiem":      StatusQuarantine,
	"locked":        StatusLocked,
	"lock":          StatusLocked,
	"khoa":          StatusLocked,
	"inactive":      StatusInactive,
	"ngung":         StatusInactive,
	"ngung su dung": StatusInactive,
}

// ParseStatus понимает английские и вьетнамские написания в любом регистре.
func ParseStatus(raw string) (Status, bool) {
	s, ok := statusAliases[textnorm.Fold(raw)]
	return s, ok
}

// Location: разбор кода ячейки на Rack/Layout/Slot.
type Location struct {
	Rack   string `json:"rack"`
	Layout string `json:"layout,omitempty"`
	Slot   string `json:"bin"`
}

// ParseCode: 1 сегмент даёт Rack, 2 дают Rack-Bin, 3 дают Rack-Layout-Bin.
// Всё после третьего дефиса остаётся в Slot.
func ParseCode(code string) Location {
	code = strings.TrimSpace(code)
	if code == "" {
		return Location{}
	}
	parts := strings.SplitN(code, "-", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		return Location{Rack: parts[0]}
	case 2:
		return Location{Rack: parts[0], Slot: parts[1]}
	default:
		return Location{Rack: parts[0], Layout: parts[1], Slot: parts[2]}
	}
}

// Code собирает код обратно; пустые сегменты пропускаются.
func (l Location) Code() string {
	segs := make([]string, 0, 3)
	for _, s := range []string{l.Rack, l.Layout, l.Slot} {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, "-")
}

type Bin struct {
	ID   int64  `json:"id"`
	Seq  *int64 `json:"seq,omitempty"`
	Code string `json:"bin_code"`
	Location
	Zone         string    `json:"zone,omitempty"`
	MaterialCode string    `json:"material_code,omitempty"`
	VendorCode   string    `json:"vendor_code,omitempty"`
	Name         string    `json:"name,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	OccupiedQty  int64     `json:"occupied_qty"`
	DefectiveQty int64     `json:"defective_qty"`
	StockQty     int64     `json:"stock_qty"`
	Capacity     *int64    `json:"capacity,omitempty"`
	Status       Status    `json:"status"`
	Note         string    `json:"note,omitempty"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

func (b *Bin) HasStock() bool {
	return b.OccupiedQty > 0 || b.DefectiveQty > 0 || b.StockQty > 0
}

func (b *Bin) Assigned() bool { return b.MaterialCode != "" }

func (b *Bin) MaterialKey() materials.Key {
	return materials.Key{Code: b.MaterialCode, Vendor: b.VendorCode}
}

// Holds: ячейка закреплена ровно за этим материалом и вендором.
func (b *Bin) Holds(key materials.Key) bool {
	return b.MaterialCode == key.Code && b.VendorCode == key.Vendor
}

// Accepts: можно ли положить key в ячейку, не нарушив закрепления.
func (b *Bin) Accepts(key materials.Key) bool {
	return !b.Assigned() || b.Holds(key)
}

func (b *Bin) Claim(key materials.Key) {
	b.MaterialCode = key.Code
	b.VendorCode = key.Vendor
}

// RecomputeStatus: Occupied тогда и только тогда, когда есть количество,
// если только статус не переопределён администратором.
func (b *Bin) RecomputeStatus() {
	if b.Status.IsOverride() {
		return
	}
	if b.HasStock() {
		b.Status = StatusOccupied
	} else {
		b.Status = StatusEmpty
	}
}

// ReleaseIfEmpty снимает закрепление с опустевшей ячейки. Переопределённый
// статус остаётся: его снимает только администратор или выпуск после проверки.
func (b *Bin) ReleaseIfEmpty() {
	if b.HasStock() {
		return
	}
	b.MaterialCode = ""
	b.VendorCode = ""
	b.RecomputeStatus()
}

// Blocked: Locked и Inactive закрыты для любого отбора.
func (b *Bin) Blocked() bool {
	return b.Status == StatusLocked || b.Status == StatusInactive
}

// HasRoomFor: ёмкость не задана или после добавления qty не переполнится.
func (b *Bin) HasRoomFor(qty int64) bool {
	return b.Capacity == nil || b.OccupiedQty+qty <= *b.Capacity
}

func (b *Bin) Full() bool {
	return b.Capacity != nil && b.OccupiedQty >= *b.Capacity
}

// PutawayCandidate: Empty, или ёмкость не задана, или OccupiedQty < Capacity.
// Ячейки под другим материалом и заблокированные не годятся.
func (b *Bin) PutawayCandidate(key materials.Key) bool {
	if b.Status.IsOverride() || !b.Accepts(key) {
		return false
	}
	return b.Status == StatusEmpty || b.Capacity == nil || b.OccupiedQty < *b.Capacity
}

// NewAt создаёт пустую ячейку по коду.
func NewAt(code string) *Bin {
	code = strings.TrimSpace(code)
	return &Bin{Code: code, Location: ParseCode(code), Status: StatusEmpty}
}
