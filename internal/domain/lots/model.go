package lots

import (
	"strings"
	"time"

	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
)

// Lot: одна принятая партия материала, лежащая в одной ячейке.
// Записи не удаляются: исчерпанная партия остаётся с RemainingQty = 0.
type Lot struct {
	ID           string     `json:"lot_id"`
	LotNo        string     `json:"lot_no,omitempty"`
	MaterialCode string     `json:"material_code"`
	VendorCode   string     `json:"vendor_code,omitempty"`
	BinCode      string     `json:"bin_code"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	ReceivedSeq  int64      `json:"received_seq"`
	ReceivedQty  int64      `json:"received_qty"`
	RemainingQty int64      `json:"remaining_qty"`
	Usable       bool       `json:"usable"`
	CreatedAt    time.Time  `json:"created_at"`
	Version      int64      `json:"version"`
}

func (l *Lot) MaterialKey() materials.Key {
	return materials.Key{Code: l.MaterialCode, Vendor: l.VendorCode}
}

// Drawable: партию можно списывать.
func (l *Lot) Drawable() bool { return l.Usable && l.RemainingQty > 0 }

// Before задаёт порядок FEFO: срок годности по возрастанию (без срока в конце),
// при равенстве: порядок поступления.
func Before(a, b Lot) bool {
	switch {
	case a.ExpiryDate != nil && b.ExpiryDate != nil:
		if !a.ExpiryDate.Equal(*b.ExpiryDate) {
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
	case a.ExpiryDate != nil:
		return true
	case b.ExpiryDate != nil:
		return false
	}
	return a.ReceivedSeq < b.ReceivedSeq
}

var expiryLayouts = []string{"2006-01-02", time.RFC3339, "02.01.2006", "02/01/2006"}

// ParseExpiry разбирает срок годности; пустая строка: партия без срока.
func ParseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errs.New(errs.Validation, "unrecognized expiry date %q", s)
}
