// Package reconcile сверяет строки массовой загрузки с материалами и ячейками:
// предпросмотр классификации и коммит с аддитивным слиянием.
package reconcile

import (
	"fmt"

	"github.com/Spok95/binledger/internal/textnorm"
)

type Kind int

const (
	Text Kind = iota
	// Identifier: текст, который участвует в ключах; числа из таблиц приводятся без дробной части.
	Identifier
	Number
)

type Field struct {
	Name    string
	Kind    Kind
	Aliases []string
}

// Schema: декларативная таблица полей одной сущности.
type Schema struct {
	Entity string
	Fields []Field

	byAlias map[string]Field
}

// NewSchema строит индекс алиасов. Алиас, ведущий к двум разным полям,: ошибка в таблице.
func NewSchema(entity string, fields ...Field) *Schema {
	s := &Schema{Entity: entity, Fields: fields, byAlias: make(map[string]Field)}
	for _, f := range fields {
		for _, a := range append([]string{f.Name}, f.Aliases...) {
			slug := textnorm.Slug(a)
			if prev, ok := s.byAlias[slug]; ok && prev.Name != f.Name {
				panic(fmt.Sprintf("reconcile: alias %q of %s maps to %s and %s", a, entity, prev.Name, f.Name))
			}
			s.byAlias[slug] = f
		}
	}
	return s
}

// Lookup принимает заголовок колонки как есть.
func (s *Schema) Lookup(header string) (Field, bool) {
	f, ok := s.byAlias[textnorm.Slug(header)]
	return f, ok
}

// Канонические имена полей.
const (
	FieldSeq             = "seq"
	FieldMaterialCode    = "material_code"
	FieldVendorCode      = "vendor_code"
	FieldName            = "name"
	FieldSpec            = "spec"
	FieldModel           = "model"
	FieldItemType        = "item_type"
	FieldUnit            = "unit"
	FieldNote            = "note"
	FieldAvailable       = "available"
	FieldLineReserved    = "line_reserved"
	FieldImprovementHold = "improvement_hold"
	FieldBorrowed        = "borrowed"
	FieldDefective       = "defective"
	FieldPending         = "pending_inspection"
	FieldMinThreshold    = "min_threshold"
	FieldMaxThreshold    = "max_threshold"

	FieldBinCode  = "bin_code"
	FieldRack     = "rack"
	FieldLayout   = "layout"
	FieldSlot     = "bin"
	FieldZone     = "zone"
	FieldOccupied = "occupied_qty"
	FieldBinNG    = "defective_qty"
	FieldStock    = "stock_qty"
	FieldCapacity = "capacity"
	FieldStatus   = "status"
)

var seqField = Field{Name: FieldSeq, Kind: Number, Aliases: []string{"stt", "so thu tu", "số thứ tự", "id"}}

var MaterialSchema = NewSchema("materials",
	seqField,
	Field{Name: FieldMaterialCode, Kind: Identifier, Aliases: []string{"ss_code", "sscode", "ss code", "code", "ma vat tu", "mã vật tư", "material code"}},
	Field{Name: FieldVendorCode, Kind: Identifier, Aliases: []string{"vendor code", "vendorcode", "vendor", "ma ncc", "mã NCC"}},
	Field{Name: FieldName, Kind: Text, Aliases: []string{"item", "ten vat tu", "tên vật tư", "ten hang", "tên hàng"}},
	Field{Name: FieldSpec, Kind: Text, Aliases: []string{"quy cach", "quy cách", "specification"}},
	Field{Name: FieldModel, Kind: Text},
	Field{Name: FieldItemType, Kind: Text, Aliases: []string{"type_item", "type item", "typeitem", "loai", "loại"}},
	Field{Name: FieldUnit, Kind: Text, Aliases: []string{"don vi", "đơn vị", "donvi", "uom"}},
	Field{Name: FieldAvailable, Kind: Number, Aliases: []string{"kho ok", "kho_ok", "khook", "ok"}},
	Field{Name: FieldLineReserved, Kind: Number, Aliases: []string{"ton line", "tồn line", "tonline"}},
	Field{Name: FieldImprovementHold, Kind: Number, Aliases: []string{"ton c tien", "tồn c.tiến", "tonctien", "ton cai tien", "tồn cải tiến"}},
	Field{Name: FieldBorrowed, Kind: Number, Aliases: []string{"ton muon", "tồn mượn", "tonmuon"}},
	Field{Name: FieldDefective, Kind: Number, Aliases: []string{"kho ng", "kho_ng", "ng"}},
	Field{Name: FieldPending, Kind: Number, Aliases: []string{"cho kiem", "chờ kiểm", "ton cho kiem", "tồn chờ kiểm"}},
	Field{Name: FieldMinThreshold, Kind: Number, Aliases: []string{"min stock", "min_stock", "min", "ton toi thieu"}},
	Field{Name: FieldMaxThreshold, Kind: Number, Aliases: []string{"max stock", "max_stock", "max", "ton toi da"}},
	Field{Name: FieldNote, Kind: Text, Aliases: []string{"ghi chu", "ghi chú", "ghichu"}},
)

var BinSchema = NewSchema("bins",
	seqField,
	Field{Name: FieldBinCode, Kind: Identifier, Aliases: []string{"bin code", "bincode", "ma bin", "mã bin", "location"}},
	Field{Name: FieldRack, Kind: Identifier, Aliases: []string{"ke", "kệ"}},
	Field{Name: FieldLayout, Kind: Identifier, Aliases: []string{"tang", "tầng", "shelf"}},
	Field{Name: FieldSlot, Kind: Identifier, Aliases: []string{"o", "ô", "hoc", "hộc", "slot"}},
	Field{Name: FieldZone, Kind: Text, Aliases: []string{"khu", "khu vuc", "khu vực"}},
	Field{Name: FieldMaterialCode, Kind: Identifier, Aliases: []string{"ss_code", "sscode", "ss code", "ma vat tu", "mã vật tư", "material code"}},
	Field{Name: FieldVendorCode, Kind: Identifier, Aliases: []string{"vendor code", "vendorcode", "vendor", "ma ncc", "mã NCC"}},
	Field{Name: FieldName, Kind: Text, Aliases: []string{"item", "ten vat tu", "tên vật tư", "ten hang", "tên hàng"}},
	Field{Name: FieldUnit, Kind: Text, Aliases: []string{"don vi", "đơn vị", "donvi", "uom"}},
	Field{Name: FieldOccupied, Kind: Number, Aliases: []string{"ok", "sl ok", "occupied", "so luong"}},
	Field{Name: FieldBinNG, Kind: Number, Aliases: []string{"ng", "sl ng"}},
	Field{Name: FieldStock, Kind: Number, Aliases: []string{"stock", "ton"}},
	Field{Name: FieldCapacity, Kind: Number, Aliases: []string{"suc chua", "sức chứa"}},
	Field{Name: FieldStatus, Kind: Text, Aliases: []string{"trang thai", "trạng thái", "trang thai bin", "trang_thai_bin"}},
	Field{Name: FieldNote, Kind: Text, Aliases: []string{"ghi chu", "ghi chú", "ghichu"}},
)
