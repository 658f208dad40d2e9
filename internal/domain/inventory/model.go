package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/binledger/internal/domain/materials"
)

// MoveType: направление движения для сверки приходов и расходов.
type MoveType string

const (
	MoveIn       MoveType = "in"
	MoveOut      MoveType = "out"
	MoveTransfer MoveType = "move"
	MoveAdjust   MoveType = "adjust"
)

type OpType string

const (
	OpTransfer     OpType = "transfer"
	OpImportInsert OpType = "import_insert"
	OpImportMerge  OpType = "import_merge"
	OpBinImport    OpType = "bin_import"
	OpRecalculate  OpType = "recalculate"
	OpBinStatus    OpType = "bin_status"
	OpBinCount     OpType = "bin_count"
	OpRemove       OpType = "material_remove"
)

func ReceiveOp(mode string) OpType { return OpType("receive_" + mode) }
func IssueOp(mode string) OpType   { return OpType("issue_" + mode) }

// Movement: запись журнала. Пишется один раз и больше не меняется.
type Movement struct {
	ID           string           `json:"id"`
	Op           OpType           `json:"op"`
	Direction    MoveType         `json:"direction"`
	MaterialCode string           `json:"material_code"`
	VendorCode   string           `json:"vendor_code,omitempty"`
	Bucket       materials.Bucket `json:"bucket,omitempty"`
	BinCode      string           `json:"bin_code,omitempty"`
	ToBinCode    string           `json:"to_bin_code,omitempty"`
	Before       int64            `json:"before_qty"`
	Delta        int64            `json:"delta_qty"`
	After        int64            `json:"after_qty"`
	Actor        string           `json:"actor"`
	Note         string           `json:"note,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (m *Movement) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// Totals: суммы приходов и расходов по журналу.
type Totals struct {
	In  int64
	Out int64
}

// DefectNote: запись о браке, возвращённом с линии.
type DefectNote struct {
	ID           string    `json:"id"`
	MaterialCode string    `json:"material_code"`
	VendorCode   string    `json:"vendor_code,omitempty"`
	Qty          int64     `json:"qty"`
	BinCode      string    `json:"bin_code,omitempty"`
	Actor        string    `json:"actor"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (n *DefectNote) EnsureID() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
}
