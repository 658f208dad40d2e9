package reconcile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/binledger/internal/errs"
)

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadWorkbook(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"Mã vật tư", "Vendor code", "Kho OK", ""},
		[]interface{}{"GLUE-01", "V1", 12},
		[]interface{}{nil, nil, nil},
		[]interface{}{"INK-9", nil, "3"},
	)

	raw, err := ReadWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, "GLUE-01", raw[0]["Mã vật tư"])
	assert.Equal(t, "12", raw[0]["Kho OK"])
	assert.Equal(t, "", raw[1]["Vendor code"])

	rows, headers := MaterialSchema.Normalize(raw)
	n, ok := rows[0].Int(FieldAvailable)
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)
	assert.False(t, rows[1].Has(FieldVendorCode))
	assert.Empty(t, headers.Unknown)
}

func TestReadWorkbookRejectsGarbage(t *testing.T) {
	_, err := ReadWorkbook(strings.NewReader("code,qty\nA,1\n"))
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	_, err = ReadWorkbook(workbook(t, []interface{}{"code", "qty"}))
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestWriteTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(BinSchema, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(BinSchema.Fields))
	assert.Equal(t, FieldSeq, rows[0][0])
	assert.Equal(t, FieldBinCode, rows[0][1])

	// шаблон читается обратно без неизвестных колонок
	for _, h := range rows[0] {
		_, ok := BinSchema.Lookup(h)
		assert.True(t, ok, h)
	}
}
