package reconcile

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/binledger/internal/errs"
)

// ReadWorkbook читает активный лист. Первая строка содержит заголовки.
// Полностью пустые строки пропускаются.
func ReadWorkbook(r io.Reader) ([]RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "file is not an xlsx workbook")
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, errs.New(errs.Validation, "sheet %q has no data rows", sheet)
	}

	header := rows[0]
	out := make([]RawRow, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		row := RawRow{}
		blank := true
		for i, h := range header {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			var v string
			if i < len(cells) {
				v = cells[i]
			}
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			row[h] = v
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out, nil
}

// WriteTemplate пишет книгу с одной строкой канонических заголовков схемы.
func WriteTemplate(s *Schema, w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	header := make([]interface{}, 0, len(s.Fields))
	for _, fd := range s.Fields {
		header = append(header, fd.Name)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("template header: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}
