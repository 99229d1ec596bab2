package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/civicdata/healthsnap/internal/schema"
)

// SpreadsheetParser reads the configured sheet (or the first one) and
// treats the first non-blank row as the header. Leading and trailing blank
// rows are tolerated; a missing expected column is a structure mismatch.
type SpreadsheetParser struct{}

func (SpreadsheetParser) Parse(raw schema.RawDocument, spec *schema.DatasetSpec) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", schema.ErrStructureMismatch, err)
	}
	defer f.Close()

	sheet := spec.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", schema.ErrStructureMismatch)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", schema.ErrStructureMismatch, sheet, err)
	}

	t := &Table{}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = schema.CleanCell(c)
		}
		if blankRow(cells) {
			continue
		}
		if t.Headers == nil {
			t.Headers = cells
			continue
		}
		// GetRows drops trailing empty cells; pad to header width so row
		// shape stays uniform.
		for len(cells) < len(t.Headers) {
			cells = append(cells, "")
		}
		t.Rows = append(t.Rows, cells)
	}
	if t.Headers == nil {
		return nil, fmt.Errorf("%w: sheet %q is empty", schema.ErrStructureMismatch, sheet)
	}
	if _, err := MatchHeaders(t.Headers, spec); err != nil {
		return nil, err
	}
	return t, nil
}
