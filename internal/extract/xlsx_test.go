package extract

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/civicdata/healthsnap/internal/schema"
)

func workbookBytes(t *testing.T, sheet string, rows [][]interface{}, startRow int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			t.Fatalf("rename sheet: %v", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestSpreadsheetParser_SkipsLeadingBlankRows(t *testing.T) {
	body := workbookBytes(t, "Sheet1", [][]interface{}{
		{"Date", "County", "Cases"},
		{"2024-01-01", "Suffolk", 120},
		{"2024-01-01", "Norfolk", 87},
	}, 3)
	raw := schema.RawDocument{Body: body, ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
	table, err := SpreadsheetParser{}.Parse(raw, countySpec(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Table{
		Headers: []string{"Date", "County", "Cases"},
		Rows: [][]string{
			{"2024-01-01", "Suffolk", "120"},
			{"2024-01-01", "Norfolk", "87"},
		},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestSpreadsheetParser_NamedSheet(t *testing.T) {
	body := workbookBytes(t, "Counts", [][]interface{}{
		{"Date", "County", "Cases"},
		{"2024-01-01", "Suffolk", 120},
	}, 1)
	spec := countySpec(t)
	spec.Sheet = "Counts"
	raw := schema.RawDocument{Body: body}
	table, err := SpreadsheetParser{}.Parse(raw, spec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table.Rows))
	}
}

func TestSpreadsheetParser_MissingColumnIsMismatch(t *testing.T) {
	body := workbookBytes(t, "Sheet1", [][]interface{}{
		{"Date", "Region", "Total"},
		{"2024-01-01", "Suffolk", 120},
	}, 1)
	raw := schema.RawDocument{Body: body}
	_, err := SpreadsheetParser{}.Parse(raw, countySpec(t))
	if !errors.Is(err, schema.ErrStructureMismatch) {
		t.Fatalf("expected ErrStructureMismatch, got %v", err)
	}
}
