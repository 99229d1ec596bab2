package extract

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ledongthuc/pdf"

	"github.com/civicdata/healthsnap/internal/schema"
)

// PDFTableParser recovers tabular regions from layout-aware text items.
// PDFs carry no reliable table structure, so rows are grouped by baseline
// and cells split on horizontal gaps, calibrated per known document
// template. When too few rows split cleanly the parser refuses the whole
// document instead of returning garbled rows.
type PDFTableParser struct{}

func (PDFTableParser) Parse(raw schema.RawDocument, spec *schema.DatasetSpec) (retTable *Table, retErr error) {
	// The pdf library panics on some malformed content streams; convert
	// that to a structure mismatch like any other unreadable layout.
	defer func() {
		if r := recover(); r != nil {
			retTable = nil
			retErr = fmt.Errorf("%w: unreadable pdf content: %v", schema.ErrStructureMismatch, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw.Body), int64(len(raw.Body)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", schema.ErrStructureMismatch, err)
	}

	pages := spec.PDF.Pages
	if len(pages) == 0 {
		for i := 1; i <= r.NumPage(); i++ {
			pages = append(pages, i)
		}
	}

	var rows [][]string
	for _, n := range pages {
		if n < 1 || n > r.NumPage() {
			continue
		}
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		rows = append(rows, pageRows(p.Content().Text, spec.PDF)...)
	}

	headerIdx := -1
	for i, row := range rows {
		if _, err := MatchHeaders(row, spec); err == nil {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%w: dataset %s: no text row matches expected headers",
			schema.ErrStructureMismatch, spec.Tag)
	}

	headers := rows[headerIdx]
	data := rows[headerIdx+1:]
	t := &Table{Headers: headers}
	wellFormed := 0
	for _, row := range data {
		if len(row) == len(headers) {
			t.Rows = append(t.Rows, row)
			wellFormed++
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: dataset %s: header found but no data rows",
			schema.ErrStructureMismatch, spec.Tag)
	}
	confidence := float64(wellFormed) / float64(len(data))
	if confidence < spec.PDF.MinConfidence {
		return nil, fmt.Errorf("%w: dataset %s: column confidence %.2f below %.2f (%d of %d rows malformed)",
			schema.ErrStructureMismatch, spec.Tag, confidence, spec.PDF.MinConfidence,
			len(data)-wellFormed, len(data))
	}
	return t, nil
}

// pageRows groups text items into rows by baseline, then splits each row
// into cells wherever the horizontal gap exceeds the template's column gap.
func pageRows(texts []pdf.Text, tpl schema.PDFTemplate) [][]string {
	if len(texts) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	// Top of page first (PDF Y grows upward), then left to right.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows [][]string
	var line []pdf.Text
	flush := func() {
		if len(line) == 0 {
			return
		}
		cells := splitCells(line, tpl.ColumnGap)
		if !blankRow(cells) {
			rows = append(rows, cells)
		}
		line = nil
	}
	for _, t := range sorted {
		if len(line) > 0 && line[0].Y-t.Y > tpl.RowTolerance {
			flush()
		}
		line = append(line, t)
	}
	flush()
	return rows
}

func splitCells(line []pdf.Text, gap float64) []string {
	sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
	var cells []string
	var cell bytes.Buffer
	prevEnd := 0.0
	for i, t := range line {
		if i > 0 && t.X-prevEnd > gap {
			cells = append(cells, schema.CleanCell(cell.String()))
			cell.Reset()
		}
		cell.WriteString(t.S)
		if end := t.X + t.W; end > prevEnd {
			prevEnd = end
		}
	}
	cells = append(cells, schema.CleanCell(cell.String()))
	return cells
}
