package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/civicdata/healthsnap/internal/schema"
)

// HTMLTableParser locates the table whose header row matches the dataset's
// configured field patterns and reads its rows. Tables are located by
// header content, never by DOM position, so layout reshuffles on the
// publisher side do not break extraction.
type HTMLTableParser struct{}

func (HTMLTableParser) Parse(raw schema.RawDocument, spec *schema.DatasetSpec) (*Table, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw.Body), raw.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", schema.ErrStructureMismatch, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", schema.ErrStructureMismatch, err)
	}

	var table *Table
	doc.Find("table").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		t := readHTMLTable(sel)
		if t == nil {
			return true
		}
		if _, err := MatchHeaders(t.Headers, spec); err != nil {
			return true
		}
		table = t
		return false
	})
	if table == nil {
		return nil, fmt.Errorf("%w: dataset %s: no table matches expected headers",
			schema.ErrStructureMismatch, spec.Tag)
	}
	return table, nil
}

func readHTMLTable(sel *goquery.Selection) *Table {
	rows := sel.Find("tr")
	if rows.Length() == 0 {
		return nil
	}
	t := &Table{}
	rows.Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, schema.CleanCell(cell.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if t.Headers == nil {
			t.Headers = cells
			return
		}
		if blankRow(cells) {
			return
		}
		t.Rows = append(t.Rows, cells)
	})
	if t.Headers == nil {
		return nil
	}
	return t
}
