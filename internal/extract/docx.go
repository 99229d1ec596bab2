package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/civicdata/healthsnap/internal/schema"
)

// WordTableParser reads table objects embedded in a .docx document
// (word/document.xml inside the zip container). Tables carry explicit
// structure, so this is the most reliable of the parsers.
type WordTableParser struct{}

func (WordTableParser) Parse(raw schema.RawDocument, spec *schema.DatasetSpec) (*Table, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw.Body), int64(len(raw.Body)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx container: %v", schema.ErrStructureMismatch, err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: no word/document.xml in container", schema.ErrStructureMismatch)
	}
	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open document.xml: %v", schema.ErrStructureMismatch, err)
	}
	defer rc.Close()

	tables, err := readWordTables(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse document.xml: %v", schema.ErrStructureMismatch, err)
	}
	for _, t := range tables {
		if _, err := MatchHeaders(t.Headers, spec); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: dataset %s: no embedded table matches expected headers",
		schema.ErrStructureMismatch, spec.Tag)
}

// readWordTables walks WordprocessingML and collects every w:tbl as rows of
// concatenated cell text. Namespace prefixes are ignored; only local names
// matter.
func readWordTables(r io.Reader) ([]*Table, error) {
	dec := xml.NewDecoder(r)
	var tables []*Table
	var cur *Table
	var row []string
	var cell strings.Builder
	inCell := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "tbl":
				cur = &Table{}
			case "tr":
				row = nil
			case "tc":
				inCell = true
				cell.Reset()
			}
		case xml.CharData:
			if inCell {
				cell.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "tc":
				inCell = false
				row = append(row, schema.CleanCell(cell.String()))
			case "tr":
				if cur == nil || len(row) == 0 {
					break
				}
				if cur.Headers == nil {
					cur.Headers = row
				} else if !blankRow(row) {
					cur.Rows = append(cur.Rows, row)
				}
			case "tbl":
				if cur != nil && cur.Headers != nil {
					tables = append(tables, cur)
				}
				cur = nil
			}
		}
	}
	return tables, nil
}
