package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/civicdata/healthsnap/internal/schema"
)

func docxBytes(t *testing.T, tables ...[][]string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, rows := range tables {
		body.WriteString("<w:tbl>")
		for _, row := range rows {
			body.WriteString("<w:tr>")
			for _, cell := range row {
				var esc bytes.Buffer
				if err := xml.EscapeText(&esc, []byte(cell)); err != nil {
					t.Fatalf("escape cell: %v", err)
				}
				fmt.Fprintf(&body, "<w:tc><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:tc>", esc.String())
			}
			body.WriteString("</w:tr>")
		}
		body.WriteString("</w:tbl>")
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(body.String())); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func citySpec(t *testing.T) *schema.DatasetSpec {
	t.Helper()
	spec := &schema.DatasetSpec{
		Tag:         "city_cases",
		LinkPattern: "(?i)city",
		Format:      schema.FormatDOCX,
		NaturalKey:  []string{"city_town"},
		Fields: []schema.FieldSpec{
			{Name: "city_town", Kind: schema.KindString, Match: "(?i)city", TitleCase: true},
			{Name: "count", Kind: schema.KindInt, Match: "(?i)count", Substitute: map[string]string{"<5": "1"}},
			{Name: "rate_per_1m", Kind: schema.KindFloat, Match: "(?i)rate", Substitute: map[string]string{"*": ""}, Scale: 10},
		},
	}
	if err := spec.Compile(); err != nil {
		t.Fatalf("compile spec: %v", err)
	}
	return spec
}

func TestWordTableParser_ReadsEmbeddedTable(t *testing.T) {
	body := docxBytes(t,
		[][]string{{"Title page"}},
		[][]string{
			{"City/Town", "Count", "Rate per 100,000"},
			{"EastBridgewater", "<5", "12.4"},
			{"Boston", "1,542", "223.1"},
		},
	)
	raw := schema.RawDocument{Body: body, ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
	table, err := WordTableParser{}.Parse(raw, citySpec(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Table{
		Headers: []string{"City/Town", "Count", "Rate per 100,000"},
		Rows: [][]string{
			{"EastBridgewater", "<5", "12.4"},
			{"Boston", "1,542", "223.1"},
		},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestWordTableParser_NoMatchingTable(t *testing.T) {
	body := docxBytes(t, [][]string{
		{"Region", "Total"},
		{"Suffolk", "12"},
	})
	raw := schema.RawDocument{Body: body}
	_, err := WordTableParser{}.Parse(raw, citySpec(t))
	if !errors.Is(err, schema.ErrStructureMismatch) {
		t.Fatalf("expected ErrStructureMismatch, got %v", err)
	}
}

func TestWordTableParser_NotAZip(t *testing.T) {
	raw := schema.RawDocument{Body: []byte("plainly not a docx")}
	_, err := WordTableParser{}.Parse(raw, citySpec(t))
	if !errors.Is(err, schema.ErrStructureMismatch) {
		t.Fatalf("expected ErrStructureMismatch, got %v", err)
	}
}
