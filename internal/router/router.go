package router

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/civicdata/healthsnap/internal/extract"
	"github.com/civicdata/healthsnap/internal/schema"
)

// Router dispatches a fetched document to the parser for its detected
// format and remaps the extracted rows into the canonical schema.
type Router struct {
	parsers map[schema.Format]extract.Parser
	now     func() time.Time
}

// New returns a Router with all format parsers registered.
func New() *Router {
	return &Router{
		parsers: map[schema.Format]extract.Parser{
			schema.FormatHTML: extract.HTMLTableParser{},
			schema.FormatXLSX: extract.SpreadsheetParser{},
			schema.FormatPDF:  extract.PDFTableParser{},
			schema.FormatDOCX: extract.WordTableParser{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DetectFormat sniffs a document's format from its bytes, falling back to
// the Content-Type header. The publisher's headers and file extensions
// sometimes disagree with the payload, so bytes win.
func DetectFormat(body []byte, contentType string) schema.Format {
	if bytes.HasPrefix(body, []byte("%PDF")) {
		return schema.FormatPDF
	}
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		return detectZipFormat(body)
	}
	if looksLikeHTML(body) {
		return schema.FormatHTML
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return schema.FormatPDF
	case strings.Contains(ct, "spreadsheetml"):
		return schema.FormatXLSX
	case strings.Contains(ct, "wordprocessingml"):
		return schema.FormatDOCX
	case strings.Contains(ct, "html"):
		return schema.FormatHTML
	}
	return schema.FormatUnknown
}

// detectZipFormat disambiguates the OOXML container formats by their
// well-known top-level entries.
func detectZipFormat(body []byte) schema.Format {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return schema.FormatUnknown
	}
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			return schema.FormatDOCX
		case strings.HasPrefix(f.Name, "xl/"):
			return schema.FormatXLSX
		}
	}
	return schema.FormatUnknown
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	lower := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html"))
}

// Extract picks the parser by detected content type (declared format when
// detection is ambiguous), runs it, and converts the raw table into typed
// canonical records. Fails with ErrUnsupportedFormat when no parser
// matches; the orchestrator reports this without aborting other documents.
func (r *Router) Extract(raw schema.RawDocument, spec *schema.DatasetSpec) ([]schema.ExtractedRecord, error) {
	format := DetectFormat(raw.Body, raw.ContentType)
	if format == schema.FormatUnknown {
		format = raw.Ref.DeclaredFormat
	}
	parser, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s (content type %q)",
			schema.ErrUnsupportedFormat, raw.Ref.URL, raw.ContentType)
	}
	table, err := parser.Parse(raw, spec)
	if err != nil {
		return nil, err
	}
	return r.remap(table, raw, spec)
}

// remap renames publisher columns to canonical fields and converts every
// cell to its declared type. Any non-conforming cell rejects the document's
// row with ErrFieldTypeMismatch; sentinel insertion is never performed.
func (r *Router) remap(table *extract.Table, raw schema.RawDocument, spec *schema.DatasetSpec) ([]schema.ExtractedRecord, error) {
	cols, err := extract.MatchHeaders(table.Headers, spec)
	if err != nil {
		return nil, err
	}
	extractedAt := r.now()
	records := make([]schema.ExtractedRecord, 0, len(table.Rows))
	for rowIdx, row := range table.Rows {
		fields := make(map[string]schema.Value, len(spec.Fields))
		for i := range spec.Fields {
			f := &spec.Fields[i]
			col, ok := cols[f.Name]
			if !ok {
				fields[f.Name] = schema.NullValue(f.Kind)
				continue
			}
			if col >= len(row) {
				return nil, fmt.Errorf("%w: dataset %s row %d: short row",
					schema.ErrStructureMismatch, spec.Tag, rowIdx+1)
			}
			v, err := convertCell(f, row[col])
			if err != nil {
				return nil, fmt.Errorf("dataset %s row %d field %s: %w",
					spec.Tag, rowIdx+1, f.Name, err)
			}
			fields[f.Name] = v
		}
		records = append(records, schema.ExtractedRecord{
			Tag:         spec.Tag,
			Fields:      fields,
			Ref:         raw.Ref,
			ExtractedAt: extractedAt,
		})
	}
	return records, nil
}

func convertCell(f *schema.FieldSpec, raw string) (schema.Value, error) {
	raw = schema.CleanCell(raw)
	if sub, ok := f.Substitute[raw]; ok {
		if sub == "" {
			return schema.NullValue(f.Kind), nil
		}
		raw = sub
	}
	v, err := schema.ParseValue(f.Kind, raw)
	if err != nil {
		return schema.Value{}, err
	}
	if f.Scale != 0 {
		switch v.Kind {
		case schema.KindInt:
			v.Int = int64(float64(v.Int) * f.Scale)
		case schema.KindFloat:
			v.Float = v.Float * f.Scale
		}
	}
	if f.TitleCase && v.Kind == schema.KindString {
		v.Str = schema.NormalizePlaceName(v.Str)
	}
	return v, nil
}
