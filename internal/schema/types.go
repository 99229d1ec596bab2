package schema

import "time"

// Format identifies a document format the pipeline can extract from.
type Format string

const (
	FormatUnknown Format = ""
	FormatHTML    Format = "html"
	FormatXLSX    Format = "xlsx"
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
)

// DocumentRef identifies one download link found on a run. Immutable.
type DocumentRef struct {
	URL            string
	DeclaredFormat Format
	DiscoveredAt   time.Time
	Tag            string
	// AsOf is the publisher's declared date parsed from the link href or
	// text, when the dataset configures a pattern for it. Zero if unknown.
	AsOf time.Time
}

// RawDocument holds fetched bytes. It exists only within one pipeline run
// and is discarded after extraction.
type RawDocument struct {
	Ref         DocumentRef
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// ExtractedRecord is one row mapped into the canonical schema. Immutable.
type ExtractedRecord struct {
	Tag         string
	Fields      map[string]Value
	Ref         DocumentRef
	ExtractedAt time.Time
}
