package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldSpec maps one publisher column onto a canonical field.
type FieldSpec struct {
	// Name is the canonical field name, stable across runs.
	Name string `yaml:"name"`
	// Kind is the canonical type; cells that do not conform fail with
	// ErrFieldTypeMismatch.
	Kind FieldKind `yaml:"type"`
	// Match is a regexp matched against the publisher's header text to
	// locate the column, so extraction survives header rewording.
	Match string `yaml:"match"`
	// Substitute rewrites exact raw cell values before typed conversion.
	// An empty replacement yields an explicit null. This is the only
	// sanctioned coercion; everything else is rejected.
	Substitute map[string]string `yaml:"substitute"`
	// Scale multiplies numeric values after conversion (e.g. per-100k
	// rates published upstream, per-1M wanted downstream: scale 10).
	Scale float64 `yaml:"scale"`
	// TitleCase normalizes concatenated place names ("FallRiver" ->
	// "Fall River").
	TitleCase bool `yaml:"titleCase"`
	// Optional columns may be absent without a structure mismatch.
	Optional bool `yaml:"optional"`

	matchRE *regexp.Regexp
}

// MatchRE returns the compiled header pattern. Compile must have run.
func (f *FieldSpec) MatchRE() *regexp.Regexp { return f.matchRE }

// PDFTemplate calibrates the layout-heuristic PDF parser for one known
// document template.
type PDFTemplate struct {
	// Pages restricts extraction to these 1-based pages. Empty means all.
	Pages []int `yaml:"pages"`
	// MinConfidence is the minimum fraction of candidate rows that must
	// split cleanly into the expected column count. Default 0.8.
	MinConfidence float64 `yaml:"minConfidence"`
	// ColumnGap is the horizontal gap, in points, treated as a column
	// boundary. Default 12.
	ColumnGap float64 `yaml:"columnGap"`
	// RowTolerance groups text items whose baselines differ by at most
	// this many points into one row. Default 2.
	RowTolerance float64 `yaml:"rowTolerance"`
}

// DatasetSpec is the full per-dataset configuration: how to find the
// document, how to read it, and how to map it into the canonical schema.
type DatasetSpec struct {
	Tag string `yaml:"tag"`
	// LinkPattern matches the text (or title attribute) of the download
	// anchor on the rendered landing page.
	LinkPattern string `yaml:"linkPattern"`
	// Format is the declared format, used when byte-level detection is
	// ambiguous.
	Format Format `yaml:"format"`
	// AsOfPattern optionally captures the publisher's declared date from
	// the link href or text (first capture group).
	AsOfPattern string `yaml:"asOfPattern"`
	// Sheet names the spreadsheet sheet to read; empty means first.
	Sheet string `yaml:"sheet"`
	// NaturalKey lists canonical field names forming the dedupe key.
	NaturalKey []string `yaml:"naturalKey"`
	Fields     []FieldSpec `yaml:"fields"`
	PDF        PDFTemplate `yaml:"pdf"`

	linkRE *regexp.Regexp
	asOfRE *regexp.Regexp
}

// Compile validates the spec and compiles its patterns.
func (d *DatasetSpec) Compile() error {
	if strings.TrimSpace(d.Tag) == "" {
		return fmt.Errorf("dataset: tag is required")
	}
	if d.LinkPattern == "" {
		return fmt.Errorf("dataset %s: linkPattern is required", d.Tag)
	}
	re, err := regexp.Compile(d.LinkPattern)
	if err != nil {
		return fmt.Errorf("dataset %s: linkPattern: %w", d.Tag, err)
	}
	d.linkRE = re
	if d.AsOfPattern != "" {
		re, err := regexp.Compile(d.AsOfPattern)
		if err != nil {
			return fmt.Errorf("dataset %s: asOfPattern: %w", d.Tag, err)
		}
		d.asOfRE = re
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("dataset %s: at least one field is required", d.Tag)
	}
	seen := make(map[string]bool, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("dataset %s: field %d: name is required", d.Tag, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("dataset %s: duplicate field %s", d.Tag, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case KindDate, KindInt, KindFloat, KindString:
		default:
			return fmt.Errorf("dataset %s: field %s: unknown type %q", d.Tag, f.Name, f.Kind)
		}
		if f.Match == "" {
			f.Match = "(?i)" + regexp.QuoteMeta(f.Name)
		}
		re, err := regexp.Compile(f.Match)
		if err != nil {
			return fmt.Errorf("dataset %s: field %s: match: %w", d.Tag, f.Name, err)
		}
		f.matchRE = re
	}
	for _, k := range d.NaturalKey {
		if !seen[k] {
			return fmt.Errorf("dataset %s: natural key %s is not a field", d.Tag, k)
		}
	}
	if d.PDF.MinConfidence == 0 {
		d.PDF.MinConfidence = 0.8
	}
	if d.PDF.ColumnGap == 0 {
		d.PDF.ColumnGap = 12
	}
	if d.PDF.RowTolerance == 0 {
		d.PDF.RowTolerance = 2
	}
	return nil
}

// LinkRE returns the compiled anchor pattern. Compile must have run.
func (d *DatasetSpec) LinkRE() *regexp.Regexp { return d.linkRE }

// AsOf extracts the declared date from a link href and text, trying the
// href first. Returns a zero time when no pattern is configured or no
// capture parses as a date.
func (d *DatasetSpec) AsOf(href, text string) time.Time {
	if d.asOfRE == nil {
		return time.Time{}
	}
	for _, s := range []string{href, text} {
		m := d.asOfRE.FindStringSubmatch(s)
		if len(m) < 2 {
			continue
		}
		if v, err := ParseValue(KindDate, m[1]); err == nil {
			return v.Date
		}
	}
	return time.Time{}
}

// Field returns the spec for a canonical field name, or nil.
func (d *DatasetSpec) Field(name string) *FieldSpec {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}
