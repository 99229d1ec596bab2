package extract

import (
	"fmt"
	"strings"

	"github.com/civicdata/healthsnap/internal/schema"
)

// Table is the format-agnostic result of tabular extraction: the
// publisher's own header row plus data rows as raw strings. Typed
// conversion and canonical renaming happen in the router.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Parser defines one tabular-extraction strategy per document format.
// Implementations must be deterministic and must fail with
// schema.ErrStructureMismatch rather than return partial or garbled rows.
type Parser interface {
	Parse(raw schema.RawDocument, spec *schema.DatasetSpec) (*Table, error)
}

// MatchHeaders resolves each configured field to a column index by its
// header pattern. Every non-optional field must match exactly one header;
// anything else is a structure mismatch so a publisher layout change
// surfaces as a first-class, operator-fixable event.
func MatchHeaders(headers []string, spec *schema.DatasetSpec) (map[string]int, error) {
	cols := make(map[string]int, len(spec.Fields))
	for i := range spec.Fields {
		f := &spec.Fields[i]
		found := -1
		for j, h := range headers {
			if !f.MatchRE().MatchString(schema.CleanCell(h)) {
				continue
			}
			if found >= 0 {
				return nil, fmt.Errorf("%w: field %s matches headers %q and %q",
					schema.ErrStructureMismatch, f.Name, headers[found], h)
			}
			found = j
		}
		if found < 0 {
			if f.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: no header matches field %s in %q",
				schema.ErrStructureMismatch, f.Name, headers)
		}
		cols[f.Name] = found
	}
	return cols, nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
