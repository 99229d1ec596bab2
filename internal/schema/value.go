package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the canonical type of a field's values.
type FieldKind string

const (
	KindDate   FieldKind = "date"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindString FieldKind = "string"
)

// Value is a typed scalar. Null carries the kind so snapshot encoding stays
// uniform per column.
type Value struct {
	Kind  FieldKind
	Null  bool
	Date  time.Time
	Int   int64
	Float float64
	Str   string
}

// NullValue returns the explicit missing value for a kind. Only configured
// missing markers produce nulls; unparseable cells are rejected instead.
func NullValue(kind FieldKind) Value {
	return Value{Kind: kind, Null: true}
}

// dateLayouts are accepted on input. Output is always ISO (2006-01-02).
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1-2-2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseValue converts a raw cell string to a typed Value. Numeric kinds
// tolerate grouping commas ("1,234"); nothing else is coerced.
func ParseValue(kind FieldKind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindString:
		return Value{Kind: KindString, Str: raw}, nil
	case KindInt:
		n, err := strconv.ParseInt(stripGrouping(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrFieldTypeMismatch, raw)
		}
		return Value{Kind: KindInt, Int: n}, nil
	case KindFloat:
		f, err := strconv.ParseFloat(stripGrouping(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrFieldTypeMismatch, raw)
		}
		return Value{Kind: KindFloat, Float: f}, nil
	case KindDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return Value{Kind: KindDate, Date: t}, nil
			}
		}
		return Value{}, fmt.Errorf("%w: %q is not a date", ErrFieldTypeMismatch, raw)
	default:
		return Value{}, fmt.Errorf("%w: unknown field kind %q", ErrFieldTypeMismatch, kind)
	}
}

func stripGrouping(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// String renders the value canonically and locale-independently so that
// identical inputs always produce byte-identical snapshot files.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case KindDate:
		return v.Date.Format("2006-01-02")
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.Str
	}
}

// Equal compares by canonical rendering, which is what snapshot output and
// conflict detection care about.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Null == o.Null && v.String() == o.String()
}
