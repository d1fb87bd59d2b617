package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// KeySep joins the fields of a composite business key.
const KeySep = "\x1f"

// timeLayouts are tried in order when parsing temporal fields and literals.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTime parses a date or timestamp. A bare year parses to January 1st of
// that year, UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// KeyString renders a scalar key component. Whole numbers render without a
// fractional part so 7 and 7.0 produce the same key.
func KeyString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		if f, err := x.Float64(); err == nil {
			return KeyString(f)
		}
		return KeyString(string(x))
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'g', -1, 64), true
	default:
		return "", false
	}
}

// JoinKey encodes key components into a canonical business key.
func JoinKey(parts ...string) string { return strings.Join(parts, KeySep) }

// ExtractKey builds the business key of rec. Every key field must hold a
// non-empty scalar.
func ExtractKey(def LabelDef, rec Record) (string, error) {
	if len(def.KeyFields) == 0 {
		return "", NewRecordError(def.Label, "", "label declares no key fields")
	}
	parts := make([]string, len(def.KeyFields))
	for i, f := range def.KeyFields {
		raw, ok := rec[f]
		if !ok || raw == nil {
			return "", NewRecordError(def.Label, f, "missing key field")
		}
		s, ok := KeyString(raw)
		if !ok {
			return "", NewRecordError(def.Label, f, fmt.Sprintf("key field must be a non-empty scalar, got %T", raw))
		}
		parts[i] = s
	}
	return JoinKey(parts...), nil
}

// ItemKey builds a target key from the ItemKey fields of a nested reference
// item. complete is false when some key field is absent, in which case the
// caller falls back to the lookup field.
func ItemKey(ref Reference, item map[string]any) (key string, complete bool) {
	parts := make([]string, 0, len(ref.ItemKey))
	for _, f := range ref.ItemKey {
		s, ok := KeyString(item[f])
		if !ok {
			return JoinKey(parts...), false
		}
		parts = append(parts, s)
	}
	return JoinKey(parts...), true
}

// ValidateBatch checks that a batch names a declared label.
func (s *Schema) ValidateBatch(b Batch) error {
	if !s.HasLabel(b.Label) {
		return NewRecordError(b.Label, "", "unknown label")
	}
	return nil
}
