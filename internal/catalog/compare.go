package catalog

import (
	"encoding/json"
	"strings"
	"time"
)

// diffFields compares the named JSON fields of two rows after normalization.
func diffFields(expected, actual any, fields []string) ([]FieldDiff, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	want, err := asMap(expected)
	if err != nil {
		return nil, err
	}
	got, err := asMap(actual)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	for _, f := range fields {
		a := canonical(want[f])
		b := canonical(got[f])
		if a != b {
			diffs = append(diffs, FieldDiff{Field: f, Source: a, Target: b})
		}
	}
	return diffs, nil
}

func asMap(row any) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// canonical renders v as JSON with sorted keys, trimmed strings and times
// truncated to the microsecond precision of the target.
func canonical(v any) string {
	data, err := json.Marshal(Normalize(v))
	if err != nil {
		return "<unencodable>"
	}
	return string(data)
}

// Normalize removes formatting-only differences from a decoded JSON value.
// Empty strings, maps and lists are treated as absent.
func Normalize(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
		}
		return s
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			if n := Normalize(val); n != nil {
				out[k] = n
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		if len(t) == 0 {
			return nil
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}
