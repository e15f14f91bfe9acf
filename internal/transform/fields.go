package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/source"
)

// Opt is a source value that may be absent.
type Opt[T any] struct {
	Value   T
	Present bool
}

// Some wraps a present value.
func Some[T any](v T) Opt[T] { return Opt[T]{Value: v, Present: true} }

// Or returns the value, or def when absent.
func (o Opt[T]) Or(def T) T {
	if o.Present {
		return o.Value
	}
	return def
}

// Ptr returns a pointer to the value, or nil when absent.
func (o Opt[T]) Ptr() *T {
	if !o.Present {
		return nil
	}
	v := o.Value
	return &v
}

// SnakeCase converts a mixed-case source field name to its column name,
// e.g. "thingID" to "thing_id" and "_revUser" to "_rev_user".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Rename returns a copy of rec keyed by column names. Keys are applied in
// sorted order so that collisions resolve the same way every time.
func Rename(rec source.Record) map[string]any {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(rec))
	for _, k := range keys {
		out[SnakeCase(k)] = rec[k]
	}
	return out
}

// fields reads typed columns out of a renamed record. The first type error
// sticks and every later read returns an absent value.
type fields struct {
	kind string
	id   string
	m    map[string]any
	err  error
}

func newFields(kind string, rec source.Record) (*fields, error) {
	if rec == nil {
		return nil, &common.TransformError{Kind: kind, Reason: "record is not an object"}
	}
	f := &fields{kind: kind, m: Rename(rec)}
	switch id := rec["id"].(type) {
	case string:
		f.id = id
	case nil:
	default:
		f.id = fmt.Sprint(id)
	}
	return f, nil
}

func (f *fields) fail(col, format string, args ...any) {
	if f.err == nil {
		f.err = &common.TransformError{Kind: f.kind, RecordID: f.id, Field: col, Reason: fmt.Sprintf(format, args...)}
	}
}

func (f *fields) get(col string) (any, bool) {
	if f.err != nil {
		return nil, false
	}
	v, ok := f.m[col]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (f *fields) requireID() string {
	if f.id == "" {
		f.fail("id", "missing id")
	}
	return f.id
}

func (f *fields) String(col string) Opt[string] {
	v, ok := f.get(col)
	if !ok {
		return Opt[string]{}
	}
	s, ok := v.(string)
	if !ok {
		f.fail(col, "expected string, got %T", v)
		return Opt[string]{}
	}
	return Some(s)
}

func (f *fields) Bool(col string) Opt[bool] {
	v, ok := f.get(col)
	if !ok {
		return Opt[bool]{}
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(col, "expected boolean, got %T", v)
		return Opt[bool]{}
	}
	return Some(b)
}

func (f *fields) Int(col string) Opt[int] {
	v, ok := f.get(col)
	if !ok {
		return Opt[int]{}
	}
	n, ok := toInt(v)
	if !ok {
		f.fail(col, "expected integer, got %v", v)
		return Opt[int]{}
	}
	return Some(n)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		x, err := n.Float64()
		return x, err == nil
	default:
		return 0, false
	}
}

// Time accepts native times, RFC 3339 strings and RethinkDB TIME objects.
func (f *fields) Time(col string) Opt[time.Time] {
	v, ok := f.get(col)
	if !ok {
		return Opt[time.Time]{}
	}
	switch t := v.(type) {
	case time.Time:
		return Some(t.UTC())
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			f.fail(col, "invalid timestamp %q", t)
			return Opt[time.Time]{}
		}
		return Some(parsed.UTC())
	case map[string]any:
		if t["$reql_type$"] == "TIME" {
			if epoch, ok := toFloat(t["epoch_time"]); ok {
				sec, frac := math.Modf(epoch)
				return Some(time.Unix(int64(sec), int64(math.Round(frac*1e3))*int64(time.Millisecond)).UTC())
			}
		}
	}
	f.fail(col, "expected timestamp, got %T", v)
	return Opt[time.Time]{}
}

func (f *fields) Strings(col string) Opt[[]string] {
	v, ok := f.get(col)
	if !ok {
		return Opt[[]string]{}
	}
	out, ok := toStrings(v)
	if !ok {
		f.fail(col, "expected list of strings, got %T", v)
		return Opt[[]string]{}
	}
	return Some(out)
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Text passes a multilingual value through unchanged.
func (f *fields) Text(col string) Opt[domain.Text] {
	v, ok := f.get(col)
	if !ok {
		return Opt[domain.Text]{}
	}
	t, ok := toText(v)
	if !ok {
		f.fail(col, "expected multilingual string, got %T", v)
		return Opt[domain.Text]{}
	}
	return Some(t)
}

func toText(v any) (domain.Text, bool) {
	switch m := v.(type) {
	case map[string]string:
		out := make(domain.Text, len(m))
		for k, s := range m {
			out.Set(k, s)
		}
		return out, true
	case map[string]any:
		out := make(domain.Text, len(m))
		for k, raw := range m {
			s, ok := raw.(string)
			if !ok {
				return nil, false
			}
			out.Set(k, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func (f *fields) Texts(col string) Opt[[]domain.Text] {
	v, ok := f.get(col)
	if !ok {
		return Opt[[]domain.Text]{}
	}
	list, ok := v.([]any)
	if !ok {
		f.fail(col, "expected list of multilingual strings, got %T", v)
		return Opt[[]domain.Text]{}
	}
	out := make([]domain.Text, 0, len(list))
	for _, item := range list {
		t, ok := toText(item)
		if !ok {
			f.fail(col, "expected multilingual string in list, got %T", item)
			return Opt[[]domain.Text]{}
		}
		out = append(out, t)
	}
	return Some(out)
}

func (f *fields) TextList(col string) Opt[domain.TextList] {
	v, ok := f.get(col)
	if !ok {
		return Opt[domain.TextList]{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(col, "expected multilingual list, got %T", v)
		return Opt[domain.TextList]{}
	}
	out := make(domain.TextList, len(m))
	for lang, raw := range m {
		list, ok := toStrings(raw)
		if !ok {
			f.fail(col, "expected list of strings for %q", lang)
			return Opt[domain.TextList]{}
		}
		out[lang] = list
	}
	return Some(out)
}

// RichText reads a {text, html} pair of multilingual strings.
func (f *fields) RichText(col string) Opt[domain.RichText] {
	v, ok := f.get(col)
	if !ok {
		return Opt[domain.RichText]{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(col, "expected rich text object, got %T", v)
		return Opt[domain.RichText]{}
	}
	var rt domain.RichText
	if raw, ok := m["text"]; ok && raw != nil {
		if rt.Text, ok = toText(raw); !ok {
			f.fail(col+".text", "expected multilingual string, got %T", raw)
			return Opt[domain.RichText]{}
		}
	}
	if raw, ok := m["html"]; ok && raw != nil {
		if rt.HTML, ok = toText(raw); !ok {
			f.fail(col+".html", "expected multilingual string, got %T", raw)
			return Opt[domain.RichText]{}
		}
	}
	return Some(rt)
}
