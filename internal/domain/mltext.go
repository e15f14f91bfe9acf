package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Text is a multilingual string: language code -> localized value.
// A missing key means untranslated; empty values are never stored.
type Text map[string]string

// NewText builds a Text from alternating language/value pairs, dropping empty values.
func NewText(pairs ...string) Text {
	t := Text{}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Set(pairs[i], pairs[i+1])
	}
	return t
}

// Set stores value for lang, or removes the key when value is empty.
func (t Text) Set(lang, value string) {
	if value == "" {
		delete(t, lang)
		return
	}
	t[lang] = value
}

// Resolve returns the value for lang, falling back to English and then to any language.
func (t Text) Resolve(lang string) (string, bool) {
	if v, ok := t[lang]; ok {
		return v, true
	}
	if v, ok := t["en"]; ok {
		return v, true
	}
	langs := t.Languages()
	if len(langs) == 0 {
		return "", false
	}
	return t[langs[0]], true
}

// Languages returns the translated languages in sorted order.
func (t Text) Languages() []string {
	langs := make([]string, 0, len(t))
	for lang := range t {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// IsEmpty reports whether no language has a value.
func (t Text) IsEmpty() bool { return len(t) == 0 }

// Clone returns an independent copy.
func (t Text) Clone() Text {
	if t == nil {
		return nil
	}
	c := make(Text, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// String renders the text as "lang=value" pairs, mainly for logs.
func (t Text) String() string {
	parts := make([]string, 0, len(t))
	for _, lang := range t.Languages() {
		parts = append(parts, lang+"="+t[lang])
	}
	return strings.Join(parts, ", ")
}

// Value implements driver.Valuer.
func (t Text) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Text) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain.Text: unsupported scan type %T", value)
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("domain.Text: %w", err)
	}
	*t = m
	return nil
}

// GormDataType marks Text as a plain column, not a relation.
func (Text) GormDataType() string {
	return "json"
}

// GormDBDataType stores Text as JSONB on Postgres and JSON elsewhere.
func (Text) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}

// RichText is user-authored content kept both as source text and rendered HTML.
type RichText struct {
	Text Text `json:"text,omitempty"`
	HTML Text `json:"html,omitempty"`
}

// TextList is a multilingual list, e.g. the aliases of a thing.
type TextList map[string][]string
