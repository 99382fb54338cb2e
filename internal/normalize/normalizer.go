// Package normalize reconciles historical field names and fills the canonical
// shape of each entity kind before records are stored or returned.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finsync/internal/domain"
)

// DateFormat is the canonical layout for every date-shaped field.
const DateFormat = "2006-01-02"

// DateLayouts are tried in order; the first match wins.
var DateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006"}

// Normalizer canonicalizes records. It performs no I/O and never fails.
type Normalizer struct {
	schemas map[domain.Kind]Schema
	newID   func() string
	layouts []string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithIDGenerator overrides the id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) { n.newID = fn }
}

// WithSchema registers or replaces the schema of one kind.
func WithSchema(kind domain.Kind, s Schema) Option {
	return func(n *Normalizer) { n.schemas[kind] = s }
}

// New returns a Normalizer over DefaultSchemas.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		schemas: make(map[domain.Kind]Schema, len(DefaultSchemas)),
		newID:   uuid.NewString,
		layouts: DateLayouts,
	}
	for k, s := range DefaultSchemas {
		n.schemas[k] = s
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Schema returns the registered schema for kind.
func (n *Normalizer) Schema(kind domain.Kind) (Schema, bool) {
	s, ok := n.schemas[kind]
	return s, ok
}

// Normalize returns the canonical form of rec. The input is not modified.
// Unknown kinds only get an id.
func (n *Normalizer) Normalize(kind domain.Kind, rec domain.Record) domain.Record {
	out := rec.Clone()
	if out == nil {
		out = domain.Record{}
	}
	n.ensureID(out)

	s, ok := n.schemas[kind]
	if !ok {
		return out
	}

	for _, p := range s.Aliases {
		reconcileAlias(out, p)
	}
	for field, from := range s.Fallbacks {
		if !present(out, field) && present(out, from) {
			out[field] = out[from]
		}
	}
	for field, def := range s.Defaults {
		if !present(out, field) {
			out[field] = cloneDefault(def)
		}
	}
	for field, e := range s.Enums {
		if present(out, field) {
			out[field] = e.canonical(out[field])
		}
	}
	for _, field := range s.DateFields {
		if _, exists := out[field]; exists {
			out[field] = n.standardizeDate(out[field])
		}
	}
	for _, field := range s.Required {
		if _, exists := out[field]; !exists {
			out[field] = nil
		}
	}
	return out
}

// NormalizeAll normalizes every record of c into a new collection.
func (n *Normalizer) NormalizeAll(kind domain.Kind, c domain.Collection) domain.Collection {
	out := make(domain.Collection, len(c))
	for i, r := range c {
		out[i] = n.Normalize(kind, r)
	}
	return out
}

// ValidateRequired reports whether every required field of kind is present
// and non-null, and numeric-looking required fields coerce to a number.
func (n *Normalizer) ValidateRequired(kind domain.Kind, rec domain.Record) bool {
	return len(n.missing(kind, rec)) == 0
}

// Validate is ValidateRequired with the offending fields reported as a
// *domain.ValidationError. index is carried into the error (-1 for none).
func (n *Normalizer) Validate(kind domain.Kind, rec domain.Record, index int) error {
	if _, ok := n.schemas[kind]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKind, kind)
	}
	missing := n.missing(kind, rec)
	if len(missing) == 0 {
		return nil
	}
	return &domain.ValidationError{Kind: kind, Index: index, RecordID: rec.ID(), Missing: missing}
}

func (n *Normalizer) missing(kind domain.Kind, rec domain.Record) []string {
	s, ok := n.schemas[kind]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range s.Required {
		v, exists := rec[field]
		if !exists || v == nil {
			missing = append(missing, field)
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			missing = append(missing, field)
			continue
		}
		if numericField(field) {
			if _, ok := ToDecimal(v); !ok {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

func (n *Normalizer) ensureID(r domain.Record) {
	if strings.TrimSpace(r.ID()) != "" {
		if _, isStr := r[domain.IDField].(string); !isStr {
			r[domain.IDField] = r.ID()
		}
		return
	}
	r[domain.IDField] = n.newID()
}

// standardizeDate returns the canonical date string, or nil when v matches
// none of the accepted layouts.
func (n *Normalizer) standardizeDate(v any) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case time.Time:
		if tv.IsZero() {
			return nil
		}
		return tv.Format(DateFormat)
	case string:
		s := strings.TrimSpace(tv)
		for _, layout := range n.layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(DateFormat)
			}
		}
		return nil
	default:
		return nil
	}
}

func reconcileAlias(r domain.Record, p AliasPair) {
	hasCanonical := present(r, p.Canonical)
	hasAlias := present(r, p.Alias)
	switch {
	case hasCanonical && !hasAlias:
		r[p.Alias] = r[p.Canonical]
	case hasAlias && !hasCanonical:
		r[p.Canonical] = r[p.Alias]
	}
}

func (e Enum) canonical(v any) any {
	s, ok := v.(string)
	if !ok {
		return e.Default
	}
	if c, ok := e.Values[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return e.Default
}

func present(r domain.Record, field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

func cloneDefault(v any) any {
	if s, ok := v.([]any); ok {
		cp := make([]any, len(s))
		copy(cp, s)
		return cp
	}
	return v
}

func numericField(name string) bool {
	return strings.Contains(name, "amount") || strings.Contains(name, "value")
}

// ToDecimal coerces JSON-decoded numbers and numeric strings.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch tv := v.(type) {
	case float64:
		return decimal.NewFromFloat(tv), true
	case float32:
		return decimal.NewFromFloat32(tv), true
	case int:
		return decimal.NewFromInt(int64(tv)), true
	case int32:
		return decimal.NewFromInt32(tv), true
	case int64:
		return decimal.NewFromInt(tv), true
	case json.Number:
		d, err := decimal.NewFromString(tv.String())
		return d, err == nil
	case decimal.Decimal:
		return tv, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(tv))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
