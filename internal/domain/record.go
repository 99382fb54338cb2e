package domain

import (
	"fmt"
	"strings"
)

// Kind identifies one entity collection (expense, investment, ...).
type Kind string

const (
	KindExpense    Kind = "expense"
	KindInvestment Kind = "investment"
	KindDebt       Kind = "debt"
	KindGoal       Kind = "goal"
	KindInsurance  Kind = "insurance"
)

// Kinds lists every known entity kind in a stable order.
var Kinds = []Kind{KindExpense, KindInvestment, KindDebt, KindGoal, KindInsurance}

// ParseKind converts user input into a known Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IDField is the name of the stable identifier carried by every record.
const IDField = "id"

// Record is a schemaless mapping of field names to scalar or array values.
type Record map[string]any

// ID returns the record identifier, or "" when it has none.
func (r Record) ID() string {
	switch v := r[IDField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a copy of r. Nested slices and maps are copied one level deep
// so that callers mutating the copy never reach back into the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		switch tv := v.(type) {
		case []any:
			cp := make([]any, len(tv))
			copy(cp, tv)
			out[k] = cp
		case []string:
			cp := make([]string, len(tv))
			copy(cp, tv)
			out[k] = cp
		case map[string]any:
			cp := make(map[string]any, len(tv))
			for mk, mv := range tv {
				cp[mk] = mv
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Collection is an ordered sequence of records of one kind, unique by id.
type Collection []Record

// Clone deep-copies every record of the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

// IndexOf returns the position of the record with the given id, or -1.
func (c Collection) IndexOf(id string) int {
	for i, r := range c {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// IDs returns the identifiers in collection order.
func (c Collection) IDs() []string {
	ids := make([]string, len(c))
	for i, r := range c {
		ids[i] = r.ID()
	}
	return ids
}
