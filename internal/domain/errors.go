package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means a backend holds no copy of the requested collection.
	ErrNotFound = errors.New("not found")
	// ErrBackendUnreachable covers network, auth and filesystem permission failures.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrParse means stored data could not be decoded.
	ErrParse = errors.New("parse error")
	// ErrAllBackendsUnwritable means neither the primary file nor the remote store accepted a save.
	ErrAllBackendsUnwritable = errors.New("all durable backends unwritable")
	// ErrAllLocationsFailed means every rescue directory rejected the dump.
	ErrAllLocationsFailed = errors.New("all rescue locations failed")
	// ErrInvalidRecord is matched by every *ValidationError.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrRecordNotFound means a record id is absent from its collection.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownKind means the entity kind is not registered.
	ErrUnknownKind = errors.New("unknown kind")
)

// ValidationError rejects a record missing required fields, or one whose
// id is already taken in its collection.
type ValidationError struct {
	Kind      Kind
	Index     int
	RecordID  string
	Missing   []string
	Duplicate bool
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid %s record", e.Kind)
	if e.RecordID != "" {
		fmt.Fprintf(&b, " %s", e.RecordID)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing or invalid %s", strings.Join(e.Missing, ", "))
	}
	if e.Duplicate {
		b.WriteString(": duplicate id")
	}
	return b.String()
}

// Is lets errors.Is(err, ErrInvalidRecord) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}
