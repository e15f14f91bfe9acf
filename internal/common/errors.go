package common

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrNotFound             = errors.New("resource not found")
	ErrNotImplemented       = errors.New("not implemented")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrLocked               = errors.New("another run holds the lock")
	ErrUnknownKind          = errors.New("unknown entity kind")
	ErrInvalidState         = errors.New("invalid revision state")
	ErrValidation           = errors.New("validation failed")
	ErrConnectivity         = errors.New("store unreachable")
	ErrTransform            = errors.New("malformed source record")
	ErrInsert               = errors.New("batch insert failed")
	ErrDependentRows        = errors.New("dependent tables hold rows")
)

// ConnectivityError means a store could not be reached. It is always fatal to a run.
type ConnectivityError struct {
	Store string
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s store unreachable: %v", e.Store, e.Err)
}

func (e *ConnectivityError) Unwrap() []error { return []error{ErrConnectivity, e.Err} }

// FieldViolation is one failed schema rule.
type FieldViolation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (v FieldViolation) String() string {
	if v.Param != "" {
		return fmt.Sprintf("%s (%s=%s)", v.Field, v.Rule, v.Param)
	}
	return fmt.Sprintf("%s (%s)", v.Field, v.Rule)
}

// ValidationError lists every field of a draft that violates the schema.
type ValidationError struct {
	Kind       string
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%s: invalid fields: %s", e.Kind, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Fields returns the names of the violated fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Field
	}
	return out
}

// InvalidStateError rejects branching from a non-current or deleted revision.
type InvalidStateError struct {
	ID     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("revision %s: %s", e.ID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// TransformError reports a source record that does not match the expected shape.
type TransformError struct {
	Kind     string
	RecordID string
	Field    string
	Reason   string
}

func (e *TransformError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<unknown>"
	}
	if e.Field == "" {
		return fmt.Sprintf("transform %s %s: %s", e.Kind, id, e.Reason)
	}
	return fmt.Sprintf("transform %s %s: field %s: %s", e.Kind, id, e.Field, e.Reason)
}

func (e *TransformError) Unwrap() error { return ErrTransform }

// InsertError wraps a failed batch transaction. The batch was rolled back.
type InsertError struct {
	Kind   string
	Offset int
	Size   int
	Err    error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("insert %s batch at offset %d (%d rows): %v", e.Kind, e.Offset, e.Size, e.Err)
}

func (e *InsertError) Unwrap() []error { return []error{ErrInsert, e.Err} }

// DependentRowsError refuses to clear a table while rows elsewhere still
// reference it.
type DependentRowsError struct {
	Table     string
	Dependent string
	Rows      int64
}

func (e *DependentRowsError) Error() string {
	return fmt.Sprintf("cannot clear %s: %s holds %d referencing rows", e.Table, e.Dependent, e.Rows)
}

func (e *DependentRowsError) Unwrap() error { return ErrDependentRows }

// ErrorType names the taxonomy bucket of err, for reports and metrics.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrTransform):
		return "transform"
	case errors.Is(err, ErrInsert):
		return "insert"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrDependentRows):
		return "dependent_rows"
	default:
		return "internal"
	}
}
