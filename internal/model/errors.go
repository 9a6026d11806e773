package model

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError means a record cannot be feature-derived at all.
type SchemaError struct {
	Row    int
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// InsufficientDataError means there are not enough valid rows to estimate anything.
type InsufficientDataError struct {
	Op       string
	Valid    int
	Invalid  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: %d valid rows, %d invalid rows (need at least %d valid)",
		e.Op, e.Valid, e.Invalid, e.Required)
}

// SchemaMismatchError means a trained model does not fit the current feature schema.
type SchemaMismatchError struct {
	Expected string
	Actual   string
	Missing  []string
	Extra    []string
}

func (e *SchemaMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema mismatch: model fingerprint %s, data fingerprint %s", short(e.Expected), short(e.Actual))
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing features: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, "; unexpected features: %s", strings.Join(e.Extra, ", "))
	}
	return b.String()
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// IsSchemaError reports whether err carries a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsInsufficientData reports whether err carries an *InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ie *InsufficientDataError
	return errors.As(err, &ie)
}

// IsSchemaMismatch reports whether err carries a *SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var me *SchemaMismatchError
	return errors.As(err, &me)
}
