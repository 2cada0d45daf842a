package model

import (
	"errors"
	"fmt"
)

// Error kinds, as recorded in the execution log and returned by the API.
const (
	KindNotFound   = "not_found"
	KindValidation = "validation"
	KindRepair     = "repair"
	KindMigration  = "migration"
	KindModel      = "model"
	KindSchema     = "schema"
	KindInternal   = "internal"
)

// NotFoundError is returned when no schema exists for a (domain, version)
// pair, or a domain has no versions at all.
type NotFoundError struct {
	Domain  string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no contract versions found for domain %q", e.Domain)
	}
	return fmt.Sprintf("contract not found: %s/%s", e.Domain, e.Version)
}

// ValidationError is a field-scoped constraint violation left after repair.
type ValidationError struct {
	Domain  string
	Version string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s/%s: validation failed: %s", e.Domain, e.Version, e.Reason)
	}
	return fmt.Sprintf("%s/%s: field %q: %s", e.Domain, e.Version, e.Field, e.Reason)
}

// RepairError reports a malformed repair directive.
type RepairError struct {
	Field  string
	Kind   string
	Reason string
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("field %q: repair %q: %s", e.Field, e.Kind, e.Reason)
}

// SchemaError reports a malformed declarative schema document.
type SchemaError struct {
	Domain  string
	Version string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s/%s: %s", e.Domain, e.Version, e.Reason)
	}
	return fmt.Sprintf("schema %s/%s: field %q: %s", e.Domain, e.Version, e.Field, e.Reason)
}

// MigrationError is surfaced only when a caller requires a guaranteed
// migration and no path could transform the payload.
type MigrationError struct {
	Domain string
	From   string
	To     string
	Errors []string
}

func (e *MigrationError) Error() string {
	msg := fmt.Sprintf("no migration path for %s from %s to %s", e.Domain, e.From, e.To)
	if len(e.Errors) > 0 {
		msg += fmt.Sprintf(" (%d script failure(s): %s)", len(e.Errors), e.Errors[0])
	}
	return msg
}

// Model operations.
const (
	OpLoad    = "load"
	OpPredict = "predict"
)

// ModelError is an inference backend failure at load or predict time.
type ModelError struct {
	Path string
	Op   string
	Err  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsModel reports whether err carries a ModelError.
func IsModel(err error) bool {
	_, ok := AsModelError(err)
	return ok
}

// AsModelError extracts a ModelError from err.
func AsModelError(err error) (*ModelError, bool) {
	var target *ModelError
	ok := errors.As(err, &target)
	return target, ok
}

// ErrorKind classifies err for logs and transport mapping.
func ErrorKind(err error) string {
	var (
		nf  *NotFoundError
		ve  *ValidationError
		re  *RepairError
		se  *SchemaError
		me  *MigrationError
		mde *ModelError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &re):
		return KindRepair
	case errors.As(err, &se):
		return KindSchema
	case errors.As(err, &me):
		return KindMigration
	case errors.As(err, &mde):
		return KindModel
	}
	return KindInternal
}
