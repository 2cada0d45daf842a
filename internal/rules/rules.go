// Package rules compiles a field's repair, validation and drift directives
// into pure functions over model.Value. Kinds are resolved through lookup
// tables once, when a contract is built.
package rules

import (
	"github.com/sells-group/contractml/internal/model"
)

// FieldRules is the compiled rule set of one field.
type FieldRules struct {
	spec   *model.FieldSpec
	repair []repairFunc
	checks []checkFunc
	drift  driftFunc
}

type (
	repairFunc func(v model.Value) model.Value
	checkFunc  func(v model.Value) (reason string)
	driftFunc  func(v model.Value) bool
)

// Compile resolves the directives of spec. When strict is set (or the field
// is marked strict) clamp repair is disabled so out-of-range values fail
// validation instead of being coerced.
func Compile(spec *model.FieldSpec, strict bool) (*FieldRules, error) {
	r := &FieldRules{spec: spec}

	if err := r.compileRepair(strict || spec.Strict); err != nil {
		return nil, err
	}
	if err := r.compileValidation(); err != nil {
		return nil, err
	}
	if err := r.compileDrift(); err != nil {
		return nil, err
	}
	return r, nil
}

// Spec returns the field definition the rules were compiled from.
func (r *FieldRules) Spec() *model.FieldSpec {
	return r.spec
}

// Repair applies the repair directive. It never fails.
func (r *FieldRules) Repair(v model.Value) model.Value {
	for _, fn := range r.repair {
		v = fn(v)
	}
	return v
}

// Validate checks v against the field's constraints and returns a
// field-scoped *model.ValidationError on the first violation.
func (r *FieldRules) Validate(v model.Value) error {
	if v.IsNull() {
		return &model.ValidationError{Field: r.spec.Name, Reason: "value must not be null"}
	}
	for _, check := range r.checks {
		if reason := check(v); reason != "" {
			return &model.ValidationError{Field: r.spec.Name, Reason: reason}
		}
	}
	return nil
}

// Drift reports whether v deviates from the configured baseline.
func (r *FieldRules) Drift(v model.Value) bool {
	if r.drift == nil || v.IsNull() {
		return false
	}
	return r.drift(v)
}

// HasDrift reports whether a drift directive is configured.
func (r *FieldRules) HasDrift() bool {
	return r.drift != nil
}

func numeric(t model.FieldType) bool {
	return t == model.TypeFloat || t == model.TypeInt
}
