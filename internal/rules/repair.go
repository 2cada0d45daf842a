package rules

import (
	"math"

	"github.com/sells-group/contractml/internal/model"
)

type repairBuilder func(spec *model.FieldSpec, d *model.Directive, strict bool) (repairFunc, string)

var repairers = map[string]repairBuilder{
	"clamp":   buildClamp,
	"default": buildDefault,
	"none":    func(*model.FieldSpec, *model.Directive, bool) (repairFunc, string) { return nil, "" },
}

func (r *FieldRules) compileRepair(strict bool) error {
	d := r.spec.Repair
	if d == nil {
		return nil
	}
	build, ok := repairers[d.Kind]
	if !ok {
		return &model.RepairError{Field: r.spec.Name, Kind: d.Kind, Reason: "unknown repair kind"}
	}
	fn, problem := build(r.spec, d, strict)
	if problem != "" {
		return &model.RepairError{Field: r.spec.Name, Kind: d.Kind, Reason: problem}
	}
	if fn != nil {
		r.repair = append(r.repair, fn)
	}
	return nil
}

// buildClamp coerces numeric values into [min, max]. Bounds come from the
// directive parameters, falling back to the field's own bounds.
func buildClamp(spec *model.FieldSpec, d *model.Directive, strict bool) (repairFunc, string) {
	if !numeric(spec.Type) {
		return nil, "clamp requires a numeric field"
	}
	lo, hi := spec.Bounds(d)
	if lo == nil && hi == nil {
		return nil, "clamp requires min or max"
	}
	if lo != nil && hi != nil && *lo > *hi {
		return nil, "min is greater than max"
	}
	if strict {
		return nil, ""
	}

	low, high := math.Inf(-1), math.Inf(1)
	if lo != nil {
		low = *lo
	}
	if hi != nil {
		high = *hi
	}
	if spec.Type == model.TypeInt {
		low, high = math.Ceil(low), math.Floor(high)
	}

	return func(v model.Value) model.Value {
		n, ok := v.Number()
		if !ok {
			return v
		}
		switch {
		case n < low:
			return v.WithNumber(low)
		case n > high:
			return v.WithNumber(high)
		}
		return v
	}, ""
}

// buildDefault replaces an explicit null with the field default.
func buildDefault(spec *model.FieldSpec, _ *model.Directive, _ bool) (repairFunc, string) {
	if !spec.HasDefault() {
		return nil, "default repair requires a default value"
	}
	def := *spec.Default
	return func(v model.Value) model.Value {
		if v.IsNull() {
			return def
		}
		return v
	}, ""
}
