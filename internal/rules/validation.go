package rules

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sells-group/contractml/internal/model"
)

type checkBuilder func(spec *model.FieldSpec, d *model.Directive) (checkFunc, error)

var validators = map[string]checkBuilder{
	"range":   buildRange,
	"regex":   buildPattern,
	"pattern": buildPattern,
	"none":    func(*model.FieldSpec, *model.Directive) (checkFunc, error) { return nil, nil },
}

func (r *FieldRules) compileValidation() error {
	spec := r.spec

	// Declared bounds always constrain the repaired value.
	if numeric(spec.Type) && (spec.Min != nil || spec.Max != nil) {
		r.checks = append(r.checks, rangeCheck(spec.Min, spec.Max))
	}

	d := spec.Validation
	patternDirective := d != nil && (d.Kind == "regex" || d.Kind == "pattern")
	if spec.Pattern != "" && !patternDirective {
		check, err := buildPattern(spec, nil)
		if err != nil {
			return err
		}
		r.checks = append(r.checks, check)
	}

	if d == nil {
		return nil
	}
	build, ok := validators[d.Kind]
	if !ok {
		return &model.SchemaError{Field: spec.Name, Reason: "unknown validation kind " + d.Kind}
	}
	check, err := build(spec, d)
	if err != nil {
		return err
	}
	if check != nil {
		r.checks = append(r.checks, check)
	}
	return nil
}

func buildRange(spec *model.FieldSpec, d *model.Directive) (checkFunc, error) {
	if !numeric(spec.Type) {
		return nil, &model.SchemaError{Field: spec.Name, Reason: "range validation requires a numeric field"}
	}
	lo, hi := spec.Bounds(d)
	if lo == nil && hi == nil {
		return nil, nil
	}
	return rangeCheck(lo, hi), nil
}

func rangeCheck(lo, hi *float64) checkFunc {
	return func(v model.Value) string {
		n, ok := v.Number()
		if !ok {
			return ""
		}
		if lo != nil && n < *lo {
			return fmt.Sprintf("value %s below minimum %s", fmtNum(n), fmtNum(*lo))
		}
		if hi != nil && n > *hi {
			return fmt.Sprintf("value %s above maximum %s", fmtNum(n), fmtNum(*hi))
		}
		return ""
	}
}

// buildPattern matches from the start of the value, like a prefix match.
// Anchor the pattern with $ to require a full match.
func buildPattern(spec *model.FieldSpec, d *model.Directive) (checkFunc, error) {
	pattern := spec.Pattern
	if p, ok := d.String("pattern"); ok && p != "" {
		pattern = p
	}
	if pattern == "" {
		return nil, nil
	}
	if spec.Type != model.TypeString {
		return nil, &model.SchemaError{Field: spec.Name, Reason: "pattern validation requires a string field"}
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, &model.SchemaError{Field: spec.Name, Reason: "invalid pattern: " + err.Error()}
	}

	return func(v model.Value) string {
		s, ok := v.Str()
		if !ok || re.MatchString(s) {
			return ""
		}
		return fmt.Sprintf("value %q doesn't match pattern %s", s, pattern)
	}, nil
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
