package model

import (
	"strconv"
)

// FieldSpec declares one contract field: its type, bounds and the repair,
// validation and drift directives applied to it.
type FieldSpec struct {
	Name        string     `json:"name"`
	Type        FieldType  `json:"type"`
	Description string     `json:"description,omitempty"`
	Default     *Value     `json:"default,omitempty"`
	Min         *float64   `json:"min,omitempty"`
	Max         *float64   `json:"max,omitempty"`
	Pattern     string     `json:"pattern,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Strict      bool       `json:"strict,omitempty"` // repair disabled for this field
	Repair      *Directive `json:"repair,omitempty"`
	Validation  *Directive `json:"validation,omitempty"`
	Drift       *Directive `json:"drift,omitempty"`
}

// HasDefault reports whether a default value is configured.
func (f *FieldSpec) HasDefault() bool {
	return f.Default != nil && !f.Default.IsNull()
}

// Bounds returns the configured min/max, preferring the directive's own
// parameters when it carries them.
func (f *FieldSpec) Bounds(d *Directive) (lo, hi *float64) {
	lo, hi = f.Min, f.Max
	if d == nil {
		return lo, hi
	}
	if v, ok := d.Float("min"); ok {
		lo = &v
	}
	if v, ok := d.Float("max"); ok {
		hi = &v
	}
	return lo, hi
}

// Directive is a declarative rule reference: a kind plus free-form parameters.
// In YAML it is either a bare kind (`repair: clamp`) or a mapping with a
// `type` key (`drift: {type: mean_shift, expected_mean: 22}`).
type Directive struct {
	Kind   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Float returns a numeric parameter.
func (d *Directive) Float(key string) (float64, bool) {
	if d == nil || d.Params == nil {
		return 0, false
	}
	switch v := d.Params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// String returns a string parameter.
func (d *Directive) String(key string) (string, bool) {
	if d == nil || d.Params == nil {
		return "", false
	}
	s, ok := d.Params[key].(string)
	return s, ok
}
