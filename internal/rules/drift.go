package rules

import (
	"math"

	"github.com/sells-group/contractml/internal/model"
)

const (
	defaultShiftThreshold  = 2.0
	defaultZScoreThreshold = 3.0
)

type driftBuilder func(spec *model.FieldSpec, d *model.Directive) (driftFunc, error)

var detectors = map[string]driftBuilder{
	"mean_shift": buildMeanShift,
	"zscore":     buildZScore,
}

func (r *FieldRules) compileDrift() error {
	d := r.spec.Drift
	if d == nil {
		return nil
	}
	build, ok := detectors[d.Kind]
	if !ok {
		return &model.SchemaError{Field: r.spec.Name, Reason: "unknown drift kind " + d.Kind}
	}
	if !numeric(r.spec.Type) {
		return &model.SchemaError{Field: r.spec.Name, Reason: "drift detection requires a numeric field"}
	}
	fn, err := build(r.spec, d)
	if err != nil {
		return err
	}
	r.drift = fn
	return nil
}

// buildMeanShift trips when |v - expected_mean| > threshold. Without an
// expected mean it never trips.
func buildMeanShift(_ *model.FieldSpec, d *model.Directive) (driftFunc, error) {
	mean, ok := d.Float("expected_mean")
	if !ok {
		return func(model.Value) bool { return false }, nil
	}
	threshold, ok := d.Float("threshold")
	if !ok {
		threshold = defaultShiftThreshold
	}
	return func(v model.Value) bool {
		n, ok := v.Number()
		return ok && math.Abs(n-mean) > threshold
	}, nil
}

// buildZScore trips when the value is more than threshold standard
// deviations away from expected_mean.
func buildZScore(spec *model.FieldSpec, d *model.Directive) (driftFunc, error) {
	mean, okMean := d.Float("expected_mean")
	std, okStd := d.Float("expected_std")
	if !okMean || !okStd || std <= 0 {
		return nil, &model.SchemaError{Field: spec.Name, Reason: "zscore drift requires expected_mean and a positive expected_std"}
	}
	threshold, ok := d.Float("threshold")
	if !ok {
		threshold = defaultZScoreThreshold
	}
	return func(v model.Value) bool {
		n, ok := v.Number()
		return ok && math.Abs(n-mean)/std > threshold
	}, nil
}
