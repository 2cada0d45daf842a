// Package contract compiles a schema into an executable contract. A
// contract validates and repairs one payload per call, checks it for drift
// and, when the schema references a model, runs inference on the result.
package contract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/inference"
	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/rules"
)

// BackendLoader resolves a model reference to a backend.
type BackendLoader interface {
	Load(ctx context.Context, ref model.ModelRef) (inference.Backend, error)
}

// Option configures Build.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrict disables clamp repair for every field.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// Contract is immutable after Build and safe for concurrent Execute calls.
type Contract struct {
	schema  *model.SchemaConfig
	fields  []*rules.FieldRules
	known   map[string]struct{}
	backend inference.Backend
	strict  bool
}

// Build compiles schema into a Contract. When the schema references a
// model, loader binds its backend; a nil loader is a load error.
func Build(ctx context.Context, schema *model.SchemaConfig, loader BackendLoader, opts ...Option) (*Contract, error) {
	if schema == nil {
		return nil, eris.New("contract: nil schema")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	strict := o.strict || schema.Strict()

	c := &Contract{
		schema: schema,
		fields: make([]*rules.FieldRules, 0, len(schema.Fields)),
		known:  make(map[string]struct{}, len(schema.Fields)),
		strict: strict,
	}
	for i := range schema.Fields {
		spec := &schema.Fields[i]
		if _, dup := c.known[spec.Name]; dup {
			return nil, &model.SchemaError{Domain: schema.Domain, Version: schema.Version, Field: spec.Name, Reason: "duplicate field"}
		}
		fr, err := rules.Compile(spec, strict)
		if err != nil {
			return nil, scopeError(err, schema)
		}
		c.fields = append(c.fields, fr)
		c.known[spec.Name] = struct{}{}
	}

	if schema.Model != nil && schema.Model.Path != "" {
		if loader == nil {
			return nil, &model.ModelError{Path: schema.Model.Path, Op: model.OpLoad, Err: eris.New("no inference runtime configured")}
		}
		b, err := loader.Load(ctx, *schema.Model)
		if err != nil {
			return nil, err
		}
		c.backend = b
	}

	zap.L().Debug("contract: built",
		zap.String("domain", schema.Domain),
		zap.String("version", schema.Version),
		zap.Int("fields", len(c.fields)),
		zap.Bool("strict", strict),
		zap.Bool("model", c.backend != nil),
	)
	return c, nil
}

// Domain returns the contract domain.
func (c *Contract) Domain() string { return c.schema.Domain }

// Version returns the contract version.
func (c *Contract) Version() string { return c.schema.Version }

// Schema returns the schema the contract was built from.
func (c *Contract) Schema() *model.SchemaConfig { return c.schema }

// FieldNames returns the field names in inference vector order.
func (c *Contract) FieldNames() []string { return c.schema.FieldNames() }

// HasModel reports whether an inference backend is bound.
func (c *Contract) HasModel() bool { return c.backend != nil }

// Strict reports whether clamp repair is disabled.
func (c *Contract) Strict() bool { return c.strict }

// Execute runs repair, validation and drift detection over payload in
// field order, then inference when a backend is bound. Unknown fields are
// rejected before any rule runs.
func (c *Contract) Execute(ctx context.Context, payload model.Payload) (*model.ExecutionResult, error) {
	if extra := c.unknownFields(payload); len(extra) > 0 {
		return nil, c.invalid("", fmt.Sprintf("extra fields not permitted: %s", strings.Join(extra, ", ")))
	}

	data := make(map[string]any, len(c.fields))
	values := make(map[string]model.Value, len(c.fields))
	meta := map[string]any{
		model.MetaDomain:  c.schema.Domain,
		model.MetaVersion: c.schema.Version,
	}
	drifted := false

	for _, fr := range c.fields {
		spec := fr.Spec()
		raw, present := payload[spec.Name]

		var v model.Value
		switch {
		case present:
			coerced, err := model.Coerce(spec.Type, raw)
			if err != nil {
				return nil, c.invalid(spec.Name, err.Error())
			}
			v = coerced
		case spec.HasDefault():
			v = *spec.Default
		case spec.Required:
			return nil, c.invalid(spec.Name, "field required")
		default:
			continue
		}

		v = fr.Repair(v)
		if err := fr.Validate(v); err != nil {
			return nil, c.scope(err)
		}

		if fr.HasDrift() {
			d := fr.Drift(v)
			meta[model.DriftKey(spec.Name)] = d
			drifted = drifted || d
		}

		values[spec.Name] = v
		data[spec.Name] = v.Interface()
	}
	meta[model.MetaDriftDetected] = drifted

	res := &model.ExecutionResult{Data: data, Metadata: meta}
	if c.backend == nil {
		return res, nil
	}

	vec, err := c.vector(values)
	if err != nil {
		return nil, err
	}
	pred, err := c.backend.Predict(ctx, vec)
	if err != nil {
		if model.IsModel(err) {
			return nil, err
		}
		return nil, &model.ModelError{Path: c.schema.Model.Path, Op: model.OpPredict, Err: err}
	}
	res.Predictions = pred
	return res, nil
}

// vector lays out numeric field values in schema order. Bools map to 0/1.
func (c *Contract) vector(values map[string]model.Value) ([]float32, error) {
	vec := make([]float32, 0, len(c.fields))
	for _, fr := range c.fields {
		name := fr.Spec().Name
		v, ok := values[name]
		if !ok {
			return nil, c.invalid(name, "value required for inference")
		}
		n, ok := v.Number()
		if !ok {
			return nil, c.invalid(name, fmt.Sprintf("%s value cannot be used for inference", v.Type()))
		}
		vec = append(vec, float32(n))
	}
	return vec, nil
}

func (c *Contract) unknownFields(payload model.Payload) []string {
	var extra []string
	for k := range payload {
		if _, ok := c.known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func (c *Contract) invalid(field, reason string) error {
	return &model.ValidationError{Domain: c.schema.Domain, Version: c.schema.Version, Field: field, Reason: reason}
}

// scope fills in the contract identity on a field-level validation error.
func (c *Contract) scope(err error) error {
	if ve, ok := err.(*model.ValidationError); ok {
		out := *ve
		out.Domain, out.Version = c.schema.Domain, c.schema.Version
		return &out
	}
	return err
}

func scopeError(err error, schema *model.SchemaConfig) error {
	if se, ok := err.(*model.SchemaError); ok {
		out := *se
		out.Domain, out.Version = schema.Domain, schema.Version
		return &out
	}
	return err
}
