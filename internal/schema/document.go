package schema

import (
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contractml/internal/model"
)

// document is the on-disk shape of one schema file.
type document struct {
	Description string       `yaml:"description"`
	Mode        string       `yaml:"mode"`
	Fields      fieldList    `yaml:"fields"`
	Model       *modelRefDoc `yaml:"ml_model"`
}

type fieldDoc struct {
	Type        string        `yaml:"type"`
	Description string        `yaml:"description"`
	Default     yaml.Node     `yaml:"default"`
	Min         *float64      `yaml:"min"`
	Max         *float64      `yaml:"max"`
	Pattern     string        `yaml:"pattern"`
	Required    bool          `yaml:"required"`
	Strict      bool          `yaml:"strict"`
	Repair      *directiveDoc `yaml:"repair"`
	Validation  *directiveDoc `yaml:"validation"`
	Drift       *directiveDoc `yaml:"drift"`
}

type namedField struct {
	name string
	doc  fieldDoc
}

// fieldList keeps the mapping order of the `fields` block.
type fieldList []namedField

func (l *fieldList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return eris.New("fields must be a mapping of name to definition")
	}
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return eris.Errorf("duplicate field %q", name)
		}
		seen[name] = true

		var fd fieldDoc
		if err := node.Content[i+1].Decode(&fd); err != nil {
			return eris.Wrapf(err, "field %q", name)
		}
		*l = append(*l, namedField{name: name, doc: fd})
	}
	return nil
}

// directiveDoc accepts either a bare kind or a mapping with a `type` key.
type directiveDoc struct {
	Kind   string
	Params map[string]any
}

func (d *directiveDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		d.Kind = strings.TrimSpace(node.Value)
		return nil
	case yaml.MappingNode:
		var m map[string]any
		if err := node.Decode(&m); err != nil {
			return err
		}
		for _, key := range []string{"type", "kind"} {
			if k, ok := m[key].(string); ok {
				d.Kind = strings.TrimSpace(k)
				delete(m, key)
				break
			}
		}
		d.Params = m
		return nil
	}
	return eris.New("directive must be a kind name or a mapping")
}

// modelRefDoc accepts either a bare path or {path, type}.
type modelRefDoc struct {
	Path string `yaml:"path"`
	Kind string `yaml:"type"`
}

func (m *modelRefDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Path = node.Value
		return nil
	}
	type plain modelRefDoc
	return node.Decode((*plain)(m))
}

// toConfig converts a decoded document into a SchemaConfig, rejecting
// unknown types and defaults that do not fit their field.
func (d *document) toConfig(domain, version string) (*model.SchemaConfig, error) {
	cfg := &model.SchemaConfig{
		Domain:      domain,
		Version:     version,
		Description: d.Description,
		Mode:        strings.ToLower(strings.TrimSpace(d.Mode)),
		Fields:      make([]model.FieldSpec, 0, len(d.Fields)),
	}
	switch cfg.Mode {
	case "", model.ModeRepair, model.ModeStrict:
	default:
		return nil, &model.SchemaError{Domain: domain, Version: version, Reason: "unknown mode " + d.Mode}
	}

	for _, nf := range d.Fields {
		fd := nf.doc
		typ, ok := model.ParseFieldType(fd.Type)
		if !ok {
			return nil, &model.SchemaError{Domain: domain, Version: version, Field: nf.name, Reason: "unknown type " + fd.Type}
		}
		if fd.Min != nil && fd.Max != nil && *fd.Min > *fd.Max {
			return nil, &model.SchemaError{Domain: domain, Version: version, Field: nf.name, Reason: "min is greater than max"}
		}
		spec := model.FieldSpec{
			Name:        nf.name,
			Type:        typ,
			Description: fd.Description,
			Min:         fd.Min,
			Max:         fd.Max,
			Pattern:     fd.Pattern,
			Required:    fd.Required,
			Strict:      fd.Strict,
			Repair:      fd.Repair.toDirective(),
			Validation:  fd.Validation.toDirective(),
			Drift:       fd.Drift.toDirective(),
		}
		if fd.Default.Kind != 0 && fd.Default.ShortTag() != "!!null" {
			var raw any
			if err := fd.Default.Decode(&raw); err != nil {
				return nil, &model.SchemaError{Domain: domain, Version: version, Field: nf.name, Reason: "unreadable default"}
			}
			v, err := model.Coerce(typ, raw)
			if err != nil {
				return nil, &model.SchemaError{Domain: domain, Version: version, Field: nf.name, Reason: "default: " + err.Error()}
			}
			spec.Default = &v
		}
		cfg.Fields = append(cfg.Fields, spec)
	}

	if d.Model != nil && strings.TrimSpace(d.Model.Path) != "" {
		cfg.Model = &model.ModelRef{Path: d.Model.Path, Kind: strings.ToLower(d.Model.Kind)}
	}
	return cfg, nil
}

func (d *directiveDoc) toDirective() *model.Directive {
	if d == nil || d.Kind == "" {
		return nil
	}
	return &model.Directive{Kind: strings.ToLower(d.Kind), Params: d.Params}
}
