package model

// Schema modes.
const (
	ModeRepair = "repair"
	ModeStrict = "strict"
)

// SchemaConfig is the declarative definition of one (domain, version)
// contract. Field order is significant: it fixes the inference vector layout.
type SchemaConfig struct {
	Domain      string      `json:"domain"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	Fields      []FieldSpec `json:"fields"`
	Model       *ModelRef   `json:"ml_model,omitempty"`
}

// Field returns the spec for name.
func (s *SchemaConfig) Field(name string) (*FieldSpec, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// FieldNames returns field names in declaration order.
func (s *SchemaConfig) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Strict reports whether repair is disabled for the whole schema.
func (s *SchemaConfig) Strict() bool {
	return s.Mode == ModeStrict
}

// ModelRef points at an inference backend artifact. Kind is optional and
// detected from the path when empty.
type ModelRef struct {
	Path string `json:"path"`
	Kind string `json:"type,omitempty"`
}

// ContractRef identifies a discoverable (domain, version) pair.
type ContractRef struct {
	Domain  string `json:"domain"`
	Version string `json:"version"`
}

// Key returns the cache key for the pair.
func (r ContractRef) Key() string {
	return r.Domain + "/" + r.Version
}
