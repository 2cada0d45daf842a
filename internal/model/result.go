package model

import "time"

// Metadata keys set on execution results.
const (
	MetaDriftDetected      = "drift_detected"
	MetaDomain             = "domain"
	MetaVersion            = "version"
	MetaMigrated           = "migrated"
	MetaSourceVersion      = "source_version"
	MetaTargetVersion      = "target_version"
	MetaMigrationStatus    = "migration_status"
	MetaMigrationPath      = "migration_path"
	MetaMigrationPathFound = "migration_path_found"
	MetaMigrationErrors    = "migration_errors"
)

// DriftKey returns the per-field drift metadata key.
func DriftKey(field string) string {
	return field + "_drift"
}

// Payload is a loosely typed input or migrated document.
type Payload map[string]any

// Clone returns a deep copy of nested maps and slices.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	}
	return v
}

// Prediction is the output of an inference backend.
type Prediction struct {
	Predictions any    `json:"predictions"`
	Shape       []int  `json:"output_shape,omitempty"`
	Kind        string `json:"model_type"`
}

// ExecutionResult is the outcome of running a contract over one payload.
type ExecutionResult struct {
	ID          string         `json:"execution_id,omitempty"`
	Data        map[string]any `json:"validated_data"`
	Predictions *Prediction    `json:"predictions,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

// DriftDetected reports the aggregate drift flag.
func (r *ExecutionResult) DriftDetected() bool {
	b, _ := r.Metadata[MetaDriftDetected].(bool)
	return b
}

// Migrated reports whether a migration was applied before execution.
func (r *ExecutionResult) Migrated() bool {
	b, _ := r.Metadata[MetaMigrated].(bool)
	return b
}

// MigrationStatus describes how a migration request was resolved.
type MigrationStatus string

const (
	MigrationNoop        MigrationStatus = "noop"
	MigrationDowngrade   MigrationStatus = "downgrade"
	MigrationDirect      MigrationStatus = "direct"
	MigrationStepwise    MigrationStatus = "stepwise"
	MigrationPassthrough MigrationStatus = "passthrough"
)

// MigrationOutcome records which path, if any, transformed a payload.
type MigrationOutcome struct {
	Domain string          `json:"domain"`
	From   string          `json:"from_version"`
	To     string          `json:"to_version"`
	Status MigrationStatus `json:"status"`
	Path   []string        `json:"path,omitempty"`
	Errors []string        `json:"errors,omitempty"`
}

// Migrated reports whether a transform was applied.
func (o MigrationOutcome) Migrated() bool {
	return o.Status == MigrationDirect || o.Status == MigrationStepwise
}

// PathFound is false only when a forward migration had no resolvable path.
func (o MigrationOutcome) PathFound() bool {
	return o.Status != MigrationPassthrough
}

// ExecutionStatus is the recorded outcome of an execution.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "error"
)

// ExecutionRecord is one row of the execution log.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	Domain          string          `json:"domain"`
	SourceVersion   string          `json:"source_version"`
	TargetVersion   string          `json:"target_version"`
	Migrated        bool            `json:"migrated"`
	MigrationStatus MigrationStatus `json:"migration_status,omitempty"`
	DriftDetected   bool            `json:"drift_detected"`
	Status          ExecutionStatus `json:"status"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	Error           string          `json:"error,omitempty"`
	DurationMs      float64         `json:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}
