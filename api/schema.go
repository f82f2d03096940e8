// Package api declares the typed shapes of the declarations a topology
// template contains. Raw template sections are decoded into these structs
// and validated before the engine builds entities from them.
package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unbounded is the upper occurrence bound written as UNBOUNDED.
const Unbounded = -1

// Occurrences is a [lower, upper] bound on how many times a requirement
// must be satisfied.
type Occurrences struct {
	Lower int
	Upper int
}

// DefaultOccurrences applies when a requirement declares none.
var DefaultOccurrences = Occurrences{Lower: 1, Upper: 1}

// Optional reports whether the requirement may stay unlinked.
func (o Occurrences) Optional() bool { return o.Lower == 0 }

// ParseOccurrences reads the raw two-element form. The upper bound may be
// the string "UNBOUNDED".
func ParseOccurrences(raw any) (Occurrences, error) {
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return Occurrences{}, fmt.Errorf("occurrences must be a two-element list, got %v", raw)
	}
	lower, err := bound(list[0])
	if err != nil {
		return Occurrences{}, fmt.Errorf("occurrences lower bound: %w", err)
	}
	upper, err := bound(list[1])
	if err != nil {
		return Occurrences{}, fmt.Errorf("occurrences upper bound: %w", err)
	}
	if lower < 0 || (upper != Unbounded && upper < lower) {
		return Occurrences{}, fmt.Errorf("invalid occurrences [%d, %d]", lower, upper)
	}
	return Occurrences{Lower: lower, Upper: upper}, nil
}

func bound(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		if strings.EqualFold(n, "UNBOUNDED") {
			return Unbounded, nil
		}
	}
	return 0, fmt.Errorf("%v is not an integer or UNBOUNDED", v)
}

// UnmarshalJSON accepts the two-element list form.
func (o *Occurrences) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseOccurrences(raw)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// StringList decodes either a single string or a list of strings.
type StringList []string

// UnmarshalJSON accepts "a" as well as ["a", "b"].
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*s = list
	return nil
}

// NodeTemplate is the header of a node template. Capabilities,
// requirements and artifacts are order sensitive and read separately.
type NodeTemplate struct {
	Type        string         `json:"type" validate:"required"`
	Description string         `json:"description,omitempty"`
	Directives  []string       `json:"directives,omitempty" validate:"dive,required"`
	Properties  map[string]any `json:"properties,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// RelationshipTemplate is a globally declared relationship.
type RelationshipTemplate struct {
	Type        string         `json:"type" validate:"required"`
	Description string         `json:"description,omitempty"`
	DefaultFor  string         `json:"default_for,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Interfaces  map[string]any `json:"interfaces,omitempty"`
}

// Artifact declares a file-like resource.
type Artifact struct {
	Type              string `json:"type,omitempty"`
	File              string `json:"file" validate:"required"`
	Repository        string `json:"repository,omitempty"`
	Description       string `json:"description,omitempty"`
	Checksum          string `json:"checksum,omitempty" validate:"omitempty,hexadecimal"`
	ChecksumAlgorithm string `json:"checksum_algorithm,omitempty" validate:"omitempty,oneof=SHA-256 SHA256 sha256 BLAKE3 blake3"`
	Version           string `json:"version,omitempty"`
	DeployPath        string `json:"deploy_path,omitempty"`
}

// Repository names a location artifacts and imports can be resolved
// against.
type Repository struct {
	URL         string `json:"url" validate:"required"`
	Description string `json:"description,omitempty"`
}

// Import pulls another template document in. When, if set, is a match
// expression that must select something for the import to be kept.
type Import struct {
	File       string `json:"file" validate:"required"`
	Repository string `json:"repository,omitempty"`
	When       string `json:"when,omitempty"`
}

// Input declares a topology input.
type Input struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Required    *bool  `json:"required,omitempty"`
}

// IsRequired defaults to true as inputs do in TOSCA.
func (i Input) IsRequired() bool { return i.Required == nil || *i.Required }

// Output declares a topology output. Value may be an expression.
type Output struct {
	Description string `json:"description,omitempty"`
	Value       any    `json:"value"`
}

// Group collects nodes (or other groups).
type Group struct {
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Members     []string       `json:"members,omitempty" validate:"dive,required"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Policy applies to nodes or groups.
type Policy struct {
	Type        string         `json:"type" validate:"required"`
	Description string         `json:"description,omitempty"`
	Targets     []string       `json:"targets,omitempty" validate:"dive,required"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Workflow is a named set of steps plus the preconditions that must hold
// before it starts.
type Workflow struct {
	Description   string          `json:"description,omitempty"`
	Preconditions []Precondition  `json:"preconditions,omitempty" validate:"dive"`
	Steps         map[string]Step `json:"steps,omitempty" validate:"dive"`
}

// Precondition names a target entity and attribute filters on it.
type Precondition struct {
	Target    string `json:"target" validate:"required"`
	Condition []any  `json:"condition,omitempty"`
}

// Step is one workflow step. OnSuccess and OnFailure are ordered successor
// step names.
type Step struct {
	Target             string     `json:"target" validate:"required"`
	TargetRelationship string     `json:"target_relationship,omitempty"`
	Filter             []any      `json:"filter,omitempty"`
	Activities         []any      `json:"activities,omitempty"`
	OnSuccess          StringList `json:"on_success,omitempty"`
	OnFailure          StringList `json:"on_failure,omitempty"`
}
