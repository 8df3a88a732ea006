package models

import "time"

// Mapping copies a value from a dotted path in the input document to a
// dotted path in the output document.
type Mapping struct {
	Source string `json:"source" bson:"source"`
	Target string `json:"target" bson:"target"`
}

// ComputedField evaluates an expression against the input and the
// result-so-far and writes the value to a dotted path.
type ComputedField struct {
	Field      string `json:"field" bson:"field"`
	Expression string `json:"expression" bson:"expression"`
}

// RuleSet is one declarative mapping stage, consumed verbatim from the
// transformation rule document.
type RuleSet struct {
	Mappings []Mapping              `json:"mappings" bson:"mappings"`
	Defaults map[string]interface{} `json:"defaults,omitempty" bson:"defaults,omitempty"`
	Computed []ComputedField        `json:"computed,omitempty" bson:"computed,omitempty"`
}

// IntegrationTransformation is a declarative rule from one
// (connector, type) pair to another. Rules are configuration, read-only
// to the engine; among active rules matching a lookup the highest
// priority wins, ties broken by created_at then id.
type IntegrationTransformation struct {
	ID                string    `json:"id" bson:"_id"`
	Name              string    `json:"name,omitempty" bson:"name,omitempty"`
	SourceConnector   string    `json:"source_connector" bson:"source_connector"`
	TargetConnector   string    `json:"target_connector" bson:"target_connector"`
	SourceType        string    `json:"source_type" bson:"source_type"`
	TargetType        string    `json:"target_type" bson:"target_type"`
	IsActive          bool      `json:"is_active" bson:"is_active"`
	Priority          int       `json:"priority" bson:"priority"`
	SourceToCanonical RuleSet   `json:"source_to_canonical" bson:"source_to_canonical"`
	CanonicalToTarget RuleSet   `json:"canonical_to_target" bson:"canonical_to_target"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}
