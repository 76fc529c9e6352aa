package validation

import (
	"errors"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Validator checks sequence definitions before they are stored.
type Validator interface {
	ValidateDefinition(def *schema.SequenceDefinition) error
}

// DefinitionValidator runs the two-stage pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ordering, per-type config, time constraints, engine names)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	engines    EngineLookup
}

// NewDefinitionValidator creates a DefinitionValidator.
// engines may be nil to skip expression engine checks.
func NewDefinitionValidator(engines EngineLookup) (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv, engines: engines}, nil
}

// Validate returns every issue found. Structural errors short-circuit the
// semantic stage.
func (v *DefinitionValidator) Validate(def *schema.SequenceDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.Errorf("/", "sequence definition is nil")
		return result
	}

	if err := v.jsonSchema.ValidateDefinition(def); err != nil {
		addStructural(result, err)
		return result
	}

	result.Merge(validateSemantic(def, v.engines))
	return result
}

// ValidateDefinition satisfies Validator.
func (v *DefinitionValidator) ValidateDefinition(def *schema.SequenceDefinition) error {
	return v.Validate(def).ToError()
}

// addStructural unpacks schema violations into individual issues.
func addStructural(result *schema.ValidationResult, err error) {
	var serr *schema.SequencerError
	if !errors.As(err, &serr) {
		result.Errorf("/", "%s", err.Error())
		return
	}
	if violations, ok := serr.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.Errorf("/", "%s", msg)
		}
		return
	}
	result.Errorf("/", "%s", serr.Message)
}
