package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

const definitionSchemaURL = "https://crm-eco.dev/schemas/sequence.json"

// definitionSchemaJSON is the JSON Schema for SequenceDefinition.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://crm-eco.dev/schemas/sequence.json",
  "type": "object",
  "required": ["name", "organization_id", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "organization_id": { "type": "string", "minLength": 1 },
    "settings": { "$ref": "#/$defs/settings" },
    "exit_conditions": {
      "type": "array",
      "items": { "$ref": "#/$defs/exit_condition" }
    },
    "steps": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "send_time": {
      "type": "string",
      "pattern": "^([01]?[0-9]|2[0-3]):[0-5][0-9]$"
    },
    "send_days": {
      "type": "array",
      "items": { "type": "integer", "minimum": 0, "maximum": 6 },
      "maxItems": 7
    },
    "settings": {
      "type": "object",
      "properties": {
        "stop_on_reply": { "type": "boolean" },
        "stop_on_bounce": { "type": "boolean" },
        "throttle_daily": { "type": "integer", "minimum": 0 },
        "send_days": { "$ref": "#/$defs/send_days" },
        "send_time": { "$ref": "#/$defs/send_time" },
        "timezone": { "type": "string" }
      },
      "additionalProperties": false
    },
    "exit_condition": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["unsubscribed", "tag_added"] },
        "tag": { "type": "string" }
      },
      "additionalProperties": false
    },
    "delay": {
      "type": "object",
      "properties": {
        "days": { "type": "integer", "minimum": 0 },
        "hours": { "type": "integer", "minimum": 0 },
        "minutes": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["step_order", "step_type"],
      "properties": {
        "step_order": { "type": "integer", "minimum": 1 },
        "step_type": { "type": "string", "enum": ["email", "wait", "condition"] },
        "delay": { "$ref": "#/$defs/delay" },
        "email": { "$ref": "#/$defs/email" },
        "condition": { "$ref": "#/$defs/condition" }
      },
      "additionalProperties": false
    },
    "email": {
      "type": "object",
      "required": ["subject"],
      "properties": {
        "subject": { "type": "string" },
        "html_body": { "type": "string" },
        "text_body": { "type": "string" },
        "from_override": { "type": "string" },
        "send_time": { "$ref": "#/$defs/send_time" },
        "send_days": { "$ref": "#/$defs/send_days" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["email_opened", "link_clicked", "field_value", "expression"] },
        "field": { "type": "string" },
        "operator": { "type": "string", "enum": ["equals", "not_equals", "contains", "is_empty", "is_not_empty"] },
        "value": { "type": "string" },
        "expression": { "type": "string" },
        "engine": { "type": "string", "enum": ["cel", "expr", "jq"] },
        "then_step": { "type": "integer", "minimum": 0 },
        "else_step": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of sequence definitions.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	definitionSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the sequence definition schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}
	compiled, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	return &JSONSchemaValidator{definitionSchema: compiled}, nil
}

// ValidateDefinition validates def against the definition schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.SequenceDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "sequence definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize sequence definition").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateDocument validates an already-decoded JSON document (as produced by
// jsonschema.UnmarshalJSON) against the definition schema.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if err := v.definitionSchema.Validate(doc); err != nil {
		return toSequencerError(err)
	}
	return nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSequencerError flattens a jsonschema.ValidationError into one error with
// every leaf violation listed in Details.
func toSequencerError(err error) *schema.SequencerError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks the error tree and returns leaf messages prefixed
// with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
