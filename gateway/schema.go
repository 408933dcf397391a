package gateway

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/entitystream/errors"
)

// publishSchema validates the ingress payload before it reaches the engine.
// Structural checks live here so malformed payloads never consume a queue
// slot; semantic defaults (priority, timestamp) are the engine's job.
const publishSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {
			"type": "object",
			"required": ["entityType", "eventType"],
			"properties": {
				"id": {"type": "string"},
				"entityType": {"type": "string", "minLength": 1},
				"eventType": {"type": "string", "minLength": 1},
				"eventData": {"type": "object"},
				"timestamp": {"type": "string"},
				"source": {"type": "string"},
				"version": {"type": "string"}
			}
		},
		"options": {
			"type": "object",
			"properties": {
				"priority": {"type": "string", "enum": ["high", "normal", "low"]},
				"guaranteed": {"type": "boolean"},
				"metadata": {"type": "object"}
			}
		}
	}
}`

// eventValidator holds the compiled publish schema.
type eventValidator struct {
	schema *gojsonschema.Schema
}

func newEventValidator() (*eventValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(publishSchema))
	if err != nil {
		return nil, errors.WrapFatal(err, "eventValidator", "newEventValidator",
			"compile publish schema")
	}
	return &eventValidator{schema: schema}, nil
}

// validate checks raw JSON against the publish schema and returns one
// human-readable message per violation. A nil/empty slice means valid.
// Malformed JSON surfaces as a single violation so callers get a 400 with
// details rather than two error paths.
func (v *eventValidator) validate(body []byte) []string {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{"payload is not valid JSON"}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return violations
}
