// internal/schema/validator.go
// Package schema provides JSON schema validation for ingest requests.
// Structural validation runs before the pipeline so that malformed bodies
// never reach the resolver.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ingestRequestSchema constrains the JSON body of POST /v1/assets. The
// payload is required; brand and takenAt are optional metadata overrides.
const ingestRequestSchema = `{
	"type": "object",
	"required": ["payload"],
	"additionalProperties": false,
	"properties": {
		"payload": {"type": "string", "minLength": 1, "maxLength": 4096},
		"brand":   {"type": "string", "maxLength": 64},
		"takenAt": {"type": "string", "format": "date-time"}
	}
}`

// listQuerySchema constrains the (JSON-encoded) query parameters accepted by
// GET /v1/assets once normalized by the server.
const listQuerySchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"limit":  {"type": "integer", "minimum": 1, "maximum": 100},
		"cursor": {"type": "string", "maxLength": 512}
	}
}`

// Validator validates request bodies against compiled JSON schemas.
type Validator struct {
	ingest *gojsonschema.Schema
	list   *gojsonschema.Schema
}

// NewValidator compiles all request schemas.
func NewValidator() (*Validator, error) {
	ingest, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ingestRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid ingest request schema: %w", err)
	}
	list, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(listQuerySchema))
	if err != nil {
		return nil, fmt.Errorf("invalid list query schema: %w", err)
	}
	return &Validator{ingest: ingest, list: list}, nil
}

// ValidateIngestRequest checks a raw JSON ingest body.
// Returns nil if valid, an error naming every violation otherwise.
func (v *Validator) ValidateIngestRequest(body []byte) error {
	return runValidation(v.ingest, body)
}

// ValidateListQuery checks the normalized list query document.
func (v *Validator) ValidateListQuery(body []byte) error {
	return runValidation(v.list, body)
}

func runValidation(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
