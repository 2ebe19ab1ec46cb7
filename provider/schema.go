package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a named JSON Schema used to validate structured provider output.
// Validation failures are permanent: the provider returned a malformed
// document and retrying the same call is pointless.
type Schema struct {
	Name       string
	Definition string
}

// SchemaValidationError reports a structured-output document that failed
// schema validation.
type SchemaValidationError struct {
	Schema   string
	Problems []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema %q validation failed: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Validate checks a raw JSON document against the schema.
func (s Schema) Validate(raw json.RawMessage) error {
	schemaLoader := gojsonschema.NewStringLoader(s.Definition)
	docLoader := gojsonschema.NewBytesLoader(raw)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema %q: %w", s.Name, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &SchemaValidationError{Schema: s.Name, Problems: problems}
}

// Decode validates raw against the schema and unmarshals it into out.
func Decode(schema Schema, raw json.RawMessage, out any) error {
	if err := schema.Validate(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &SchemaValidationError{
			Schema:   schema.Name,
			Problems: []string{err.Error()},
		}
	}
	return nil
}
