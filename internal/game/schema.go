package game

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates candidate actions against a JSON Schema document.
type Schema struct {
	compiled *jsonschema.Schema
	source   string
}

// CompileSchema compiles a JSON Schema document. The document is
// trusted engine code, so a compile failure is a programming error.
func CompileSchema(document string) (*Schema, error) {
	compiled, err := jsonschema.CompileString("action.schema.json", document)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Schema{compiled: compiled, source: document}, nil
}

// MustCompileSchema is CompileSchema for engine init paths.
func MustCompileSchema(document string) *Schema {
	s, err := CompileSchema(document)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded action against the schema.
func (s *Schema) Validate(action map[string]any) error {
	return s.compiled.Validate(action)
}

// Source returns the schema document text.
func (s *Schema) Source() string {
	return s.source
}
