// Package jsonschema wraps santhosh-tekuri/jsonschema for validating JSON
// documents and decoded values against a schema.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON schema. It is safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile compiles a schema document.
func Compile(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// ValidateJSON validates a raw JSON document.
// It returns nil when the document conforms, ValidationErrors otherwise.
func (s *Schema) ValidateJSON(doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}
	return s.validate(v)
}

// ValidateValue validates an already decoded value (for example a YAML
// document). The value is normalised through encoding/json first so that
// integer and map types produced by other decoders are accepted.
func (s *Schema) ValidateValue(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return ValidationErrors{fmt.Errorf("value is not JSON-compatible: %w", err)}
	}
	return s.ValidateJSON(raw)
}

func (s *Schema) validate(v interface{}) error {
	err := s.schema.Validate(v)
	if err == nil {
		return nil
	}
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		return extractValidationErrors(validationErr)
	}
	return ValidationErrors{err}
}

// Validate validates a JSON string against a JSON Schema string.
// Returns true if the JSON is valid. Schema or JSON parse problems are
// returned as an error.
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}

	var probe interface{}
	if err := json.Unmarshal([]byte(jsonStr), &probe); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}

	return schema.ValidateJSON([]byte(jsonStr)) == nil, nil
}

// extractValidationErrors flattens the leaf causes of a ValidationError.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("%s: %s", location(err.InstanceLocation), err.Message)}
	}

	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}

func location(instance string) string {
	if instance == "" {
		return "/"
	}
	return instance
}
