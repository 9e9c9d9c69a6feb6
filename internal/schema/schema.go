// Package schema centralizes field-level type coercion and JSON Schema
// validation for catalogues and events. Every write to a scalar field
// passes through here before it reaches the CRDT document (internal/crdt);
// every read passes back through to turn the document's JSON-ish storage
// representation into a typed Go value, using gojsonschema-compiled
// schemas specialized to catalogd's two fixed kinds.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Kind names one of the two schema-validated object kinds.
type Kind string

const (
	KindCatalogue Kind = "catalogue"
	KindEvent     Kind = "event"
)

// Scalar field names, shared with internal/crdt and internal/catalog so a
// typo in a field name fails at compile time rather than silently missing
// its validator.
const (
	FieldName   = "name"
	FieldAuthor = "author"
	FieldStart  = "start"
	FieldStop   = "stop"
	FieldRating = "rating"
)

// ValidationError reports one JSON Schema violation.
type ValidationError struct {
	Field       string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ErrInvalid is returned when a model fails schema validation on write:
// the write is not applied.
type ErrInvalid struct {
	Kind   Kind
	Errors []ValidationError
}

func (e *ErrInvalid) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("schema: %s failed validation", e.Kind)
	}
	return fmt.Sprintf("schema: %s failed validation: %s", e.Kind, e.Errors[0])
}

var (
	catalogueSchema = compileSchema(catalogueSchemaJSON)
	eventSchema     = compileSchema(eventSchemaJSON)
)

func compileSchema(def []byte) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def))
	if err != nil {
		panic(fmt.Sprintf("schema: invalid built-in schema: %v", err))
	}
	return compiled
}

// catalogueSchemaJSON validates the Catalogue scalar fields: name and
// author are required non-empty strings; tags/events/attributes live
// outside the scalar schema since they're CRDT sub-collections, not
// last-writer-wins scalars.
var catalogueSchemaJSON = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "author"],
	"properties": {
		"name":   {"type": "string", "minLength": 1},
		"author": {"type": "string", "minLength": 1}
	}
}`)

// eventSchemaJSON validates the Event scalar fields: start/stop are
// ISO-8601 timestamp strings, author is a required non-empty string,
// rating is a nullable small integer (its key is simply absent from the
// payload when unset).
var eventSchemaJSON = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["start", "stop", "author"],
	"properties": {
		"start":  {"type": "string", "format": "date-time"},
		"stop":   {"type": "string", "format": "date-time"},
		"author": {"type": "string", "minLength": 1},
		"rating": {"type": "integer", "minimum": 0, "maximum": 100}
	}
}`)

// Per-field schemas back single-field setters (Catalogue.SetName,
// Event.SetRating, ...): unlike the whole-model schemas above they carry
// no "required" constraint, since a setter only ever supplies the one
// field being changed.
var (
	catalogueFieldSchemaJSON = map[string][]byte{
		FieldName:   []byte(`{"type": "string", "minLength": 1}`),
		FieldAuthor: []byte(`{"type": "string", "minLength": 1}`),
	}
	eventFieldSchemaJSON = map[string][]byte{
		FieldStart:  []byte(`{"type": "string", "format": "date-time"}`),
		FieldStop:   []byte(`{"type": "string", "format": "date-time"}`),
		FieldAuthor: []byte(`{"type": "string", "minLength": 1}`),
		FieldRating: []byte(`{"type": "integer", "minimum": 0, "maximum": 100}`),
	}

	catalogueFieldValidators = compileFieldSchemas(catalogueFieldSchemaJSON)
	eventFieldValidators     = compileFieldSchemas(eventFieldSchemaJSON)
)

func compileFieldSchemas(defs map[string][]byte) map[string]*gojsonschema.Schema {
	out := make(map[string]*gojsonschema.Schema, len(defs))
	for field, def := range defs {
		out[field] = compileSchema(def)
	}
	return out
}

// ValidateCatalogueField schema-checks a single catalogue field's value,
// the validation half of a property setter, applied per-field rather
// than to a whole model.
func ValidateCatalogueField(field string, value any) error {
	return validateField(catalogueFieldValidators, KindCatalogue, field, value)
}

// ValidateEventField schema-checks a single event field's value.
func ValidateEventField(field string, value any) error {
	return validateField(eventFieldValidators, KindEvent, field, value)
}

func validateField(validators map[string]*gojsonschema.Schema, kind Kind, field string, value any) error {
	compiled, ok := validators[field]
	if !ok {
		return nil // no scalar constraint registered for this field (e.g. a collection field)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("schema: marshal %s.%s: %w", kind, field, err)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("schema: validate %s.%s: %w", kind, field, err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]ValidationError, len(result.Errors()))
	for i, e := range result.Errors() {
		errs[i] = ValidationError{Field: field, Description: e.Description()}
	}
	return &ErrInvalid{Kind: kind, Errors: errs}
}

func validateAgainst(compiled *gojsonschema.Schema, kind Kind, wire map[string]any) error {
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("schema: marshal %s: %w", kind, err)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("schema: validate %s: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]ValidationError, len(result.Errors()))
	for i, e := range result.Errors() {
		errs[i] = ValidationError{Field: e.Field(), Description: e.Description()}
	}
	return &ErrInvalid{Kind: kind, Errors: errs}
}

// ValidateAttributeValue rejects attribute values that cannot round-trip
// through JSON.
func ValidateAttributeValue(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return &ErrInvalid{Kind: "attribute", Errors: []ValidationError{{
			Field:       "attributes",
			Description: fmt.Sprintf("value is not JSON-compatible: %v", err),
		}}}
	}
	return nil
}
