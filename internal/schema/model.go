package schema

import (
	"fmt"
	"time"

	"github.com/catalogd/catalogd/internal/core"
)

// CatalogueModel is the caller-facing shape passed to DB.CreateCatalogue.
// Tags and Events are handled outside validation (they land in ORSets, not
// the scalar schema); Attributes is validated member-by-member.
type CatalogueModel struct {
	Name       string
	Author     string
	Tags       []string
	Events     []string
	Attributes map[string]any
}

// EventModel is the caller-facing shape passed to DB.CreateEvent. Rating is
// a pointer so its zero value (nil) represents "unset" rather than the
// integer zero.
type EventModel struct {
	Start      time.Time
	Stop       time.Time
	Author     string
	Tags       []string
	Products   []string
	Rating     *int
	Attributes map[string]any
}

// ValidateCatalogue schema-checks model's scalar fields and returns the
// CRDT-safe wire representation (field name -> string) ready for
// Txn.SetScalar. Attribute values are validated one by one but are not
// part of the returned map; Tags and Events are neither validated nor
// returned, since they don't flow through the scalar LWW map.
func ValidateCatalogue(model CatalogueModel) (map[string]any, error) {
	wire := map[string]any{
		FieldName:   model.Name,
		FieldAuthor: model.Author,
	}
	if err := validateAgainst(catalogueSchema, KindCatalogue, wire); err != nil {
		return nil, err
	}
	for key, value := range model.Attributes {
		if err := ValidateAttributeValue(value); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
	}
	return wire, nil
}

// ValidateEvent schema-checks model's scalar fields and returns the
// CRDT-safe wire representation. A nil Rating omits the "rating" key
// entirely rather than writing a null, matching how DeleteScalar unsets it.
func ValidateEvent(model EventModel) (map[string]any, error) {
	wire := map[string]any{
		FieldStart:  core.FormatTimestamp(model.Start),
		FieldStop:   core.FormatTimestamp(model.Stop),
		FieldAuthor: model.Author,
	}
	if model.Rating != nil {
		wire[FieldRating] = *model.Rating
	}
	if err := validateAgainst(eventSchema, KindEvent, wire); err != nil {
		return nil, err
	}
	for key, value := range model.Attributes {
		if err := ValidateAttributeValue(value); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
	}
	return wire, nil
}

// DecodeTimestamp coerces a CRDT-stored scalar back into a typed
// time.Time, the read-path half of storing timestamps as strings.
func DecodeTimestamp(stored any) (time.Time, error) {
	s, ok := stored.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("schema: expected a timestamp string, got %T", stored)
	}
	return core.ParseTimestamp(s)
}

// DecodeRating coerces a CRDT-stored rating back into *int. A missing key
// (ok=false) and an explicit nil both decode to (nil, nil): absence and
// null are treated interchangeably.
func DecodeRating(stored any, ok bool) (*int, error) {
	if !ok || stored == nil {
		return nil, nil
	}
	switch v := stored.(type) {
	case int:
		return &v, nil
	case float64: // gob round-trips a stored int as float64 after a JSON hop
		n := int(v)
		return &n, nil
	default:
		return nil, fmt.Errorf("schema: expected an integer rating, got %T", stored)
	}
}

// DecodeString coerces a CRDT-stored scalar back into a string, used for
// name/author reads. A missing key (ok=false) decodes to "".
func DecodeString(stored any, ok bool) (string, error) {
	if !ok {
		return "", nil
	}
	s, ok := stored.(string)
	if !ok {
		return "", fmt.Errorf("schema: expected a string, got %T", stored)
	}
	return s, nil
}
