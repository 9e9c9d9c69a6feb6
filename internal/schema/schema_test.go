package schema

import (
	"testing"
	"time"
)

func TestValidateCatalogueRejectsMissingName(t *testing.T) {
	_, err := ValidateCatalogue(CatalogueModel{Author: "John"})
	if err == nil {
		t.Fatalf("expected an error for a catalogue with no name")
	}
	if _, ok := err.(*ErrInvalid); !ok {
		t.Fatalf("expected *ErrInvalid, got %T", err)
	}
}

func TestValidateCatalogueAccepts(t *testing.T) {
	wire, err := ValidateCatalogue(CatalogueModel{Name: "cat0", Author: "John"})
	if err != nil {
		t.Fatalf("ValidateCatalogue: %v", err)
	}
	if wire[FieldName] != "cat0" || wire[FieldAuthor] != "John" {
		t.Fatalf("unexpected wire payload: %v", wire)
	}
}

func TestValidateEventRoundTripsTimestamps(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	wire, err := ValidateEvent(EventModel{Start: start, Stop: stop, Author: "John"})
	if err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}

	decoded, err := DecodeTimestamp(wire[FieldStart])
	if err != nil {
		t.Fatalf("DecodeTimestamp: %v", err)
	}
	if !decoded.Equal(start) {
		t.Fatalf("expected %v, got %v", start, decoded)
	}
}

func TestValidateEventRejectsEmptyAuthor(t *testing.T) {
	_, err := ValidateEvent(EventModel{Start: time.Now(), Stop: time.Now()})
	if err == nil {
		t.Fatalf("expected an error for an event with no author")
	}
}

func TestRatingAbsentAndNilDecodeToUnset(t *testing.T) {
	got, err := DecodeRating(nil, false)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for an absent rating, got (%v, %v)", got, err)
	}

	got, err = DecodeRating(nil, true)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for an explicit null rating, got (%v, %v)", got, err)
	}
}

func TestRatingRoundTrip(t *testing.T) {
	rating := 4
	wire, err := ValidateEvent(EventModel{
		Start: time.Now(), Stop: time.Now(), Author: "John", Rating: &rating,
	})
	if err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}
	got, err := DecodeRating(wire[FieldRating], true)
	if err != nil {
		t.Fatalf("DecodeRating: %v", err)
	}
	if got == nil || *got != 4 {
		t.Fatalf("expected rating 4, got %v", got)
	}
}

func TestValidateAttributeValueRejectsNonJSON(t *testing.T) {
	if err := ValidateAttributeValue(make(chan int)); err == nil {
		t.Fatalf("expected an error for a non-JSON attribute value")
	}
}
