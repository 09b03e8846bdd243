package pii

import (
	"strings"
	"testing"
)

func TestRedact_NoOriginalValueSurvives(t *testing.T) {
	d := New()
	text := "My SSN is 123-45-6789 and email is test@example.com"
	dets := d.Detect(text)
	redacted, types := Redact(text, dets)

	if strings.Contains(redacted, "123-45-6789") {
		t.Errorf("redacted text still contains SSN: %q", redacted)
	}
	if strings.Contains(redacted, "test@example.com") {
		t.Errorf("redacted text still contains email: %q", redacted)
	}
	if !types[TypeSSN] || !types[TypeEmail] {
		t.Errorf("expected ssn and email in typesRedacted, got %+v", types)
	}
	if !strings.Contains(redacted, "[SSN_REDACTED]") {
		t.Errorf("expected [SSN_REDACTED] placeholder, got %q", redacted)
	}
	if !strings.Contains(redacted, "[EMAIL_REDACTED]") {
		t.Errorf("expected [EMAIL_REDACTED] placeholder, got %q", redacted)
	}
}

func TestRedact_Idempotent(t *testing.T) {
	d := New()
	text := "Contact me at a@b.com or 555-123-4567"
	once, _ := Redact(text, d.Detect(text))
	twice, _ := Redact(once, d.Detect(once))

	if once != twice {
		t.Errorf("redact is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestRedact_NoDetections_ReturnsOriginal(t *testing.T) {
	text := "nothing sensitive here"
	redacted, types := Redact(text, nil)
	if redacted != text {
		t.Errorf("expected unchanged text, got %q", redacted)
	}
	if len(types) != 0 {
		t.Errorf("expected no types redacted, got %+v", types)
	}
}

func TestChooseNonOverlapping_PrefersEarlierStart(t *testing.T) {
	detections := []Detection{
		{Type: TypeEmail, Start: 0, End: 5, Confidence: 0.9},
		{Type: TypePhone, Start: 2, End: 8, Confidence: 0.5}, // overlaps, longer but starts later
		{Type: TypeSSN, Start: 10, End: 15, Confidence: 0.9},
	}
	chosen := chooseNonOverlapping(detections)

	if len(chosen) != 2 {
		t.Fatalf("expected 2 non-overlapping intervals, got %d: %+v", len(chosen), chosen)
	}
	if chosen[0].Type != TypeEmail {
		t.Errorf("expected first chosen interval to be the earlier one, got %+v", chosen[0])
	}
	if chosen[1].Type != TypeSSN {
		t.Errorf("expected second chosen interval to be ssn, got %+v", chosen[1])
	}
}

func TestPlaceholder_Format(t *testing.T) {
	if got := placeholder(TypeCreditCard); got != "[CREDIT_CARD_REDACTED]" {
		t.Errorf("placeholder(credit_card) = %q", got)
	}
}

func TestRedact_PreservesSurroundingText(t *testing.T) {
	text := "prefix test@example.com suffix"
	d := New()
	redacted, _ := Redact(text, d.Detect(text))
	if !strings.HasPrefix(redacted, "prefix ") || !strings.HasSuffix(redacted, " suffix") {
		t.Errorf("surrounding text not preserved: %q", redacted)
	}
}
