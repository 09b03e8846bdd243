package pii

import "testing"

func TestDetect_EmailAndSSN(t *testing.T) {
	d := New()
	text := "My SSN is 123-45-6789 and email is test@example.com"
	dets := d.Detect(text)

	var sawSSN, sawEmail bool
	for _, det := range dets {
		switch det.Type {
		case TypeSSN:
			sawSSN = true
			if det.Value != "123-45-6789" {
				t.Errorf("ssn value = %q", det.Value)
			}
		case TypeEmail:
			sawEmail = true
			if det.Value != "test@example.com" {
				t.Errorf("email value = %q", det.Value)
			}
		}
	}
	if !sawSSN || !sawEmail {
		t.Fatalf("expected ssn and email detections, got %+v", dets)
	}
}

func TestDetect_OrderedByStartThenLength(t *testing.T) {
	d := New()
	dets := d.Detect("call 555-123-4567 then email a@b.co")
	for i := 1; i < len(dets); i++ {
		if dets[i-1].Start > dets[i].Start {
			t.Fatalf("detections not ordered by start: %+v", dets)
		}
	}
}

func TestDetect_Invariant_StartBeforeEnd(t *testing.T) {
	d := New()
	for _, text := range []string{
		"test@example.com",
		"123-45-6789",
		"192.168.1.1",
		"4111 1111 1111 1111",
		"1990-01-01",
	} {
		for _, det := range d.Detect(text) {
			if !(det.Start < det.End && det.End <= len(text)) {
				t.Errorf("invariant violated for %q: %+v", text, det)
			}
		}
	}
}

func TestDetect_SSNRejectsAllZero(t *testing.T) {
	d := New()
	dets := d.Detect("000-00-0000")
	for _, det := range dets {
		if det.Type == TypeSSN {
			t.Errorf("all-zero SSN group should be rejected, got %+v", det)
		}
	}
}

func TestDetect_CreditCardRequiresLuhn(t *testing.T) {
	d := New()
	valid := d.Detect("4111111111111111") // passes Luhn
	var found bool
	for _, det := range valid {
		if det.Type == TypeCreditCard {
			found = true
		}
	}
	if !found {
		t.Error("expected credit_card detection for Luhn-valid number")
	}

	invalid := d.Detect("1234567890123456") // fails Luhn
	for _, det := range invalid {
		if det.Type == TypeCreditCard {
			t.Errorf("Luhn-invalid number should not be detected as credit_card: %+v", det)
		}
	}
}

func TestDetect_IPv4AndIPv6(t *testing.T) {
	d := New()
	for _, text := range []string{"192.168.1.1", "::1", "fe80::1"} {
		dets := d.Detect(text)
		var found bool
		for _, det := range dets {
			if det.Type == TypeIPAddress {
				found = true
			}
		}
		if !found {
			t.Errorf("expected ip_address detection in %q, got %+v", text, dets)
		}
	}
}

func TestDetect_DateOfBirth_YearRange(t *testing.T) {
	d := New()
	in := d.Detect("born 1990-05-12")
	var found bool
	for _, det := range in {
		if det.Type == TypeDateOfBirth {
			found = true
		}
	}
	if !found {
		t.Error("expected date_of_birth detection for in-range year")
	}

	out := d.Detect("1850-05-12")
	for _, det := range out {
		if det.Type == TypeDateOfBirth {
			t.Errorf("year before 1900 should not be detected as date_of_birth: %+v", det)
		}
	}
}

func TestDetect_NameAddressDisabledByDefault(t *testing.T) {
	d := New()
	dets := d.Detect("John Smith lives at 123 Main Street")
	for _, det := range dets {
		if det.Type == TypeName || det.Type == TypeAddress {
			t.Errorf("name/address should be disabled by default, got %+v", det)
		}
	}
}

func TestDetect_NameAddressEnabled(t *testing.T) {
	d := New(WithNameAddressDetection(true))
	dets := d.Detect("John Smith lives at 123 Main Street")
	var sawName, sawAddr bool
	for _, det := range dets {
		if det.Type == TypeName {
			sawName = true
		}
		if det.Type == TypeAddress {
			sawAddr = true
		}
	}
	if !sawName || !sawAddr {
		t.Errorf("expected name and address detections when enabled, got %+v", dets)
	}
}

func TestDetect_EmptyText(t *testing.T) {
	d := New()
	if dets := d.Detect(""); dets != nil {
		t.Errorf("expected nil detections for empty text, got %+v", dets)
	}
}

func TestDetect_CacheMemoizesLowConfidence(t *testing.T) {
	cache, err := NewValueCache("")
	if err != nil {
		t.Fatal(err)
	}
	d := New(WithNameAddressDetection(true), WithCache(cache))

	first := d.Detect("John Smith")
	second := d.Detect("John Smith")
	if len(first) != len(second) {
		t.Fatalf("cache should not change detection count: %d vs %d", len(first), len(second))
	}
	if _, ok := cache.Get(string(TypeName), "John Smith"); !ok {
		t.Error("expected memoized confidence for repeated low-confidence value")
	}
}
