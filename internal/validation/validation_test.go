package validation

import (
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"trims whitespace", "  hello  ", 100, "hello"},
		{"truncates long input", strings.Repeat("a", 50), 10, strings.Repeat("a", 10)},
		{"removes null bytes", "he\x00llo", 100, "hello"},
		{"removes control chars", "he\x01\x02llo", 100, "hello"},
		{"keeps newlines and tabs", "line1\nline2\tend", 100, "line1\nline2\tend"},
		{"empty string", "", 100, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("buyer_id", ""),
		Required("listing_id", "lst_1"),
		MaxLength("comment", strings.Repeat("x", 2000), 1000),
	)

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "buyer_id" {
		t.Errorf("first error field = %q, want buyer_id", errs[0].Field)
	}
	if errs[1].Field != "comment" {
		t.Errorf("second error field = %q, want comment", errs[1].Field)
	}

	if errs := Validate(Required("id", "ok")); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestMaxLengthCountsCharacters(t *testing.T) {
	// 10 two-byte characters are 20 bytes but still within a 10-character
	// limit.
	if err := MaxLength("title", strings.Repeat("é", 10), 10)(); err != nil {
		t.Errorf("10 multibyte characters rejected: %v", err)
	}
	if err := MaxLength("title", strings.Repeat("é", 11), 10)(); err == nil {
		t.Error("11 characters should exceed a 10-character limit")
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"10.50", true},
		{"1", true},
		{"0.01", true},
		{"", true}, // empty handled by Required
		{"0", false},
		{"-5", false},
		{"abc", false},
		{"1.2.3", false},
	}

	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		if tt.ok && err != nil {
			t.Errorf("ValidAmount(%q) = %v, want nil", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidAmount(%q) = nil, want error", tt.value)
		}
	}
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "is required"},
		{Field: "b", Message: "too long"},
	}
	want := "a: is required; b: too long"
	if got := errs.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if got := (ValidationErrors{}).Error(); got != "validation failed" {
		t.Errorf("empty Error() = %q", got)
	}
}
