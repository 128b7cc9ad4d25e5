package validation

import "testing"

func TestIsValidBarcode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "ean13 example 1",
			code:  "4006381333931",
			valid: true,
		},
		{
			name:  "ean13 example 2",
			code:  "5901234123457",
			valid: true,
		},
		{
			name:  "ean8",
			code:  "96385074",
			valid: true,
		},
		{
			name:  "upc-a",
			code:  "036000291452",
			valid: true,
		},
		{
			name:  "invalid check digit",
			code:  "4006381333932",
			valid: false,
		},
		{
			name:  "contains letters",
			code:  "40063813339a1",
			valid: false,
		},
		{
			name:  "letter as check digit",
			code:  "400638133393x",
			valid: false,
		},
		{
			name:  "wrong length",
			code:  "40063813339",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidBarcode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidBarcode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}
