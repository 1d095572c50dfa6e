package strutil

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"empty string", "", 10, ""},
		{"short string", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"needs truncation", "hello world", 5, "hello..."},
		{"negative maxLen", "hello", -1, ""},
		{"zero maxLen", "hello", 0, ""},
		{"multi-byte truncated", "héllo wörld", 4, "héll..."},
		{"emoji", "hi 🎉 there", 4, "hi 🎉..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Truncate(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestCap(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"fits", "hello", 5, "hello"},
		{"capped with ellipsis", "hello world", 8, "hello..."},
		{"tiny limit has no room for ellipsis", "hello", 2, "he"},
		{"unicode", "äöüäöüäöü", 6, "äöü..."},
		{"zero", "hello", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Cap(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("Cap(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
			if Len(result) > tt.maxLen && tt.maxLen > 0 {
				t.Errorf("Cap(%q, %d) returned %d runes", tt.input, tt.maxLen, Len(result))
			}
		})
	}
}
