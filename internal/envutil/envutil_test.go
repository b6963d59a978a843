package envutil

import (
	"os"
	"testing"
)

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		"TRUE":  true,
		"yes":   true,
		"on":    true,
		"false": false,
		"0":     false,
		"":      false,
	}
	for input, want := range cases {
		if got := ParseBool(input); got != want {
			t.Fatalf("ParseBool(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestString(t *testing.T) {
	os.Setenv("TRIFORGE_TEST_STRING", "  value  ")
	defer os.Unsetenv("TRIFORGE_TEST_STRING")
	if got := String("TRIFORGE_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String = %q, want value", got)
	}
	if got := String("TRIFORGE_TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String = %q, want fallback", got)
	}
}
