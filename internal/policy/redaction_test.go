package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIKeyAndClean(t *testing.T) {
	out, changed := RedactPII("my key is sk-abcdefghijklmnopqrstuv ok")
	if !changed || !strings.Contains(out, "[REDACTED_KEY]") {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
	out, changed = RedactPII("what is the weather like")
	if changed || out != "what is the weather like" {
		t.Fatalf("RedactPII() changed clean text: %q", out)
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":                  "<unset>",
		"short":             "*****",
		"sk-1234567890abcd": "********abcd",
	}
	for in, want := range cases {
		if got := MaskKey(in); got != want {
			t.Fatalf("MaskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
