package cachekey

import (
	"strings"
	"testing"
)

func TestTextCollapsesFormattingVariants(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "case differences",
			a:    "A Red Sports Car",
			b:    "a red sports car",
		},
		{
			name: "surrounding whitespace",
			a:    "  a red sports car ",
			b:    "a red sports car",
		},
		{
			name: "internal whitespace runs",
			a:    "a   red\tsports\n car",
			b:    "a red sports car",
		},
		{
			name: "mixed",
			a:    " A   RED Sports\tCAR  ",
			b:    "a red sports car",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := Text(tc.a), Text(tc.b); got != want {
				t.Fatalf("Text(%q) = %q, want %q", tc.a, want, got)
			}
		})
	}
}

func TestTextDistinguishesDifferentPrompts(t *testing.T) {
	if Text("a red sports car") == Text("a blue sports car") {
		t.Fatal("different prompts produced the same key")
	}
}

func TestTextEmptyPrompt(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\t\n"} {
		if got := Text(prompt); got != "text:" {
			t.Fatalf("Text(%q) = %q, want %q", prompt, got, "text:")
		}
	}
}

func TestNormalizeTruncates(t *testing.T) {
	long := strings.Repeat("a", 2*maxPromptChars)
	got := Normalize(long)
	if len([]rune(got)) != maxPromptChars {
		t.Fatalf("normalized length = %d, want %d", len([]rune(got)), maxPromptChars)
	}
	if Normalize(long) != Normalize(long+"suffix beyond the cap") {
		t.Fatal("prompts identical up to the cap should share a key")
	}
}

func TestImageKeyedByContent(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03}
	if Image(data, "Chair") != Image(data, "  chair ") {
		t.Fatal("identical bytes with equivalent prompts should match")
	}
	altered := []byte{0x00, 0x01, 0x02, 0x04}
	if Image(data, "chair") == Image(altered, "chair") {
		t.Fatal("a byte difference should change the key")
	}
	if Image(data, "chair") == Image(data, "table") {
		t.Fatal("a prompt difference should change the key")
	}
}

func TestKeyNamespaces(t *testing.T) {
	if !strings.HasPrefix(Text("x"), "text:") {
		t.Fatalf("text key missing namespace: %q", Text("x"))
	}
	if !strings.HasPrefix(Image([]byte("x"), ""), "image:") {
		t.Fatalf("image key missing namespace: %q", Image([]byte("x"), ""))
	}
}
