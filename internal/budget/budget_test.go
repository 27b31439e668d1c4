package budget

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars rounds up to 1
		{"abcd", 1},     // exactly 4 chars
		{"abcde", 1},    // 5 chars
		{"abcdefgh", 2}, // 8 chars
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_Truncate_UnderBudget(t *testing.T) {
	t.Parallel()
	in := "Acme is a software company. Based in Berlin."
	got, cut := Truncate(in, DefaultMaxDocumentTokens)
	if cut || got != in {
		t.Errorf("want unchanged, got %q (cut=%v)", got, cut)
	}
}

func Test_Truncate_Disabled(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("word ", 1000)
	got, cut := Truncate(in, 0)
	if cut || got != in {
		t.Error("maxTokens=0 must disable truncation")
	}
}

func Test_Truncate_CutsOnWordBoundary(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("robotics ", 100) // 900 chars, 225 tokens
	got, cut := Truncate(in, 10)
	if !cut {
		t.Fatal("expected truncation")
	}
	if Estimate(got) > 10 {
		t.Errorf("Estimate(result) = %d, want <= 10", Estimate(got))
	}
	for _, w := range strings.Fields(got) {
		if w != "robotics" {
			t.Errorf("word split mid-way: %q", w)
		}
	}
	if strings.HasSuffix(got, " ") {
		t.Error("trailing whitespace not trimmed")
	}
}

func Test_Truncate_KeepsValidUTF8(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("ü", 200) // 2 bytes per rune, no spaces
	got, cut := Truncate(in, 5)
	if !cut {
		t.Fatal("expected truncation")
	}
	if !utf8.ValidString(got) {
		t.Errorf("result is not valid UTF-8: %q", got)
	}
	if Estimate(got) > 5 {
		t.Errorf("Estimate(result) = %d, want <= 5", Estimate(got))
	}
}
