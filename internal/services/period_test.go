package services

import (
	"testing"
)

// garble re-encodes a UTF-8 string the way a Latin-1 round trip mangles it:
// every byte becomes its own rune. This is the corruption pattern seen in
// legacy mood values.
func garble(s string) string {
	runes := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		runes[i] = rune(s[i])
	}
	return string(runes)
}

func TestRepairMojibake(t *testing.T) {
	t.Parallel()

	if got := repairMojibake(garble("开心")); got != "开心" {
		t.Fatalf("repairMojibake(garbled) = %q, want %q", got, "开心")
	}
	// Already-clean multibyte text contains runes above 0xFF and must pass
	// through untouched.
	if got := repairMojibake("幸福"); got != "幸福" {
		t.Fatalf("repairMojibake(clean) = %q, want %q", got, "幸福")
	}
	if got := repairMojibake("happy"); got != "happy" {
		t.Fatalf("repairMojibake(ascii) = %q, want %q", got, "happy")
	}
}

func TestNormalizeMood(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "canonical passes", in: "开心", want: "开心"},
		{name: "canonical with spaces", in: "  平静  ", want: "平静"},
		{name: "garbled legacy value repaired", in: garble("难过"), want: "难过"},
		{name: "empty clears", in: "", want: ""},
		{name: "whitespace clears", in: "   ", want: ""},
		{name: "unrecognized rejected", in: "elated", want: ""},
		{name: "garbled non-canonical rejected", in: garble("elated"), want: ""},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if got := normalizeMood(testCase.in); got != testCase.want {
				t.Fatalf("normalizeMood(%q) = %q, want %q", testCase.in, got, testCase.want)
			}
		})
	}
}
