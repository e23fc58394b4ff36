package normalize

import "testing"

func TestKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Slack", "slack"},
		{"Slack, Inc.", "slackinc"},
		{"  Google Workspace ", "googleworkspace"},
		{"365-Office", "365office"},
		{"---", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Key(tc.in); got != tc.want {
			t.Errorf("Key(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeyReflexive(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"Slack, Inc.", "Zoom Video", "ACME"} {
		if Key(in) != Key(in) {
			t.Fatalf("Key(%q) is not stable", in)
		}
	}
}

func TestLowerAndEqualFoldTrimmed(t *testing.T) {
	t.Parallel()

	if got := Lower("  MiXeD  "); got != "mixed" {
		t.Fatalf("Lower() = %q", got)
	}
	if !EqualFoldTrimmed(" Okta ", "okta") {
		t.Fatal("EqualFoldTrimmed() = false, want true")
	}
}
