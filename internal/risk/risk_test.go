package risk

import (
	"reflect"
	"slices"
	"testing"
)

func TestScoreIsBoundedAndOrderIndependent(t *testing.T) {
	t.Parallel()

	cases := [][]string{
		nil,
		{},
		{"User.Read"},
		{"Mail.ReadWrite.All"},
		{"User.ReadWrite.All", "Directory.ReadWrite.All"},
		{"https://www.googleapis.com/auth/admin.directory.user", "https://www.googleapis.com/auth/drive"},
		{"repo:admin", "repo:delete", "repo:write", "repo:read"},
		{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p"},
	}

	for _, scopes := range cases {
		forward := Score(scopes)
		if forward.Score < 0 || forward.Score > 100 {
			t.Errorf("Score(%v) = %d, want within [0,100]", scopes, forward.Score)
		}

		reversed := append([]string(nil), scopes...)
		slices.Reverse(reversed)
		backward := Score(reversed)
		if !reflect.DeepEqual(forward, backward) {
			t.Errorf("Score(%v) differs by order:\nforward  = %+v\nbackward = %+v", scopes, forward, backward)
		}
	}
}

func TestScoreMailReadWriteIsHigh(t *testing.T) {
	t.Parallel()

	got := Score([]string{"Mail.ReadWrite.All"})
	if got.Level != LevelHigh {
		t.Errorf("level = %q, want %q (score %d)", got.Level, LevelHigh, got.Score)
	}
	if !slices.Contains(got.Reasons, "Email read/write access") {
		t.Errorf("reasons = %v, want to include %q", got.Reasons, "Email read/write access")
	}
	if !slices.Contains(got.CriticalScopes, "Mail.ReadWrite.All") {
		t.Errorf("critical scopes = %v, want to include the mail scope", got.CriticalScopes)
	}
}

func TestScoreAdminWriteCombinationIsCritical(t *testing.T) {
	t.Parallel()

	got := Score([]string{"User.ReadWrite.All", "Directory.ReadWrite.All"})
	if got.Level != LevelCritical {
		t.Errorf("level = %q, want %q", got.Level, LevelCritical)
	}
	if got.Score < 75 {
		t.Errorf("score = %d, want >= 75", got.Score)
	}
	if !slices.Contains(got.Reasons, "Combination of admin and write permissions") {
		t.Errorf("reasons = %v, want the admin+write combination penalty", got.Reasons)
	}
}

func TestScoreBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scopes []string
		want   Level
	}{
		{"empty is low", nil, LevelLow},
		{"profile only is low", []string{"https://www.googleapis.com/auth/userinfo.email"}, LevelLow},
		{"single read is medium", []string{"Mail.Read"}, LevelMedium},
		{"file write is medium", []string{"Files.ReadWrite"}, LevelMedium},
		{"mail write is high", []string{"Mail.ReadWrite.All"}, LevelHigh},
		{"google admin directory is high", []string{"https://www.googleapis.com/auth/admin.directory.user"}, LevelHigh},
		{"generic admin plus delete is critical", []string{"org:admin", "repo:delete"}, LevelCritical},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tc.scopes); got.Level != tc.want {
				t.Errorf("Score(%v).Level = %q (score %d), want %q", tc.scopes, got.Level, got.Score, tc.want)
			}
		})
	}
}

func TestScoreDeduplicatesScopesAndReasons(t *testing.T) {
	t.Parallel()

	once := Score([]string{"Mail.ReadWrite.All"})
	twice := Score([]string{"Mail.ReadWrite.All", "mail.readwrite.all", " Mail.ReadWrite.All "})
	if once.Score != twice.Score {
		t.Errorf("duplicate scopes changed score: %d vs %d", once.Score, twice.Score)
	}
	if len(twice.Reasons) != len(once.Reasons) {
		t.Errorf("duplicate scopes changed reasons: %v vs %v", twice.Reasons, once.Reasons)
	}
}

func TestScoreCountPenalty(t *testing.T) {
	t.Parallel()

	few := Score([]string{"s1", "s2", "s3"})
	many := Score([]string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"})
	if many.Score <= few.Score {
		t.Errorf("scope-count penalty missing: few=%d many=%d", few.Score, many.Score)
	}
}

func TestAnalyzerCachesByScopeSet(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	first := a.Assess([]string{"Directory.ReadWrite.All", "User.ReadWrite.All"})
	second := a.Assess([]string{"User.ReadWrite.All", "Directory.ReadWrite.All"})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached assessment differs for reordered scopes: %+v vs %+v", first, second)
	}
	if a.cache.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1 shared entry", a.cache.Len())
	}
}
