package exclusion

import (
	"testing"

	"github.com/theodorecharles/compressor/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestEvaluate_FolderPrefix(t *testing.T) {
	rules := []Rule{
		{ID: 1, Pattern: "/media/movies/Samples", Type: store.ExclusionFolder},
	}
	res := Evaluate("/media/movies/Samples/trailer.mkv", 1, rules)
	if !res.Excluded || res.MatchedRuleID != 1 {
		t.Fatalf("expected folder prefix match, got %+v", res)
	}
	res = Evaluate("/media/movies/SamplesOther/trailer.mkv", 1, rules)
	if res.Excluded {
		t.Fatalf("did not expect match for non-prefix path, got %+v", res)
	}
}

func TestEvaluate_GlobDoubleStar(t *testing.T) {
	rules := []Rule{
		{ID: 2, Pattern: "**/Samples/**", Type: store.ExclusionPattern},
	}
	res := Evaluate("/media/tv/Show/Season 1/Samples/clip.mkv", 1, rules)
	if !res.Excluded {
		t.Fatalf("expected ** glob to match nested Samples dir")
	}
}

func TestEvaluate_GlobBasenameFallback(t *testing.T) {
	rules := []Rule{
		{ID: 3, Pattern: "*.sample.mkv", Type: store.ExclusionPattern},
	}
	res := Evaluate("/media/movies/Movie/movie.sample.mkv", 1, rules)
	if !res.Excluded {
		t.Fatalf("expected basename fallback glob match")
	}
}

func TestEvaluate_LibraryScoping(t *testing.T) {
	rules := []Rule{
		{ID: 4, LibraryID: ptr(int64(5)), Pattern: "/media/other", Type: store.ExclusionFolder},
	}
	res := Evaluate("/media/other/file.mkv", 1, rules)
	if res.Excluded {
		t.Fatalf("rule scoped to library 5 must not match library 1")
	}
	res = Evaluate("/media/other/file.mkv", 5, rules)
	if !res.Excluded {
		t.Fatalf("rule scoped to library 5 must match library 5")
	}
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	rules := []Rule{
		{ID: 10, Pattern: "/media/a", Type: store.ExclusionFolder, Reason: ptr("first")},
		{ID: 11, Pattern: "/media", Type: store.ExclusionFolder, Reason: ptr("second")},
	}
	res := Evaluate("/media/a/file.mkv", 1, rules)
	if res.MatchedRuleID != 10 || res.Reason != "first" {
		t.Fatalf("expected first rule in slice order to win, got %+v", res)
	}
}

func TestEvaluate_DefaultReason(t *testing.T) {
	rules := []Rule{{ID: 1, Pattern: "/media", Type: store.ExclusionFolder}}
	res := Evaluate("/media/file.mkv", 1, rules)
	if res.Reason != "Excluded by rule" {
		t.Fatalf("expected default reason, got %q", res.Reason)
	}
}
