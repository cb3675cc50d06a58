// Package exclusion is the pure rule evaluator behind folder and glob
// exclusion rules: no I/O, no store dependency, just matching.
package exclusion

import (
	"path/filepath"
	"strings"

	"github.com/theodorecharles/compressor/internal/store"
)

// Rule is the evaluator's view of a persisted exclusion row.
type Rule struct {
	ID        int64
	LibraryID *int64
	Pattern   string
	Type      store.ExclusionType
	Reason    *string
}

// Result is the outcome of evaluating a path against a rule set.
type Result struct {
	Excluded      bool
	Reason        string
	MatchedRuleID int64
}

// Evaluate applies rules, in the order given, to (path, libraryID) and
// returns the first match. Callers must supply rules already ordered by
// (library_id NULLS FIRST, pattern) — store.ListExclusions does this.
func Evaluate(path string, libraryID int64, rules []Rule) Result {
	for _, r := range rules {
		if r.LibraryID != nil && *r.LibraryID != libraryID {
			continue
		}
		if !ruleMatches(r, path) {
			continue
		}
		reason := "Excluded by rule"
		if r.Reason != nil && *r.Reason != "" {
			reason = *r.Reason
		}
		return Result{Excluded: true, Reason: reason, MatchedRuleID: r.ID}
	}
	return Result{}
}

func ruleMatches(r Rule, path string) bool {
	switch r.Type {
	case store.ExclusionFolder:
		return strings.HasPrefix(path, r.Pattern)
	case store.ExclusionPattern:
		if globMatch(r.Pattern, path) {
			return true
		}
		return globMatch(r.Pattern, filepath.Base(path))
	default:
		return false
	}
}

// MatchFn adapts a rule set into the callback shape internal/store's
// CreateExclusion/DeleteExclusion accept, so the store never needs to know
// about glob semantics.
func MatchFn(rules []Rule) func(path string, libraryID int64) bool {
	return func(path string, libraryID int64) bool {
		return Evaluate(path, libraryID, rules).Excluded
	}
}

// globMatch implements the pattern semantics of §4.3: "**" matches zero or
// more path segments, "*" matches zero or more non-separator characters,
// "?" matches exactly one non-separator character.
func globMatch(pattern, name string) bool {
	return matchSegments(splitPattern(pattern), splitPath(name))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// splitPattern keeps "**" as its own segment token; other segments are kept
// as single tokens matched with matchSegment.
func splitPattern(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	head := pattern[0]
	if head == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		if len(name) == 0 {
			return false
		}
		return matchSegments(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	if !matchSegment(head, name[0]) {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

// matchSegment matches a single path segment against a single-segment glob
// token containing only "*" and "?" wildcards (no "/").
func matchSegment(pattern, name string) bool {
	return matchSegmentFrom(pattern, name)
}

func matchSegmentFrom(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	switch pattern[0] {
	case '*':
		if matchSegmentFrom(pattern[1:], name) {
			return true
		}
		if name == "" {
			return false
		}
		return matchSegmentFrom(pattern, name[1:])
	case '?':
		if name == "" {
			return false
		}
		return matchSegmentFrom(pattern[1:], name[1:])
	default:
		if name == "" || pattern[0] != name[0] {
			return false
		}
		return matchSegmentFrom(pattern[1:], name[1:])
	}
}
