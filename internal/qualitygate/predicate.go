// Package qualitygate implements the Quality Gate Machine (§4.4): the
// review -> autofix -> review -> qa chain triggered whenever a code agent's
// result touches the filesystem. Every agent invocation this package makes
// runs through the scheduler's own per-task execution path (the RunAgent
// collaborator), sharing its cancellation and timeout semantics rather
// than spawning a separate execution mechanism.
package qualitygate

import (
	"path/filepath"
	"strings"
)

// riskSubstrings are matched case-insensitively against both the task
// description and every changed path.
var riskSubstrings = []string{"auth", "security", "payment", "credential"}

// riskPathSegments are well-known auth-adjacent directory names that
// trigger review/QA even when nothing else reads as risky, matched
// against any path segment rather than as a glob (a changed path can sit
// arbitrarily deep under one of these directories).
var riskPathSegments = []string{"auth", "security", "credentials", ".ssh", ".aws"}

const maxFilesWithoutReview = 2

// RequiresReview reports whether a code result's changed files must go
// through the review agent before being accepted: more than two files
// touched, or any changed path or the task description matching a risk
// heuristic (§4.4).
func RequiresReview(changedFiles []string, description string) bool {
	if len(changedFiles) > maxFilesWithoutReview {
		return true
	}
	return matchesRiskHeuristic(changedFiles, description)
}

// RequiresQA uses the identical predicate (§4.4: "same predicate").
func RequiresQA(changedFiles []string, description string) bool {
	return RequiresReview(changedFiles, description)
}

func matchesRiskHeuristic(changedFiles []string, description string) bool {
	lowerDescription := strings.ToLower(description)
	for _, s := range riskSubstrings {
		if strings.Contains(lowerDescription, s) {
			return true
		}
	}

	for _, f := range changedFiles {
		lowerPath := strings.ToLower(filepath.ToSlash(f))
		for _, s := range riskSubstrings {
			if strings.Contains(lowerPath, s) {
				return true
			}
		}
		segments := strings.Split(lowerPath, "/")
		for _, seg := range segments {
			for _, risky := range riskPathSegments {
				if seg == risky {
					return true
				}
			}
		}
	}

	return false
}
