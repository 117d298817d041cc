package review

import (
	"math"
	"path"
	"sort"
	"strings"
)

// MatchConfig holds the thresholds of the consensus predicate
type MatchConfig struct {
	// LineTolerance is how many lines apart two ranges may be and still match
	LineTolerance int
	// DescriptionThreshold is the minimum description similarity for
	// issues whose line ranges match
	DescriptionThreshold float64
	// NoLineThreshold is the minimum similarity when either issue has no line
	NoLineThreshold float64
}

// DefaultMatchConfig returns the default consensus thresholds
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		LineTolerance:        5,
		DescriptionThreshold: 0.3,
		NoLineThreshold:      0.6,
	}
}

// Resolver maps a reviewer's file reference onto a canonical path.
// artifact.Set satisfies it.
type Resolver interface {
	Resolve(ref string) (string, bool)
}

type candidate struct {
	i, j int
	sim  float64
	dist int
}

// Consensus reconciles two reports into the consensus issue list. Two issues
// match when they name the same file, their line ranges lie within
// LineTolerance of each other, and their descriptions are similar enough.
// Matching is one-to-one, strongest and closest pairs first. When one report is nil its
// counterpart's issues are carried as single-source issues with zero
// agreement; when both are nil the list is empty.
func Consensus(a, b *Report, files Resolver, cfg MatchConfig) []ConsensusIssue {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return singleSource(b, files)
	case b == nil:
		return singleSource(a, files)
	}

	issuesA := canonical(a.Issues, files)
	issuesB := canonical(b.Issues, files)

	var candidates []candidate
	for i, ia := range issuesA {
		for j, ib := range issuesB {
			if sim, ok := match(ia, ib, cfg); ok {
				candidates = append(candidates, candidate{i: i, j: j, sim: sim, dist: lineDistance(ia, ib)})
			}
		}
	}
	sort.SliceStable(candidates, func(x, y int) bool {
		if candidates[x].sim != candidates[y].sim {
			return candidates[x].sim > candidates[y].sim
		}
		if candidates[x].dist != candidates[y].dist {
			return candidates[x].dist < candidates[y].dist
		}
		if candidates[x].i != candidates[y].i {
			return candidates[x].i < candidates[y].i
		}
		return candidates[x].j < candidates[y].j
	})

	usedA := make(map[int]bool)
	usedB := make(map[int]bool)
	var out []ConsensusIssue
	for _, c := range candidates {
		if usedA[c.i] || usedB[c.j] {
			continue
		}
		usedA[c.i] = true
		usedB[c.j] = true
		out = append(out, merge(issuesA[c.i], issuesB[c.j], a.Reviewer, b.Reviewer, c.sim))
	}
	SortConsensus(out)
	return out
}

// match applies the consensus predicate and returns the similarity of a
// matching pair.
func match(a, b Issue, cfg MatchConfig) (float64, bool) {
	if a.File == "" || a.File != b.File {
		return 0, false
	}
	sim := Similarity(a.Description, b.Description)
	if !a.HasLine() || !b.HasLine() {
		return sim, sim >= cfg.NoLineThreshold
	}
	if !rangesNear(a, b, cfg.LineTolerance) {
		return 0, false
	}
	return sim, sim >= cfg.DescriptionThreshold
}

func rangesNear(a, b Issue, tolerance int) bool {
	aStart, aEnd := a.Lines()
	bStart, bEnd := b.Lines()
	return aStart-tolerance <= bEnd && bStart-tolerance <= aEnd
}

// lineDistance is the gap between the starts of two issues; issues without
// a line sort after any located pair.
func lineDistance(a, b Issue) int {
	if !a.HasLine() || !b.HasLine() {
		return math.MaxInt
	}
	d := a.LineStart - b.LineStart
	if d < 0 {
		d = -d
	}
	return d
}

func merge(a, b Issue, nameA, nameB string, sim float64) ConsensusIssue {
	merged := a
	merged.Severity = maxSeverity(a.Severity, b.Severity)
	merged.Sources = []string{nameA, nameB}

	if a.HasLine() && b.HasLine() {
		aStart, aEnd := a.Lines()
		bStart, bEnd := b.Lines()
		merged.LineStart = min(aStart, bStart)
		merged.LineEnd = max(aEnd, bEnd)
	} else if !a.HasLine() {
		merged.LineStart, merged.LineEnd = b.LineStart, b.LineEnd
	}

	descriptions := []string{a.Description}
	if !sameText(a.Description, b.Description) {
		descriptions = append(descriptions, b.Description)
		merged.Description = a.Description + " / " + b.Description
	}
	switch {
	case a.Suggestion == "":
		merged.Suggestion = b.Suggestion
	case b.Suggestion != "" && !sameText(a.Suggestion, b.Suggestion):
		merged.Suggestion = a.Suggestion + " / " + b.Suggestion
	}

	return ConsensusIssue{
		Issue:        merged,
		Descriptions: descriptions,
		Agreement:    sim,
	}
}

func singleSource(r *Report, files Resolver) []ConsensusIssue {
	issues := canonical(r.Issues, files)
	out := make([]ConsensusIssue, 0, len(issues))
	for _, issue := range issues {
		issue.Sources = []string{r.Reviewer}
		out = append(out, ConsensusIssue{
			Issue:        issue,
			Descriptions: []string{issue.Description},
		})
	}
	SortConsensus(out)
	return out
}

// canonical copies issues with file references resolved against files.
func canonical(issues []Issue, files Resolver) []Issue {
	out := make([]Issue, len(issues))
	for i, issue := range issues {
		if issue.File != "" {
			if files != nil {
				issue.File, _ = files.Resolve(issue.File)
			} else {
				issue.File = path.Clean(strings.ReplaceAll(issue.File, "\\", "/"))
			}
		}
		out[i] = issue
	}
	return out
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
