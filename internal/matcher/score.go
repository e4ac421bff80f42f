package matcher

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/hotlabel/internal/profile"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Weights are the scoring coefficients.
type Weights struct {
	// Exact is awarded when a session term equals the task topic or category.
	Exact float64
	// Partial is awarded for a substring or glob match.
	Partial float64
	// Interest scales the session's interest EMA in the task category.
	Interest float64
	// Complexity scales the distance between task complexity and the
	// session's target complexity.
	Complexity float64
}

// DefaultWeights returns the default scoring coefficients.
func DefaultWeights() Weights {
	return Weights{Exact: 3, Partial: 1.5, Interest: 0.5, Complexity: 1}
}

// Match is a scored candidate task.
type Match struct {
	Task    *taskstore.Task `json:"task"`
	Score   float64         `json:"score"`
	Reasons []string        `json:"reasons"`
}

// globCache compiles topic patterns once. Patterns that fail to compile
// are cached as nil and fall back to substring matching.
type globCache struct {
	m sync.Map // pattern -> glob.Glob (nil on compile error)
}

func (c *globCache) get(pattern string) glob.Glob {
	if v, ok := c.m.Load(pattern); ok {
		g, _ := v.(glob.Glob)
		return g
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		c.m.Store(pattern, nil)
		return nil
	}
	c.m.Store(pattern, g)
	return g
}

func isPattern(term string) bool {
	return strings.ContainsAny(term, "*?[{")
}

// TargetComplexity maps a quality score in [0,1] onto the 1-5 complexity
// scale.
func TargetComplexity(quality float64) float64 {
	return 1 + 4*max(0, min(1, quality))
}

// score rates task for the session p.
func (m *Matcher) score(p *profile.Profile, terms []string, task *taskstore.Task, w Weights) Match {
	match := Match{Task: task}

	if s, reason := m.affinity(terms, task, w); s > 0 {
		match.Score += s
		match.Reasons = append(match.Reasons, reason)
	}

	interest := p.Interest(string(task.Category))
	if w.Interest != 0 {
		match.Score += w.Interest * interest
		match.Reasons = append(match.Reasons, fmt.Sprintf("interest in %s: %.2f", task.Category, interest))
	}

	target := TargetComplexity(p.QualityScore)
	diff := math.Abs(float64(task.Complexity) - target)
	match.Score -= w.Complexity * diff
	switch {
	case diff <= 1:
		match.Reasons = append(match.Reasons, fmt.Sprintf("complexity suitable: %d vs target %.1f", task.Complexity, target))
	case float64(task.Complexity) > target:
		match.Reasons = append(match.Reasons, fmt.Sprintf("task may be too difficult: %d vs target %.1f", task.Complexity, target))
	default:
		match.Reasons = append(match.Reasons, fmt.Sprintf("task may be too easy: %d vs target %.1f", task.Complexity, target))
	}

	return match
}

// affinity compares the session's topic terms with the task topic and
// category. An exact match wins outright; otherwise any substring or glob
// match earns the partial weight.
func (m *Matcher) affinity(terms []string, task *taskstore.Task, w Weights) (float64, string) {
	fields := make([]string, 0, 2)
	for _, f := range []string{task.Topic, string(task.Category)} {
		if f = strings.ToLower(f); f != "" {
			fields = append(fields, f)
		}
	}

	partial := ""
	for _, term := range terms {
		for _, f := range fields {
			if term == f {
				return w.Exact, "exact topic match: " + f
			}
			if partial == "" && m.partialMatch(term, f) {
				partial = fmt.Sprintf("partial topic match: %s ~ %s", term, f)
			}
		}
	}
	if partial != "" {
		return w.Partial, partial
	}
	return 0, ""
}

func (m *Matcher) partialMatch(term, field string) bool {
	if isPattern(term) {
		if g := m.globs.get(term); g != nil {
			return g.Match(field)
		}
	}
	return strings.Contains(field, term) || strings.Contains(term, field)
}
