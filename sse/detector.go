package sse

import (
	"strings"

	"github.com/petal-labs/callstream/runtime"
)

// MatchKind selects how a Rule compares the event message with its phrase.
type MatchKind int

const (
	MatchEqual MatchKind = iota
	MatchPrefix
	MatchContains
)

// Rule recognizes a terminal event by its wording.
type Rule struct {
	// Context restricts the rule to one producer; empty matches any.
	Context string
	// Level restricts the rule to one severity; empty matches any.
	Level   runtime.Level
	Match   MatchKind
	Phrase  string
	Outcome runtime.Outcome
}

func (r Rule) matches(e runtime.LogEvent) bool {
	if r.Context != "" && r.Context != e.Context {
		return false
	}
	if r.Level != "" && r.Level != e.Level {
		return false
	}
	switch r.Match {
	case MatchPrefix:
		return strings.HasPrefix(e.Message, r.Phrase)
	case MatchContains:
		return strings.Contains(e.Message, r.Phrase)
	default:
		return e.Message == r.Phrase
	}
}

// Detector decides whether an event ends a run. A structured Outcome on the
// event always wins; the phrase rules cover producers that only log text.
type Detector struct {
	rules []Rule
}

// NewDetector creates a detector with the given fallback rules, evaluated in
// order.
func NewDetector(rules ...Rule) *Detector {
	return &Detector{rules: append([]Rule(nil), rules...)}
}

// DefaultRules are the phrases the gong-summary job uses to report how a run
// ended.
func DefaultRules() []Rule {
	return []Rule{
		{Context: runtime.ContextWorkflow, Match: MatchEqual, Phrase: runtime.MessageWorkflowComplete, Outcome: runtime.OutcomeSuccess},
		{Context: runtime.ContextWorkflow, Match: MatchPrefix, Phrase: runtime.MessageWorkflowFailed, Outcome: runtime.OutcomeFailure},
		{Context: runtime.ContextAgent, Match: MatchPrefix, Phrase: "Agent failed", Outcome: runtime.OutcomeFailure},
		{Context: runtime.ContextBash, Match: MatchContains, Phrase: "Max retries exceeded", Outcome: runtime.OutcomeFailure},
		{Level: runtime.LevelError, Match: MatchPrefix, Phrase: MessageUnrecoverable, Outcome: runtime.OutcomeFailure},
	}
}

// DefaultDetector returns a detector using DefaultRules.
func DefaultDetector() *Detector {
	return NewDetector(DefaultRules()...)
}

// Detect returns the outcome e reports, or runtime.OutcomeNone.
func (d *Detector) Detect(e runtime.LogEvent) runtime.Outcome {
	if e.Outcome != runtime.OutcomeNone {
		return e.Outcome
	}
	if d == nil {
		return runtime.OutcomeNone
	}
	for _, r := range d.rules {
		if r.matches(e) {
			return r.Outcome
		}
	}
	return runtime.OutcomeNone
}
