package reasoning

import (
	"regexp"
	"strings"
)

var (
	thoughtRe     = regexp.MustCompile(`(?m)^\s*Thought:\s*(.*)$`)
	actionRe      = regexp.MustCompile(`(?m)^\s*Action:\s*(.*)$`)
	actionInputRe = regexp.MustCompile(`(?m)^\s*Action Input:\s*(.*)$`)
	answerRe      = regexp.MustCompile(`(?s)Answer:\s*(.*)$`)
)

// ParseText exposes parseStep for the trace recorder's post-parse step
// (spec §4.9: "post-parsed at end_attempt into structured thought/action
// lists via line-regex patterns"), so both packages share one parser.
func ParseText(text string) Step { return parseStep(text) }

// Step is one parsed Thought/Action/Action-Input/Answer cycle emitted by the
// reasoning LLM (spec §4.5: "explicit Thought / Action / Action-Input /
// Observation traces").
type Step struct {
	Thought     string
	Action      string
	ActionInput string
	Answer      string
	HasAnswer   bool
}

// parseStep extracts the Answer, everything after the first "Answer:" marker
// to the end of the text, if present (terminal), otherwise the first
// Action/Action-Input pair. A response with neither is returned
// with all fields empty; the caller treats that as a non-actionable turn.
func parseStep(text string) Step {
	if m := answerRe.FindStringSubmatch(text); m != nil {
		return Step{
			Thought:   firstMatch(thoughtRe, text),
			Answer:    strings.TrimSpace(m[1]),
			HasAnswer: true,
		}
	}
	return Step{
		Thought:     firstMatch(thoughtRe, text),
		Action:      strings.TrimSpace(firstMatch(actionRe, text)),
		ActionInput: strings.TrimSpace(firstMatch(actionInputRe, text)),
	}
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
