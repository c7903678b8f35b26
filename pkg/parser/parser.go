// Package parser extracts tool invocations from model-generated text and
// distinguishes genuine invocation syntax from fabricated tool output.
package parser

import (
	"regexp"
	"sort"
	"strings"
)

// ToolCall is one parsed invocation: a tool name and its task argument.
type ToolCall struct {
	Name string
	Task string
}

// Result is the outcome of classifying one model response.
type Result struct {
	Calls []ToolCall
	// HallucinationDetected is set when the text contains tool-response-shaped
	// output but no valid invocation anywhere. The caller should discard the
	// response and retry with stricter instructions rather than execute anything.
	HallucinationDetected bool
}

// Classifier turns raw model text into a parse result. The default is the
// regex classifier below; a stricter grammar or model-based classifier can be
// swapped in without touching the state machine.
type Classifier interface {
	Classify(text string) Result
}

// The one valid invocation grammar: a call token name(task="...") enclosed in
// emphasis or code markup. Each variant keeps the same two capture groups.
const callToken = `([A-Za-z_][A-Za-z0-9_]*)\(task="([^"]*)"\)`

//nolint:gochecknoglobals // Compiled once; ordered strongest-delimiter-first
var callPatterns = []*regexp.Regexp{
	regexp.MustCompile("`" + callToken + "`"),
	regexp.MustCompile(`\*\*` + callToken + `\*\*`),
	regexp.MustCompile(`\*` + callToken + `\*`),
	regexp.MustCompile(`_` + callToken + `_`),
}

// Tool-response look-alikes, evaluated per line. These are shapes a model
// produces when it fabricates a tool's output instead of invoking it.
//
//nolint:gochecknoglobals // Compiled once
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*[a-z_][a-z0-9_]*\s+tool response\s*:\s*\S`),
	regexp.MustCompile(`^\s*[a-z_][a-z0-9_]*\([^)]*\)\s*:\s*\S`),
	regexp.MustCompile(`^\s*[a-z_][a-z0-9_]*\s*:\s*\S`),
}

// RegexClassifier is the default lexical classifier.
type RegexClassifier struct{}

// New creates the default classifier.
func New() *RegexClassifier {
	return &RegexClassifier{}
}

type span struct {
	start int
	end   int
	call  ToolCall
}

// Classify parses the text. Valid calls are returned in left-to-right order of
// appearance, duplicates retained. Hallucination classification is only
// evaluated when no valid call is present: a genuine call co-occurring with
// look-alike text is not flagged.
func (c *RegexClassifier) Classify(text string) Result {
	spans := findCalls(text)
	if len(spans) > 0 {
		calls := make([]ToolCall, 0, len(spans))
		for _, s := range spans {
			calls = append(calls, s.call)
		}
		return Result{Calls: calls}
	}

	if looksHallucinated(text) {
		return Result{HallucinationDetected: true}
	}
	return Result{}
}

// findCalls matches each markup variant in turn, masking matched spans so the
// weaker delimiters cannot re-match inside a stronger one (e.g. *...* inside
// **...**), then orders matches by position.
func findCalls(text string) []span {
	var spans []span
	taken := make([]bool, len(text))

	for _, pattern := range callPatterns {
		for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if overlaps(taken, start, end) {
				continue
			}
			for i := start; i < end; i++ {
				taken[i] = true
			}
			spans = append(spans, span{
				start: start,
				end:   end,
				call: ToolCall{
					Name: text[m[2]:m[3]],
					Task: text[m[4]:m[5]],
				},
			})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func overlaps(taken []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if taken[i] {
			return true
		}
	}
	return false
}

func looksHallucinated(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		for _, pattern := range hallucinationPatterns {
			if pattern.MatchString(line) {
				return true
			}
		}
	}
	return false
}

// Parse classifies text with the default classifier.
func Parse(text string) Result {
	return New().Classify(text)
}
