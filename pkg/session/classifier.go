package session

import "strings"

// ClosingClassifier decides whether an assistant reply ends the conversation
// task. Implementations may be lexical, model-backed, or scripted for tests.
type ClosingClassifier interface {
	IsClosing(text string) bool
}

// defaultClosingPhrases end a task when they appear in a reply. Matching is
// case-insensitive substring; the phrase set is deliberately small so ordinary
// prose does not close sessions by accident.
//
//nolint:gochecknoglobals // Static phrase set
var defaultClosingPhrases = []string{
	"is there anything else",
	"anything else i can help",
	"glad i could help",
	"task is complete",
	"all done here",
	"let me know if you need anything else",
}

// LexicalClassifier matches closing utterances against a phrase list.
type LexicalClassifier struct {
	phrases []string
}

// NewLexicalClassifier creates a classifier over the given phrases, falling
// back to the default set when none are provided.
func NewLexicalClassifier(phrases []string) *LexicalClassifier {
	if len(phrases) == 0 {
		phrases = defaultClosingPhrases
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &LexicalClassifier{phrases: lowered}
}

// IsClosing reports whether the reply contains a closing phrase.
func (c *LexicalClassifier) IsClosing(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range c.phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
