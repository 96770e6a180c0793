package domain

import "strings"

// Trigger detects completion keywords in free-form text.
// Matching is a case-insensitive substring match, not a whole-word one:
// the keyword "прекрасн" matches "прекрасный день".
type Trigger struct {
	keywords []string // lower-cased, non-empty
}

// NewTrigger normalizes keywords; blank entries are dropped.
func NewTrigger(keywords []string) *Trigger {
	t := &Trigger{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			t.keywords = append(t.keywords, k)
		}
	}
	return t
}

// Keywords returns the normalized keyword set.
func (t *Trigger) Keywords() []string {
	return append([]string(nil), t.keywords...)
}

// Match reports whether text contains any keyword.
// Empty or whitespace-only text never matches.
func (t *Trigger) Match(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	text = strings.ToLower(text)
	for _, k := range t.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of texts matches.
func (t *Trigger) MatchAny(texts []string) bool {
	for _, s := range texts {
		if t.Match(s) {
			return true
		}
	}
	return false
}
