// Package fallback performs pattern-based text substitution on serialized
// markup when the imperative path provably had no effect.
//
// It extracts the intended substitution from the model's natural-language
// explanation and edits the serialized document directly, then re-parses.
// This cannot preserve structural nuance the way the capability path can,
// which is why it is a fallback and not the primary mechanism.
package fallback

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Kurisu21/webeenthere-sub000/canvas"
)

// ErrExhausted is returned when no extraction pattern or substitution
// strategy produced a change. Surfaced as a structured error, never
// silently swallowed.
var ErrExhausted = errors.New("fallback: no applicable substitution")

// Extraction is the typed result of the pattern chain.
type Extraction struct {
	OldText string
	HasOld  bool
	NewText string
	Target  string // semantic target words, e.g. "title", when recovered
}

// changeVocabulary gates the fallback: without change-indicating words in
// the explanation there is nothing to extract.
var changeVocabulary = []string{"change", "update", "modify", "replace", "set", "rename"}

// ShouldAttempt reports whether the explanation suggests a text change.
func ShouldAttempt(explanation string) bool {
	lower := strings.ToLower(explanation)
	for _, w := range changeVocabulary {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// extractors is the ordered (pattern, extractor) chain; first match wins.
// Quoted substrings are required to avoid false positives.
var extractors = []struct {
	re    *regexp.Regexp
	build func(m []string) *Extraction
}{
	{
		// "changed the title to 'Acme Farms'"
		regexp.MustCompile(`(?i)changed\s+(?:the\s+)?([\w][\w\s-]*?)\s+to\s+['"]([^'"]+)['"]`),
		func(m []string) *Extraction {
			return &Extraction{NewText: m[2], Target: strings.ToLower(strings.TrimSpace(m[1]))}
		},
	},
	{
		// "change the heading to 'X'"
		regexp.MustCompile(`(?i)change\s+(?:the\s+)?([\w][\w\s-]*?)\s+to\s+['"]([^'"]+)['"]`),
		func(m []string) *Extraction {
			return &Extraction{NewText: m[2], Target: strings.ToLower(strings.TrimSpace(m[1]))}
		},
	},
	{
		// "from 'Old' to 'New'"
		regexp.MustCompile(`(?i)from\s+['"]([^'"]+)['"]\s+to\s+['"]([^'"]+)['"]`),
		func(m []string) *Extraction {
			return &Extraction{OldText: m[1], HasOld: true, NewText: m[2]}
		},
	},
	{
		// last resort: "to 'X'"
		regexp.MustCompile(`(?i)\bto\s+['"]([^'"]+)['"]`),
		func(m []string) *Extraction { return &Extraction{NewText: m[1]} },
	},
}

// Extract recovers the intended substitution from an explanation.
func Extract(explanation string) (*Extraction, bool) {
	for _, e := range extractors {
		if m := e.re.FindStringSubmatch(explanation); m != nil {
			return e.build(m), true
		}
	}
	return nil, false
}

// placeholders are the stock phrases templates ship with. The last-resort
// strategy replaces a matched phrase inside a text node, preserving the
// surrounding markup.
var placeholders = []string{
	"Welcome to My Website",
	"Your Title Here",
	"Your text here",
	"Lorem ipsum dolor sit amet",
}

// Mutator applies extracted substitutions to serialized markup.
type Mutator struct {
	logger *slog.Logger
}

// New creates a Mutator.
func New(logger *slog.Logger) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{logger: logger}
}

// Apply attempts the substitution strategies in order and re-parses the
// edited markup back into the document. Returns ErrExhausted when no
// strategy changed the serialized text.
func (m *Mutator) Apply(doc canvas.Accessor, explanation string) error {
	if !ShouldAttempt(explanation) {
		return fmt.Errorf("%w: explanation has no change vocabulary", ErrExhausted)
	}
	ext, ok := Extract(explanation)
	if !ok {
		return fmt.Errorf("%w: no extraction pattern matched", ErrExhausted)
	}

	markup := doc.Markup()
	edited, strategy := m.substitute(markup, ext)
	if edited == markup {
		return fmt.Errorf("%w: %q not found in document", ErrExhausted, ext.NewText)
	}

	if err := doc.SetMarkup(edited); err != nil {
		return fmt.Errorf("fallback: reparse edited markup: %w", err)
	}
	m.logger.Info("fallback substitution applied", "strategy", strategy, "new_text", ext.NewText)
	return nil
}

// substitute runs the strategies in priority order and returns the edited
// markup plus the name of the strategy that produced a change.
func (m *Mutator) substitute(markup string, ext *Extraction) (string, string) {
	if ext.Target != "" {
		if edited := replaceSlotContent(markup, slotID(ext.Target), ext.NewText); edited != markup {
			return edited, "slot-anchor"
		}
	}
	if ext.HasOld && ext.OldText != "" {
		if edited := replaceAllFold(markup, ext.OldText, ext.NewText); edited != markup {
			return edited, "old-text"
		}
	}
	for _, ph := range placeholders {
		if edited := replaceTextNodePhrase(markup, ph, ext.NewText); edited != markup {
			return edited, "placeholder"
		}
	}
	return markup, ""
}

// slotID maps a semantic target to the document's named-slot convention:
// the first target word prefixed with "slot-".
func slotID(target string) string {
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return ""
	}
	return "slot-" + strings.ToLower(fields[0])
}

// replaceSlotContent locates the open/close tag pair carrying the slot id,
// strips any nested markup from its content, and replaces the content
// verbatim. Nesting of the same tag name inside the slot is balanced.
func replaceSlotContent(markup, id, newText string) string {
	if id == "" {
		return markup
	}
	open := regexp.MustCompile(`<(\w+)[^>]*\bid=["']` + regexp.QuoteMeta(id) + `["'][^>]*>`)
	loc := open.FindStringSubmatchIndex(markup)
	if loc == nil {
		return markup
	}
	tag := markup[loc[2]:loc[3]]
	contentStart := loc[1]

	// Scan for the balanced closing tag.
	openRe := regexp.MustCompile(`(?i)<` + tag + `[\s>]`)
	closeRe := regexp.MustCompile(`(?i)</` + tag + `\s*>`)
	depth := 1
	pos := contentStart
	for depth > 0 {
		next := closeRe.FindStringIndex(markup[pos:])
		if next == nil {
			return markup
		}
		if inner := openRe.FindStringIndex(markup[pos : pos+next[0]]); inner != nil {
			depth++
			pos += inner[1]
			continue
		}
		depth--
		if depth == 0 {
			return markup[:contentStart] + newText + markup[pos+next[0]:]
		}
		pos += next[1]
	}
	return markup
}

// replaceAllFold replaces all case-insensitive occurrences of old with new.
func replaceAllFold(s, old, new string) string {
	if old == "" {
		return s
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(old))
	return re.ReplaceAllLiteralString(s, new)
}

// replaceTextNodePhrase replaces a placeholder phrase only when it appears
// inside a text node (between a '>' and a '<'), preserving surrounding
// markup and text.
func replaceTextNodePhrase(markup, phrase, newText string) string {
	re := regexp.MustCompile(`>([^<]*)<`)
	phraseRe := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase))
	replaced := false
	return re.ReplaceAllStringFunc(markup, func(seg string) string {
		if replaced {
			return seg
		}
		inner := seg[1 : len(seg)-1]
		if !phraseRe.MatchString(inner) {
			return seg
		}
		replaced = true
		return ">" + phraseRe.ReplaceAllLiteralString(inner, newText) + "<"
	})
}
