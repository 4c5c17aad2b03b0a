package fill

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jonathan/job-autofill/internal/types"
)

// fold lower-cases s, strips diacritics and collapses whitespace so that
// "  Québec " and "quebec" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.Join(strings.Fields(out), " "))
}

// valuesMatch is the post-fill verification: case-insensitive and tolerant of
// a page truncating or extending the value.
func valuesMatch(actual, expected string) bool {
	a, x := fold(actual), fold(expected)
	if a == "" || x == "" {
		return a == x
	}
	return a == x || strings.HasPrefix(a, x) || strings.HasPrefix(x, a)
}

var (
	truthy = map[string]bool{"yes": true, "y": true, "true": true, "1": true, "on": true, "checked": true, "agree": true, "i agree": true}
	falsy  = map[string]bool{"no": true, "n": true, "false": true, "0": true, "off": true, "unchecked": true, "decline": true}
)

// parseBool interprets yes/no style answers.
func parseBool(s string) (value, ok bool) {
	f := fold(s)
	switch {
	case truthy[f]:
		return true, true
	case falsy[f]:
		return false, true
	}
	return false, false
}

// matchOption picks the option for target: exact value, exact text,
// yes/no synonyms, option text containing target, then target containing
// the option text as whole words. It returns -1 when nothing matches.
func matchOption(options []types.Option, target string) int {
	x := fold(target)
	if x == "" {
		return -1
	}
	for i, o := range options {
		if o.Value != "" && o.Value == target {
			return i
		}
	}
	for i, o := range options {
		if fold(o.Text) == x || (o.Value != "" && fold(o.Value) == x) {
			return i
		}
	}
	if want, ok := parseBool(target); ok {
		for i, o := range options {
			if got, ok := parseBool(o.Text); ok && got == want {
				return i
			}
			if got, ok := parseBool(o.Value); ok && got == want {
				return i
			}
		}
	}
	for i, o := range options {
		if t := fold(o.Text); t != "" && strings.Contains(t, x) {
			return i
		}
	}
	for i, o := range options {
		if t := fold(o.Text); len(t) >= 2 && strings.Contains(" "+x+" ", " "+t+" ") {
			return i
		}
	}
	return -1
}

// matchText picks the first text matching target under the same rules as matchOption.
func matchText(texts []string, target string) int {
	options := make([]types.Option, len(texts))
	for i, t := range texts {
		options[i] = types.Option{Text: t}
	}
	return matchOption(options, target)
}

var placeholderPrefixes = []string{"select", "choose", "please select", "pick", "--", "—", "search"}

// isPlaceholder reports whether a custom dropdown shows its empty-state text.
func isPlaceholder(value string, d types.FieldDescriptor) bool {
	f := fold(value)
	if f == "" || (d.Placeholder != "" && f == fold(d.Placeholder)) {
		return true
	}
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(f, p) {
			return true
		}
	}
	return false
}
