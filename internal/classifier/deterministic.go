package classifier

import (
	"strings"

	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/types"
)

// Confidence assigned to each deterministic tier.
const (
	StrictConfidence    = 1.0
	AttributeConfidence = 0.95
	PatternConfidence   = 0.8
)

// automationAttrs are the ATS attributes looked up in dataAutomationMap, in priority order.
var automationAttrs = []string{"data-automation-id", "data-qa", "data-testid", "data-field"}

// Match is a deterministic classification of one field.
type Match struct {
	Key        string
	Source     types.MatchSource
	Confidence float64
}

// MatchField resolves a descriptor to a canonical profile key using the
// pattern set alone: strict rules against each identifier on its own, then
// the attribute maps, then the generic rules over all identifier text.
func MatchField(d types.FieldDescriptor, set *patterns.PatternSet) (Match, bool) {
	if set == nil {
		return Match{}, false
	}

	sources := identifierSources(d)
	for _, rule := range set.StrictFieldMap {
		for _, s := range sources {
			if rule.Pattern.MatchString(s) {
				return Match{Key: rule.Key, Source: types.SourceStrict, Confidence: StrictConfidence}, true
			}
		}
	}

	for _, attr := range automationAttrs {
		v := strings.TrimSpace(d.Attr(attr))
		if v == "" {
			continue
		}
		if key, ok := set.DataAutomationMap[v]; ok {
			return Match{Key: key, Source: types.SourceAttribute, Confidence: AttributeConfidence}, true
		}
	}
	if name := strings.TrimSpace(d.Name); name != "" {
		if key, ok := set.ExactNameMap[name]; ok {
			return Match{Key: key, Source: types.SourceAttribute, Confidence: AttributeConfidence}, true
		}
	}

	if combined := strings.Join(sources, " "); combined != "" {
		for _, rule := range set.FieldMap {
			if rule.Pattern.MatchString(combined) {
				return Match{Key: rule.Key, Source: types.SourcePattern, Confidence: PatternConfidence}, true
			}
		}
	}
	return Match{}, false
}

// identifierSources returns the distinct normalised identifiers of a field.
func identifierSources(d types.FieldDescriptor) []string {
	raw := []string{d.Label, d.Name, d.ID, d.Placeholder, d.Attr("aria-label")}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		n := patterns.Normalize(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// documentText is the text an upload field's document type is inferred from.
func documentText(d types.FieldDescriptor) string {
	return strings.Join([]string{
		d.Label, d.Name, d.ID, d.Attr("aria-label"), d.Attr("data-automation-id"), d.Attr("data-qa"),
	}, " ")
}
