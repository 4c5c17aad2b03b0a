// Package patterns holds the layered field-pattern registry: a core pack that
// applies to every application form plus optional industry packs. Packs are
// static YAML data embedded at compile time; merging is a pure function.
package patterns

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed packs/*.yaml
var packFiles embed.FS

// CoreID is the id of the pack every set is built on.
const CoreID = "core"

// NoneID selects the core pack alone.
const NoneID = "none"

// Rule maps a regular expression over normalised field text to a canonical profile key.
type Rule struct {
	Pattern *regexp.Regexp
	Key     string
}

// PatternSet is a named bundle of matching tables.
// Sets returned by this package are fresh copies and may be kept by callers.
type PatternSet struct {
	Name              string
	FieldMap          []Rule
	StrictFieldMap    []Rule
	ExactNameMap      map[string]string
	DataAutomationMap map[string]string
}

// Profile describes a selectable industry pack.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// packFile is the YAML shape of one pack.
type packFile struct {
	ID             string            `yaml:"id"`
	DisplayName    string            `yaml:"display_name"`
	Description    string            `yaml:"description"`
	Strict         []ruleFile        `yaml:"strict"`
	Fields         []ruleFile        `yaml:"fields"`
	ExactNames     map[string]string `yaml:"exact_names"`
	DataAutomation map[string]string `yaml:"data_automation"`
}

type ruleFile struct {
	Key     string `yaml:"key"`
	Pattern string `yaml:"pattern"`
}

type pack struct {
	profile Profile
	set     *PatternSet
}

// registry is loaded once; packs are static configuration so a broken pack panics at init.
var registry = mustLoadRegistry()

type packRegistry struct {
	core  *PatternSet
	packs map[string]pack
	order []string
}

func mustLoadRegistry() *packRegistry {
	r, err := loadRegistry(packFiles)
	if err != nil {
		panic(fmt.Sprintf("failed to load field patterns: %v", err))
	}
	return r
}

func loadRegistry(fsys embed.FS) (*packRegistry, error) {
	entries, err := fsys.ReadDir("packs")
	if err != nil {
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}

	r := &packRegistry{packs: make(map[string]pack)}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml") || entry.Name() == documentsFile {
			continue
		}
		data, err := fsys.ReadFile("packs/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read pack %s: %w", entry.Name(), err)
		}
		p, err := parsePack(data)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", entry.Name(), err)
		}
		if p.profile.ID == CoreID {
			r.core = p.set
			continue
		}
		r.packs[p.profile.ID] = p
		r.order = append(r.order, p.profile.ID)
	}
	if r.core == nil {
		return nil, fmt.Errorf("core pack is missing")
	}
	sort.Strings(r.order)

	for _, id := range r.order {
		if err := validatePack(r.core, r.packs[id].set); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parsePack(data []byte) (pack, error) {
	var pf packFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pack{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if pf.ID == "" {
		return pack{}, fmt.Errorf("pack id is required")
	}

	strict, err := compileRules(pf.Strict)
	if err != nil {
		return pack{}, err
	}
	fields, err := compileRules(pf.Fields)
	if err != nil {
		return pack{}, err
	}

	return pack{
		profile: Profile{ID: pf.ID, DisplayName: pf.DisplayName, Description: pf.Description},
		set: &PatternSet{
			Name:              pf.ID,
			FieldMap:          fields,
			StrictFieldMap:    strict,
			ExactNameMap:      orEmpty(pf.ExactNames),
			DataAutomationMap: orEmpty(pf.DataAutomation),
		},
	}, nil
}

func compileRules(in []ruleFile) ([]Rule, error) {
	out := make([]Rule, 0, len(in))
	for _, rf := range in {
		if rf.Key == "" {
			return nil, fmt.Errorf("rule %q has no key", rf.Pattern)
		}
		re, err := regexp.Compile("(?i)" + rf.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", rf.Key, err)
		}
		out = append(out, Rule{Pattern: re, Key: rf.Key})
	}
	return out, nil
}

// validatePack enforces that an industry pack never owns a key core's fieldMap owns.
func validatePack(core, p *PatternSet) error {
	owned := make(map[string]bool)
	for _, r := range core.FieldMap {
		owned[r.Key] = true
	}
	for _, r := range p.FieldMap {
		if owned[r.Key] {
			return fmt.Errorf("pack %s redefines core key %s", p.Name, r.Key)
		}
	}
	return nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Compose layers overlays over base. Overlay rules come first, later overlays
// before earlier ones; attribute maps take the overlay entry on collision.
func Compose(base *PatternSet, overlays ...*PatternSet) *PatternSet {
	out := &PatternSet{
		Name:              base.Name,
		ExactNameMap:      make(map[string]string, len(base.ExactNameMap)),
		DataAutomationMap: make(map[string]string, len(base.DataAutomationMap)),
	}

	for i := len(overlays) - 1; i >= 0; i-- {
		out.FieldMap = append(out.FieldMap, overlays[i].FieldMap...)
		out.StrictFieldMap = append(out.StrictFieldMap, overlays[i].StrictFieldMap...)
	}
	out.FieldMap = append(out.FieldMap, base.FieldMap...)
	out.StrictFieldMap = append(out.StrictFieldMap, base.StrictFieldMap...)

	for k, v := range base.ExactNameMap {
		out.ExactNameMap[k] = v
	}
	for k, v := range base.DataAutomationMap {
		out.DataAutomationMap[k] = v
	}
	for _, o := range overlays {
		for k, v := range o.ExactNameMap {
			out.ExactNameMap[k] = v
		}
		for k, v := range o.DataAutomationMap {
			out.DataAutomationMap[k] = v
		}
	}
	if len(overlays) > 0 {
		out.Name = overlays[len(overlays)-1].Name
	}
	return out
}

// GetActiveFieldPatterns returns the set for an industry.
// No argument, "none" or an unknown id yields core alone.
func GetActiveFieldPatterns(industry ...string) *PatternSet {
	id := NoneID
	if len(industry) > 0 && industry[0] != "" {
		id = strings.ToLower(strings.TrimSpace(industry[0]))
	}
	p, ok := registry.packs[id]
	if !ok {
		return Compose(registry.core)
	}
	return Compose(registry.core, p.set)
}

// Known reports whether id names a pack (or "none").
func Known(id string) bool {
	if id == "" || id == NoneID {
		return true
	}
	_, ok := registry.packs[strings.ToLower(id)]
	return ok
}

// Core returns a copy of the core set.
func Core() *PatternSet {
	return Compose(registry.core)
}

// Pack returns a copy of one industry pack on its own.
func Pack(id string) (*PatternSet, bool) {
	p, ok := registry.packs[id]
	if !ok {
		return nil, false
	}
	return Compose(p.set), true
}

// GetAvailableProfiles lists the selectable packs, "none" first.
func GetAvailableProfiles() []Profile {
	profiles := []Profile{{
		ID:          NoneID,
		DisplayName: "Universal Only",
		Description: "Standard fields common to every application form.",
	}}
	for _, id := range registry.order {
		profiles = append(profiles, registry.packs[id].profile)
	}
	return profiles
}

// Keys returns the distinct keys of the rules in order of first appearance.
func Keys(rules []Rule) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range rules {
		if !seen[r.Key] {
			seen[r.Key] = true
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Normalize lower-cases s, splits camelCase words and replaces separators
// (underscore, hyphen, dot, brackets, slash, colon) with spaces.
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	var prev rune
	for i, r := range s {
		switch {
		case strings.ContainsRune("_-.[]/:()*?#", r):
			sb.WriteByte(' ')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				sb.WriteByte(' ')
			}
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(unicode.ToLower(r))
		}
		prev = r
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
