// Package profile holds the candidate profile fetched from the platform,
// the single authoritative store that caches it, and an encrypted local copy.
package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jonathan/job-autofill/internal/types"
)

// overridesPath holds locally supplied values that win over the remote profile.
const overridesPath = "_overrides"

// keyPaths maps canonical profile keys to candidate gjson paths, tried in order.
// Keys without an entry are looked up at the top level and in the answer sections.
var keyPaths = map[string][]string{
	"firstName":          {"personalInfo.firstName", "personal.firstName", "firstName", "first_name"},
	"lastName":           {"personalInfo.lastName", "personal.lastName", "lastName", "last_name"},
	"middleName":         {"personalInfo.middleName", "middleName"},
	"preferredName":      {"personalInfo.preferredName", "preferredName"},
	"fullName":           {"personalInfo.fullName", "fullName", "name"},
	"email":              {"personalInfo.email", "contact.email", "email"},
	"phone":              {"personalInfo.phone", "contact.phone", "phone"},
	"addressLine1":       {"address.line1", "address.street", "personalInfo.address.line1", "addressLine1"},
	"addressLine2":       {"address.line2", "personalInfo.address.line2", "addressLine2"},
	"city":               {"address.city", "personalInfo.address.city", "city"},
	"state":              {"address.state", "personalInfo.address.state", "state"},
	"zipCode":            {"address.zipCode", "address.postalCode", "address.zip", "zipCode"},
	"country":            {"address.country", "personalInfo.address.country", "country"},
	"linkedinUrl":        {"links.linkedin", "linkedinUrl"},
	"githubUrl":          {"links.github", "githubUrl"},
	"portfolioUrl":       {"links.portfolio", "portfolioUrl"},
	"websiteUrl":         {"links.website", "websiteUrl"},
	"currentCompany":     {"workExperience.0.company", "currentCompany"},
	"currentTitle":       {"workExperience.0.title", "currentTitle"},
	"school":             {"education.0.school", "school"},
	"degree":             {"education.0.degree", "degree"},
	"major":              {"education.0.fieldOfStudy", "education.0.major", "major"},
	"graduationYear":     {"education.0.graduationYear", "graduationYear"},
	"gpa":                {"education.0.gpa", "gpa"},
	"npiNumber":          {"licenses.npi", "npiNumber"},
	"deaNumber":          {"licenses.dea", "deaNumber"},
	"licenseNumber":      {"licenses.0.number", "licenseNumber"},
	"licenseState":       {"licenses.0.state", "licenseState"},
	"licenseType":        {"licenses.0.type", "licenseType"},
	"licenseExpiration":  {"licenses.0.expiration", "licenseExpiration"},
	"boardCertification": {"certifications.0.name", "boardCertification"},
}

// answerSections hold free-form screening answers keyed by canonical key.
var answerSections = []string{"screeningAnswers", "preferences", "eeo", "customAnswers"}

// Profile is an immutable view over the opaque profile JSON.
type Profile struct {
	raw []byte
}

// New wraps raw profile JSON. A {"profile": {...}} envelope is unwrapped.
func New(raw []byte) (*Profile, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("profile is not valid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("profile must be a JSON object")
	}
	if inner := root.Get("profile"); inner.IsObject() {
		raw = []byte(inner.Raw)
	}
	return &Profile{raw: append([]byte(nil), raw...)}, nil
}

// FromValues builds a flat profile from canonical keys; used for local profiles and tests.
func FromValues(values map[string]string) *Profile {
	raw := []byte(`{}`)
	for k, v := range values {
		raw, _ = sjson.SetBytes(raw, gjson.Escape(k), v)
	}
	return &Profile{raw: raw}
}

// Raw returns a copy of the profile JSON.
func (p *Profile) Raw() []byte {
	return append([]byte(nil), p.raw...)
}

// Value returns the value for a canonical key, or "" when the profile has none.
func (p *Profile) Value(key string) string {
	if p == nil || key == "" {
		return ""
	}
	if v := stringify(gjson.GetBytes(p.raw, overridesPath+"."+gjson.Escape(key))); v != "" {
		return v
	}
	for _, path := range keyPaths[key] {
		if v := stringify(gjson.GetBytes(p.raw, path)); v != "" {
			return v
		}
	}
	if v := stringify(gjson.GetBytes(p.raw, gjson.Escape(key))); v != "" {
		return v
	}
	for _, section := range answerSections {
		if v := stringify(gjson.GetBytes(p.raw, section+"."+gjson.Escape(key))); v != "" {
			return v
		}
	}
	if key == "fullName" {
		return strings.TrimSpace(p.Value("firstName") + " " + p.Value("lastName"))
	}
	return ""
}

// Has reports whether the profile holds a non-empty value for key.
func (p *Profile) Has(key string) bool {
	return p.Value(key) != ""
}

// WithOverrides returns a copy whose values for the given keys are replaced.
func (p *Profile) WithOverrides(values map[string]string) (*Profile, error) {
	raw := p.Raw()
	var err error
	for k, v := range values {
		raw, err = sjson.SetBytes(raw, overridesPath+"."+gjson.Escape(k), v)
		if err != nil {
			return nil, fmt.Errorf("failed to set override %s: %w", k, err)
		}
	}
	return &Profile{raw: raw}, nil
}

var validate = validator.New()

// Documents returns the uploadable documents the profile references.
// Entries without a type or a valid URL are dropped.
func (p *Profile) Documents() []types.DocumentEntry {
	if p == nil {
		return nil
	}
	var out []types.DocumentEntry
	gjson.GetBytes(p.raw, "documents").ForEach(func(_, v gjson.Result) bool {
		var d types.DocumentEntry
		if err := json.Unmarshal([]byte(v.Raw), &d); err != nil {
			return true
		}
		if err := validate.Struct(d); err != nil {
			return true
		}
		out = append(out, d)
		return true
	})
	return out
}

// Summary returns a short description for logs and the review surface.
func (p *Profile) Summary() string {
	name := p.Value("fullName")
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s, %d documents", name, len(p.Documents()))
}

func stringify(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	case gjson.True:
		return "Yes"
	case gjson.False:
		return "No"
	case gjson.JSON:
		if r.IsArray() {
			var parts []string
			for _, item := range r.Array() {
				if s := stringify(item); s != "" && item.Type != gjson.JSON {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, ", ")
		}
	}
	return ""
}
