package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const documentsFile = "documents.yaml"

// DefaultDocumentType is assumed for upload fields whose text names no known type.
const DefaultDocumentType = "resume"

// DocumentType is one entry of the document alias table.
type DocumentType struct {
	Type    string
	Aliases []string
	Label   *regexp.Regexp
}

type documentFile struct {
	Type    string   `yaml:"type"`
	Aliases []string `yaml:"aliases"`
	Label   string   `yaml:"label"`
}

var documentTypes = mustLoadDocumentTypes()

func mustLoadDocumentTypes() []DocumentType {
	data, err := packFiles.ReadFile("packs/" + documentsFile)
	if err != nil {
		panic(fmt.Sprintf("failed to read document types: %v", err))
	}
	types, err := parseDocumentTypes(data)
	if err != nil {
		panic(fmt.Sprintf("failed to load document types: %v", err))
	}
	return types
}

func parseDocumentTypes(data []byte) ([]DocumentType, error) {
	var raw []documentFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out := make([]DocumentType, 0, len(raw))
	for _, d := range raw {
		re, err := regexp.Compile("(?i)" + d.Label)
		if err != nil {
			return nil, fmt.Errorf("invalid label pattern for %s: %w", d.Type, err)
		}
		out = append(out, DocumentType{Type: d.Type, Aliases: d.Aliases, Label: re})
	}
	return out, nil
}

// DocumentTypes returns the alias table in matching order.
func DocumentTypes() []DocumentType {
	return append([]DocumentType(nil), documentTypes...)
}

// InferDocumentType picks the document type an upload field asks for from its
// normalised label text. Unrecognised upload fields default to a resume.
func InferDocumentType(text string) string {
	norm := Normalize(text)
	for _, d := range documentTypes {
		if d.Label.MatchString(norm) {
			return d.Type
		}
	}
	return DefaultDocumentType
}

// CanonicalDocumentType resolves a type name or alias to its canonical type.
// Unknown names are returned in canonical spelling unchanged.
func CanonicalDocumentType(name string) string {
	slug := documentSlug(name)
	for _, d := range documentTypes {
		if d.Type == slug {
			return d.Type
		}
		for _, a := range d.Aliases {
			if documentSlug(a) == slug {
				return d.Type
			}
		}
	}
	return slug
}

// DocumentTypeMatches reports whether a profile document of type entryType
// satisfies a request for wanted: exact match first, then through the alias table.
func DocumentTypeMatches(entryType, wanted string) bool {
	if documentSlug(entryType) == documentSlug(wanted) {
		return true
	}
	return CanonicalDocumentType(entryType) == CanonicalDocumentType(wanted)
}

func documentSlug(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "_")
}
