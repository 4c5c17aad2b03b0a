// Package types provides type definitions for structured data shared by the autofill engine.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "strings"

// FrameKind records which kind of root a field was discovered in.
type FrameKind string

const (
	// FrameDocument is the top-level page document
	FrameDocument FrameKind = "document"
	// FrameShadow is an open shadow root
	FrameShadow FrameKind = "shadow"
	// FrameIframe is a same-origin iframe document
	FrameIframe FrameKind = "iframe"
)

// Option is one enumerated choice of a select or radio group.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// FieldDescriptor is a normalized snapshot of one fillable control taken at scan time.
// Descriptors are never mutated; a new scan produces a new set.
type FieldDescriptor struct {
	Index       int               `json:"index"`
	Tag         string            `json:"tag"`
	Type        string            `json:"type"`
	Label       string            `json:"label"`
	Placeholder string            `json:"placeholder,omitempty"`
	Name        string            `json:"name,omitempty"`
	ID          string            `json:"id,omitempty"`
	Options     []Option          `json:"options,omitempty"`
	Required    bool              `json:"required"`
	Value       string            `json:"value,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Frame       FrameKind         `json:"frame"`
}

// Identifier returns the most human-meaningful name of the field:
// the label, then name, id and placeholder.
func (d FieldDescriptor) Identifier() string {
	for _, s := range []string{d.Label, d.Name, d.ID, d.Placeholder} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Attr returns an attribute from the bag, or "" when absent.
func (d FieldDescriptor) Attr(name string) string {
	if d.Attributes == nil {
		return ""
	}
	return d.Attributes[name]
}

// OptionTexts returns the visible text of every option.
func (d FieldDescriptor) OptionTexts() []string {
	texts := make([]string, 0, len(d.Options))
	for _, o := range d.Options {
		texts = append(texts, o.Text)
	}
	return texts
}

// IsFileInput reports whether the descriptor is a native file input.
func (d FieldDescriptor) IsFileInput() bool {
	return d.Tag == "input" && d.Type == "file"
}
