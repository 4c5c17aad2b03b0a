// Package scanner walks a page, its open shadow roots and same-origin frames
// and produces one FieldDescriptor per fillable control.
package scanner

import (
	"context"
	"strings"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/types"
)

// excludedInputTypes are input types that never hold applicant data.
var excludedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

// richTextClasses identify known rich-text editor surfaces.
var richTextClasses = []string{
	"ql-editor",
	"mce-content-body",
	"ProseMirror",
	"public-DraftEditor-content",
}

// Field pairs a descriptor with the live nodes it was captured from.
type Field struct {
	Descriptor types.FieldDescriptor
	Node       dom.Node
	Group      []dom.Node // radio group members, in document order
}

// Snapshot is the result of one scan.
type Snapshot struct {
	Fields []Field
}

// Descriptors returns the descriptors in index order.
func (s *Snapshot) Descriptors() []types.FieldDescriptor {
	out := make([]types.FieldDescriptor, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Descriptor
	}
	return out
}

// Element returns the live element captured for descriptor index i.
func (s *Snapshot) Element(i int) (dom.Element, bool) {
	if i < 0 || i >= len(s.Fields) {
		return nil, false
	}
	return dom.AsElement(s.Fields[i].Node)
}

// Group returns the radio members captured for descriptor index i.
func (s *Snapshot) Group(i int) []dom.Element {
	if i < 0 || i >= len(s.Fields) {
		return nil
	}
	var out []dom.Element
	for _, n := range s.Fields[i].Group {
		if el, ok := dom.AsElement(n); ok {
			out = append(out, el)
		}
	}
	return out
}

// Len returns the number of fields.
func (s *Snapshot) Len() int {
	return len(s.Fields)
}

// IsCandidate reports whether n is a control the scanner would capture,
// ignoring its disabled state.
func IsCandidate(n dom.Node) bool {
	if n == nil || n.Type() != dom.ElementNode {
		return false
	}
	switch n.Tag() {
	case "input":
		return !excludedInputTypes[inputType(n)]
	case "select", "textarea":
		return true
	}
	switch dom.AttrOr(n, "role") {
	case "combobox", "listbox":
		return true
	}
	return isRichText(n)
}

func isRichText(n dom.Node) bool {
	if v, ok := n.Attr("contenteditable"); ok && v != "false" {
		return true
	}
	if dom.AttrOr(n, "id") == "tinymce" {
		return true
	}
	for _, c := range richTextClasses {
		if dom.HasClass(n, c) {
			return true
		}
	}
	return false
}

func inputType(n dom.Node) string {
	t := strings.ToLower(strings.TrimSpace(dom.AttrOr(n, "type")))
	if t == "" {
		return "text"
	}
	return t
}

// Scan walks root and returns every fillable control.
// Elements without a resolvable label get an empty label.
func Scan(ctx context.Context, root dom.Node) *Snapshot {
	s := &scan{ctx: ctx, radios: make(map[string]int)}
	s.walkScope(root, types.FrameDocument)
	return &Snapshot{Fields: s.fields}
}

type scan struct {
	ctx    context.Context
	fields []Field
	radios map[string]int // scope key + name -> field index
}

// scope holds per-root lookups; label[for] and aria-labelledby never cross roots.
type scope struct {
	root     dom.Node
	frame    types.FrameKind
	labelFor map[string]string
	byID     map[string]dom.Node
	owned    map[string]bool // ids of listboxes owned by a combobox
}

func (s *scan) walkScope(root dom.Node, frame types.FrameKind) {
	sc := &scope{
		root:     root,
		frame:    frame,
		labelFor: make(map[string]string),
		byID:     make(map[string]dom.Node),
		owned:    make(map[string]bool),
	}
	dom.Walk(root, func(n dom.Node) bool {
		if n.Type() != dom.ElementNode {
			return true
		}
		if id := dom.AttrOr(n, "id"); id != "" {
			if _, dup := sc.byID[id]; !dup {
				sc.byID[id] = n
			}
		}
		if n.Tag() == "label" {
			if target := dom.AttrOr(n, "for"); target != "" {
				if _, dup := sc.labelFor[target]; !dup {
					sc.labelFor[target] = labelText(n)
				}
			}
		}
		if dom.AttrOr(n, "role") == "combobox" {
			for _, attr := range []string{"aria-controls", "aria-owns"} {
				for _, id := range strings.Fields(dom.AttrOr(n, attr)) {
					sc.owned[id] = true
				}
			}
		}
		return true
	})

	s.visit(root, sc)
}

func (s *scan) visit(n dom.Node, sc *scope) {
	for _, c := range n.Children() {
		if c.Type() != dom.ElementNode {
			continue
		}
		switch c.Tag() {
		case "script", "style", "template", "noscript":
			continue
		}

		descend := true
		if IsCandidate(c) && !disabled(c) && !s.ownedListbox(c, sc) {
			s.capture(c, sc)
			if isRichText(c) || c.Tag() == "select" || dom.AttrOr(c, "role") != "" {
				descend = false
			}
		}

		if sr := c.ShadowRoot(); sr != nil {
			s.walkScope(sr, types.FrameShadow)
		}
		if c.Tag() == "iframe" {
			if doc, err := c.ContentDocument(); err == nil && doc != nil {
				s.walkScope(doc, types.FrameIframe)
			}
			continue
		}
		if descend {
			s.visit(c, sc)
		}
	}
}

func (s *scan) ownedListbox(n dom.Node, sc *scope) bool {
	if dom.AttrOr(n, "role") != "listbox" {
		return false
	}
	if sc.owned[dom.AttrOr(n, "id")] {
		return true
	}
	parent := n.Parent()
	return parent != nil && dom.Closest(parent, func(a dom.Node) bool {
		return dom.AttrOr(a, "role") == "combobox"
	}) != nil
}

func disabled(n dom.Node) bool {
	if dom.HasAttr(n, "disabled") || dom.AttrOr(n, "aria-disabled") == "true" {
		return true
	}
	return dom.Closest(n, func(a dom.Node) bool {
		return a.Tag() == "fieldset" && dom.HasAttr(a, "disabled")
	}) != nil
}

func (s *scan) capture(n dom.Node, sc *scope) {
	if n.Tag() == "input" && inputType(n) == "radio" {
		if name := dom.AttrOr(n, "name"); name != "" {
			key := sc.root.Key() + "\x00" + name
			if idx, ok := s.radios[key]; ok {
				s.addRadioMember(idx, n, sc)
				return
			}
			s.radios[key] = len(s.fields)
		}
	}

	d := types.FieldDescriptor{
		Index:       len(s.fields),
		Tag:         n.Tag(),
		Type:        controlType(n),
		Label:       resolveLabel(n, sc),
		Placeholder: placeholder(n),
		Name:        dom.AttrOr(n, "name"),
		ID:          dom.AttrOr(n, "id"),
		Required:    dom.HasAttr(n, "required") || dom.AttrOr(n, "aria-required") == "true",
		Value:       s.currentValue(n),
		Attributes:  n.Attrs(),
		Frame:       sc.frame,
	}

	field := Field{Descriptor: d, Node: n}
	switch {
	case n.Tag() == "select":
		field.Descriptor.Options = selectOptions(n)
	case dom.AttrOr(n, "role") == "listbox":
		field.Descriptor.Options = listboxOptions(n)
	case d.Type == "radio":
		field.Group = []dom.Node{n}
		field.Descriptor.Options = []types.Option{radioOption(n, sc)}
		field.Descriptor.Label = groupLabel(n, sc)
	}
	s.fields = append(s.fields, field)
}

func (s *scan) addRadioMember(idx int, n dom.Node, sc *scope) {
	f := &s.fields[idx]
	f.Group = append(f.Group, n)
	f.Descriptor.Options = append(f.Descriptor.Options, radioOption(n, sc))
	if v := s.currentValue(n); v != "" && f.Descriptor.Value == "" {
		f.Descriptor.Value = v
	}
	if f.Descriptor.Required || dom.HasAttr(n, "required") {
		f.Descriptor.Required = true
	}
}

func (s *scan) currentValue(n dom.Node) string {
	el, ok := dom.AsElement(n)
	if !ok {
		return dom.AttrOr(n, "value")
	}
	if n.Tag() == "input" {
		switch inputType(n) {
		case "checkbox", "radio":
			checked, err := el.Checked(s.ctx)
			if err != nil || !checked {
				return ""
			}
		case "file":
			return ""
		}
	}
	v, err := el.Value(s.ctx)
	if err != nil {
		return dom.AttrOr(n, "value")
	}
	return v
}

func controlType(n dom.Node) string {
	switch n.Tag() {
	case "input":
		return inputType(n)
	case "select":
		if dom.HasAttr(n, "multiple") {
			return "select-multiple"
		}
		return "select-one"
	case "textarea":
		return "textarea"
	}
	if role := dom.AttrOr(n, "role"); role == "combobox" || role == "listbox" {
		return role
	}
	return "contenteditable"
}

func placeholder(n dom.Node) string {
	for _, attr := range []string{"placeholder", "aria-placeholder", "data-placeholder"} {
		if v := strings.TrimSpace(dom.AttrOr(n, attr)); v != "" {
			return v
		}
	}
	return ""
}

func selectOptions(n dom.Node) []types.Option {
	var opts []types.Option
	dom.Walk(n, func(c dom.Node) bool {
		if c.Tag() == "option" {
			text := dom.CollapseSpace(c.Text())
			value, ok := c.Attr("value")
			if !ok {
				value = text
			}
			opts = append(opts, types.Option{Value: value, Text: text})
			return false
		}
		return true
	})
	return opts
}

func listboxOptions(n dom.Node) []types.Option {
	var opts []types.Option
	dom.Walk(n, func(c dom.Node) bool {
		if dom.AttrOr(c, "role") == "option" {
			text := dom.CollapseSpace(c.Text())
			value := dom.AttrOr(c, "data-value")
			if value == "" {
				value = text
			}
			opts = append(opts, types.Option{Value: value, Text: text})
			return false
		}
		return true
	})
	return opts
}

func radioOption(n dom.Node, sc *scope) types.Option {
	value, ok := n.Attr("value")
	if !ok {
		value = "on"
	}
	text := ownLabel(n, sc)
	if text == "" {
		text = value
	}
	return types.Option{Value: value, Text: text}
}
