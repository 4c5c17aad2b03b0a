// Package dom defines the small DOM surface the autofill engine works against.
// internal/browser implements it over the Chrome DevTools Protocol and
// internal/dom/domtest implements it in memory for tests.
package dom

import (
	"context"
	"errors"
	"strings"
)

// NodeType distinguishes the node kinds the engine cares about.
type NodeType int

const (
	ElementNode NodeType = iota + 1
	TextNode
	DocumentNode
	FragmentNode // shadow root
)

// ErrCrossOrigin is returned by ContentDocument for frames whose document is not accessible.
var ErrCrossOrigin = errors.New("cross-origin frame")

// ErrDetached is returned when an element is no longer attached to the page.
var ErrDetached = errors.New("element detached")

// Node is a read-only view of one node of a snapshot.
type Node interface {
	Type() NodeType
	// Key is a stable identity for the node within a page session.
	Key() string
	// Tag is the lower-case tag name, empty for non-elements.
	Tag() string
	Attr(name string) (string, bool)
	Attrs() map[string]string
	// Text is the concatenated text content of the subtree.
	Text() string
	Parent() Node
	Children() []Node
	// ShadowRoot returns the open shadow root, or nil.
	ShadowRoot() Node
	// ContentDocument returns the document of an iframe element.
	ContentDocument() (Document, error)
}

// Event is a synthetic DOM event.
type Event struct {
	Type    string
	Bubbles bool
	Key     string // keyboard events only
}

// Common synthetic events.
var (
	EventInput  = Event{Type: "input", Bubbles: true}
	EventChange = Event{Type: "change", Bubbles: true}
	EventBlur   = Event{Type: "blur"}
)

// File is an in-memory file handed to a file input or drop zone.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Element is a live element that can be read and mutated.
type Element interface {
	Node
	Value(ctx context.Context) (string, error)
	Checked(ctx context.Context) (bool, error)
	SelectedIndex(ctx context.Context) (int, error)
	Visible(ctx context.Context) (bool, error)
	Focus(ctx context.Context) error
	Click(ctx context.Context) error
	// ExecInsertText runs document.execCommand('insertText') on the focused
	// element and reports whether the command was supported.
	ExecInsertText(ctx context.Context, text string) (bool, error)
	// SetNativeValue invokes the value setter of the element's prototype,
	// bypassing any setter installed on the instance. No events are dispatched.
	SetNativeValue(ctx context.Context, value string) error
	Dispatch(ctx context.Context, ev Event) error
	// TypeRune simulates keydown, input and keyup for one character.
	TypeRune(ctx context.Context, r rune) error
	// SetFiles assigns files through a DataTransfer and dispatches change.
	SetFiles(ctx context.Context, files []File) error
	FileCount(ctx context.Context) (int, error)
	// DropFiles simulates dragenter, dragover and drop carrying files.
	DropFiles(ctx context.Context, files []File) error
}

// Document is the root of a page or frame.
type Document interface {
	Node
	URL() string
	Title() string
	// QueryAll returns the live elements matching a CSS selector, piercing open shadow roots.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// MutationKind is the kind of a mutation record.
type MutationKind string

const (
	MutationChildList  MutationKind = "childList"
	MutationAttributes MutationKind = "attributes"
)

// MutationRecord describes one change under an observed root.
type MutationRecord struct {
	Kind          MutationKind
	Target        Node
	Added         []Node
	AttributeName string
}

// Observable is implemented by roots that can report mutations.
type Observable interface {
	// Observe delivers mutation records under root to fn until the returned stop is called.
	Observe(root Node, fn func([]MutationRecord)) (stop func(), err error)
}

// Snapshotter is implemented by live documents whose node tree must be
// refreshed before a scan.
type Snapshotter interface {
	Snapshot(ctx context.Context) error
}

// AsElement returns n as a live Element when the implementation supports it.
func AsElement(n Node) (Element, bool) {
	if n == nil || n.Type() != ElementNode {
		return nil, false
	}
	el, ok := n.(Element)
	return el, ok
}

// AttrOr returns the attribute value or "".
func AttrOr(n Node, name string) string {
	v, _ := n.Attr(name)
	return v
}

// HasAttr reports whether the attribute is present.
func HasAttr(n Node, name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// HasClass reports whether the class attribute contains class.
func HasClass(n Node, class string) bool {
	for _, c := range strings.Fields(AttrOr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// Walk visits n and its light-DOM descendants in document order.
// Returning false from fn prunes the subtree.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// Closest returns the nearest inclusive ancestor for which match returns true.
func Closest(n Node, match func(Node) bool) Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Type() == ElementNode && match(cur) {
			return cur
		}
	}
	return nil
}

// CollapseSpace trims and collapses internal whitespace runs.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
