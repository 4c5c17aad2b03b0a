package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"github.com/jonathan/job-autofill/internal/dom"
)

// node is one mirrored DOM node. Structural reads take the tree lock; element
// operations run in the page through Runtime.callFunctionOn.
type node struct {
	t *tree

	id         cdp.NodeID
	backendID  cdp.BackendNodeID
	kind       cdp.NodeType
	tag        string
	text       string
	attrs      map[string]string
	parent     *node
	children   []*node
	childCount int64
	shadow     *node
	content    *node
	docURL     string
}

var (
	_ dom.Element    = (*node)(nil)
	_ dom.Document   = (*frameDoc)(nil)
	_ dom.Observable = (*frameDoc)(nil)
)

func (n *node) Type() dom.NodeType {
	switch n.kind {
	case cdp.NodeTypeElement:
		return dom.ElementNode
	case cdp.NodeTypeText:
		return dom.TextNode
	case cdp.NodeTypeDocument:
		return dom.DocumentNode
	case cdp.NodeTypeDocumentFragment:
		return dom.FragmentNode
	default:
		return 0
	}
}

// Key is the backend node id, which survives re-snapshots.
func (n *node) Key() string { return backendKey(n.backendID) }

func (n *node) Tag() string { return n.tag }

func (n *node) Attr(name string) (string, bool) {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	v, ok := n.attrs[strings.ToLower(name)]
	return v, ok
}

func (n *node) Attrs() map[string]string {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}

func (n *node) Text() string {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	var sb strings.Builder
	n.writeText(&sb)
	return sb.String()
}

func (n *node) writeText(sb *strings.Builder) {
	if n.kind == cdp.NodeTypeText {
		sb.WriteString(n.text)
		return
	}
	for _, c := range n.children {
		c.writeText(sb)
	}
}

func (n *node) Parent() dom.Node {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) Children() []dom.Node {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	return asNodes(n.children)
}

func (n *node) ShadowRoot() dom.Node {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	if n.shadow == nil {
		return nil
	}
	return n.shadow
}

// ContentDocument returns the frame document when the browser exposed it.
// Out-of-process frames are reported as cross-origin.
func (n *node) ContentDocument() (dom.Document, error) {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	if n.tag != "iframe" && n.tag != "frame" {
		return nil, nil
	}
	if n.content == nil {
		return nil, dom.ErrCrossOrigin
	}
	return &frameDoc{n: n.content}, nil
}

// within reports whether n is root or a light-DOM descendant of it. Callers hold mu.
func (n *node) within(root cdp.BackendNodeID) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.backendID == root {
			return true
		}
	}
	return false
}

// insertAfter places c after the child with id prev, or first when prev is 0.
// Callers hold mu.
func (n *node) insertAfter(c *node, prev cdp.NodeID) {
	at := 0
	if prev != 0 {
		at = len(n.children)
		for i, sib := range n.children {
			if sib.id == prev {
				at = i + 1
				break
			}
		}
	}
	n.children = append(n.children, nil)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = c
}

// remove detaches the child with id and returns it. Callers hold mu.
func (n *node) remove(id cdp.NodeID) *node {
	for i, c := range n.children {
		if c.id == id {
			n.children = append(n.children[:i], n.children[i+1:]...)
			c.parent = nil
			return c
		}
	}
	return nil
}

// title returns the text of the first <title> element under n. Callers hold mu.
func (n *node) title() string {
	if n.tag == "svg" {
		return ""
	}
	if n.tag == "title" {
		var sb strings.Builder
		n.writeText(&sb)
		return dom.CollapseSpace(sb.String())
	}
	for _, c := range n.children {
		if t := c.title(); t != "" {
			return t
		}
	}
	return ""
}

// scopes returns n and every open shadow root below it, without entering frames.
// Callers hold mu.
func (n *node) scopes() []*node {
	out := []*node{n}
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if c.shadow != nil {
				out = append(out, c.shadow)
				walk(c.shadow)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *node) Value(ctx context.Context) (string, error) {
	var v string
	err := n.call(ctx, jsValue, nil, &v)
	return v, err
}

func (n *node) Checked(ctx context.Context) (bool, error) {
	var v bool
	err := n.call(ctx, jsChecked, nil, &v)
	return v, err
}

func (n *node) SelectedIndex(ctx context.Context) (int, error) {
	v := -1
	err := n.call(ctx, jsSelectedIndex, nil, &v)
	return v, err
}

func (n *node) Visible(ctx context.Context) (bool, error) {
	var v bool
	err := n.call(ctx, jsVisible, nil, &v)
	return v, err
}

func (n *node) Focus(ctx context.Context) error {
	return n.call(ctx, jsFocus, nil, nil)
}

func (n *node) Click(ctx context.Context) error {
	return n.call(ctx, jsClick, nil, nil)
}

func (n *node) ExecInsertText(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := n.call(ctx, jsInsertText, []any{text}, &ok)
	return ok, err
}

func (n *node) SetNativeValue(ctx context.Context, value string) error {
	return n.call(ctx, jsSetNativeValue, []any{value}, nil)
}

func (n *node) Dispatch(ctx context.Context, ev dom.Event) error {
	return n.call(ctx, jsDispatch, []any{ev.Type, ev.Bubbles, ev.Key}, nil)
}

func (n *node) TypeRune(ctx context.Context, r rune) error {
	return n.call(ctx, jsTypeRune, []any{string(r)}, nil)
}

func (n *node) SetFiles(ctx context.Context, files []dom.File) error {
	return n.call(ctx, jsSetFiles, []any{payloadFiles(files)}, nil)
}

func (n *node) FileCount(ctx context.Context) (int, error) {
	var v int
	err := n.call(ctx, jsFileCount, nil, &v)
	return v, err
}

func (n *node) DropFiles(ctx context.Context, files []dom.File) error {
	return n.call(ctx, jsDropFiles, []any{payloadFiles(files)}, nil)
}

func (n *node) call(ctx context.Context, fn string, args []any, out any) error {
	if n.t.page == nil {
		return errNoPage
	}
	return n.t.page.callOn(ctx, n.backendID, fn, args, out)
}

// frameDoc is the document of a same-origin iframe.
type frameDoc struct {
	n *node
}

func (d *frameDoc) Type() dom.NodeType { return dom.DocumentNode }
func (d *frameDoc) Key() string { return d.n.Key() }
func (d *frameDoc) Tag() string { return "" }
func (d *frameDoc) Attr(string) (string, bool) { return "", false }
func (d *frameDoc) Attrs() map[string]string { return nil }
func (d *frameDoc) Text() string { return d.n.Text() }
func (d *frameDoc) Parent() dom.Node { return nil }
func (d *frameDoc) Children() []dom.Node { return d.n.Children() }
func (d *frameDoc) ShadowRoot() dom.Node { return nil }
func (d *frameDoc) ContentDocument() (dom.Document, error) { return nil, nil }

func (d *frameDoc) URL() string {
	d.n.t.mu.RLock()
	defer d.n.t.mu.RUnlock()
	return d.n.docURL
}

func (d *frameDoc) Title() string {
	d.n.t.mu.RLock()
	defer d.n.t.mu.RUnlock()
	return d.n.title()
}

func (d *frameDoc) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if d.n.t.page == nil {
		return nil, errNoPage
	}
	return d.n.t.page.queryAll(ctx, d.n, selector)
}

func (d *frameDoc) Observe(root dom.Node, fn func([]dom.MutationRecord)) (func(), error) {
	return observeTree(d.n.t, root, fn)
}
