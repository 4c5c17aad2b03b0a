package domtest

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/jonathan/job-autofill/internal/dom"
)

// Node is an in-memory node. Element nodes implement dom.Element.
type Node struct {
	doc *Document
	n   *html.Node
	key string

	value    string
	valueSet bool
	checked  bool
	selected int
	files    []dom.File
	dropped  []dom.File
}

var (
	_ dom.Element  = (*Node)(nil)
	_ dom.Document = (*Document)(nil)
)

func (n *Node) initState() {
	if n.n.Type != html.ElementNode {
		return
	}
	switch n.n.Data {
	case "input":
		n.value = htmlAttr(n.n, "value")
		_, n.checked = n.Attr("checked")
	case "textarea":
		n.value = textOf(n.n)
	case "select":
		opts := optionNodes(n.n)
		if len(opts) > 0 {
			n.selected = 0
		}
		for i, o := range opts {
			for _, a := range o.Attr {
				if a.Key == "selected" {
					n.selected = i
				}
			}
		}
	}
}

// Type returns the node kind; shadow roots report dom.FragmentNode.
func (n *Node) Type() dom.NodeType {
	switch n.n.Type {
	case html.ElementNode:
		return dom.ElementNode
	case html.TextNode:
		return dom.TextNode
	case html.DocumentNode:
		n.doc.mu.Lock()
		_, isShadow := n.doc.hosts[n.n]
		n.doc.mu.Unlock()
		if isShadow {
			return dom.FragmentNode
		}
		return dom.DocumentNode
	}
	return 0
}

func (n *Node) Key() string { return n.key }

func (n *Node) Tag() string {
	if n.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.n.Data)
}

func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (n *Node) Attrs() map[string]string {
	attrs := make(map[string]string, len(n.n.Attr))
	for _, a := range n.n.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs
}

func (n *Node) Text() string {
	if n.n.Type == html.TextNode {
		return n.n.Data
	}
	return textOf(n.n)
}

func (n *Node) Parent() dom.Node {
	if n.n.Parent == nil {
		return nil
	}
	return n.doc.wrap(n.n.Parent)
}

func (n *Node) Children() []dom.Node {
	var out []dom.Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.TextNode {
			out = append(out, n.doc.wrap(c))
		}
	}
	return out
}

func (n *Node) ShadowRoot() dom.Node {
	n.doc.mu.Lock()
	sr := n.doc.shadows[n.n]
	n.doc.mu.Unlock()
	if sr == nil {
		return nil
	}
	return n.doc.wrap(sr)
}

func (n *Node) ContentDocument() (dom.Document, error) {
	if n.Tag() != "iframe" {
		return nil, fmt.Errorf("<%s> has no content document", n.Tag())
	}
	id, _ := n.Attr("id")
	n.doc.mu.Lock()
	entry, ok := n.doc.frames[id]
	n.doc.mu.Unlock()
	if !ok || entry.crossOrigin {
		return nil, dom.ErrCrossOrigin
	}
	return entry.doc, nil
}

// SetValue pre-fills the element without dispatching events.
func (n *Node) SetValue(v string) {
	n.assign(v)
}

// CurrentValue returns the live value without a context.
func (n *Node) CurrentValue() string {
	v, _ := n.Value(context.Background())
	return v
}

// IsChecked returns the live checked state.
func (n *Node) IsChecked() bool {
	return n.checked
}

// Files returns the files assigned through SetFiles.
func (n *Node) Files() []dom.File {
	return n.files
}

// Dropped returns the files delivered by DropFiles.
func (n *Node) Dropped() []dom.File {
	return n.dropped
}

func (n *Node) flag(name string) bool {
	_, ok := n.Attr("data-test-" + name)
	return ok
}

func (n *Node) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.flag("detached") {
		return dom.ErrDetached
	}
	return nil
}

func (n *Node) editable() bool {
	v, ok := n.Attr("contenteditable")
	return ok && v != "false"
}

func (n *Node) inputType() string {
	t, _ := n.Attr("type")
	if t == "" {
		return "text"
	}
	return strings.ToLower(t)
}

func (n *Node) Value(ctx context.Context) (string, error) {
	if err := n.check(ctx); err != nil {
		return "", err
	}
	switch {
	case n.Tag() == "select":
		opts := optionNodes(n.n)
		if n.selected < 0 || n.selected >= len(opts) {
			return "", nil
		}
		return optionValue(opts[n.selected]), nil
	case n.Tag() == "input" && (n.inputType() == "checkbox" || n.inputType() == "radio"):
		if v, ok := n.Attr("value"); ok {
			return v, nil
		}
		return "on", nil
	case n.editable():
		return dom.CollapseSpace(n.Text()), nil
	case n.Tag() != "input" && n.Tag() != "textarea" && !n.valueSet:
		return dom.CollapseSpace(n.Text()), nil
	}
	return n.value, nil
}

func (n *Node) Checked(ctx context.Context) (bool, error) {
	if err := n.check(ctx); err != nil {
		return false, err
	}
	return n.checked, nil
}

func (n *Node) SelectedIndex(ctx context.Context) (int, error) {
	if err := n.check(ctx); err != nil {
		return -1, err
	}
	if n.Tag() != "select" {
		return -1, nil
	}
	return n.selected, nil
}

func (n *Node) Visible(ctx context.Context) (bool, error) {
	if err := n.check(ctx); err != nil {
		return false, err
	}
	if n.Tag() == "input" && n.inputType() == "hidden" {
		return false, nil
	}
	cur := n.n
	for cur != nil {
		if cur.Type == html.ElementNode {
			if _, hidden := attrPresent(cur, "hidden"); hidden {
				return false, nil
			}
			style := strings.ReplaceAll(strings.ToLower(htmlAttr(cur, "style")), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return false, nil
			}
		}
		if cur.Parent == nil {
			n.doc.mu.Lock()
			host := n.doc.hosts[cur]
			n.doc.mu.Unlock()
			cur = host
			continue
		}
		cur = cur.Parent
	}
	return true, nil
}

func (n *Node) Focus(ctx context.Context) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	if n.flag("panic") {
		panic("focus handler exploded")
	}
	n.doc.record(n, "focus", "")
	return nil
}

func (n *Node) Click(ctx context.Context) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	n.doc.record(n, "click", "")

	switch {
	case n.Tag() == "input" && n.inputType() == "checkbox":
		n.checked = !n.checked
		n.doc.record(n, "input", "")
		n.doc.record(n, "change", "")
	case n.Tag() == "input" && n.inputType() == "radio":
		if !n.checked {
			n.uncheckGroup()
			n.checked = true
			n.doc.record(n, "change", "")
		}
	}

	if target, ok := n.Attr("data-test-opens"); ok {
		if list := n.doc.ByID(target); list != nil {
			n.doc.RemoveAttr(list, "hidden")
			n.doc.mu.Lock()
			n.doc.opened = n
			n.doc.mu.Unlock()
		}
		return nil
	}

	if role, _ := n.Attr("role"); role == "option" || n.Tag() == "li" {
		n.doc.mu.Lock()
		opener := n.doc.opened
		n.doc.opened = nil
		n.doc.mu.Unlock()
		if opener != nil {
			opener.assign(dom.CollapseSpace(n.Text()))
			if target, ok := opener.Attr("data-test-opens"); ok {
				if list := n.doc.ByID(target); list != nil {
					n.doc.SetAttr(list, "hidden", "")
				}
			}
		}
	}
	return nil
}

func (n *Node) uncheckGroup() {
	name, _ := n.Attr("name")
	if name == "" {
		return
	}
	root := n.n
	for root.Parent != nil {
		root = root.Parent
	}
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.ElementNode && h.Data == "input" &&
			strings.EqualFold(htmlAttr(h, "type"), "radio") && htmlAttr(h, "name") == name {
			n.doc.wrap(h).checked = false
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func (n *Node) ExecInsertText(ctx context.Context, text string) (bool, error) {
	if err := n.check(ctx); err != nil {
		return false, err
	}
	if n.flag("no-exec") || n.Tag() == "select" {
		return false, nil
	}
	if !n.flag("reject-bulk") && !n.flag("reject-all") {
		n.assign(text)
	}
	n.doc.record(n, "input", "")
	return true, nil
}

func (n *Node) SetNativeValue(ctx context.Context, value string) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	if n.flag("reject-bulk") || n.flag("reject-all") {
		if value == "" {
			n.assign("")
		}
		return nil
	}
	n.assign(value)
	return nil
}

func (n *Node) assign(value string) {
	if n.Tag() == "select" {
		n.selected = -1
		for i, o := range optionNodes(n.n) {
			if optionValue(o) == value {
				n.selected = i
				break
			}
		}
		return
	}
	if n.editable() {
		n.setText(value)
		return
	}
	n.value = value
	n.valueSet = true
}

// setText replaces the element's children with a single text node.
func (n *Node) setText(value string) {
	for c := n.n.FirstChild; c != nil; {
		next := c.NextSibling
		n.n.RemoveChild(c)
		c = next
	}
	if value != "" {
		n.n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	}
}

func (n *Node) Dispatch(ctx context.Context, ev dom.Event) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	n.doc.record(n, ev.Type, ev.Key)
	return nil
}

func (n *Node) TypeRune(ctx context.Context, r rune) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	key := string(r)
	n.doc.record(n, "keydown", key)
	if !n.flag("reject-all") {
		current, _ := n.Value(ctx)
		if n.editable() {
			current = n.Text()
		}
		n.assign(current + key)
	}
	n.doc.record(n, "input", key)
	n.doc.record(n, "keyup", key)
	return nil
}

func (n *Node) SetFiles(ctx context.Context, files []dom.File) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	if !n.flag("ignore-files") {
		n.files = append([]dom.File(nil), files...)
		n.doc.record(n, "input", "")
	}
	n.doc.record(n, "change", "")
	return nil
}

func (n *Node) FileCount(ctx context.Context) (int, error) {
	if err := n.check(ctx); err != nil {
		return 0, err
	}
	return len(n.files), nil
}

func (n *Node) DropFiles(ctx context.Context, files []dom.File) error {
	if err := n.check(ctx); err != nil {
		return err
	}
	for _, typ := range []string{"dragenter", "dragover", "drop"} {
		n.doc.record(n, typ, "")
	}
	n.dropped = append(n.dropped, files...)
	return nil
}

func (n *Node) setAttr(name, value string) {
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.n.Attr[i].Val = value
			return
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: name, Val: value})
}

func (n *Node) removeAttr(name string) {
	attrs := n.n.Attr[:0]
	for _, a := range n.n.Attr {
		if a.Key != name {
			attrs = append(attrs, a)
		}
	}
	n.n.Attr = attrs
}

func textOf(hn *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.TextNode {
			sb.WriteString(h.Data)
		}
		if h.Type == html.ElementNode && (h.Data == "script" || h.Data == "style") {
			return
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(hn)
	return sb.String()
}

func optionNodes(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "option" {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(sel)
	return out
}

func optionValue(o *html.Node) string {
	if v, ok := attrPresent(o, "value"); ok {
		return v
	}
	return dom.CollapseSpace(textOf(o))
}

func attrPresent(h *html.Node, name string) (string, bool) {
	for _, a := range h.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
