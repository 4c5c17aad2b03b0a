// Package domtest provides an in-memory implementation of the dom interfaces
// built from HTML, for use in tests.
//
// Markup conventions:
//   - <template shadowrootmode="open"> attaches an open shadow root to its parent.
//   - AddFrame binds a parsed document to an <iframe id=...>.
//   - data-test-* attributes script element behaviour:
//     no-exec (execCommand unsupported), reject-bulk (only keystrokes stick),
//     reject-all (nothing sticks), ignore-files (DataTransfer ignored),
//     opens="id" (click un-hides the element with that id),
//     detached (every action fails), panic (focus panics).
package domtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jonathan/job-autofill/internal/dom"
)

var keySeq atomic.Int64

// EventRecord is one event dispatched on an element.
type EventRecord struct {
	Target *Node
	Type   string
	Key    string
}

type frameEntry struct {
	doc         *Document
	crossOrigin bool
}

type observation struct {
	root *Node
	fn   func([]dom.MutationRecord)
}

// Document is an in-memory page.
type Document struct {
	*Node

	url   string
	title string
	root  *html.Node

	mu        sync.Mutex
	nodes     map[*html.Node]*Node
	shadows   map[*html.Node]*html.Node // host -> shadow root
	hosts     map[*html.Node]*html.Node // shadow root -> host
	frames    map[string]frameEntry
	observers []*observation
	events    []EventRecord
	opened    *Node
}

// Parse builds a document at a default application URL.
func Parse(src string) (*Document, error) {
	return ParseURL("https://jobs.example.com/apply", src)
}

// ParseURL builds a document served from pageURL.
func ParseURL(pageURL, src string) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	d := &Document{
		url:     pageURL,
		title:   strings.TrimSpace(gq.Find("title").First().Text()),
		root:    gq.Nodes[0],
		nodes:   make(map[*html.Node]*Node),
		shadows: make(map[*html.Node]*html.Node),
		hosts:   make(map[*html.Node]*html.Node),
		frames:  make(map[string]frameEntry),
	}
	d.adoptShadows(d.root)
	d.Node = d.wrap(d.root)
	return d, nil
}

// MustParse is Parse for test setup; it panics on malformed input.
func MustParse(src string) *Document {
	d, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return d
}

// URL returns the page URL.
func (d *Document) URL() string { return d.url }

// Title returns the <title> text.
func (d *Document) Title() string { return d.title }

// QueryAll matches selector against the document and every open shadow root.
func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []dom.Element
	for _, n := range d.find(selector) {
		out = append(out, n)
	}
	return out, nil
}

// Find returns matching nodes, piercing open shadow roots.
func (d *Document) Find(selector string) []*Node {
	return d.find(selector)
}

// ByID returns the first element with the given id, or nil.
func (d *Document) ByID(id string) *Node {
	nodes := d.find("#" + id)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func (d *Document) find(selector string) []*Node {
	roots := []*html.Node{d.root}
	d.mu.Lock()
	for _, sr := range d.shadows {
		roots = append(roots, sr)
	}
	d.mu.Unlock()

	seen := make(map[*html.Node]bool)
	var out []*Node
	for _, r := range roots {
		goquery.NewDocumentFromNode(r).Find(selector).Each(func(_ int, s *goquery.Selection) {
			for _, hn := range s.Nodes {
				if !seen[hn] {
					seen[hn] = true
					out = append(out, d.wrap(hn))
				}
			}
		})
	}
	return out
}

// AddFrame binds a document parsed from src to the iframe with the given id.
func (d *Document) AddFrame(iframeID, src string, crossOrigin bool) (*Document, error) {
	frame, err := ParseURL(d.url+"#"+iframeID, src)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.frames[iframeID] = frameEntry{doc: frame, crossOrigin: crossOrigin}
	d.mu.Unlock()
	return frame, nil
}

// Events returns a copy of the event log.
func (d *Document) Events() []EventRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]EventRecord(nil), d.events...)
}

// EventTypes returns the event types dispatched on n in order.
func (d *Document) EventTypes(n *Node) []string {
	var types []string
	for _, e := range d.Events() {
		if e.Target == n {
			types = append(types, e.Type)
		}
	}
	return types
}

// Observe implements dom.Observable. Records are delivered synchronously.
func (d *Document) Observe(root dom.Node, fn func([]dom.MutationRecord)) (func(), error) {
	n, ok := root.(*Node)
	if !ok {
		if doc, isDoc := root.(*Document); isDoc {
			n = doc.Node
		} else {
			return nil, fmt.Errorf("domtest: cannot observe %T", root)
		}
	}
	owner := n.doc
	o := &observation{root: n, fn: fn}
	owner.mu.Lock()
	owner.observers = append(owner.observers, o)
	owner.mu.Unlock()

	return func() {
		owner.mu.Lock()
		defer owner.mu.Unlock()
		for i, cand := range owner.observers {
			if cand == o {
				owner.observers = append(owner.observers[:i], owner.observers[i+1:]...)
				return
			}
		}
	}, nil
}

// Observers returns the number of active observations on this document.
func (d *Document) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Insert parses fragment and appends it to parent, notifying observers.
func (d *Document) Insert(parent *Node, fragment string) ([]*Node, error) {
	owner := parent.doc
	ctxNode := parent.n
	if ctxNode.Type != html.ElementNode {
		ctxNode = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), ctxNode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}

	added := make([]*Node, 0, len(parsed))
	for _, hn := range parsed {
		parent.n.AppendChild(hn)
	}
	owner.adoptShadows(parent.n)
	for _, hn := range parsed {
		if hn.Parent == parent.n {
			added = append(added, owner.wrap(hn))
		}
	}

	addedNodes := make([]dom.Node, len(added))
	for i, a := range added {
		addedNodes[i] = a
	}
	owner.notify(parent, dom.MutationRecord{Kind: dom.MutationChildList, Target: parent, Added: addedNodes})
	return added, nil
}

// SetAttr sets an attribute and notifies observers.
func (d *Document) SetAttr(n *Node, name, value string) {
	n.setAttr(name, value)
	n.doc.notify(n, dom.MutationRecord{Kind: dom.MutationAttributes, Target: n, AttributeName: name})
}

// RemoveAttr removes an attribute and notifies observers.
func (d *Document) RemoveAttr(n *Node, name string) {
	n.removeAttr(name)
	n.doc.notify(n, dom.MutationRecord{Kind: dom.MutationAttributes, Target: n, AttributeName: name})
}

func (d *Document) notify(target *Node, rec dom.MutationRecord) {
	d.mu.Lock()
	var matched []*observation
	for _, o := range d.observers {
		if contains(o.root.n, target.n) {
			matched = append(matched, o)
		}
	}
	d.mu.Unlock()

	for _, o := range matched {
		o.fn([]dom.MutationRecord{rec})
	}
}

func (d *Document) record(n *Node, typ, key string) {
	d.mu.Lock()
	d.events = append(d.events, EventRecord{Target: n, Type: typ, Key: key})
	d.mu.Unlock()
}

// contains reports whether n is root or a descendant of it without crossing shadow boundaries.
func contains(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

func (d *Document) wrap(hn *html.Node) *Node {
	if hn == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[hn]; ok {
		return n
	}
	n := &Node{doc: d, n: hn, key: fmt.Sprintf("dt%d", keySeq.Add(1)), selected: -1}
	n.initState()
	d.nodes[hn] = n
	return n
}

// adoptShadows moves declarative shadow templates under n into shadow roots.
func (d *Document) adoptShadows(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && c.Data == "template" {
			if mode := htmlAttr(c, "shadowrootmode"); mode != "" {
				n.RemoveChild(c)
				d.mu.Lock()
				exists := d.shadows[n] != nil
				d.mu.Unlock()
				if mode == "open" && !exists {
					sr := &html.Node{Type: html.DocumentNode}
					for gc := c.FirstChild; gc != nil; {
						gnext := gc.NextSibling
						c.RemoveChild(gc)
						sr.AppendChild(gc)
						gc = gnext
					}
					d.mu.Lock()
					d.shadows[n] = sr
					d.hosts[sr] = n
					d.mu.Unlock()
					d.adoptShadows(sr)
				}
				c = next
				continue
			}
		}
		d.adoptShadows(c)
		c = next
	}
}

func htmlAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}
