package browser

import (
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"

	"github.com/jonathan/job-autofill/internal/dom"
)

// tree mirrors the DOM of one tab. It is rebuilt from DOM.getDocument and
// kept current from DOM domain events.
type tree struct {
	page *Page

	mu        sync.RWMutex
	root      *node
	byID      map[cdp.NodeID]*node
	awaiting  map[cdp.NodeID]bool // children requested after an insertion
	observers map[int]*observation
	nextObs   int
}

type observation struct {
	root cdp.BackendNodeID
	fn   func([]dom.MutationRecord)
}

// delivery is a batch of records for one observer, sent after the lock is released.
type delivery struct {
	fn      func([]dom.MutationRecord)
	records []dom.MutationRecord
}

// effects is what the page must do after an event was applied.
type effects struct {
	deliveries []delivery
	fetch      []cdp.NodeID
	reload     bool
}

func newTree(p *Page) *tree {
	return &tree{
		page:      p,
		byID:      make(map[cdp.NodeID]*node),
		awaiting:  make(map[cdp.NodeID]bool),
		observers: make(map[int]*observation),
	}
}

// build replaces the mirror with root.
func (t *tree) build(root *cdp.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[cdp.NodeID]*node)
	t.awaiting = make(map[cdp.NodeID]bool)
	t.root = t.convert(root, nil)
}

// convert copies c and its subtree into the mirror. Callers hold mu.
func (t *tree) convert(c *cdp.Node, parent *node) *node {
	if c == nil {
		return nil
	}
	n := &node{
		t:          t,
		id:         c.NodeID,
		backendID:  c.BackendNodeID,
		kind:       c.NodeType,
		tag:        tagName(c),
		text:       c.NodeValue,
		attrs:      attrMap(c.Attributes),
		parent:     parent,
		childCount: c.ChildNodeCount,
		docURL:     c.DocumentURL,
	}
	t.byID[n.id] = n
	for _, child := range c.Children {
		n.children = append(n.children, t.convert(child, n))
	}
	for _, sr := range c.ShadowRoots {
		if sr.ShadowRootType == cdp.ShadowRootTypeOpen {
			n.shadow = t.convert(sr, nil)
		}
	}
	if c.ContentDocument != nil {
		n.content = t.convert(c.ContentDocument, nil)
	}
	return n
}

// forget removes n's subtree from the index. Callers hold mu.
func (t *tree) forget(n *node) {
	if n == nil {
		return
	}
	delete(t.byID, n.id)
	delete(t.awaiting, n.id)
	for _, c := range n.children {
		t.forget(c)
	}
	t.forget(n.shadow)
	t.forget(n.content)
}

// apply folds one CDP event into the mirror.
func (t *tree) apply(ev any) effects {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		out     effects
		records []dom.MutationRecord
	)
	switch e := ev.(type) {
	case *cdpdom.EventDocumentUpdated:
		out.reload = true

	case *cdpdom.EventSetChildNodes:
		parent := t.byID[e.ParentID]
		if parent == nil {
			break
		}
		for _, c := range parent.children {
			t.forget(c)
		}
		parent.children = nil
		for _, c := range e.Nodes {
			parent.children = append(parent.children, t.convert(c, parent))
		}
		if t.awaiting[parent.id] {
			delete(t.awaiting, parent.id)
			records = append(records, dom.MutationRecord{
				Kind:   dom.MutationChildList,
				Target: parent,
				Added:  asNodes(parent.children),
			})
		}
		out.fetch = t.incomplete(parent.children)

	case *cdpdom.EventChildNodeInserted:
		parent := t.byID[e.ParentNodeID]
		if parent == nil {
			break
		}
		n := t.convert(e.Node, parent)
		parent.insertAfter(n, e.PreviousNodeID)
		records = append(records, dom.MutationRecord{
			Kind:   dom.MutationChildList,
			Target: parent,
			Added:  []dom.Node{n},
		})
		out.fetch = t.incomplete([]*node{n})

	case *cdpdom.EventChildNodeRemoved:
		parent := t.byID[e.ParentNodeID]
		if parent == nil {
			break
		}
		if removed := parent.remove(e.NodeID); removed != nil {
			t.forget(removed)
			records = append(records, dom.MutationRecord{Kind: dom.MutationChildList, Target: parent})
		}

	case *cdpdom.EventChildNodeCountUpdated:
		if n := t.byID[e.NodeID]; n != nil {
			n.childCount = e.ChildNodeCount
			out.fetch = t.incomplete([]*node{n})
		}

	case *cdpdom.EventAttributeModified:
		if n := t.byID[e.NodeID]; n != nil {
			n.attrs[strings.ToLower(e.Name)] = e.Value
			records = append(records, dom.MutationRecord{Kind: dom.MutationAttributes, Target: n, AttributeName: e.Name})
		}

	case *cdpdom.EventAttributeRemoved:
		if n := t.byID[e.NodeID]; n != nil {
			delete(n.attrs, strings.ToLower(e.Name))
			records = append(records, dom.MutationRecord{Kind: dom.MutationAttributes, Target: n, AttributeName: e.Name})
		}

	case *cdpdom.EventCharacterDataModified:
		if n := t.byID[e.NodeID]; n != nil {
			n.text = e.CharacterData
		}

	case *cdpdom.EventShadowRootPushed:
		host := t.byID[e.HostID]
		if host == nil || e.Root == nil || e.Root.ShadowRootType != cdp.ShadowRootTypeOpen {
			break
		}
		t.forget(host.shadow)
		host.shadow = t.convert(e.Root, nil)
		if host.parent != nil {
			records = append(records, dom.MutationRecord{
				Kind:   dom.MutationChildList,
				Target: host.parent,
				Added:  []dom.Node{host},
			})
		}

	case *cdpdom.EventShadowRootPopped:
		if host := t.byID[e.HostID]; host != nil {
			t.forget(host.shadow)
			host.shadow = nil
		}
	}

	for _, obs := range t.observers {
		var batch []dom.MutationRecord
		for _, rec := range records {
			if rec.Target.(*node).within(obs.root) {
				batch = append(batch, rec)
			}
		}
		if len(batch) > 0 {
			out.deliveries = append(out.deliveries, delivery{fn: obs.fn, records: batch})
		}
	}
	return out
}

// incomplete marks elements whose children have not been pushed yet and
// returns their ids. Callers hold mu.
func (t *tree) incomplete(nodes []*node) []cdp.NodeID {
	var ids []cdp.NodeID
	for _, n := range nodes {
		if n.kind == cdp.NodeTypeElement && n.childCount > 0 && len(n.children) == 0 {
			t.awaiting[n.id] = true
			ids = append(ids, n.id)
		}
	}
	return ids
}

// observe registers fn for mutations under the node with backend id root.
func (t *tree) observe(root cdp.BackendNodeID, fn func([]dom.MutationRecord)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = &observation{root: root, fn: fn}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}
}

// observed returns the number of registered observations.
func (t *tree) observed() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observers)
}

func (t *tree) lookup(id cdp.NodeID) *node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// adopt indexes a node described outside the mirror, e.g. one returned by a
// query before its path was pushed.
func (t *tree) adopt(c *cdp.Node) *node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.byID[c.NodeID]; n != nil {
		return n
	}
	return t.convert(c, nil)
}

func tagName(c *cdp.Node) string {
	if c.NodeType != cdp.NodeTypeElement {
		return ""
	}
	if c.LocalName != "" {
		return strings.ToLower(c.LocalName)
	}
	return strings.ToLower(c.NodeName)
}

func attrMap(flat []string) map[string]string {
	attrs := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		attrs[strings.ToLower(flat[i])] = flat[i+1]
	}
	return attrs
}

func asNodes(ns []*node) []dom.Node {
	out := make([]dom.Node, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

func backendKey(id cdp.BackendNodeID) string {
	return strconv.FormatInt(int64(id), 10)
}
