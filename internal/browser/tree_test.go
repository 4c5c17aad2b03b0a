package browser

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/scanner"
	"github.com/jonathan/job-autofill/internal/types"
)

func el(id cdp.NodeID, tag string, attrs []string, children ...*cdp.Node) *cdp.Node {
	return &cdp.Node{
		NodeID:         id,
		BackendNodeID:  cdp.BackendNodeID(id + 100),
		NodeType:       cdp.NodeTypeElement,
		NodeName:       tag,
		LocalName:      tag,
		Attributes:     attrs,
		ChildNodeCount: int64(len(children)),
		Children:       children,
	}
}

func text(id cdp.NodeID, s string) *cdp.Node {
	return &cdp.Node{
		NodeID:        id,
		BackendNodeID: cdp.BackendNodeID(id + 100),
		NodeType:      cdp.NodeTypeText,
		NodeName:      "#text",
		NodeValue:     s,
	}
}

func document(id cdp.NodeID, url string, children ...*cdp.Node) *cdp.Node {
	return &cdp.Node{
		NodeID:         id,
		BackendNodeID:  cdp.BackendNodeID(id + 100),
		NodeType:       cdp.NodeTypeDocument,
		NodeName:       "#document",
		DocumentURL:    url,
		ChildNodeCount: int64(len(children)),
		Children:       children,
	}
}

func shadowRoot(id cdp.NodeID, kind cdp.ShadowRootType, children ...*cdp.Node) *cdp.Node {
	return &cdp.Node{
		NodeID:         id,
		BackendNodeID:  cdp.BackendNodeID(id + 100),
		NodeType:       cdp.NodeTypeDocumentFragment,
		NodeName:       "#document-fragment",
		ShadowRootType: kind,
		ChildNodeCount: int64(len(children)),
		Children:       children,
	}
}

func fixture() *cdp.Node {
	openHost := el(11, "div", []string{"id", "host"})
	openHost.ShadowRoots = []*cdp.Node{
		shadowRoot(12, cdp.ShadowRootTypeOpen, el(13, "input", []string{"name", "phone", "placeholder", "Phone"})),
	}
	closedHost := el(14, "div", nil)
	closedHost.ShadowRoots = []*cdp.Node{
		shadowRoot(15, cdp.ShadowRootTypeClosed, el(16, "input", []string{"name", "secret"})),
	}
	frame := el(17, "iframe", []string{"src", "/frame"})
	frame.ContentDocument = document(18, "https://jobs.example.com/frame",
		el(19, "html", nil, el(20, "body", nil, el(21, "input", []string{"name", "city"}))))

	return document(1, "https://jobs.example.com/apply",
		el(2, "html", nil,
			el(3, "head", nil, el(4, "title", nil, text(5, "  Apply \n now "))),
			el(6, "body", nil,
				el(7, "form", []string{"ID", "app"},
					el(8, "label", []string{"for", "email"}, text(9, "Email")),
					el(10, "input", []string{"id", "email", "name", "email", "value", "a@b.c"}),
					openHost,
					closedHost,
				),
				frame,
				el(22, "iframe", []string{"src", "https://other.example.net/form"}),
			),
		),
	)
}

func newTestPage(t *testing.T) *Page {
	t.Helper()
	p := newPage(context.Background(), zerolog.Nop())
	p.tree.build(fixture())
	return p
}

func TestPage_Document(t *testing.T) {
	p := newTestPage(t)

	assert.Equal(t, dom.DocumentNode, p.Type())
	assert.Equal(t, "101", p.Key())
	assert.Equal(t, "https://jobs.example.com/apply", p.URL())
	assert.Equal(t, "Apply now", p.Title())
	require.Len(t, p.Children(), 1)
	assert.Equal(t, "html", p.Children()[0].Tag())
}

func TestNode_Structure(t *testing.T) {
	p := newTestPage(t)

	form := p.tree.lookup(7)
	require.NotNil(t, form)
	assert.Equal(t, dom.ElementNode, form.Type())
	assert.Equal(t, "107", form.Key())

	id, ok := form.Attr("id")
	assert.True(t, ok)
	assert.Equal(t, "app", id)
	id, ok = form.Attr("ID")
	assert.True(t, ok)
	assert.Equal(t, "app", id)

	children := form.Children()
	require.Len(t, children, 4)
	assert.Equal(t, "label", children[0].Tag())
	assert.Equal(t, "Email", children[0].Text())
	assert.Equal(t, "form", children[1].Parent().Tag())

	attrs := children[1].Attrs()
	attrs["name"] = "mutated"
	v, _ := children[1].Attr("name")
	assert.Equal(t, "email", v)
}

func TestNode_ShadowRoots(t *testing.T) {
	p := newTestPage(t)

	sr := p.tree.lookup(11).ShadowRoot()
	require.NotNil(t, sr)
	assert.Equal(t, dom.FragmentNode, sr.Type())
	assert.Nil(t, sr.Parent())
	require.Len(t, sr.Children(), 1)
	assert.Equal(t, "input", sr.Children()[0].Tag())

	assert.Nil(t, p.tree.lookup(14).ShadowRoot())
	assert.Nil(t, p.tree.lookup(16))
}

func TestNode_ContentDocument(t *testing.T) {
	p := newTestPage(t)

	doc, err := p.tree.lookup(17).ContentDocument()
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "https://jobs.example.com/frame", doc.URL())
	assert.Equal(t, "118", doc.Key())

	_, err = p.tree.lookup(22).ContentDocument()
	assert.ErrorIs(t, err, dom.ErrCrossOrigin)

	doc, err = p.tree.lookup(7).ContentDocument()
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestScan_Mirror(t *testing.T) {
	p := newTestPage(t)

	snap := scanner.Scan(context.Background(), p)
	require.Equal(t, 3, snap.Len())

	fields := snap.Descriptors()
	assert.Equal(t, "email", fields[0].Name)
	assert.Equal(t, "Email", fields[0].Label)
	assert.Equal(t, "a@b.c", fields[0].Value)
	assert.Equal(t, types.FrameDocument, fields[0].Frame)

	assert.Equal(t, "phone", fields[1].Name)
	assert.Equal(t, types.FrameShadow, fields[1].Frame)

	assert.Equal(t, "city", fields[2].Name)
	assert.Equal(t, types.FrameIframe, fields[2].Frame)
}

func TestTree_Insert(t *testing.T) {
	p := newTestPage(t)

	var got [][]dom.MutationRecord
	stop, err := p.Observe(p, func(recs []dom.MutationRecord) { got = append(got, recs) })
	require.NoError(t, err)
	defer stop()

	fx := p.tree.apply(&cdpdom.EventChildNodeInserted{
		ParentNodeID:   7,
		PreviousNodeID: 10,
		Node:           el(30, "input", []string{"name", "city"}),
	})
	require.Len(t, fx.deliveries, 1)
	assert.Empty(t, fx.fetch)
	assert.False(t, fx.reload)

	fx.deliveries[0].fn(fx.deliveries[0].records)
	require.Len(t, got, 1)
	rec := got[0][0]
	assert.Equal(t, dom.MutationChildList, rec.Kind)
	assert.Equal(t, "107", rec.Target.Key())
	require.Len(t, rec.Added, 1)
	assert.Equal(t, "130", rec.Added[0].Key())

	children := p.tree.lookup(7).Children()
	require.Len(t, children, 5)
	assert.Equal(t, "130", children[2].Key())
}

func TestTree_InsertFirst(t *testing.T) {
	p := newTestPage(t)

	p.tree.apply(&cdpdom.EventChildNodeInserted{ParentNodeID: 7, Node: el(30, "input", nil)})
	assert.Equal(t, "130", p.tree.lookup(7).Children()[0].Key())
}

func TestTree_AwaitedChildren(t *testing.T) {
	p := newTestPage(t)
	_, err := p.Observe(p, func([]dom.MutationRecord) {})
	require.NoError(t, err)

	pending := el(31, "div", nil)
	pending.ChildNodeCount = 2
	fx := p.tree.apply(&cdpdom.EventChildNodeInserted{ParentNodeID: 7, PreviousNodeID: 10, Node: pending})
	assert.Equal(t, []cdp.NodeID{31}, fx.fetch)

	fx = p.tree.apply(&cdpdom.EventSetChildNodes{
		ParentID: 31,
		Nodes: []*cdp.Node{
			el(32, "label", []string{"for", "zip"}, text(33, "Zip")),
			el(34, "input", []string{"id", "zip"}),
		},
	})
	require.Len(t, fx.deliveries, 1)
	rec := fx.deliveries[0].records[0]
	assert.Equal(t, "131", rec.Target.Key())
	assert.Len(t, rec.Added, 2)
	assert.Equal(t, "Zip", p.tree.lookup(31).Text())

	// A second push for the same parent is not a mutation.
	fx = p.tree.apply(&cdpdom.EventSetChildNodes{ParentID: 31, Nodes: []*cdp.Node{el(35, "span", nil)}})
	assert.Empty(t, fx.deliveries)
	assert.Nil(t, p.tree.lookup(34))
}

func TestTree_ChildNodeCountUpdated(t *testing.T) {
	p := newTestPage(t)

	fx := p.tree.apply(&cdpdom.EventChildNodeCountUpdated{NodeID: 10, ChildNodeCount: 1})
	assert.Equal(t, []cdp.NodeID{10}, fx.fetch)

	fx = p.tree.apply(&cdpdom.EventChildNodeCountUpdated{NodeID: 7, ChildNodeCount: 5})
	assert.Empty(t, fx.fetch)
}

func TestTree_Attributes(t *testing.T) {
	p := newTestPage(t)
	var got []dom.MutationRecord
	_, err := p.Observe(p, func(recs []dom.MutationRecord) { got = append(got, recs...) })
	require.NoError(t, err)

	p.handleEvent(&cdpdom.EventAttributeModified{NodeID: 10, Name: "Aria-Label", Value: "Work email"})
	require.Len(t, got, 1)
	assert.Equal(t, dom.MutationAttributes, got[0].Kind)
	assert.Equal(t, "Aria-Label", got[0].AttributeName)
	v, ok := p.tree.lookup(10).Attr("aria-label")
	assert.True(t, ok)
	assert.Equal(t, "Work email", v)

	p.handleEvent(&cdpdom.EventAttributeRemoved{NodeID: 10, Name: "aria-label"})
	require.Len(t, got, 2)
	_, ok = p.tree.lookup(10).Attr("aria-label")
	assert.False(t, ok)
}

func TestTree_Remove(t *testing.T) {
	p := newTestPage(t)

	fx := p.tree.apply(&cdpdom.EventChildNodeRemoved{ParentNodeID: 7, NodeID: 8})
	assert.Empty(t, fx.deliveries)
	assert.Nil(t, p.tree.lookup(8))
	assert.Nil(t, p.tree.lookup(9))
	assert.Len(t, p.tree.lookup(7).Children(), 3)

	_, err := p.Observe(p, func([]dom.MutationRecord) {})
	require.NoError(t, err)
	fx = p.tree.apply(&cdpdom.EventChildNodeRemoved{ParentNodeID: 7, NodeID: 10})
	require.Len(t, fx.deliveries, 1)
	assert.Empty(t, fx.deliveries[0].records[0].Added)

	fx = p.tree.apply(&cdpdom.EventChildNodeRemoved{ParentNodeID: 7, NodeID: 999})
	assert.Empty(t, fx.deliveries)
}

func TestTree_CharacterData(t *testing.T) {
	p := newTestPage(t)

	p.tree.apply(&cdpdom.EventCharacterDataModified{NodeID: 9, CharacterData: "E-mail"})
	assert.Equal(t, "E-mail", p.tree.lookup(8).Text())
}

func TestTree_ShadowScopes(t *testing.T) {
	p := newTestPage(t)

	var page, shadow int
	_, err := p.Observe(p, func([]dom.MutationRecord) { page++ })
	require.NoError(t, err)
	_, err = p.Observe(p.tree.lookup(12), func([]dom.MutationRecord) { shadow++ })
	require.NoError(t, err)

	fx := p.tree.apply(&cdpdom.EventChildNodeInserted{ParentNodeID: 12, PreviousNodeID: 13, Node: el(40, "input", nil)})
	for _, d := range fx.deliveries {
		d.fn(d.records)
	}
	assert.Equal(t, 0, page)
	assert.Equal(t, 1, shadow)

	fx = p.tree.apply(&cdpdom.EventShadowRootPushed{
		HostID: 14,
		Root:   shadowRoot(41, cdp.ShadowRootTypeOpen, el(42, "input", []string{"name", "late"})),
	})
	for _, d := range fx.deliveries {
		d.fn(d.records)
	}
	assert.Equal(t, 1, page)
	require.NotNil(t, p.tree.lookup(14).ShadowRoot())

	p.tree.apply(&cdpdom.EventShadowRootPopped{HostID: 14, RootID: 41})
	assert.Nil(t, p.tree.lookup(14).ShadowRoot())
	assert.Nil(t, p.tree.lookup(42))
}

func TestTree_ClosedShadowPushIgnored(t *testing.T) {
	p := newTestPage(t)

	fx := p.tree.apply(&cdpdom.EventShadowRootPushed{
		HostID: 10,
		Root:   shadowRoot(43, cdp.ShadowRootTypeClosed),
	})
	assert.Empty(t, fx.deliveries)
	assert.Nil(t, p.tree.lookup(10).ShadowRoot())
}

func TestTree_DocumentUpdated(t *testing.T) {
	p := newTestPage(t)
	_, err := p.Observe(p, func([]dom.MutationRecord) {})
	require.NoError(t, err)

	fx := p.tree.apply(&cdpdom.EventDocumentUpdated{})
	assert.True(t, fx.reload)
	assert.Empty(t, fx.deliveries)
}

func TestTree_FrameObservation(t *testing.T) {
	p := newTestPage(t)

	doc, err := p.tree.lookup(17).ContentDocument()
	require.NoError(t, err)
	obs, ok := doc.(dom.Observable)
	require.True(t, ok)

	var got int
	stop, err := obs.Observe(doc, func([]dom.MutationRecord) { got++ })
	require.NoError(t, err)

	fx := p.tree.apply(&cdpdom.EventChildNodeInserted{ParentNodeID: 20, PreviousNodeID: 21, Node: el(44, "input", nil)})
	require.Len(t, fx.deliveries, 1)
	fx.deliveries[0].fn(fx.deliveries[0].records)
	assert.Equal(t, 1, got)

	stop()
	fx = p.tree.apply(&cdpdom.EventChildNodeInserted{ParentNodeID: 20, Node: el(45, "input", nil)})
	assert.Empty(t, fx.deliveries)
}

func TestTree_ObserveStop(t *testing.T) {
	p := newTestPage(t)

	stop1, err := p.Observe(p, func([]dom.MutationRecord) {})
	require.NoError(t, err)
	stop2, err := p.Observe(p.tree.lookup(7), func([]dom.MutationRecord) {})
	require.NoError(t, err)
	assert.Equal(t, 2, p.tree.observed())

	stop1()
	stop1()
	assert.Equal(t, 1, p.tree.observed())
	stop2()
	assert.Equal(t, 0, p.tree.observed())

	_, err = p.Observe(nil, func([]dom.MutationRecord) {})
	assert.Error(t, err)
}

func TestTree_Adopt(t *testing.T) {
	p := newTestPage(t)

	n := p.tree.adopt(el(50, "input", []string{"name", "late"}))
	assert.Same(t, n, p.tree.lookup(50))
	assert.Same(t, p.tree.lookup(10), p.tree.adopt(el(10, "input", nil)))
}

func TestNode_NoLivePage(t *testing.T) {
	p := newTestPage(t)
	ctx := context.Background()
	input := p.tree.lookup(10)

	_, err := input.Value(ctx)
	assert.ErrorIs(t, err, errNoPage)
	assert.ErrorIs(t, input.Click(ctx), errNoPage)
	assert.ErrorIs(t, input.SetFiles(ctx, []dom.File{{Name: "cv.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}}), errNoPage)

	_, err = p.QueryAll(ctx, "input")
	assert.ErrorIs(t, err, errNoPage)
	assert.ErrorIs(t, p.Snapshot(ctx), errNoPage)

	detached := newTree(nil)
	detached.build(el(1, "input", nil))
	_, err = detached.root.Checked(ctx)
	assert.ErrorIs(t, err, errNoPage)
}

func TestPayloadFiles(t *testing.T) {
	files := payloadFiles([]dom.File{{Name: "cv.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}})
	require.Len(t, files, 1)
	assert.Equal(t, filePayload{Name: "cv.pdf", Type: "application/pdf", Data: []byte("%PDF")}, files[0])
}

func TestInternalURL(t *testing.T) {
	assert.True(t, internalURL("chrome://newtab/"))
	assert.True(t, internalURL("devtools://devtools/bundled/inspector.html"))
	assert.False(t, internalURL("https://boards.greenhouse.io/acme/jobs/1"))
}
