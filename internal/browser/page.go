package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/dom"
)

var errNoPage = errors.New("node is not attached to a live page")

// Page is one attached browser tab. It implements dom.Document over the
// mirrored node tree, and dom.Observable over DOM domain events.
type Page struct {
	ctx    context.Context
	target cdp.Executor
	tree   *tree
	logger zerolog.Logger

	fabMu      sync.Mutex
	fabScript  page.ScriptIdentifier
	fabHandler func(pageURL string)

	docMu     sync.Mutex
	onDoc     []func()
	reloading atomic.Bool
}

var (
	_ dom.Document   = (*Page)(nil)
	_ dom.Observable = (*Page)(nil)
)

func newPage(ctx context.Context, logger zerolog.Logger) *Page {
	p := &Page{ctx: ctx, logger: logger}
	p.tree = newTree(p)
	return p
}

// do runs fn with the tab's executor bound to ctx, so cancelling ctx aborts
// the command.
func (p *Page) do(ctx context.Context, fn func(context.Context) error) error {
	if p.target == nil {
		return errNoPage
	}
	return fn(cdp.WithExecutor(ctx, p.target))
}

// Snapshot reloads the whole node tree, piercing shadow roots and
// same-origin frames.
func (p *Page) Snapshot(ctx context.Context) error {
	var root *cdp.Node
	err := p.do(ctx, func(ctx context.Context) error {
		var err error
		root, err = cdpdom.GetDocument().WithDepth(-1).WithPierce(true).Do(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to snapshot document: %w", err)
	}
	p.tree.build(root)
	return nil
}

// OnDocument registers fn to run after the tab loaded a new document and the
// mirror was rebuilt.
func (p *Page) OnDocument(fn func()) {
	p.docMu.Lock()
	p.onDoc = append(p.onDoc, fn)
	p.docMu.Unlock()
}

func (p *Page) root() *node {
	p.tree.mu.RLock()
	defer p.tree.mu.RUnlock()
	return p.tree.root
}

func (p *Page) Type() dom.NodeType { return dom.DocumentNode }

func (p *Page) Key() string {
	if r := p.root(); r != nil {
		return r.Key()
	}
	return "document"
}

func (p *Page) Tag() string { return "" }
func (p *Page) Attr(string) (string, bool) { return "", false }
func (p *Page) Attrs() map[string]string { return nil }
func (p *Page) Parent() dom.Node { return nil }
func (p *Page) ShadowRoot() dom.Node { return nil }

func (p *Page) ContentDocument() (dom.Document, error) { return nil, nil }

func (p *Page) Text() string {
	if r := p.root(); r != nil {
		return r.Text()
	}
	return ""
}

func (p *Page) Children() []dom.Node {
	if r := p.root(); r != nil {
		return r.Children()
	}
	return nil
}

func (p *Page) URL() string {
	p.tree.mu.RLock()
	defer p.tree.mu.RUnlock()
	if p.tree.root == nil {
		return ""
	}
	return p.tree.root.docURL
}

func (p *Page) Title() string {
	p.tree.mu.RLock()
	defer p.tree.mu.RUnlock()
	if p.tree.root == nil {
		return ""
	}
	return p.tree.root.title()
}

// QueryAll runs the selector against the document and each open shadow root.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	r := p.root()
	if r == nil {
		return nil, errNoPage
	}
	return p.queryAll(ctx, r, selector)
}

func (p *Page) queryAll(ctx context.Context, scope *node, selector string) ([]dom.Element, error) {
	p.tree.mu.RLock()
	scopes := scope.scopes()
	ids := make([]cdp.NodeID, len(scopes))
	for i, s := range scopes {
		ids[i] = s.id
	}
	p.tree.mu.RUnlock()

	var out []dom.Element
	seen := make(map[string]bool)
	err := p.do(ctx, func(ctx context.Context) error {
		for _, scopeID := range ids {
			found, err := cdpdom.QuerySelectorAll(scopeID, selector).Do(ctx)
			if err != nil {
				return fmt.Errorf("querySelectorAll %q: %w", selector, err)
			}
			for _, id := range found {
				n := p.tree.lookup(id)
				if n == nil {
					desc, err := cdpdom.DescribeNode().WithNodeID(id).WithDepth(-1).Do(ctx)
					if err != nil {
						p.logger.Debug().Err(err).Int64("node_id", int64(id)).Msg("skipping unknown node")
						continue
					}
					desc.NodeID = id
					n = p.tree.adopt(desc)
				}
				if n.kind != cdp.NodeTypeElement || seen[n.Key()] {
					continue
				}
				seen[n.Key()] = true
				out = append(out, n)
			}
		}
		return nil
	})
	return out, err
}

// Observe implements dom.Observable for the page, its shadow roots and frames.
func (p *Page) Observe(root dom.Node, fn func([]dom.MutationRecord)) (func(), error) {
	return observeTree(p.tree, root, fn)
}

func observeTree(t *tree, root dom.Node, fn func([]dom.MutationRecord)) (func(), error) {
	var backend cdp.BackendNodeID
	switch r := root.(type) {
	case *Page:
		rn := r.root()
		if rn == nil {
			return nil, errNoPage
		}
		backend = rn.backendID
	case *frameDoc:
		backend = r.n.backendID
	case *node:
		backend = r.backendID
	default:
		return nil, fmt.Errorf("cannot observe %T", root)
	}
	return t.observe(backend, fn), nil
}

// handleEvent is the tab listener. It must not block, so CDP round trips
// triggered by an event run on their own goroutine.
func (p *Page) handleEvent(ev any) {
	if e, ok := ev.(*runtime.EventBindingCalled); ok {
		if e.Name == fabBinding {
			p.fabClicked(e.Payload)
		}
		return
	}

	fx := p.tree.apply(ev)
	for _, d := range fx.deliveries {
		d.fn(d.records)
	}
	if fx.reload || len(fx.fetch) > 0 {
		go p.sync(fx.fetch, fx.reload)
	}
}

// sync pulls children the browser has not pushed yet, or the whole document
// after a navigation.
func (p *Page) sync(fetch []cdp.NodeID, reload bool) {
	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancel()

	if reload {
		if !p.reloading.CompareAndSwap(false, true) {
			return
		}
		defer p.reloading.Store(false)
		if err := p.Snapshot(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("failed to reload document")
			return
		}
		p.logger.Debug().Str("url", p.URL()).Msg("document reloaded")
		p.docMu.Lock()
		callbacks := append([]func(){}, p.onDoc...)
		p.docMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
		return
	}

	err := p.do(ctx, func(ctx context.Context) error {
		for _, id := range fetch {
			if err := cdpdom.RequestChildNodes(id).WithDepth(-1).WithPierce(true).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Debug().Err(err).Int("nodes", len(fetch)).Msg("failed to request child nodes")
	}
}

// callOn invokes fn with this bound to the element and decodes the result into out.
func (p *Page) callOn(ctx context.Context, backendID cdp.BackendNodeID, fn string, args []any, out any) error {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	decl := fmt.Sprintf("function() { return (%s).apply(this, %s); }", fn, encoded)

	return p.do(ctx, func(ctx context.Context) error {
		obj, err := cdpdom.ResolveNode().WithBackendNodeID(backendID).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", dom.ErrDetached, err)
		}
		defer func() {
			_ = runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		}()

		res, exc, err := runtime.CallFunctionOn(decl).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("callFunctionOn: %w", err)
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		if err := json.Unmarshal([]byte(res.Value), out); err != nil {
			return fmt.Errorf("failed to decode script result: %w", err)
		}
		return nil
	})
}

func exceptionError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("script error: %s", strings.TrimSpace(msg))
}
