package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// fabBinding is the page-side function the button calls.
const fabBinding = "__jobAutofillFab"

// fabHostID identifies the button host; its closed shadow root keeps the
// button out of field scans.
const fabHostID = "job-autofill-fab"

var fabScript = `(() => {
	if (window.top !== window) return;
	const mount = () => {
		if (!document.body || document.getElementById('` + fabHostID + `')) return;
		const host = document.createElement('div');
		host.id = '` + fabHostID + `';
		host.style.cssText = 'position:fixed;right:24px;bottom:24px;z-index:2147483647;';
		const root = host.attachShadow({ mode: 'closed' });
		const button = document.createElement('button');
		button.type = 'button';
		button.textContent = 'Autofill';
		button.title = 'Fill this application from your profile';
		button.style.cssText = 'padding:10px 16px;border:0;border-radius:22px;background:#2563eb;color:#fff;font:600 14px system-ui,sans-serif;box-shadow:0 4px 12px rgba(0,0,0,.25);cursor:pointer;';
		button.addEventListener('click', (ev) => {
			ev.preventDefault();
			ev.stopPropagation();
			if (typeof window.` + fabBinding + ` === 'function') window.` + fabBinding + `(location.href);
		});
		root.appendChild(button);
		document.body.appendChild(host);
	};
	if (document.readyState === 'loading') document.addEventListener('DOMContentLoaded', mount);
	else mount();
})()`

var fabRemoveScript = `(() => {
	const host = document.getElementById('` + fabHostID + `');
	if (host) host.remove();
})()`

// ShowFAB injects the floating action button into the tab, now and on every
// document it loads later. onClick runs on its own goroutine with the URL of
// the page the button was clicked on.
func (p *Page) ShowFAB(ctx context.Context, onClick func(pageURL string)) error {
	p.fabMu.Lock()
	defer p.fabMu.Unlock()
	p.fabHandler = onClick
	if p.fabScript != "" {
		return nil
	}

	return p.do(ctx, func(ctx context.Context) error {
		if err := runtime.AddBinding(fabBinding).Do(ctx); err != nil {
			return fmt.Errorf("failed to add FAB binding: %w", err)
		}
		id, err := page.AddScriptToEvaluateOnNewDocument(fabScript).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to register FAB script: %w", err)
		}
		p.fabScript = id
		if _, exc, err := runtime.Evaluate(fabScript).Do(ctx); err != nil {
			return fmt.Errorf("failed to inject FAB: %w", err)
		} else if exc != nil {
			return exceptionError(exc)
		}
		p.logger.Debug().Msg("FAB injected")
		return nil
	})
}

// HideFAB removes the button and stops injecting it.
func (p *Page) HideFAB(ctx context.Context) error {
	p.fabMu.Lock()
	defer p.fabMu.Unlock()
	p.fabHandler = nil
	if p.fabScript == "" {
		return nil
	}
	id := p.fabScript
	p.fabScript = ""

	return p.do(ctx, func(ctx context.Context) error {
		if err := page.RemoveScriptToEvaluateOnNewDocument(id).Do(ctx); err != nil {
			return fmt.Errorf("failed to unregister FAB script: %w", err)
		}
		if _, _, err := runtime.Evaluate(fabRemoveScript).Do(ctx); err != nil {
			return fmt.Errorf("failed to remove FAB: %w", err)
		}
		if err := runtime.RemoveBinding(fabBinding).Do(ctx); err != nil {
			return fmt.Errorf("failed to remove FAB binding: %w", err)
		}
		p.logger.Debug().Msg("FAB removed")
		return nil
	})
}

func (p *Page) fabClicked(pageURL string) {
	p.fabMu.Lock()
	handler := p.fabHandler
	p.fabMu.Unlock()
	if handler == nil {
		return
	}
	p.logger.Debug().Str("url", pageURL).Msg("FAB clicked")
	go handler(pageURL)
}
