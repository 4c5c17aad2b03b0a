// Package browser attaches to the user's running Chrome over the DevTools
// protocol and exposes one tab as a dom.Document. It never launches a browser
// or navigates a tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// ErrNoTab is returned when no open tab matches.
var ErrNoTab = errors.New("no matching browser tab")

// Browser is a connection to a Chrome started with --remote-debugging-port.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// Connect opens a DevTools connection to cdpURL, e.g. http://127.0.0.1:9222.
func Connect(ctx context.Context, cdpURL string, logger zerolog.Logger) (*Browser, error) {
	if cdpURL == "" {
		return nil, errors.New("CDP URL is required")
	}
	logger = logger.With().Str("component", "browser").Logger()

	allocCtx, cancel := chromedp.NewRemoteAllocator(ctx, cdpURL)
	bctx, _ := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
	)

	// Listing targets connects without opening a tab.
	if _, err := chromedp.Targets(bctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", cdpURL, err)
	}
	logger.Info().Str("cdp_url", cdpURL).Msg("connected to browser")
	return &Browser{ctx: bctx, cancel: cancel, logger: logger}, nil
}

// Tabs lists the open page targets.
func (b *Browser) Tabs() ([]*target.Info, error) {
	targets, err := chromedp.Targets(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	var tabs []*target.Info
	for _, t := range targets {
		if t.Type == "page" && !internalURL(t.URL) {
			tabs = append(tabs, t)
		}
	}
	return tabs, nil
}

// Attach binds to the first tab whose URL contains match, or the first tab
// when match is empty, and snapshots its document.
func (b *Browser) Attach(ctx context.Context, match string) (*Page, error) {
	tabs, err := b.Tabs()
	if err != nil {
		return nil, err
	}
	var chosen *target.Info
	for _, t := range tabs {
		if match == "" || strings.Contains(t.URL, match) {
			chosen = t
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoTab, match)
	}

	tabCtx, _ := chromedp.NewContext(b.ctx, chromedp.WithTargetID(chosen.TargetID))
	p := newPage(tabCtx, b.logger.With().Str("tab", chosen.URL).Logger())
	chromedp.ListenTarget(tabCtx, p.handleEvent)

	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpdom.Enable().Do(ctx)
	})); err != nil {
		return nil, fmt.Errorf("failed to attach to tab %s: %w", chosen.URL, err)
	}
	p.target = chromedp.FromContext(tabCtx).Target

	if err := p.Snapshot(ctx); err != nil {
		return nil, err
	}
	b.logger.Info().Str("url", p.URL()).Str("title", p.Title()).Msg("attached to tab")
	return p, nil
}

// Close drops the DevTools connection. The browser and its tabs stay open.
func (b *Browser) Close() {
	b.cancel()
}

func internalURL(u string) bool {
	for _, prefix := range []string{"devtools://", "chrome://", "chrome-extension://", "chrome-untrusted://"} {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}
