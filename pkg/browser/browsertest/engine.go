// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/browser-api/pkg/browser"
)

// ErrClosed is returned by operations on a closed page or browser.
var ErrClosed = errors.New("target page, context or browser has been closed")

// Site is the canned response for one URL.
type Site struct {
	Title    string
	HTML     string
	Elements map[string]string // selector -> inner text
}

// Engine is a fake browser.Engine. Configure it before use; the exported fields are
// read under the engine lock.
type Engine struct {
	mu sync.Mutex

	// Sites maps URLs to the page they serve. Unknown URLs serve an empty document.
	Sites map[string]Site

	// Screenshot is returned by every page screenshot.
	Screenshot []byte

	// LaunchErr, NavigateErr, SettleErr and CloseErr inject failures.
	LaunchErr   error
	NavigateErr error
	SettleErr   error
	CloseErr    error

	// LaunchDelay stalls Launch to widen race windows in tests.
	LaunchDelay time.Duration

	browsers []*Browser
	closes   []string
	closed   bool
}

// New returns an engine serving sites.
func New(sites map[string]Site) *Engine {
	if sites == nil {
		sites = make(map[string]Site)
	}
	return &Engine{
		Sites:      sites,
		Screenshot: []byte("\x89PNG\r\n\x1a\nfake"),
	}
}

// Launch starts a fake browser.
func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.BrowserHandle, error) {
	e.mu.Lock()
	delay := e.LaunchDelay
	e.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	if e.closed {
		return nil, ErrClosed
	}

	b := &Browser{engine: e, index: len(e.browsers), Options: opts}
	e.browsers = append(e.browsers, b)
	return b, nil
}

// Close marks the engine as stopped.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Launches returns the number of browsers launched so far.
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.browsers)
}

// Browsers returns every browser launched so far.
func (e *Engine) Browsers() []*Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Browser(nil), e.browsers...)
}

// Closes returns successful closes in order, as "page:<index>" or "browser:<index>".
// Indexes count from 0 in launch or creation order.
func (e *Engine) Closes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.closes...)
}

// Browser is a fake browser.BrowserHandle.
type Browser struct {
	engine  *Engine
	index   int
	Options browser.LaunchOptions

	pages  []*Page
	closed bool
}

// NewPage opens a fake page.
func (b *Browser) NewPage(ctx context.Context) (browser.PageHandle, error) {
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	p := &Page{browser: b, index: len(b.pages), url: "about:blank"}
	b.pages = append(b.pages, p)
	return p, nil
}

// Close closes the browser and its pages.
func (b *Browser) Close() error {
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()

	if b.engine.CloseErr != nil {
		return b.engine.CloseErr
	}
	b.closed = true
	for _, p := range b.pages {
		p.closed = true
	}
	b.engine.closes = append(b.engine.closes, fmt.Sprintf("browser:%d", b.index))
	return nil
}

// Closed reports whether Close succeeded.
func (b *Browser) Closed() bool {
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	return b.closed
}

// Pages returns the pages opened in this browser.
func (b *Browser) Pages() []*Page {
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Page is a fake browser.PageHandle that records its navigation history.
type Page struct {
	browser *Browser
	index   int

	url     string
	history []string
	clicks  []string
	closed  bool
}

func (p *Page) site() Site {
	return p.browser.engine.Sites[p.url]
}

// Navigate records url and makes it the current page.
func (p *Page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.browser.engine.NavigateErr; err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	p.url = url
	p.history = append(p.history, url)
	return nil
}

// Title returns the configured title of the current site.
func (p *Page) Title(ctx context.Context) (string, error) {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return "", ErrClosed
	}
	return p.site().Title, nil
}

// URL returns the current URL.
func (p *Page) URL() string {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()
	return p.url
}

// Content returns the configured markup of the current site.
func (p *Page) Content(ctx context.Context) (string, error) {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return "", ErrClosed
	}
	if html := p.site().HTML; html != "" {
		return html, nil
	}
	return "<html><head></head><body></body></html>", nil
}

// InnerText returns the configured text for selector.
func (p *Page) InnerText(ctx context.Context, selector string) (string, error) {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return "", ErrClosed
	}
	text, ok := p.site().Elements[selector]
	if !ok {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}
	return text, nil
}

// Click records the selector when it exists on the current site.
func (p *Page) Click(ctx context.Context, selector string, opts browser.ClickOptions) error {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, ok := p.site().Elements[selector]; !ok {
		return fmt.Errorf("click failed: no element found matching selector: %s", selector)
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

// WaitForLoadState returns the engine's SettleErr.
func (p *Page) WaitForLoadState(ctx context.Context, state browser.WaitState, timeout float64) error {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()
	return p.browser.engine.SettleErr
}

// Screenshot returns the engine's canned image.
func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	return append([]byte(nil), p.browser.engine.Screenshot...), nil
}

// Close closes the page.
func (p *Page) Close() error {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()

	if p.browser.engine.CloseErr != nil {
		return p.browser.engine.CloseErr
	}
	p.closed = true
	p.browser.engine.closes = append(p.browser.engine.closes, fmt.Sprintf("page:%d", p.index))
	return nil
}

// History returns every URL navigated to, in order.
func (p *Page) History() []string {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()
	return append([]string(nil), p.history...)
}

// Clicks returns every selector clicked, in order.
func (p *Page) Clicks() []string {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Closed reports whether the page has been closed.
func (p *Page) Closed() bool {
	p.browser.engine.mu.Lock()
	defer p.browser.engine.mu.Unlock()
	return p.closed
}
