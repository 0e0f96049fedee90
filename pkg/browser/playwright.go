package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// EngineOptions configures the Playwright driver.
type EngineOptions struct {
	// Browser selects the browser family: "chromium" (default), "firefox" or "webkit"
	Browser string

	// Install downloads the driver and browser binaries before starting
	Install bool

	// Output receives driver install progress. Nil discards it.
	Output io.Writer
}

// PlaywrightEngine is an Engine backed by playwright-go.
type PlaywrightEngine struct {
	mu          sync.Mutex
	opts        EngineOptions
	playwright  *playwright.Playwright
	initialized bool
}

// NewPlaywrightEngine creates an engine. Start must be called before Launch.
func NewPlaywrightEngine(opts EngineOptions) *PlaywrightEngine {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	return &PlaywrightEngine{opts: opts}
}

// Start installs (when configured) and runs the Playwright driver.
// Calling Start on a started engine is a no-op.
func (e *PlaywrightEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	runOpts := e.runOptions()
	if e.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	e.playwright = pw
	e.initialized = true
	return nil
}

// Install downloads the driver and the configured browser without starting them.
func (e *PlaywrightEngine) Install() error {
	if err := playwright.Install(e.runOptions()); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

func (e *PlaywrightEngine) runOptions() *playwright.RunOptions {
	out := e.opts.Output
	if out == nil {
		out = io.Discard
	}
	return &playwright.RunOptions{
		Browsers: []string{e.opts.Browser},
		Stdout:   out,
		Stderr:   out,
	}
}

// Launch starts a new browser instance.
func (e *PlaywrightEngine) Launch(ctx context.Context, opts LaunchOptions) (BrowserHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, fmt.Errorf("playwright engine not started")
	}
	browserType, err := e.browserType()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args:     opts.Args,
	}
	browser, err := browserType.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &playwrightBrowser{
		browser:  browser,
		viewport: opts.Viewport,
		timeout:  opts.Timeout,
	}, nil
}

func (e *PlaywrightEngine) browserType() (playwright.BrowserType, error) {
	switch e.opts.Browser {
	case "chromium":
		return e.playwright.Chromium, nil
	case "firefox":
		return e.playwright.Firefox, nil
	case "webkit":
		return e.playwright.WebKit, nil
	default:
		return nil, fmt.Errorf("unsupported browser: %s", e.opts.Browser)
	}
}

// Close stops the Playwright driver.
func (e *PlaywrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized || e.playwright == nil {
		return nil
	}
	if err := e.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	e.initialized = false
	return nil
}

type playwrightBrowser struct {
	browser  playwright.Browser
	viewport *Viewport
	timeout  float64
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageOpts := playwright.BrowserNewPageOptions{}
	if b.viewport != nil {
		pageOpts.Viewport = &playwright.Size{
			Width:  b.viewport.Width,
			Height: b.viewport.Height,
		}
	}

	page, err := b.browser.NewPage(pageOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(b.timeout)

	return &playwrightPage{page: page}, nil
}

func (b *playwrightBrowser) Close() error {
	if err := b.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gotoOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = &opts.Timeout
	}

	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Title()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}
	return content, nil
}

func (p *playwrightPage) InnerText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	element, err := p.page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}

	text, err := element.InnerText()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string, opts ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clickOpts := playwright.PageClickOptions{}
	if opts.Timeout > 0 {
		clickOpts.Timeout = &opts.Timeout
	}

	if err := p.page.Click(selector, clickOpts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) WaitForLoadState(ctx context.Context, state WaitState, timeout float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	loadState := playwright.LoadState(state)
	waitOpts := playwright.PageWaitForLoadStateOptions{State: &loadState}
	if timeout > 0 {
		waitOpts.Timeout = &timeout
	}
	return p.page.WaitForLoadState(waitOpts)
}

func (p *playwrightPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	image, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return image, nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
