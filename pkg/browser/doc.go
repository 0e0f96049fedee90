// Package browser defines the browser engine capabilities the service depends on and
// provides the Playwright-backed implementation of them.
//
// The rest of the service never touches a concrete automation library. It talks to three
// small interfaces:
//
//  1. Engine: starts browser instances
//  2. BrowserHandle: one running browser, able to open pages
//  3. PageHandle: one tab, able to navigate, read content, click and take screenshots
//
// # Playwright
//
// NewPlaywrightEngine returns an Engine backed by playwright-go. Start must be called once
// before Launch; it optionally installs the driver and browsers, then runs the driver.
//
//	engine := browser.NewPlaywrightEngine(browser.EngineOptions{
//	    Browser: "chromium",
//	    Install: true,
//	})
//	if err := engine.Start(); err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	handle, err := engine.Launch(ctx, browser.LaunchOptions{Headless: true})
//	page, err := handle.NewPage(ctx)
//	err = page.Navigate(ctx, "https://example.com", browser.NavigateOptions{
//	    WaitUntil: browser.WaitNetworkIdle,
//	})
//
// # Content cleaning
//
// CleanHTML strips scripts, styles and other noise from page markup while keeping the
// semantic structure and the attributes useful for targeting elements.
//
// # Testing
//
// The browsertest subpackage provides an in-memory Engine for tests that must not start a
// real browser.
package browser
