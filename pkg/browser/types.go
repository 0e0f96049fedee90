package browser

import "context"

// Engine starts browser instances.
type Engine interface {
	// Launch starts a new, isolated browser instance.
	Launch(ctx context.Context, opts LaunchOptions) (BrowserHandle, error)

	// Close stops the engine. Browsers launched from it must not be used afterwards.
	Close() error
}

// BrowserHandle is a running browser instance.
type BrowserHandle interface {
	// NewPage opens a new page (tab) in the browser.
	NewPage(ctx context.Context) (PageHandle, error)

	// Close closes the browser and every page it still owns.
	Close() error
}

// PageHandle is a single browsing context inside a browser.
type PageHandle interface {
	// Navigate loads url and waits for the requested load state.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// Title returns the document title.
	Title(ctx context.Context) (string, error)

	// URL returns the current page URL.
	URL() string

	// Content returns the full serialized document markup.
	Content(ctx context.Context) (string, error)

	// InnerText returns the rendered text of the first element matching selector.
	// It fails when no element matches.
	InnerText(ctx context.Context, selector string) (string, error)

	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string, opts ClickOptions) error

	// WaitForLoadState blocks until the page reaches state or the timeout expires.
	WaitForLoadState(ctx context.Context, state WaitState, timeout float64) error

	// Screenshot captures the page as a PNG image.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// Close closes the page.
	Close() error
}

// WaitState names a page load milestone.
type WaitState string

const (
	// WaitNetworkIdle waits until there are no network connections for at least 500ms
	WaitNetworkIdle WaitState = "networkidle"
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LaunchOptions configures a new browser instance.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Args are extra command line switches passed to the browser process
	Args []string

	// Viewport sets the viewport of every page opened in the browser
	Viewport *Viewport

	// Timeout sets the default timeout for page operations (in milliseconds)
	Timeout float64
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	WaitUntil WaitState

	// Timeout in milliseconds (0 means default)
	Timeout float64
}

// ClickOptions configures element clicking behavior.
type ClickOptions struct {
	// Timeout in milliseconds (0 means default)
	Timeout float64
}

// ScreenshotOptions configures page capture.
type ScreenshotOptions struct {
	// FullPage captures the full scrollable page instead of the viewport
	FullPage bool
}

// Default values for various operations
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultSettleTimeout  = 5000.0  // 5 seconds in milliseconds
	DefaultMaxLength      = 100000  // characters kept by CleanHTML
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// DefaultLaunchArgs are the switches needed to run Chromium inside containers.
var DefaultLaunchArgs = []string{"--no-sandbox", "--disable-setuid-sandbox"}
