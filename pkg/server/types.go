package server

import (
	"time"

	"github.com/entrhq/browser-api/pkg/session"
)

const (
	// DefaultSessionID is used when a request omits sessionId
	DefaultSessionID = "default"

	// DefaultPageID is used when a request omits pageId
	DefaultPageID = "page1"
)

// Content formats accepted by get-content
const (
	FormatHTML  = "html"
	FormatClean = "clean"
)

// LaunchRequest starts a browser session.
type LaunchRequest struct {
	SessionID string `json:"sessionId"`
}

// NavigateRequest loads a URL in a page, creating the page if needed.
type NavigateRequest struct {
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	URL       string `json:"url"`
}

// ContentRequest reads a page's markup or an element's text. Format applies to
// whole-page markup only; "clean" together with Selector is rejected.
type ContentRequest struct {
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	Selector  string `json:"selector"`
	Format    string `json:"format"`
}

// ClickRequest clicks the first element matching Selector.
type ClickRequest struct {
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	Selector  string `json:"selector"`
}

// ScreenshotRequest captures a page as PNG.
type ScreenshotRequest struct {
	SessionID string `json:"sessionId"`
	PageID    string `json:"pageId"`
	FullPage  bool   `json:"fullPage"`
}

// CloseRequest tears a session down.
type CloseRequest struct {
	SessionID string `json:"sessionId"`
}

// orDefault treats an empty string the same as an absent field.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// LaunchResponse is returned by a successful launch.
type LaunchResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// NavigateResponse reports where the page ended up.
type NavigateResponse struct {
	Success bool   `json:"success"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// ContentResponse carries page markup or element text.
type ContentResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`

	// Title, Description and Truncated are only set for the clean format
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// MessageResponse acknowledges click and close.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ScreenshotResponse carries a base64 encoded PNG.
type ScreenshotResponse struct {
	Success    bool   `json:"success"`
	Screenshot string `json:"screenshot"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports liveness and the number of open browsers.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Timestamp      string `json:"timestamp"`
	ActiveBrowsers int    `json:"activeBrowsers"`
}

// Tool describes one operation for agent integrations.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolsResponse lists the available operations.
type ToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// SessionsResponse lists live sessions.
type SessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// tools is the static catalog served by GET /tools.
var tools = []Tool{
	{Name: "launch_browser", Description: "Launch a new browser instance"},
	{Name: "navigate", Description: "Navigate to a URL"},
	{Name: "get_content", Description: "Get page content or element text"},
	{Name: "click", Description: "Click an element"},
	{Name: "screenshot", Description: "Take a screenshot"},
	{Name: "close", Description: "Close browser session"},
}

// timestampFormat matches JavaScript's Date.toISOString.
const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}
