package server

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browser-api/pkg/browser"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Service:        s.config.Service,
		Timestamp:      timestamp(s.now()),
		ActiveBrowsers: s.registry.Count(),
	})
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, ToolsResponse{Tools: tools})
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, SessionsResponse{Sessions: s.registry.List()})
}

func (s *Server) handleLaunch(c *gin.Context) {
	var req LaunchRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)

	timer := s.metrics.StartOperation("launch")
	_, err := s.registry.Launch(c.Request.Context(), sessionID)
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, LaunchResponse{
		Success:   true,
		Message:   "Browser launched",
		SessionID: sessionID,
	})
}

// handleNavigate checks the session before validating the URL, so an empty body
// against a missing session is a 404.
func (s *Server) handleNavigate(c *gin.Context) {
	var req NavigateRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)
	pageID := orDefault(req.PageID, DefaultPageID)

	if _, err := s.registry.Get(sessionID); err != nil {
		s.fail(c, err)
		return
	}
	if req.URL == "" {
		s.fail(c, errBadRequest("url is required"))
		return
	}
	if err := s.hosts.CheckURL(req.URL); err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	page, err := s.registry.ResolvePage(ctx, sessionID, pageID)
	if err != nil {
		s.fail(c, err)
		return
	}

	timer := s.metrics.StartOperation("navigate")
	err = page.Navigate(ctx, req.URL, browser.NavigateOptions{
		WaitUntil: browser.WaitNetworkIdle,
		Timeout:   s.config.Browser.DefaultTimeout,
	})
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	title, err := page.Title(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, NavigateResponse{
		Success: true,
		Title:   title,
		URL:     page.URL(),
	})
}

func (s *Server) handleGetContent(c *gin.Context) {
	var req ContentRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)
	pageID := orDefault(req.PageID, DefaultPageID)

	page, err := s.registry.Page(sessionID, pageID)
	if err != nil {
		s.fail(c, err)
		return
	}

	format := orDefault(req.Format, FormatHTML)
	if format != FormatHTML && format != FormatClean {
		s.fail(c, errBadRequest("format must be \"html\" or \"clean\""))
		return
	}
	if req.Selector != "" && format == FormatClean {
		s.fail(c, errBadRequest("format \"clean\" cannot be combined with selector"))
		return
	}

	ctx := c.Request.Context()
	timer := s.metrics.StartOperation("get_content")

	if req.Selector != "" {
		text, err := page.InnerText(ctx, req.Selector)
		timer.Done(err)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ContentResponse{Success: true, Content: text})
		return
	}

	markup, err := page.Content(ctx)
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	if format == FormatHTML {
		c.JSON(http.StatusOK, ContentResponse{Success: true, Content: markup})
		return
	}

	cleaned, err := browser.CleanHTML(markup, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ContentResponse{
		Success:     true,
		Content:     cleaned.HTML,
		Title:       cleaned.Title,
		Description: cleaned.Description,
		Truncated:   cleaned.Truncated,
	})
}

func (s *Server) handleClick(c *gin.Context) {
	var req ClickRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)
	pageID := orDefault(req.PageID, DefaultPageID)

	page, err := s.registry.Page(sessionID, pageID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Selector == "" {
		s.fail(c, errBadRequest("selector is required"))
		return
	}

	ctx := c.Request.Context()
	timer := s.metrics.StartOperation("click")
	err = page.Click(ctx, req.Selector, browser.ClickOptions{Timeout: s.config.Browser.DefaultTimeout})
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.settle(ctx, page, sessionID, pageID)

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Clicked"})
}

// settle waits for the network to go idle after a click. A click that triggers no
// navigation may never reach idle within the timeout; that is not a failure.
func (s *Server) settle(ctx context.Context, page browser.PageHandle, sessionID, pageID string) {
	err := page.WaitForLoadState(ctx, browser.WaitNetworkIdle, s.config.Browser.SettleTimeout)
	if err != nil {
		s.logger.Debugf("settle wait after click ignored: session=%s page=%s: %v", sessionID, pageID, err)
	}
}

func (s *Server) handleScreenshot(c *gin.Context) {
	var req ScreenshotRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)
	pageID := orDefault(req.PageID, DefaultPageID)

	page, err := s.registry.Page(sessionID, pageID)
	if err != nil {
		s.fail(c, err)
		return
	}

	timer := s.metrics.StartOperation("screenshot")
	image, err := page.Screenshot(c.Request.Context(), browser.ScreenshotOptions{FullPage: req.FullPage})
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, ScreenshotResponse{
		Success:    true,
		Screenshot: base64.StdEncoding.EncodeToString(image),
	})
}

func (s *Server) handleClose(c *gin.Context) {
	var req CloseRequest
	if !s.bind(c, &req) {
		return
	}
	sessionID := orDefault(req.SessionID, DefaultSessionID)

	timer := s.metrics.StartOperation("close")
	err := s.registry.Close(c.Request.Context(), sessionID)
	timer.Done(err)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Browser closed"})
}
