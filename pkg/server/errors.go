package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browser-api/pkg/policy"
	"github.com/entrhq/browser-api/pkg/session"
)

// badRequest is a client error detected by a handler before touching the registry.
type badRequest struct {
	message string
}

func (e *badRequest) Error() string { return e.message }

func errBadRequest(message string) error {
	return &badRequest{message: message}
}

// statusFor maps an error to its HTTP status and the message returned to the caller.
// Registry errors use fixed messages; anything else is an engine failure and its
// message is passed through.
func statusFor(err error) (int, string) {
	var (
		bad       *badRequest
		violation *policy.Violation
		tooLarge  *http.MaxBytesError
	)

	switch {
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusBadRequest, "Session exists"
	case errors.Is(err, session.ErrSessionLimit):
		return http.StatusBadRequest, "Session limit reached"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrPageNotFound):
		return http.StatusNotFound, "Page not found"
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.message
	case errors.As(err, &violation):
		return http.StatusBadRequest, violation.Error()
	case errors.As(err, &tooLarge):
		return http.StatusBadRequest, "Request body too large"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// fail writes err as {"error": ...} with the matching status.
func (s *Server) fail(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("%s %s failed: %v (request_id=%s)", c.Request.Method, c.FullPath(), err, requestID(c))
	} else {
		s.logger.Debugf("%s %s rejected: %v (request_id=%s)", c.Request.Method, c.FullPath(), err, requestID(c))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// bind decodes the JSON body into req. An empty body leaves req at its zero value.
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, err)
			return false
		}
		s.fail(c, errBadRequest("Invalid JSON body: "+err.Error()))
		return false
	}
	return true
}
