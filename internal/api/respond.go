package api

import (
	"fmt"
	"net/http"

	"maritime-query-engine/internal/common/errors"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Kind    errors.Kind      `json:"kind"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details interface{}      `json:"details,omitempty"`
}

// abort writes the error envelope and stops the handler chain. Internal
// failures are logged in full but answered without detail.
func (s *Server) abort(c *gin.Context, err error) {
	stdErr := errors.AsStandard(err)
	status := errors.HTTPStatus(stdErr.Kind)
	switch stdErr.Code {
	case errors.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
		c.Header("Retry-After", "1")
	case errors.ErrCodeMethodNotAllowed:
		status = http.StatusMethodNotAllowed
	}

	body := errorBody{Kind: stdErr.Kind, Code: stdErr.Code, Message: stdErr.Message}
	if stdErr.Kind == errors.KindInternal {
		s.logger.Error("Request failed", map[string]interface{}{
			"route":   c.FullPath(),
			"code":    stdErr.Code,
			"details": stdErr.Details,
		})
	} else {
		body.Details = envelopeDetails(stdErr)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func envelopeDetails(e *errors.StandardError) interface{} {
	if len(e.Metadata) == 0 {
		if e.Details == "" {
			return nil
		}
		return e.Details
	}
	details := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		details[k] = v
	}
	if e.Details != "" {
		details["description"] = e.Details
	}
	return details
}

// recovered answers a panicking handler with the internal_error envelope.
func (s *Server) recovered(c *gin.Context, rec any) {
	s.abort(c, errors.NewInternalError(fmt.Errorf("panic: %v", rec)))
}

func (s *Server) handleNoRoute(c *gin.Context) {
	s.abort(c, errors.NewRouteNotFoundError(c.Request.Method, c.Request.URL.Path))
}

func (s *Server) handleNoMethod(c *gin.Context) {
	s.abort(c, errors.NewMethodNotAllowedError(c.Request.Method, c.Request.URL.Path))
}
