package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    core.ErrorKind `json:"kind,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Code {
	case core.CodeWorkflowNotFound, core.CodeTemplateNotFound, core.CodeProfileNotFound:
		return http.StatusNotFound, true
	case core.CodeAlreadyStarted, core.CodeLockHeld, core.CodeTemplateDisabled:
		return http.StatusConflict, true
	}

	switch domErr.Kind {
	case core.KindInvalidInput, core.KindConfig, core.KindReference:
		return http.StatusUnprocessableEntity, true
	case core.KindWorkflow, core.KindCancelled:
		return http.StatusConflict, true
	case core.KindAuth:
		return http.StatusUnauthorized, true
	case core.KindRateLimited:
		return http.StatusTooManyRequests, true
	case core.KindTimeout, core.KindExecutionTimeout:
		return http.StatusGatewayTimeout, true
	case core.KindProviderUnavailable, core.KindSandboxUnavailable:
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps err onto a status and a structured body.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("unclassified API error", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var domErr *core.DomainError
	errors.As(err, &domErr)
	s.respondJSON(w, status, ErrorResponse{
		Error:   domErr.Message,
		Kind:    domErr.Kind,
		Code:    domErr.Code,
		Details: detailsForJSON(domErr.Details),
	})
}

// detailsForJSON renders error values as text.
func detailsForJSON(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if e, ok := v.(error); ok {
			out[k] = e.Error()
			continue
		}
		out[k] = v
	}
	return out
}
