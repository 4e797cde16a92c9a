package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestHttpStatusForDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantOK     bool
	}{
		{"invalid input", core.ErrInvalidInput(core.CodeMissingInput, "bad"), http.StatusUnprocessableEntity, true},
		{"workflow not found", core.ErrInvalidInput(core.CodeWorkflowNotFound, "x"), http.StatusNotFound, true},
		{"template not found", core.ErrConfig(core.CodeTemplateNotFound, "x"), http.StatusNotFound, true},
		{"config", core.ErrConfig(core.CodeRoleUnbound, "x"), http.StatusUnprocessableEntity, true},
		{"already started", core.ErrWorkflow(core.CodeAlreadyStarted, "x"), http.StatusConflict, true},
		{"auth", core.ErrAuth("missing token"), http.StatusUnauthorized, true},
		{"rate limit", core.ErrRateLimited("slow down"), http.StatusTooManyRequests, true},
		{"timeout", core.ErrTimeout("timed out"), http.StatusGatewayTimeout, true},
		{"provider", core.ErrProviderUnavailable("down"), http.StatusServiceUnavailable, true},
		{"internal (default)", core.ErrInternal("boom"), http.StatusInternalServerError, true},
		{"non-domain error", errors.New("plain"), 0, false},
		{"nil error", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := httpStatusForDomainError(tt.err)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}
