package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies errors for retry and propagation decisions.
type ErrorKind string

const (
	KindInvalidInput              ErrorKind = "InvalidInput"
	KindOutputFormat              ErrorKind = "OutputFormatError"
	KindReference                 ErrorKind = "ReferenceError"
	KindConfig                    ErrorKind = "ConfigError"
	KindProviderUnavailable       ErrorKind = "ProviderUnavailable"
	KindAuth                      ErrorKind = "AuthError"
	KindRateLimited               ErrorKind = "RateLimited"
	KindContextLengthExceeded     ErrorKind = "ContextLengthExceeded"
	KindMalformedResponse         ErrorKind = "MalformedResponse"
	KindExecutionTimeout          ErrorKind = "ExecutionTimeout"
	KindExecutionEnvironmentError ErrorKind = "ExecutionEnvironmentError"
	KindSandboxUnavailable        ErrorKind = "SandboxUnavailable"
	KindTimeout                   ErrorKind = "TimeoutError"
	KindWorkflow                  ErrorKind = "WorkflowError"
	KindCancelled                 ErrorKind = "Cancelled"
	KindInternal                  ErrorKind = "Internal"
)

// DomainError represents a structured error from the orchestration core.
type DomainError struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on kind and code. An empty code in the target matches any code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind ErrorKind, code, message string, retryable bool) *DomainError {
	return &DomainError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}

// ErrInvalidInput creates an error for messages, configs or inputs that break an invariant.
func ErrInvalidInput(code, message string) *DomainError {
	return newError(KindInvalidInput, code, message, false)
}

// ErrOutputFormat creates an error for malformed structured model output.
func ErrOutputFormat(message string) *DomainError {
	return newError(KindOutputFormat, CodeParseFailed, message, true)
}

// ErrReference creates an error for an unresolvable symbolic reference.
func ErrReference(ref, message string) *DomainError {
	return newError(KindReference, CodeUnresolvedReference, message, false).WithDetail("reference", ref)
}

// ErrConfig creates a configuration error.
func ErrConfig(code, message string) *DomainError {
	return newError(KindConfig, code, message, false)
}

// ErrProviderUnavailable creates a transient provider error.
func ErrProviderUnavailable(message string) *DomainError {
	return newError(KindProviderUnavailable, "PROVIDER_UNAVAILABLE", message, true)
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return newError(KindAuth, "AUTH_FAILED", message, false)
}

// ErrRateLimited creates a rate limit error.
func ErrRateLimited(message string) *DomainError {
	return newError(KindRateLimited, "RATE_LIMITED", message, true)
}

// ErrContextLength creates an error for prompts exceeding the model context.
func ErrContextLength(message string) *DomainError {
	return newError(KindContextLengthExceeded, "CONTEXT_LENGTH_EXCEEDED", message, true)
}

// ErrMalformedResponse creates an error for a provider response that could not be decoded.
func ErrMalformedResponse(message string) *DomainError {
	return newError(KindMalformedResponse, "MALFORMED_RESPONSE", message, true)
}

// ErrExecutionTimeout creates an executor timeout error.
func ErrExecutionTimeout(message string) *DomainError {
	return newError(KindExecutionTimeout, "EXECUTION_TIMEOUT", message, true)
}

// ErrExecutionEnvironment creates an executor environment error.
func ErrExecutionEnvironment(message string) *DomainError {
	return newError(KindExecutionEnvironmentError, "EXECUTION_ENVIRONMENT", message, true)
}

// ErrSandboxUnavailable creates an error for a missing execution sandbox.
func ErrSandboxUnavailable(message string) *DomainError {
	return newError(KindSandboxUnavailable, "SANDBOX_UNAVAILABLE", message, false)
}

// ErrTimeout creates a step timeout error.
func ErrTimeout(message string) *DomainError {
	return newError(KindTimeout, "TIMEOUT", message, true)
}

// ErrWorkflow creates a structural workflow error.
func ErrWorkflow(code, message string) *DomainError {
	return newError(KindWorkflow, code, message, false)
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return newError(KindCancelled, "CANCELLED", message, false)
}

// ErrInternal creates an unexpected internal error.
func ErrInternal(message string) *DomainError {
	return newError(KindInternal, "INTERNAL", message, false)
}

// KindOf extracts the error kind. Context errors are mapped onto the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}

// IsKind checks if an error belongs to a kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether an error must stop the workflow without retry.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindReference, KindConfig, KindWorkflow, KindCancelled, KindAuth:
		return true
	}
	return false
}

// Predefined error codes
const (
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeEmptyMessages       = "EMPTY_MESSAGES"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeInvalidTemperature  = "INVALID_TEMPERATURE"
	CodeInvalidMaxTokens    = "INVALID_MAX_TOKENS"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeAgentInactive       = "AGENT_INACTIVE"
	CodeAgentInError        = "AGENT_IN_ERROR"
	CodeUnknownAgentType    = "UNKNOWN_AGENT_TYPE"
	CodeInvalidConstructor  = "INVALID_CONSTRUCTOR"
	CodeTemplateNotFound    = "TEMPLATE_NOT_FOUND"
	CodeTemplateDisabled    = "TEMPLATE_DISABLED"
	CodeRoleUnbound         = "ROLE_UNBOUND"
	CodePromptMissing       = "PROMPT_MISSING"
	CodePromptParams        = "PROMPT_UNRESOLVED_PARAMS"
	CodeParseFailed         = "PARSE_FAILED"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	CodeInvalidReference    = "INVALID_REFERENCE"
	CodeDuplicateStep       = "DUPLICATE_STEP"
	CodeForwardReference    = "FORWARD_REFERENCE"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeAlreadyStarted      = "ALREADY_STARTED"
	CodeNoSteps             = "NO_STEPS"
	CodeWorkflowNotFound    = "WORKFLOW_NOT_FOUND"
	CodeDesignInvalid       = "DESIGN_INVALID"
	CodeMissingInput        = "MISSING_INPUT"
	CodeConditionFailed     = "CONDITION_FAILED"
	CodeLockHeld            = "LOCK_HELD"
	CodeProfileNotFound     = "PROFILE_NOT_FOUND"
)
