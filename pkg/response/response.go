package response

// Response is the standard API envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries a stable code, a message and optional structured details
// such as remaining stock or colliding seats
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Transport level error codes. Domain codes come from the domain errors.
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUpstreamFailed = "UPSTREAM_FAILED"
)

// Success creates a success response
func Success(data interface{}) *Response {
	return &Response{Success: true, Data: data}
}

// Error creates an error response
func Error(code, message string) *Response {
	return &Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
}

// ErrorWithDetails creates an error response carrying structured details
func ErrorWithDetails(code, message string, details map[string]any) *Response {
	return &Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message, Details: details},
	}
}

// BadRequest creates a bad request error response
func BadRequest(message string) *Response {
	return Error(ErrCodeBadRequest, message)
}

// Unauthorized creates an unauthorized error response
func Unauthorized(message string) *Response {
	if message == "" {
		message = "Authentication required"
	}
	return Error(ErrCodeUnauthorized, message)
}

// InternalError creates an internal error response that hides the cause.
// traceID, when set, lets the caller quote the failing request.
func InternalError(message, traceID string) *Response {
	if message == "" {
		message = "An unexpected error occurred"
	}
	if traceID == "" {
		return Error(ErrCodeInternalError, message)
	}
	return ErrorWithDetails(ErrCodeInternalError, message, map[string]any{"trace_id": traceID})
}
