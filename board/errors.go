package board

import "fmt"

// ErrorKind tags a ToolError so adapters can map failures without parsing
// messages. HTTP maps not_found to 404 and the invalid_* kinds to 422.
type ErrorKind string

const (
	// KindNotFound means a referenced entity does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInvalidInput means a parameter was malformed or semantically
	// invalid, including dependency cycles and cross-project references.
	KindInvalidInput ErrorKind = "invalid_input"

	// KindInvalidTransition means a state-machine or step-move rejection.
	KindInvalidTransition ErrorKind = "invalid_transition"

	// KindInvalidRole means a comment author role was empty.
	KindInvalidRole ErrorKind = "invalid_role"
)

// ToolError is the tagged failure returned by every tool surface
// operation. It never wraps internal errors across the boundary; the
// message is safe to show to callers (human or agent).
type ToolError struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NotFoundf builds a not_found ToolError.
func NotFoundf(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInputf builds an invalid_input ToolError.
func InvalidInputf(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf builds an invalid_transition ToolError.
func InvalidTransitionf(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// InvalidRolef builds an invalid_role ToolError.
func InvalidRolef(format string, args ...any) *ToolError {
	return &ToolError{Kind: KindInvalidRole, Message: fmt.Sprintf(format, args...)}
}
