package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string

	cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an EngineError with the same code, so that
// wrapped variants still match their sentinel under errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	if cause == nil {
		return &EngineError{Code: code, Message: msg}
	}
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause), cause: cause}
}

// Wrap returns a copy of the sentinel e carrying cause.
func (e *EngineError) Wrap(cause error) *EngineError {
	return WrapEngineError(e.Code, e.Message, cause)
}

// ---- Environment errors (-32010 to -32019) ----

var (
	ErrCompilerNotFound = &EngineError{Code: -32010, Message: "compiler could not be started; install a TeX distribution (e.g. TeX Live or MiKTeX) and make sure pdflatex is in PATH"}
	ErrCompilerTimeout  = &EngineError{Code: -32011, Message: "compiler did not finish within the configured timeout"}
)

// ---- Workspace / Export errors (-32040 to -32059) ----

var (
	ErrWorkspaceIO       = &EngineError{Code: -32040, Message: "workspace I/O failed"}
	ErrInvalidDocumentID = &EngineError{Code: -32041, Message: "invalid document id"}
	ErrArtifactNotFound  = &EngineError{Code: -32042, Message: "artifact not found; compile the document first"}
	ErrExportFailed      = &EngineError{Code: -32043, Message: "failed to export artifact"}
	ErrInvalidTransition = &EngineError{Code: -32044, Message: "invalid compilation state transition"}
)

// ---- Guard errors (-32060 to -32069) ----

var (
	ErrRateLimitExceeded = &EngineError{Code: -32060, Message: "compile rate limit exceeded; try again shortly"}
)

// ---- Feed errors (-32070 to -32079) ----

var (
	ErrFeedUnavailable = &EngineError{Code: -32070, Message: "compile feed unavailable"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit        = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery       = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite       = &EngineError{Code: -32132, Message: "store write failed"}
	ErrDocumentNotFound = &EngineError{Code: -32133, Message: "document not found"}
	ErrConfigInvalid    = &EngineError{Code: -32136, Message: "invalid configuration"}
)
