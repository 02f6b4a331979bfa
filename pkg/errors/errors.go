package errors

import "errors"

// AppError encodes domain specific error details.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code, message string, err error) error {
	if err == nil {
		return &AppError{Code: code, Message: message}
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode helps handler differentiate failures.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error classes from the error taxonomy: each names a class of failure,
// not a Go type. Handlers map these to HTTP status codes; worker code maps
// them to terminal vs. retryable stage outcomes.
const (
	// ClientInput is a malformed request: oversize, wrong MIME, unknown
	// user. Surfaced as 4xx; never retried.
	CodeClientInput = "client_input"
	// NotFound covers unknown task/document ids, cache+DB misses, and
	// cross-tenant access collapsed to avoid existence oracles.
	CodeNotFound = "not_found"
	// TransientUpstream is a retryable BlobStore/Parser/Embedder/
	// Synthesizer failure (5xx, rate limit, timeout).
	CodeTransientUpstream = "transient_upstream"
	// PermanentUpstream is a 4xx from an upstream indicating the input
	// will never succeed.
	CodePermanentUpstream = "permanent_upstream"
	// EmptyContent is a Parser success with no extractable text.
	CodeEmptyContent = "empty_content"
	// InternalInvariantViolation is fatal for the message: embedding
	// dimension mismatch, non-finite values, alignment errors.
	CodeInternalInvariantViolation = "internal_invariant_violation"
	// CacheError means ProgressCache is unavailable; never affects
	// authoritative state.
	CodeCacheError = "cache_error"
	// RetrievalDegraded means the ANN index is missing or unusable and
	// the Retriever fell back to a sequential scan.
	CodeRetrievalDegraded = "retrieval_degraded"
)
