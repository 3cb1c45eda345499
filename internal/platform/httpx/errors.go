package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// InternalErrorMessage is shown for failures outside the taxonomy.
const InternalErrorMessage = "An internal server error occurred. Please try again later."

// StatusFor maps an error kind to its HTTP status. Every kind has a distinct
// status so clients can tell retryable conflicts from permanent ones.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindValidationFailure:
		return http.StatusBadRequest
	case shared.KindUnauthorized:
		return http.StatusUnauthorized
	case shared.KindForbidden:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindAlreadyExists:
		return http.StatusConflict
	case shared.KindConcurrentModification:
		return http.StatusPreconditionFailed
	case shared.KindInvalidStateTransition:
		return http.StatusUnprocessableEntity
	case shared.KindProtectedResource:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to the uniform result. Unclassified errors
// are logged in full and reported without detail.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var typed *shared.Error
	if !errors.As(err, &typed) || typed.Kind == shared.KindInternal {
		if logger != nil {
			logger.Error("unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		Fail(w, r, http.StatusInternalServerError, InternalErrorMessage, &ErrorBody{Kind: string(shared.KindInternal)})
		return
	}
	status := StatusFor(typed.Kind)
	if typed.Kind.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	Fail(w, r, status, err.Error(), &ErrorBody{Kind: string(typed.Kind), Code: typed.Code, Fields: typed.Fields})
}

// BadRequest reports a malformed request body.
func BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	Fail(w, r, http.StatusBadRequest, "malformed request: "+err.Error(), &ErrorBody{Kind: string(shared.KindValidationFailure), Code: "MALFORMED_REQUEST"})
}
