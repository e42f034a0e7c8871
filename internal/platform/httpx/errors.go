// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-finance/internal/shared"
)

// RespondError maps domain errors to HTTP responses using the shared result shape.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		JSON(w, http.StatusNotFound, shared.ResultOf(err))
	case errors.Is(err, shared.ErrValidation):
		JSON(w, http.StatusUnprocessableEntity, shared.ResultOf(err))
	case errors.Is(err, shared.ErrPrecondition):
		JSON(w, http.StatusConflict, shared.ResultOf(err))
	case errors.Is(err, shared.ErrIntegrity):
		// setup problems such as a missing control account; safe to show
		JSON(w, http.StatusInternalServerError, shared.ResultOf(err))
	default:
		JSON(w, http.StatusInternalServerError, shared.Result{Error: "internal error"})
	}
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(w http.ResponseWriter, detail string) {
	JSON(w, http.StatusBadRequest, shared.Result{Error: detail})
}
