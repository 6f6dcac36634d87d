package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apierrors "github.com/IndexPilot/server/internal/errors"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/IndexPilot/server/pkg/responders"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// decodeJSON reads a JSON request body into dst. A false return means the
// error response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.LimitReader(r.Body, maxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeStorageError maps storage sentinel errors onto API error codes.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, "Resource not found")
	case errors.Is(err, storage.ErrInsufficientCredits):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInsufficientCredits, "Credit balance too low for this submission")
	case errors.Is(err, storage.ErrAlreadyRefunded):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAlreadyRefunded, "Credit already refunded")
	case errors.Is(err, storage.ErrNoCredentials):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNoCredentials, "No credential with remaining quota")
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Internal error")
	}
}

// respond writes a JSON payload with the given status.
func respond(w http.ResponseWriter, status int, payload any) {
	responders.JSON(w, status, payload)
}
