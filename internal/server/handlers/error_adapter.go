package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/cloudphotos/internal/errors"
)

// respondWithError writes err as the API error envelope.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
