package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to encode response: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Message: message})
}

// respondWithStoreError maps storage errors onto status codes. Unknown errors
// are logged and reported as 500 with their detail.
func respondWithStoreError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		respondWithError(w, http.StatusBadRequest, "Invalid id")
	case errors.Is(err, storage.ErrNotFound):
		respondWithError(w, http.StatusNotFound, notFound)
	case errors.Is(err, storage.ErrConflict):
		respondWithError(w, http.StatusBadRequest, "Already joined")
	case errors.Is(err, storage.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, storage.ErrEmptyUpdate):
		respondWithError(w, http.StatusBadRequest, "Nothing to update")
	default:
		log.Printf("store error: %v", err)
		respondWithJSON(w, http.StatusInternalServerError, errorResponse{
			Message: "Internal server error",
			Error:   err.Error(),
		})
	}
}

// decodeJSON reads a JSON body into dst. With strict set, fields dst does not
// declare are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
