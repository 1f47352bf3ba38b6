package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tachyon-cluster/dispatcher/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeStoreError maps a store-layer error to the right HTTP status:
// ErrNotFound -> 404, anything else -> 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeValidationError reports a rejected request payload as a 400.
func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}
