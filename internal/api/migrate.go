package api

import (
	"net/http"

	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// handleMigrate triggers store.Migrate from the active backend into
// the alternate one (workers then tasks), exposing the migration
// utility operationally rather than only as a library call.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if s.OpenAlt == nil {
		writeError(w, http.StatusInternalServerError, "migration target not configured")
		return
	}

	dst, err := s.OpenAlt()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "opening migration target: "+err.Error())
		return
	}
	if closer, ok := dst.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	report, err := store.Migrate(r.Context(), s.st, dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
