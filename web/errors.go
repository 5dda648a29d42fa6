package web

import (
	"net/http"

	berrors "github.com/ota-server/updateserver/errors"
)

// statusCodeFromError maps an error kind to an HTTP status code (spec
// §7), mirroring the teacher's statusCodeFromError / sendError pattern.
func statusCodeFromError(err error) int {
	switch berrors.TypeOf(err) {
	case berrors.BadRequest:
		return http.StatusBadRequest
	case berrors.NotFound:
		return http.StatusNotFound
	case berrors.Conflict:
		return http.StatusConflict
	case berrors.Validation:
		// Validation failures surfaced to the web layer are always a
		// consequence of client-submitted PEM or archive content.
		return http.StatusBadRequest
	case berrors.Config:
		return http.StatusInternalServerError
	case berrors.ForbiddenPath:
		return http.StatusForbidden
	case berrors.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError notifies the client of an error condition with a short
// plain-text body describing the kind (spec §7), and audit-logs internal
// failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusCodeFromError(err)
	if status >= 500 {
		s.log.Audit("web: internal error: %s", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}
