package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// errorStatuses is checked in order; the first matching kind wins.
var errorStatuses = []struct {
	kind   error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrDocumentNotFound, http.StatusNotFound},
	{domain.ErrStateConflict, http.StatusConflict},
	{domain.ErrTemporary, http.StatusServiceUnavailable},
	{domain.ErrTimeout, http.StatusGatewayTimeout},
}

func statusForError(err error) int {
	for _, entry := range errorStatuses {
		if domain.IsKind(err, entry.kind) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// writeDomainError answers with the status for err. Server errors are logged
// and their detail is not echoed to the client.
func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		rt.logger.Error("request_failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
