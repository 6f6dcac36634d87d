package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/IndexPilot/server/internal/errors"
	"github.com/IndexPilot/server/internal/storage"
)

// ownedURL loads a URL and checks the owning project belongs to the caller.
func (h *handlers) ownedURL(w http.ResponseWriter, r *http.Request) (storage.URL, bool) {
	url, err := h.store.GetURL(r.Context(), chi.URLParam(r, "urlID"))
	if err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeURLNotFound, "URL not found")
		} else {
			writeStorageError(w, err)
		}
		return storage.URL{}, false
	}
	if _, ok := h.ownedProject(w, r, url.ProjectID); !ok {
		return storage.URL{}, false
	}
	return url, true
}

func (h *handlers) getURL(w http.ResponseWriter, r *http.Request) {
	url, ok := h.ownedURL(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, url)
}

func (h *handlers) listURLLogs(w http.ResponseWriter, r *http.Request) {
	url, ok := h.ownedURL(w, r)
	if !ok {
		return
	}

	logs, err := h.store.ListIndexingLogs(r.Context(), url.ID, queryLimit(r, 50, 500))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if logs == nil {
		logs = []storage.IndexingLog{}
	}
	respond(w, http.StatusOK, map[string]any{"url_id": url.ID, "logs": logs})
}
