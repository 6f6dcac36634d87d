package httpserver

import (
	"net/http"
	"net/url"

	"github.com/IndexPilot/server/internal/apikey"
	apierrors "github.com/IndexPilot/server/internal/errors"
	"github.com/IndexPilot/server/internal/storage"
)

// maxSubmissionBatch caps URLs per submission request.
const maxSubmissionBatch = 500

type indexNowConfig struct {
	Key         string `json:"key"`
	KeyLocation string `json:"key_location,omitempty"`
}

type createSubmissionRequest struct {
	ProjectID      string          `json:"project_id"`
	URLs           []string        `json:"urls"`
	IndexNowConfig *indexNowConfig `json:"indexnow_config,omitempty"`
}

type submissionURL struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

type createSubmissionResponse struct {
	ProjectID string          `json:"project_id"`
	Accepted  int             `json:"accepted"`
	URLs      []submissionURL `json:"urls"`
}

// createSubmission accepts a batch of URLs for a project. One credit per URL
// is debited up front; the response is a 202 because the method fan-out runs
// asynchronously on the queue.
func (h *handlers) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ProjectID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "project_id is required")
		return
	}
	if len(req.URLs) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyURLList, "urls must not be empty")
		return
	}
	if len(req.URLs) > maxSubmissionBatch {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
			"Too many URLs in one submission", "max", maxSubmissionBatch)
		return
	}
	for _, raw := range req.URLs {
		if !validSubmissionURL(raw) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidURL,
				"URLs must be absolute http(s) addresses", "url", raw)
			return
		}
	}

	project, ok := h.ownedProject(w, r, req.ProjectID)
	if !ok {
		return
	}
	if project.Status == storage.ProjectStatusPaused {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeProjectPaused, "Project is paused")
		return
	}

	if req.IndexNowConfig != nil && req.IndexNowConfig.Key != "" {
		if err := h.store.SetProjectIndexNowKey(r.Context(), project.ID, req.IndexNowConfig.Key); err != nil {
			writeStorageError(w, err)
			return
		}
	}

	urls, err := h.dispatcher.Submit(r.Context(), project.UserID, project.ID, req.URLs)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	resp := createSubmissionResponse{
		ProjectID: project.ID,
		Accepted:  len(urls),
		URLs:      make([]submissionURL, 0, len(urls)),
	}
	for _, u := range urls {
		resp.URLs = append(resp.URLs, submissionURL{ID: u.ID, Address: u.Address, Status: string(u.Status)})
	}
	respond(w, http.StatusAccepted, resp)
}

// ownedProject loads a project and checks it belongs to the caller. A false
// return means the error response has already been written.
func (h *handlers) ownedProject(w http.ResponseWriter, r *http.Request, projectID string) (storage.Project, bool) {
	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeProjectNotFound, "Project not found")
		} else {
			writeStorageError(w, err)
		}
		return storage.Project{}, false
	}
	if project.UserID != apikey.UserID(r) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "Project belongs to another user")
		return storage.Project{}, false
	}
	return project, true
}

func validSubmissionURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
