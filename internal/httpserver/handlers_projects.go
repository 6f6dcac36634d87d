package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IndexPilot/server/internal/apikey"
	apierrors "github.com/IndexPilot/server/internal/errors"
	"github.com/IndexPilot/server/internal/sitemaps"
	"github.com/IndexPilot/server/internal/storage"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MainDomain  string `json:"main_domain,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	NotifyEmail string `json:"notify_email,omitempty"`
	IndexNowKey string `json:"indexnow_key,omitempty"`
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "name is required")
		return
	}

	project := storage.Project{
		ID:          uuid.NewString(),
		UserID:      apikey.UserID(r),
		Name:        req.Name,
		Description: req.Description,
		MainDomain:  req.MainDomain,
		Status:      storage.ProjectStatusActive,
		WebhookURL:  req.WebhookURL,
		NotifyEmail: req.NotifyEmail,
		IndexNowKey: req.IndexNowKey,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		writeStorageError(w, err)
		return
	}

	created, err := h.store.GetProject(r.Context(), project.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusCreated, created)
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjectsByUser(r.Context(), apikey.UserID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if projects == nil {
		projects = []storage.Project{}
	}
	respond(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	respond(w, http.StatusOK, project)
}

type updateProjectStatusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) updateProjectStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	var req updateProjectStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := storage.ProjectStatus(req.Status)
	switch status {
	case storage.ProjectStatusActive, storage.ProjectStatusCompleted, storage.ProjectStatusPaused:
	default:
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
			"status must be active, completed, or paused", "status", req.Status)
		return
	}

	if err := h.store.UpdateProjectStatus(r.Context(), project.ID, status); err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"id": project.ID, "status": status})
}

func (h *handlers) listProjectURLs(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	urls, err := h.store.ListURLsByProject(r.Context(), project.ID, queryLimit(r, 100, 1000))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if urls == nil {
		urls = []storage.URL{}
	}
	respond(w, http.StatusOK, map[string]any{"project_id": project.ID, "urls": urls})
}

// projectSitemap renders a sitemap for the project's tracked URLs.
func (h *handlers) projectSitemap(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	urls, err := h.store.ListURLsByProject(r.Context(), project.ID, 0)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	body, err := sitemaps.GenerateForURLs(urls)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Failed to generate sitemap")
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// discoverSitemaps probes the project's main domain for existing sitemaps.
func (h *handlers) discoverSitemaps(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	if project.MainDomain == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "Project has no main_domain configured")
		return
	}
	if h.sitemaps == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Sitemap discovery is not configured")
		return
	}

	found, err := h.sitemaps.Discover(r.Context(), project.MainDomain)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeNetworkError,
			"Sitemap discovery failed", "domain", project.MainDomain)
		return
	}
	respond(w, http.StatusOK, map[string]any{"domain": project.MainDomain, "sitemaps": found})
}

// queryLimit parses ?limit with a default and a hard cap.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
