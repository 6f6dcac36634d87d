package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IndexPilot/server/internal/apikey"
	apierrors "github.com/IndexPilot/server/internal/errors"
	"github.com/IndexPilot/server/internal/storage"
)

// requireAdmin gates the admin surface on the caller's user record.
func (h *handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.store.GetUser(r.Context(), apikey.UserID(r))
		if err != nil || !user.IsAdmin {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) listCredentials(w http.ResponseWriter, r *http.Request) {
	credentials, err := h.store.ListCredentials(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if credentials == nil {
		credentials = []storage.Credential{}
	}
	respond(w, http.StatusOK, map[string]any{"credentials": credentials})
}

type createCredentialRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	KeyData    string `json:"key_data"`
	DailyQuota int    `json:"daily_quota,omitempty"`
}

func (h *handlers) createCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.KeyData == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "name and key_data are required")
		return
	}
	if req.DailyQuota <= 0 {
		req.DailyQuota = storage.DefaultDailyQuota
	}

	credential := storage.Credential{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		KeyData:    req.KeyData,
		DailyQuota: req.DailyQuota,
		IsActive:   true,
	}
	if err := h.store.CreateCredential(r.Context(), credential); err != nil {
		writeStorageError(w, err)
		return
	}

	created, err := h.store.GetCredential(r.Context(), credential.ID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusCreated, created)
}

func (h *handlers) deleteCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialID")
	if err := h.store.DeleteCredential(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCredentialNotFound, "Credential not found")
			return
		}
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *handlers) disableCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialID")
	if err := h.store.DisableCredential(r.Context(), id, true); err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCredentialNotFound, "Credential not found")
			return
		}
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"disabled": id})
}

// resetCredentials zeroes usage counters and re-enables quota-disabled
// credentials, same as the nightly reset job.
func (h *handlers) resetCredentials(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.ResetCredentials(r.Context(), time.Now())
	if err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"reset": count})
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Jobs.Depth(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeQueueError, "Failed to read queue depth")
		return
	}
	quota, err := h.store.TotalRemainingQuota(r.Context())
	if err != nil {
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"depth":           depth,
		"remaining_quota": quota,
	})
}

// runPendingSweep re-dispatches debited URLs stuck in pending, on demand.
func (h *handlers) runPendingSweep(w http.ResponseWriter, r *http.Request) {
	if h.pendingSweep == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Pending sweep is not configured")
		return
	}
	dispatched := h.pendingSweep.RunOnce(r.Context())
	respond(w, http.StatusOK, map[string]any{"dispatched": dispatched})
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	status := storage.NotificationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = storage.NotificationStatusFailed
	}
	switch status {
	case storage.NotificationStatusPending, storage.NotificationStatusProcessing,
		storage.NotificationStatusFailed, storage.NotificationStatusSuccess:
	default:
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
			"Unknown notification status", "status", string(status))
		return
	}

	notifications, err := h.store.ListNotifications(r.Context(), status, queryLimit(r, 50, 500))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if notifications == nil {
		notifications = []storage.PendingNotification{}
	}
	respond(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (h *handlers) retryNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	if err := h.store.RetryNotification(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, "Notification not found")
			return
		}
		writeStorageError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"retried": id})
}
