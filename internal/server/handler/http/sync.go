package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
	"github.com/atinyakov/podsync/internal/service"
)

// SyncHandler serves the device, subscription and episode endpoints.
type SyncHandler struct {
	Sync *service.SyncService
	Log  *zap.Logger
}

// ListDevices handles GET /api/2/devices/{username}.json.
func (h *SyncHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	username, err := splitFormatJSON(chi.URLParam(r, "usernameFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	devices, err := scoped.Devices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, devices)
}

// UpdateDevice handles POST /api/2/devices/{username}/{deviceid}.json with
// a partial-update body: absent fields keep their stored values.
func (h *SyncHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	deviceID, err := splitFormatJSON(chi.URLParam(r, "deviceFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	var update models.DeviceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, service.ErrBadRequest)
		return
	}
	if err := scoped.UpdateDevice(r.Context(), deviceID, update); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetSubscriptions handles
// GET /api/2/subscriptions/{username}/{deviceid}.json?since=N.
func (h *SyncHandler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	deviceID, err := splitFormatJSON(chi.URLParam(r, "deviceFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	since, err := querySince(r)
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	changes, err := scoped.Subscriptions(r.Context(), deviceID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, changes)
}

// UploadSubscriptions handles
// POST /api/2/subscriptions/{username}/{deviceid}.json with an add/remove
// body.
func (h *SyncHandler) UploadSubscriptions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	deviceID, err := splitFormatJSON(chi.URLParam(r, "deviceFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, service.ErrBadRequest)
		return
	}

	applied, err := scoped.UpdateSubscriptions(r.Context(), deviceID, req.Add, req.Remove)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, applied)
}

// GetEpisodes handles
// GET /api/2/episodes/{username}.json?since=N&podcast=&device=.
func (h *SyncHandler) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	username, err := splitFormatJSON(chi.URLParam(r, "usernameFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	since, err := querySince(r)
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := repository.EpisodeFilter{Since: since}
	if podcast := r.URL.Query().Get("podcast"); podcast != "" {
		filter.Podcast = &podcast
	}
	if device := r.URL.Query().Get("device"); device != "" {
		filter.Device = &device
	}

	changes, err := scoped.Episodes(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, changes)
}

// UploadEpisodes handles POST /api/2/episodes/{username}.json with a JSON
// array of episode actions.
func (h *SyncHandler) UploadEpisodes(w http.ResponseWriter, r *http.Request) {
	username, err := splitFormatJSON(chi.URLParam(r, "usernameFormat"))
	if err != nil {
		writeError(w, err)
		return
	}
	scoped, err := authorize(r, h.Sync, username)
	if err != nil {
		writeError(w, err)
		return
	}

	var actions []models.EpisodeAction
	if err := json.NewDecoder(r.Body).Decode(&actions); err != nil {
		writeError(w, service.ErrBadRequest)
		return
	}

	cursor, err := scoped.UpdateEpisodes(r.Context(), actions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]models.Timestamp{"timestamp": cursor})
}

func querySince(r *http.Request) (models.Timestamp, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, fmt.Errorf("%w: invalid since value", service.ErrBadRequest)
	}
	return models.Timestamp(since), nil
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
