package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"mediaconsole/internal/auth"
	"mediaconsole/models"
	"mediaconsole/services/catalog"
	"mediaconsole/services/session"
)

type sessionRegistry interface {
	Create(ctx context.Context, deviceID, areaID string, viewer models.Viewer) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Unload(id string) error
}

var _ sessionRegistry = (*session.Registry)(nil)

// ConsoleHandler exposes the playback state machine of mounted console sessions.
type ConsoleHandler struct {
	Sessions sessionRegistry
}

func NewConsoleHandler(sessions sessionRegistry) *ConsoleHandler {
	return &ConsoleHandler{Sessions: sessions}
}

type createSessionRequest struct {
	DeviceID string `json:"deviceId"`
	AreaID   string `json:"areaId"`
}

type openRequest struct {
	ContentID string `json:"contentId"`
}

type areaRequest struct {
	AreaID string `json:"areaId"`
}

type overviewRequest struct {
	AreaID string `json:"areaId"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

type tickRequest struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

type scrubRequest struct {
	Position float64 `json:"position"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type mediaRequest struct {
	Failed bool `json:"failed"`
}

type browserRequest struct {
	Open bool `json:"open"`
}

// Create mounts a session for the calling device and returns its restored snapshot. Catalog
// status and any automatic selection show up on later reads.
func (h *ConsoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		http.Error(w, "device id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.Sessions.Create(r.Context(), req.DeviceID, req.AreaID, auth.ViewerFromContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), consoleStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *ConsoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Delete unloads the session, flushing pending progress.
func (h *ConsoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.Unload(sess.ID()); err != nil {
		http.Error(w, err.Error(), consoleStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConsoleHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		if strings.TrimSpace(req.ContentID) == "" {
			return errContentIDRequired
		}
		return sess.OpenContent(r.Context(), req.ContentID)
	})
}

func (h *ConsoleHandler) SelectArea(w http.ResponseWriter, r *http.Request) {
	var req areaRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		return sess.SelectArea(r.Context(), req.AreaID)
	})
}

func (h *ConsoleHandler) Overview(w http.ResponseWriter, r *http.Request) {
	var req overviewRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		return sess.OpenRoleOverview(req.AreaID, req.URL, req.Title)
	})
}

// Tick always answers with the snapshot; rejected samples are simply not persisted.
func (h *ConsoleHandler) Tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		sess.Tick(req.Position, req.Duration)
		return nil
	})
}

func (h *ConsoleHandler) Scrub(w http.ResponseWriter, r *http.Request) {
	var req scrubRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		return sess.Scrub(req.Position)
	})
}

func (h *ConsoleHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(sess *session.Session) error {
		_, err := sess.TogglePlayPause()
		return err
	})
}

func (h *ConsoleHandler) Interact(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(sess *session.Session) error {
		sess.Interact()
		return nil
	})
}

func (h *ConsoleHandler) Volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		return sess.SetVolume(req.Volume)
	})
}

func (h *ConsoleHandler) Mute(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(sess *session.Session) error {
		_, err := sess.ToggleMute()
		return err
	})
}

func (h *ConsoleHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		if req.Hidden {
			sess.VisibilityHidden()
		}
		return nil
	})
}

func (h *ConsoleHandler) Media(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		if req.Failed {
			sess.MediaFailed()
		} else {
			sess.MediaReady()
		}
		return nil
	})
}

func (h *ConsoleHandler) Browser(w http.ResponseWriter, r *http.Request) {
	var req browserRequest
	h.mutate(w, r, &req, func(sess *session.Session) error {
		if req.Open {
			sess.OpenBrowser()
		} else {
			sess.CloseBrowser()
		}
		return nil
	})
}

func (h *ConsoleHandler) History(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, sess.History(limit))
}

var errContentIDRequired = errors.New("content id is required")

// mutate decodes an optional body, applies fn and answers with the resulting snapshot.
func (h *ConsoleHandler) mutate(w http.ResponseWriter, r *http.Request, body any, fn func(*session.Session) error) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if body != nil && r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	if err := fn(sess); err != nil {
		http.Error(w, err.Error(), consoleStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// lookup resolves the session and hides sessions owned by another viewer.
func (h *ConsoleHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := strings.TrimSpace(mux.Vars(r)["sessionID"])
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return nil, false
	}
	sess, err := h.Sessions.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), consoleStatus(err))
		return nil, false
	}
	if sess.Viewer().ID != auth.ViewerFromContext(r.Context()).ID {
		http.Error(w, session.ErrSessionNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	sess.Touch()
	return sess, true
}

func consoleStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, catalog.ErrContentNotFound),
		errors.Is(err, session.ErrUnknownArea):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoItemLoaded),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrDeviceIDRequired),
		errors.Is(err, session.ErrInvalidVolume),
		errors.Is(err, session.ErrInvalidPosition),
		errors.Is(err, session.ErrURLRequired),
		errors.Is(err, errContentIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
