package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mediaconsole/internal/auth"
	"mediaconsole/models"
	"mediaconsole/services/viewerstate"
)

type viewerStateService interface {
	Get(ctx context.Context, viewerID string) (*models.RemoteViewerState, error)
	Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error)
}

var (
	_ viewerStateService = (*viewerstate.SQLiteStore)(nil)
	_ viewerStateService = (*viewerstate.RedisStore)(nil)
)

type ViewerStateHandler struct {
	Store viewerStateService
}

func NewViewerStateHandler(store viewerStateService) *ViewerStateHandler {
	return &ViewerStateHandler{Store: store}
}

func (h *ViewerStateHandler) Get(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	state, err := h.Store.Get(r.Context(), viewerID)
	if err != nil {
		http.Error(w, err.Error(), viewerStateStatus(err))
		return
	}
	if state == nil {
		http.Error(w, "viewer state not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Patch merges a partial update. Collaborators use the attributes map for their own fields.
func (h *ViewerStateHandler) Patch(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireSelf(w, r)
	if !ok {
		return
	}

	var patch models.ViewerStatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	state, err := h.Store.Merge(r.Context(), viewerID, patch)
	if err != nil {
		http.Error(w, err.Error(), viewerStateStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// requireSelf allows a viewer to reach only their own record.
func requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewerID := strings.TrimSpace(mux.Vars(r)["viewerID"])
	if viewerID == "" {
		http.Error(w, "viewer id is required", http.StatusBadRequest)
		return "", false
	}
	viewer := auth.ViewerFromContext(r.Context())
	if !viewer.Authenticated() {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	if viewer.ID != viewerID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return viewerID, true
}

func viewerStateStatus(err error) int {
	switch {
	case errors.Is(err, viewerstate.ErrViewerIDRequired), errors.Is(err, viewerstate.ErrEmptyPatch),
		errors.Is(err, viewerstate.ErrAttributeKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
