package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mediaconsole/models"
	"mediaconsole/services/areas"
	"mediaconsole/services/catalog"
)

type areaService interface {
	List() []models.AreaDefinition
	Area(id string) (models.AreaDefinition, bool)
}

type catalogService interface {
	LoadArea(ctx context.Context, areaID string) (catalog.View, error)
	LoadGlobal(ctx context.Context) ([]models.ContentItem, error)
}

var (
	_ areaService    = (*areas.Registry)(nil)
	_ catalogService = (*catalog.Service)(nil)
)

type CatalogHandler struct {
	Areas   areaService
	Catalog catalogService
}

func NewCatalogHandler(areas areaService, catalog catalogService) *CatalogHandler {
	return &CatalogHandler{Areas: areas, Catalog: catalog}
}

type areaContentResponse struct {
	catalog.View
	City  string `json:"city,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *CatalogHandler) ListAreas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Areas.List())
}

func (h *CatalogHandler) GetArea(w http.ResponseWriter, r *http.Request) {
	areaID := strings.TrimSpace(mux.Vars(r)["areaID"])
	area, ok := h.Areas.Area(areaID)
	if !ok {
		http.Error(w, "area not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, area)
}

// AreaContent returns the area's published items, optionally narrowed by ?city=. When the
// catalog cannot be fetched the previously loaded items are returned with status 503.
func (h *CatalogHandler) AreaContent(w http.ResponseWriter, r *http.Request) {
	areaID := strings.TrimSpace(mux.Vars(r)["areaID"])
	if areaID == "" {
		http.Error(w, "area id is required", http.StatusBadRequest)
		return
	}

	view, err := h.Catalog.LoadArea(r.Context(), areaID)
	status := http.StatusOK
	resp := areaContentResponse{}
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrAreaIDRequired):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, catalog.ErrUnknownArea):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, catalog.ErrCatalogUnavailable):
			status = http.StatusServiceUnavailable
			resp.Error = err.Error()
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	resp.View = view
	if city := strings.TrimSpace(r.URL.Query().Get("city")); city != "" {
		resp.City = city
		resp.Items = view.FilterByCity(city)
	}
	writeJSON(w, status, resp)
}

func (h *CatalogHandler) GlobalContent(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.LoadGlobal(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrCatalogUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
