package areas

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"mediaconsole/models"
)

var (
	ErrPathRequired  = errors.New("areas file path not provided")
	ErrDuplicateArea = errors.New("duplicate area id")
	ErrAreaIDMissing = errors.New("area id is required")
)

// Registry holds the area and section definitions for the life of the process. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]models.AreaDefinition
}

// NewRegistry validates and indexes the supplied areas, preserving their order.
func NewRegistry(defs []models.AreaDefinition) (*Registry, error) {
	r := &Registry{byID: make(map[string]models.AreaDefinition, len(defs))}
	for _, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, ErrAreaIDMissing
		}
		if _, exists := r.byID[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateArea, def.ID)
		}
		sections := make([]models.SectionDefinition, len(def.Sections))
		copy(sections, def.Sections)
		def.Sections = sections
		r.byID[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	return r, nil
}

// Load reads areas from a JSON file. A missing file is created with DefaultAreas.
func Load(fs afero.Fs, path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathRequired
	}

	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		defs := DefaultAreas()
		if err := save(fs, path, defs); err != nil {
			log.Printf("[areas] could not write default areas to %s: %v", path, err)
		}
		return NewRegistry(defs)
	}
	if err != nil {
		return nil, fmt.Errorf("read areas: %w", err)
	}

	var defs []models.AreaDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode areas: %w", err)
	}
	return NewRegistry(defs)
}

// Area returns the definition for id.
func (r *Registry) Area(id string) (models.AreaDefinition, bool) {
	def, ok := r.byID[id]
	return def, ok
}

// List returns all areas in configuration order.
func (r *Registry) List() []models.AreaDefinition {
	out := make([]models.AreaDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns all area ids in configuration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default returns the first configured area.
func (r *Registry) Default() (models.AreaDefinition, bool) {
	if len(r.order) == 0 {
		return models.AreaDefinition{}, false
	}
	return r.byID[r.order[0]], true
}

// DefaultAreas is written on first start so operators have a file to edit.
func DefaultAreas() []models.AreaDefinition {
	return []models.AreaDefinition{
		{
			ID:        "archive",
			Title:     "The Archive",
			Tag:       "archive",
			Narrative: "Recorded sessions from the collection.",
			Ambient:   models.AmbientVideo{VideoURL: "/media/ambient/archive.mp4", Theme: "dusk"},
			Sections: []models.SectionDefinition{
				{ID: "sessions", Title: "Sessions", Format: "performance", Summary: "Full recorded sessions.", Availability: "open"},
				{ID: "interviews", Title: "Interviews", Format: "interview", Summary: "Conversations with participants.", Availability: "subscriber"},
			},
			CityFilter: true,
		},
	}
}

func save(fs afero.Fs, path string, defs []models.AreaDefinition) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0o644)
}
