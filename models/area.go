package models

// AmbientVideo is the looping background video an area shows before anything is chosen.
type AmbientVideo struct {
	VideoURL string `json:"videoUrl"`
	Theme    string `json:"theme"`
}

// SectionDefinition is a sub-grouping (narrative arc) within an area.
type SectionDefinition struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Format       string `json:"format,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Availability string `json:"availability,omitempty"`
}

// AreaDefinition is a top-level content category. Areas are static configuration and are
// treated as immutable once loaded.
type AreaDefinition struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Tag        string              `json:"tag,omitempty"`
	Locked     bool                `json:"locked"`
	Narrative  string              `json:"narrative,omitempty"`
	Ambient    AmbientVideo        `json:"ambient"`
	Sections   []SectionDefinition `json:"sections"`
	CityFilter bool                `json:"cityFilter"` // area supports geographic sub-filtering
}

// Section returns the section with the given id.
func (a AreaDefinition) Section(id string) (SectionDefinition, bool) {
	for _, s := range a.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return SectionDefinition{}, false
}
