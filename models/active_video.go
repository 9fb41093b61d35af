package models

// SourceType identifies what kind of video is loaded in the player.
type SourceType string

const (
	SourceAreaDefault  SourceType = "area-default"
	SourceContent      SourceType = "content"
	SourceRoleOverview SourceType = "role-overview"
)

// ActiveVideoState is the single source of truth for what the player has loaded. It is
// replaced, never mutated, on every selection change.
type ActiveVideoState struct {
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	AreaID       string     `json:"areaId"`
	OverlayTheme string     `json:"overlayTheme,omitempty"`
	SectionID    string     `json:"sectionId,omitempty"`
	ContentID    string     `json:"contentId,omitempty"`
	SourceType   SourceType `json:"sourceType"`
}

// IsAmbient reports whether the state is an area's ambient default.
func (a ActiveVideoState) IsAmbient() bool {
	return a.SourceType == SourceAreaDefault
}

// Valid reports whether a (possibly restored) state has the minimum shape to be adopted.
func (a ActiveVideoState) Valid() bool {
	if a.AreaID == "" || a.URL == "" {
		return false
	}
	switch a.SourceType {
	case SourceAreaDefault, SourceRoleOverview:
		return true
	case SourceContent:
		return a.ContentID != ""
	default:
		return false
	}
}

// AmbientState builds the ambient default state for an area.
func AmbientState(area AreaDefinition) ActiveVideoState {
	return ActiveVideoState{
		URL:          area.Ambient.VideoURL,
		Title:        area.Title,
		AreaID:       area.ID,
		OverlayTheme: area.Ambient.Theme,
		SourceType:   SourceAreaDefault,
	}
}

// ContentState builds the state for an explicitly opened content item.
func ContentState(item ContentItem, theme string) ActiveVideoState {
	return ActiveVideoState{
		URL:          item.PlaybackURL(),
		Title:        item.Title,
		AreaID:       item.AreaID,
		OverlayTheme: theme,
		SectionID:    item.SectionID,
		ContentID:    item.ID,
		SourceType:   SourceContent,
	}
}
