package models

import "time"

// RemoteViewerState is the authoritative per-viewer document. It is merged field by field,
// never replaced wholesale, so fields written by other collaborators survive.
type RemoteViewerState struct {
	ViewerID        string            `json:"viewerId"`
	LastAreaID      string            `json:"lastAreaId,omitempty"`
	LastSectionID   string            `json:"lastSectionId,omitempty"`
	LastContentID   string            `json:"lastContentId,omitempty"`
	PlayheadSeconds float64           `json:"playheadSeconds"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// ViewerStatePatch is a partial update. Nil fields are left untouched; attribute keys are
// merged one by one.
type ViewerStatePatch struct {
	LastAreaID      *string           `json:"lastAreaId,omitempty"`
	LastSectionID   *string           `json:"lastSectionId,omitempty"`
	LastContentID   *string           `json:"lastContentId,omitempty"`
	PlayheadSeconds *float64          `json:"playheadSeconds,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p ViewerStatePatch) Empty() bool {
	return p.LastAreaID == nil && p.LastSectionID == nil && p.LastContentID == nil &&
		p.PlayheadSeconds == nil && len(p.Attributes) == 0
}

// Apply merges the patch into a copy of s.
func (s RemoteViewerState) Apply(p ViewerStatePatch, now time.Time) RemoteViewerState {
	out := s
	if p.LastAreaID != nil {
		out.LastAreaID = *p.LastAreaID
	}
	if p.LastSectionID != nil {
		out.LastSectionID = *p.LastSectionID
	}
	if p.LastContentID != nil {
		out.LastContentID = *p.LastContentID
	}
	if p.PlayheadSeconds != nil {
		out.PlayheadSeconds = *p.PlayheadSeconds
	}
	if len(p.Attributes) > 0 {
		merged := make(map[string]string, len(s.Attributes)+len(p.Attributes))
		for k, v := range s.Attributes {
			merged[k] = v
		}
		for k, v := range p.Attributes {
			merged[k] = v
		}
		out.Attributes = merged
	}
	out.UpdatedAt = now
	return out
}
