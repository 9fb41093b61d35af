package models

import "time"

// AccessLevel describes who may watch a content item. Gating itself happens outside this module.
type AccessLevel string

const (
	AccessOpen        AccessLevel = "open"
	AccessSubscriber  AccessLevel = "subscriber"
	AccessRegional    AccessLevel = "regional"
	AccessInstitution AccessLevel = "institution"
)

// MissingSortOrder is the effective sort order for items that carry none.
const MissingSortOrder = 999

// ContentItem is a playable, catalogued unit of media. Items are authored elsewhere and are
// read-only inside the console.
type ContentItem struct {
	ID           string      `json:"id"`
	AreaID       string      `json:"areaId"`
	SectionID    string      `json:"sectionId,omitempty"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	VideoURL     string      `json:"videoUrl"`
	AltVideoURL  string      `json:"altVideoUrl,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	AccessLevel  AccessLevel `json:"accessLevel"`
	IsPublished  bool        `json:"isPublished"`
	SortOrder    *int        `json:"sortOrder,omitempty"`

	// Geographic tags
	Regions []string `json:"regions,omitempty"`
	States  []string `json:"states,omitempty"`
	Cities  []string `json:"cities,omitempty"`

	// Provenance / editorial
	InstitutionName   string     `json:"institutionName,omitempty"`
	RecordedAt        string     `json:"recordedAt,omitempty"`
	ResearchStatus    string     `json:"researchStatus,omitempty"`
	ParticipantNames  []string   `json:"participantNames,omitempty"`
	RelatedVersionIDs []string   `json:"relatedVersionIds,omitempty"`
	InfoURL           string     `json:"infoUrl,omitempty"`
	IsNew             bool       `json:"isNew,omitempty"`
	Confirmed         bool       `json:"confirmed,omitempty"`
	ConfirmedAt       string     `json:"confirmedAt,omitempty"` // free-form, parsed leniently
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// EffectiveSortOrder returns SortOrder or MissingSortOrder when unset.
func (c ContentItem) EffectiveSortOrder() int {
	if c.SortOrder == nil {
		return MissingSortOrder
	}
	return *c.SortOrder
}

// PlaybackURL prefers the primary video and falls back to the alternate format.
func (c ContentItem) PlaybackURL() string {
	if c.VideoURL != "" {
		return c.VideoURL
	}
	return c.AltVideoURL
}
