package models

import "time"

// WatchHistoryEntry records that a viewer opened a content item on this device.
type WatchHistoryEntry struct {
	ContentID string    `json:"contentId"`
	Title     string    `json:"title"`
	AreaID    string    `json:"areaId"`
	WatchedAt time.Time `json:"watchedAt"`
}

// ProgressRecord stores the last flushed playback position for a content item.
// A record is only meaningful while DurationSeconds > 0.
type ProgressRecord struct {
	PositionSeconds float64   `json:"positionSeconds"`
	DurationSeconds float64   `json:"durationSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Resumable reports whether the record can be used to seek on open.
func (p ProgressRecord) Resumable() bool {
	return p.PositionSeconds > 0 && p.DurationSeconds > 0
}
