// Package viewerstate holds the authoritative per-viewer record. Writes are partial merges:
// only the fields present in a patch change, so values written by other collaborators survive.
package viewerstate

import (
	"context"
	"errors"
	"strings"

	"mediaconsole/models"
)

var (
	ErrViewerIDRequired = errors.New("viewer id is required")
	ErrEmptyPatch       = errors.New("patch contains no fields")
	ErrAttributeKey     = errors.New("attribute key is required")
)

// Store reads and merges viewer records. Get returns nil without error for unknown viewers.
type Store interface {
	Get(ctx context.Context, viewerID string) (*models.RemoteViewerState, error)
	Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error)
	Close() error
}

func normaliseID(viewerID string) (string, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return "", ErrViewerIDRequired
	}
	return viewerID, nil
}

func checkPatch(patch models.ViewerStatePatch) error {
	if patch.Empty() {
		return ErrEmptyPatch
	}
	for k := range patch.Attributes {
		if strings.TrimSpace(k) == "" {
			return ErrAttributeKey
		}
	}
	return nil
}
