package viewerstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediaconsole/models"
)

// SQLiteStore keeps viewer records in the viewer_state table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an already migrated database handle. The handle is owned by the caller.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const selectState = `SELECT viewer_id, last_area_id, last_section_id, last_content_id,
	playhead_seconds, attributes, updated_at FROM viewer_state WHERE viewer_id = ?`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) Get(ctx context.Context, viewerID string) (*models.RemoteViewerState, error) {
	id, err := normaliseID(viewerID)
	if err != nil {
		return nil, err
	}
	state, err := readState(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Merge applies patch inside a transaction so concurrent merges never drop each other's fields.
func (s *SQLiteStore) Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error) {
	id, err := normaliseID(viewerID)
	if err != nil {
		return models.RemoteViewerState{}, err
	}
	if err := checkPatch(patch); err != nil {
		return models.RemoteViewerState{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RemoteViewerState{}, fmt.Errorf("begin viewer state tx: %w", err)
	}
	defer tx.Rollback()

	current, err := readState(ctx, tx, id)
	if err != nil {
		return models.RemoteViewerState{}, err
	}
	base := models.RemoteViewerState{ViewerID: id}
	if current != nil {
		base = *current
	}
	next := base.Apply(patch, s.now())

	attrs := next.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return models.RemoteViewerState{}, fmt.Errorf("encode attributes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO viewer_state
		(viewer_id, last_area_id, last_section_id, last_content_id, playhead_seconds, attributes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(viewer_id) DO UPDATE SET
			last_area_id = excluded.last_area_id,
			last_section_id = excluded.last_section_id,
			last_content_id = excluded.last_content_id,
			playhead_seconds = excluded.playhead_seconds,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`,
		next.ViewerID, next.LastAreaID, next.LastSectionID, next.LastContentID,
		next.PlayheadSeconds, string(encoded), next.UpdatedAt,
	)
	if err != nil {
		return models.RemoteViewerState{}, fmt.Errorf("upsert viewer state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.RemoteViewerState{}, fmt.Errorf("commit viewer state: %w", err)
	}
	return next, nil
}

// Close is a no-op; the database handle is shared.
func (s *SQLiteStore) Close() error { return nil }

func readState(ctx context.Context, q queryer, viewerID string) (*models.RemoteViewerState, error) {
	var (
		state models.RemoteViewerState
		attrs string
	)
	err := q.QueryRowContext(ctx, selectState, viewerID).Scan(
		&state.ViewerID, &state.LastAreaID, &state.LastSectionID, &state.LastContentID,
		&state.PlayheadSeconds, &attrs, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read viewer state: %w", err)
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &state.Attributes); err != nil {
			state.Attributes = nil
		}
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}
