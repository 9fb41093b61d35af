package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaconsole/models"
)

var ErrContentIDRequired = errors.New("content id is required")

// ContentRepository reads published content items. Upsert exists for the seeding tool and
// tests; the console itself never writes content.
type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

const contentColumns = `id, area_id, section_id, title, description, video_url, alt_video_url,
	thumbnail_url, access_level, is_published, sort_order, regions, states, cities,
	institution_name, recorded_at, research_status, participant_names, related_version_ids,
	info_url, is_new, confirmed, confirmed_at, created_at, updated_at`

// ListPublishedByArea returns the published items of one area in storage order.
func (r *ContentRepository) ListPublishedByArea(ctx context.Context, areaID string) ([]models.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE is_published = 1 AND area_id = ?`, areaID)
	if err != nil {
		return nil, fmt.Errorf("query area content: %w", err)
	}
	return scanContent(rows)
}

// ListPublished returns every published item.
func (r *ContentRepository) ListPublished(ctx context.Context) ([]models.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE is_published = 1`)
	if err != nil {
		return nil, fmt.Errorf("query published content: %w", err)
	}
	return scanContent(rows)
}

// Upsert inserts or replaces items.
func (r *ContentRepository) Upsert(ctx context.Context, items ...models.ContentItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin content upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO content_items (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare content upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return ErrContentIDRequired
		}
		var sortOrder sql.NullInt64
		if item.SortOrder != nil {
			sortOrder = sql.NullInt64{Int64: int64(*item.SortOrder), Valid: true}
		}
		access := item.AccessLevel
		if access == "" {
			access = models.AccessOpen
		}
		_, err := stmt.ExecContext(ctx,
			item.ID, item.AreaID, item.SectionID, item.Title, item.Description, item.VideoURL,
			item.AltVideoURL, item.ThumbnailURL, string(access), item.IsPublished, sortOrder,
			encodeList(item.Regions), encodeList(item.States), encodeList(item.Cities),
			item.InstitutionName, item.RecordedAt, item.ResearchStatus,
			encodeList(item.ParticipantNames), encodeList(item.RelatedVersionIDs),
			item.InfoURL, item.IsNew, item.Confirmed, item.ConfirmedAt,
			nullTime(item.CreatedAt), nullTime(item.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert content %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit content upsert: %w", err)
	}
	return nil
}

func scanContent(rows *sql.Rows) ([]models.ContentItem, error) {
	defer rows.Close()

	items := make([]models.ContentItem, 0)
	for rows.Next() {
		var (
			item                                   models.ContentItem
			access                                 string
			sortOrder                              sql.NullInt64
			regions, states, cities, people, links string
			createdAt, updatedAt                   sql.NullTime
		)
		if err := rows.Scan(
			&item.ID, &item.AreaID, &item.SectionID, &item.Title, &item.Description, &item.VideoURL,
			&item.AltVideoURL, &item.ThumbnailURL, &access, &item.IsPublished, &sortOrder,
			&regions, &states, &cities, &item.InstitutionName, &item.RecordedAt,
			&item.ResearchStatus, &people, &links, &item.InfoURL, &item.IsNew, &item.Confirmed,
			&item.ConfirmedAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		item.AccessLevel = models.AccessLevel(access)
		if sortOrder.Valid {
			v := int(sortOrder.Int64)
			item.SortOrder = &v
		}
		item.Regions = decodeList(regions)
		item.States = decodeList(states)
		item.Cities = decodeList(cities)
		item.ParticipantNames = decodeList(people)
		item.RelatedVersionIDs = decodeList(links)
		if createdAt.Valid {
			t := createdAt.Time.UTC()
			item.CreatedAt = &t
		}
		if updatedAt.Valid {
			t := updatedAt.Time.UTC()
			item.UpdatedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return items, nil
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeList tolerates malformed columns written by other tools.
func decodeList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
