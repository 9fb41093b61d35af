package viewerstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaconsole/models"
)

const (
	fieldViewerID  = "viewer_id"
	fieldArea      = "last_area_id"
	fieldSection   = "last_section_id"
	fieldContent   = "last_content_id"
	fieldPlayhead  = "playhead_seconds"
	fieldUpdatedAt = "updated_at"
	attrPrefix     = "attr:"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each viewer record in a hash. HSET only touches the fields it names,
// which gives per-field merge semantics without a read-modify-write.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return newRedisStore(client, opts.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mediaconsole:viewer"
	}
	return &RedisStore{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RedisStore) key(viewerID string) string {
	return s.prefix + ":" + viewerID
}

func (s *RedisStore) Get(ctx context.Context, viewerID string) (*models.RemoteViewerState, error) {
	id, err := normaliseID(viewerID)
	if err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read viewer state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state := fromHash(id, fields)
	return &state, nil
}

func (s *RedisStore) Merge(ctx context.Context, viewerID string, patch models.ViewerStatePatch) (models.RemoteViewerState, error) {
	id, err := normaliseID(viewerID)
	if err != nil {
		return models.RemoteViewerState{}, err
	}
	if err := checkPatch(patch); err != nil {
		return models.RemoteViewerState{}, err
	}

	key := s.key(id)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, toHash(id, patch, s.now()))
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.RemoteViewerState{}, fmt.Errorf("merge viewer state: %w", err)
	}
	return fromHash(id, all.Val()), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// toHash returns only the fields present in patch, plus the id and timestamp.
func toHash(viewerID string, patch models.ViewerStatePatch, now time.Time) map[string]any {
	fields := map[string]any{
		fieldViewerID:  viewerID,
		fieldUpdatedAt: now.Format(time.RFC3339Nano),
	}
	if patch.LastAreaID != nil {
		fields[fieldArea] = *patch.LastAreaID
	}
	if patch.LastSectionID != nil {
		fields[fieldSection] = *patch.LastSectionID
	}
	if patch.LastContentID != nil {
		fields[fieldContent] = *patch.LastContentID
	}
	if patch.PlayheadSeconds != nil {
		fields[fieldPlayhead] = strconv.FormatFloat(*patch.PlayheadSeconds, 'f', -1, 64)
	}
	for k, v := range patch.Attributes {
		fields[attrPrefix+k] = v
	}
	return fields
}

func fromHash(viewerID string, fields map[string]string) models.RemoteViewerState {
	state := models.RemoteViewerState{
		ViewerID:      viewerID,
		LastAreaID:    fields[fieldArea],
		LastSectionID: fields[fieldSection],
		LastContentID: fields[fieldContent],
	}
	if raw := fields[fieldPlayhead]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			state.PlayheadSeconds = v
		}
	}
	if raw := fields[fieldUpdatedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.UpdatedAt = ts
		}
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, attrPrefix); ok {
			if state.Attributes == nil {
				state.Attributes = make(map[string]string)
			}
			state.Attributes[name] = v
		}
	}
	return state
}
