package history

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"mediaconsole/internal/clock"
	"mediaconsole/internal/localstore"
	"mediaconsole/models"
)

const (
	// DefaultCap is the number of entries retained per device.
	DefaultCap = 20
	// DefaultDisplay is the window returned by Recent when no limit is given.
	DefaultDisplay = 5
)

var (
	ErrStoreRequired     = errors.New("local store not provided")
	ErrContentIDRequired = errors.New("content id is required")
)

// Recorder keeps the rolling watch history of one device.
type Recorder struct {
	mu      sync.RWMutex
	store   *localstore.Store
	clock   clock.Clock
	cap     int
	entries []models.WatchHistoryEntry // newest first
}

// NewRecorder loads the device's history from the local store. A corrupt or missing blob
// yields an empty history.
func NewRecorder(store *localstore.Store, capacity int, clk clock.Clock) (*Recorder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if clk == nil {
		clk = clock.Real{}
	}

	r := &Recorder{store: store, clock: clk, cap: capacity}
	r.load()
	return r, nil
}

// RecordOpen moves item to the front of the history. Persistence failures are logged and
// do not fail the call.
func (r *Recorder) RecordOpen(item models.ContentItem) (models.WatchHistoryEntry, error) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return models.WatchHistoryEntry{}, ErrContentIDRequired
	}

	entry := models.WatchHistoryEntry{
		ContentID: id,
		Title:     item.Title,
		AreaID:    item.AreaID,
		WatchedAt: r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]models.WatchHistoryEntry, 0, len(r.entries)+1)
	next = append(next, entry)
	for _, existing := range r.entries {
		if existing.ContentID == id {
			continue
		}
		next = append(next, existing)
	}
	if len(next) > r.cap {
		next = next[:r.cap]
	}
	r.entries = next

	if err := r.store.Save(localstore.KeyWatchHistory, r.entries); err != nil {
		log.Printf("[history] failed to persist watch history in %s: %v", r.store.Dir(), err)
	}
	return entry, nil
}

// Recent returns up to limit entries, most recently watched first. A limit <= 0 returns all.
func (r *Recorder) Recent(limit int) []models.WatchHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.WatchHistoryEntry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WatchedAt.After(out[j].WatchedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len reports the number of retained entries.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Recorder) load() {
	var stored []models.WatchHistoryEntry
	if !r.store.Load(localstore.KeyWatchHistory, &stored) {
		return
	}
	r.entries = normalise(stored, r.cap)
}

// normalise drops entries without a content id, collapses duplicates keeping the newest,
// orders newest first and truncates to capacity.
func normalise(entries []models.WatchHistoryEntry, capacity int) []models.WatchHistoryEntry {
	newest := make(map[string]models.WatchHistoryEntry, len(entries))
	for _, entry := range entries {
		entry.ContentID = strings.TrimSpace(entry.ContentID)
		if entry.ContentID == "" {
			continue
		}
		if existing, ok := newest[entry.ContentID]; ok && !entry.WatchedAt.After(existing.WatchedAt) {
			continue
		}
		newest[entry.ContentID] = entry
	}

	out := make([]models.WatchHistoryEntry, 0, len(newest))
	for _, entry := range newest {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WatchedAt.Equal(out[j].WatchedAt) {
			return out[i].ContentID < out[j].ContentID
		}
		return out[i].WatchedAt.After(out[j].WatchedAt)
	})
	if len(out) > capacity {
		out = out[:capacity]
	}
	return out
}
